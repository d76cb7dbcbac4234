package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/cart_service/internal/hash"
	"github.com/Skotchmaster/cart_service/internal/logging"
	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/Skotchmaster/cart_service/internal/pricing"
	"github.com/Skotchmaster/cart_service/internal/repo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
)

const maxTxAttempts = 3

// EventPublisher is the kafka producer seam; nil disables publishing.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type CartService struct {
	Repo      *repo.GormRepo
	Validator *pricing.Validator
	Events    EventPublisher

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (s *CartService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Access carries whatever the caller presented: an authenticated account id,
// an anonymous capability token, or neither.
type Access struct {
	AccountID *uuid.UUID
	Token     string
}

// authorize enforces the capability model: an anonymous cart is open to any
// holder of its token, an account cart only to its owning account.
func authorize(cart *models.Cart, access Access) error {
	if cart.Anonymous() {
		if access.Token == "" || !hash.CheckToken(cart.TokenHash, access.Token) {
			return fmt.Errorf("cart token mismatch: %w", ErrPermission)
		}
		return nil
	}
	if access.AccountID == nil || *access.AccountID != *cart.AccountID {
		return fmt.Errorf("cart belongs to another account: %w", ErrPermission)
	}
	return nil
}

// CartPayload is the uniform mutation result: the failure slices are always
// present (possibly empty) next to a still-successful partial mutation.
type CartPayload struct {
	Cart                     *models.Cart
	IncorrectPriceFailures   []pricing.IncorrectPriceFailure
	MinOrderQuantityFailures []pricing.MinOrderQuantityFailure

	// Token is set exactly once, at anonymous cart creation.
	Token string
}

func newCartPayload() *CartPayload {
	return &CartPayload{
		IncorrectPriceFailures:   []pricing.IncorrectPriceFailure{},
		MinOrderQuantityFailures: []pricing.MinOrderQuantityFailure{},
	}
}

// partition splits validation results into items ready to commit and the
// failures to report.
func (p *CartPayload) partition(results []pricing.Result) []models.CartItem {
	items := make([]models.CartItem, 0, len(results))
	for _, res := range results {
		switch {
		case res.IncorrectPrice != nil:
			p.IncorrectPriceFailures = append(p.IncorrectPriceFailures, *res.IncorrectPrice)
		case res.MinOrderQuantity != nil:
			p.MinOrderQuantityFailures = append(p.MinOrderQuantityFailures, *res.MinOrderQuantity)
		default:
			items = append(items, models.CartItem{
				ProductConfiguration: res.Submission.Configuration,
				Quantity:             res.Submission.Quantity,
				PriceCents:           res.CurrentPrice,
				Metafields:           res.Submission.Metafields,
			})
		}
	}
	return items
}

func (s *CartService) withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = op()
		if !errors.Is(err, repo.ErrTxConflict) {
			return err
		}
	}
	return fmt.Errorf("cart busy after %d attempts: %w", maxTxAttempts, ErrConflict)
}

func (s *CartService) loadCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.Repo.GetCart(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cart %s: %w", cartID, ErrNotFound)
	}
	return cart, err
}

// GetCart is the authorized read used by the query surface.
func (s *CartService) GetCart(ctx context.Context, cartID uuid.UUID, access Access) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := authorize(cart, access); err != nil {
		return nil, err
	}
	return cart, nil
}

// CreateCart validates the first items and persists the new cart. A cart is
// never created empty: the call is rejected without items, and if every item
// fails validation nothing is persisted at all.
func (s *CartService) CreateCart(ctx context.Context, shopID uuid.UUID, accountID *uuid.UUID, subs []pricing.Submission) (*CartPayload, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("items must not be empty: %w", ErrValidation)
	}
	for _, sub := range subs {
		if sub.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive: %w", ErrValidation)
		}
	}

	results, err := s.Validator.ValidateBatch(ctx, shopID, subs)
	if err != nil {
		return nil, err
	}

	payload := newCartPayload()
	items := payload.partition(results)
	if len(items) == 0 {
		return payload, nil
	}

	now := s.now()
	cart := &models.Cart{
		ID:        uuid.New(),
		ShopID:    shopID,
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if accountID == nil {
		token, err := hash.NewCartToken()
		if err != nil {
			return nil, err
		}
		tokenHash, err := hash.HashToken(token)
		if err != nil {
			return nil, err
		}
		cart.TokenHash = tokenHash
		payload.Token = token
	}

	err = s.withRetry(func() error {
		return s.Repo.CreateCart(ctx, cart, items)
	})
	if errors.Is(err, repo.ErrDuplicateAccountCart) {
		return nil, fmt.Errorf("account already has a cart for this shop: %w", ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	payload.Cart, err = s.loadCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "cart.created", payload.Cart)
	return payload, nil
}

// AddCartItems validates every submitted item, commits the ones that pass and
// reports the rest; one bad item never aborts the batch. A submission whose
// configuration already sits in the cart increments that row instead of
// duplicating it.
func (s *CartService) AddCartItems(ctx context.Context, cartID uuid.UUID, subs []pricing.Submission, access Access) (*CartPayload, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := authorize(cart, access); err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive: %w", ErrValidation)
		}
	}

	results, err := s.Validator.ValidateBatch(ctx, cart.ShopID, subs)
	if err != nil {
		return nil, err
	}

	payload := newCartPayload()
	items := payload.partition(results)

	if len(items) > 0 {
		err = s.withRetry(func() error {
			return s.Repo.UpsertItems(ctx, cartID, items, s.now())
		})
		if err != nil {
			return nil, err
		}
	}

	payload.Cart, err = s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		s.publish(ctx, "cart.updated", payload.Cart)
	}
	return payload, nil
}

// RemoveCartItems deletes the named items. Ids that are unknown or belong to
// another cart are silently ignored, so removal is idempotent. The cart
// itself survives even when it ends up empty.
func (s *CartService) RemoveCartItems(ctx context.Context, cartID uuid.UUID, itemIDs []uuid.UUID, access Access) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := authorize(cart, access); err != nil {
		return nil, err
	}

	var removed int64
	if len(itemIDs) > 0 {
		err = s.withRetry(func() error {
			var rerr error
			removed, rerr = s.Repo.RemoveItems(ctx, cartID, itemIDs, s.now())
			return rerr
		})
		if err != nil {
			return nil, err
		}
	}

	cart, err = s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		s.publish(ctx, "cart.updated", cart)
	}
	return cart, nil
}

type QuantityChange = repo.QuantityChange

// UpdateCartItemsQuantity sets absolute quantities; zero removes the item.
// Unknown item ids are skipped and logged, never fatal to the request.
func (s *CartService) UpdateCartItemsQuantity(ctx context.Context, cartID uuid.UUID, changes []QuantityChange, access Access) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := authorize(cart, access); err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if ch.Quantity < 0 {
			return nil, fmt.Errorf("quantity must not be negative: %w", ErrValidation)
		}
	}

	if len(changes) > 0 {
		var missing []uuid.UUID
		err = s.withRetry(func() error {
			var serr error
			missing, serr = s.Repo.SetQuantities(ctx, cartID, changes, s.now())
			return serr
		})
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			logging.FromContext(ctx).Warn("quantity update skipped unknown items",
				"cart_id", cartID, "item_ids", missing)
		}
	}

	cart, err = s.loadCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "cart.updated", cart)
	return cart, nil
}

func (s *CartService) publish(ctx context.Context, topic string, cart *models.Cart) {
	if s.Events == nil || cart == nil {
		return
	}
	if err := s.Events.PublishEvent(ctx, topic, cart.ID.String(), cart); err != nil {
		logging.FromContext(ctx).Warn("event publish failed", "topic", topic, "cart_id", cart.ID, "error", err)
	}
}
