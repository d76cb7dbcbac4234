package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateAccountCart maps the unique (account_id, shop_id) index:
	// the account already owns a cart in that shop.
	ErrDuplicateAccountCart = errors.New("account cart already exists")

	// ErrTxConflict is a transient per-cart write conflict. Callers retry a
	// bounded number of times.
	ErrTxConflict = errors.New("transaction conflict")
)

type GormRepo struct {
	DB *gorm.DB
}

// lockForUpdate row-locks the selected cart on Postgres. SQLite (tests)
// serializes writers on its own and rejects FOR UPDATE syntax.
func (r *GormRepo) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translateTxErr folds Postgres serialization failures and deadlocks into
// ErrTxConflict so the service layer can retry them.
func translateTxErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01") {
		return ErrTxConflict
	}
	return err
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (r *GormRepo) GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.DB.WithContext(ctx).
		Preload("Items", preloadItems).
		First(&cart, "id = ?", cartID).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *GormRepo) GetAccountCart(ctx context.Context, accountID, shopID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.DB.WithContext(ctx).
		Preload("Items", preloadItems).
		First(&cart, "account_id = ? AND shop_id = ?", accountID, shopID).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// applyItems upserts validated items into the cart. A row already holding the
// same product configuration absorbs the addition: quantity is incremented and
// the current price refreshed, while price_when_added and added_at keep their
// first-addition values. Anything else becomes a new row.
func applyItems(tx *gorm.DB, cartID uuid.UUID, items []models.CartItem, now time.Time) error {
	for i := range items {
		it := &items[i]
		res := tx.Model(&models.CartItem{}).
			Where("cart_id = ? AND product_id = ? AND product_variant_id = ?",
				cartID, it.ProductConfiguration.ProductID, it.ProductConfiguration.ProductVariantID).
			UpdateColumns(map[string]any{
				"quantity":    gorm.Expr("quantity + ?", it.Quantity),
				"price_cents": it.PriceCents,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			continue
		}

		it.CartID = cartID
		it.AddedAt = now
		it.PriceWhenAddedCents = it.PriceCents
		if err := tx.Create(it).Error; err != nil {
			return err
		}
	}
	return nil
}

// CreateCart persists a new cart with its first items in one transaction.
func (r *GormRepo) CreateCart(ctx context.Context, cart *models.Cart, items []models.CartItem) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cart).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateAccountCart
			}
			return err
		}
		return applyItems(tx, cart.ID, items, cart.UpdatedAt)
	})
	return translateTxErr(err)
}

// UpsertItems adds validated items to an existing cart and bumps its
// updated_at, all under the cart's row lock.
func (r *GormRepo) UpsertItems(ctx context.Context, cartID uuid.UUID, items []models.CartItem, now time.Time) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := r.lockForUpdate(tx).First(&cart, "id = ?", cartID).Error; err != nil {
			return err
		}
		if err := applyItems(tx, cartID, items, now); err != nil {
			return err
		}
		return tx.Model(&models.Cart{}).Where("id = ?", cartID).
			UpdateColumn("updated_at", now).Error
	})
	return translateTxErr(err)
}

// RemoveItems deletes the named items if they belong to the cart; unknown ids
// are ignored. updated_at is bumped only when something was actually removed.
// The cart row itself is never deleted.
func (r *GormRepo) RemoveItems(ctx context.Context, cartID uuid.UUID, itemIDs []uuid.UUID, now time.Time) (int64, error) {
	var removed int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := r.lockForUpdate(tx).First(&cart, "id = ?", cartID).Error; err != nil {
			return err
		}
		res := tx.Where("cart_id = ? AND id IN ?", cartID, itemIDs).Delete(&models.CartItem{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		if removed == 0 {
			return nil
		}
		return tx.Model(&models.Cart{}).Where("id = ?", cartID).
			UpdateColumn("updated_at", now).Error
	})
	if err != nil {
		return 0, translateTxErr(err)
	}
	return removed, nil
}

type QuantityChange struct {
	CartItemID uuid.UUID
	Quantity   int
}

// SetQuantities applies absolute quantity values; zero deletes the item. Ids
// not belonging to the cart are reported back, never failed on.
func (r *GormRepo) SetQuantities(ctx context.Context, cartID uuid.UUID, changes []QuantityChange, now time.Time) ([]uuid.UUID, error) {
	var missing []uuid.UUID
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := r.lockForUpdate(tx).First(&cart, "id = ?", cartID).Error; err != nil {
			return err
		}

		changed := false
		for _, ch := range changes {
			var res *gorm.DB
			if ch.Quantity == 0 {
				res = tx.Where("cart_id = ? AND id = ?", cartID, ch.CartItemID).
					Delete(&models.CartItem{})
			} else {
				res = tx.Model(&models.CartItem{}).
					Where("cart_id = ? AND id = ?", cartID, ch.CartItemID).
					UpdateColumns(map[string]any{
						"quantity":   ch.Quantity,
						"updated_at": now,
					})
			}
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				missing = append(missing, ch.CartItemID)
				continue
			}
			changed = true
		}

		if !changed {
			return nil
		}
		return tx.Model(&models.Cart{}).Where("id = ?", cartID).
			UpdateColumn("updated_at", now).Error
	})
	if err != nil {
		return nil, translateTxErr(err)
	}
	return missing, nil
}

// AdoptCart turns an anonymous cart into the account's cart for its shop. The
// capability token is invalidated in the same write. updated_at is left alone:
// no item changed, and account carts do not expire.
func (r *GormRepo) AdoptCart(ctx context.Context, cartID, accountID uuid.UUID) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := r.lockForUpdate(tx).First(&cart, "id = ?", cartID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTxConflict
			}
			return err
		}
		if cart.AccountID != nil {
			return ErrTxConflict
		}
		res := tx.Model(&models.Cart{}).Where("id = ?", cartID).
			UpdateColumns(map[string]any{
				"account_id": accountID,
				"token_hash": "",
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return ErrDuplicateAccountCart
			}
			return res.Error
		}
		return nil
	})
	return translateTxErr(err)
}

// CommitReconciliation atomically writes the reconciled item set into the
// account cart and deletes the anonymous cart. Both carts were loaded outside
// this transaction; their updated_at values are re-checked under lock so a
// concurrent mutation forces a reload-and-retry instead of a silent lost
// update. When replace is false the account cart's items and updated_at stay
// untouched (keepAccountCart) and only the anonymous cart is removed.
func (r *GormRepo) CommitReconciliation(ctx context.Context, accountCart, anonCart *models.Cart, target []models.CartItem, replace bool, now time.Time) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Deterministic lock order across the two carts.
		lockOrder := []uuid.UUID{accountCart.ID, anonCart.ID}
		if strings.Compare(lockOrder[1].String(), lockOrder[0].String()) < 0 {
			lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
		}
		loaded := map[uuid.UUID]time.Time{
			accountCart.ID: accountCart.UpdatedAt,
			anonCart.ID:    anonCart.UpdatedAt,
		}
		for _, id := range lockOrder {
			var cart models.Cart
			if err := r.lockForUpdate(tx).First(&cart, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// A cart vanished since load (concurrent reconcile);
					// the caller reloads and re-decides.
					return ErrTxConflict
				}
				return err
			}
			if !cart.UpdatedAt.Equal(loaded[id]) {
				return ErrTxConflict
			}
		}

		if err := tx.Where("cart_id = ?", anonCart.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Cart{}, "id = ?", anonCart.ID).Error; err != nil {
			return err
		}

		if !replace {
			return nil
		}

		if err := tx.Where("cart_id = ?", accountCart.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		for i := range target {
			target[i].CartID = accountCart.ID
			if err := tx.Create(&target[i]).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Cart{}).Where("id = ?", accountCart.ID).
			UpdateColumn("updated_at", now).Error
	})
	return translateTxErr(err)
}
