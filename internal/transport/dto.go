package transport

import (
	"time"

	"github.com/Skotchmaster/cart_service/internal/expiry"
	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/Skotchmaster/cart_service/internal/pricing"
	"github.com/Skotchmaster/cart_service/internal/service"
	"github.com/google/uuid"
)

type ProductConfigurationInput struct {
	ProductID        uuid.UUID `json:"productId"`
	ProductVariantID uuid.UUID `json:"productVariantId"`
}

// CartItemInput is one proposed line item; price is the client-observed price
// in cents, re-checked against the catalog before anything is committed.
type CartItemInput struct {
	ProductConfiguration ProductConfigurationInput `json:"productConfiguration"`
	Price                int64                     `json:"price"`
	Quantity             int                       `json:"quantity"`
	Metafields           map[string]any            `json:"metafields,omitempty"`
}

func (in CartItemInput) Submission() pricing.Submission {
	return pricing.Submission{
		Configuration: models.ProductConfiguration{
			ProductID:        in.ProductConfiguration.ProductID,
			ProductVariantID: in.ProductConfiguration.ProductVariantID,
		},
		Quantity:   in.Quantity,
		PriceCents: in.Price,
		Metafields: in.Metafields,
	}
}

func Submissions(items []CartItemInput) []pricing.Submission {
	subs := make([]pricing.Submission, 0, len(items))
	for _, it := range items {
		subs = append(subs, it.Submission())
	}
	return subs
}

type CreateCartRequest struct {
	ShopID           uuid.UUID       `json:"shopId"`
	Items            []CartItemInput `json:"items"`
	ClientMutationID string          `json:"clientMutationId,omitempty"`
}

type AddCartItemsRequest struct {
	Items            []CartItemInput `json:"items"`
	Token            string          `json:"token,omitempty"`
	ClientMutationID string          `json:"clientMutationId,omitempty"`
}

type RemoveCartItemsRequest struct {
	CartItemIDs      []uuid.UUID `json:"cartItemIds"`
	Token            string      `json:"token,omitempty"`
	ClientMutationID string      `json:"clientMutationId,omitempty"`
}

type QuantityUpdateInput struct {
	CartItemID uuid.UUID `json:"cartItemId"`
	Quantity   int       `json:"quantity"`
}

type UpdateCartItemsQuantityRequest struct {
	Items            []QuantityUpdateInput `json:"items"`
	Token            string                `json:"token,omitempty"`
	ClientMutationID string                `json:"clientMutationId,omitempty"`
}

type ReconcileCartsRequest struct {
	AnonymousCartToken string    `json:"anonymousCartToken"`
	ShopID             uuid.UUID `json:"shopId"`
	Mode               string    `json:"mode,omitempty"`
	ClientMutationID   string    `json:"clientMutationId,omitempty"`
}

type CartItemView struct {
	ID                   uuid.UUID                 `json:"id"`
	ProductConfiguration ProductConfigurationInput `json:"productConfiguration"`
	Quantity             int                       `json:"quantity"`
	Price                int64                     `json:"price"`
	PriceWhenAdded       int64                     `json:"priceWhenAdded"`
	AddedAt              time.Time                 `json:"addedAt"`
	Metafields           map[string]any            `json:"metafields,omitempty"`
}

// CartView is the wire shape of a cart. expiresAt is derived at render time
// from the expiry policy, never read from storage.
type CartView struct {
	ID          uuid.UUID      `json:"id"`
	AccountID   *uuid.UUID     `json:"accountId,omitempty"`
	ShopID      uuid.UUID      `json:"shopId"`
	Items       []CartItemView `json:"items"`
	CheckoutRef *string        `json:"checkoutRef,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

func NewCartView(cart *models.Cart, pol expiry.Policy) *CartView {
	if cart == nil {
		return nil
	}
	items := make([]CartItemView, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, CartItemView{
			ID: it.ID,
			ProductConfiguration: ProductConfigurationInput{
				ProductID:        it.ProductConfiguration.ProductID,
				ProductVariantID: it.ProductConfiguration.ProductVariantID,
			},
			Quantity:       it.Quantity,
			Price:          it.PriceCents,
			PriceWhenAdded: it.PriceWhenAddedCents,
			AddedAt:        it.AddedAt,
			Metafields:     it.Metafields,
		})
	}
	return &CartView{
		ID:          cart.ID,
		AccountID:   cart.AccountID,
		ShopID:      cart.ShopID,
		Items:       items,
		CheckoutRef: cart.CheckoutRef,
		CreatedAt:   cart.CreatedAt,
		UpdatedAt:   cart.UpdatedAt,
		ExpiresAt:   pol.ExpiresAt(cart),
	}
}

// CartMutationPayload always carries both failure arrays so callers have a
// uniform shape to check.
type CartMutationPayload struct {
	Cart                     *CartView                         `json:"cart"`
	IncorrectPriceFailures   []pricing.IncorrectPriceFailure   `json:"incorrectPriceFailures"`
	MinOrderQuantityFailures []pricing.MinOrderQuantityFailure `json:"minOrderQuantityFailures"`
	Token                    string                            `json:"token,omitempty"`
	ClientMutationID         string                            `json:"clientMutationId,omitempty"`
}

func NewCartMutationPayload(p *service.CartPayload, pol expiry.Policy, clientMutationID string) *CartMutationPayload {
	out := &CartMutationPayload{
		Cart:                     NewCartView(p.Cart, pol),
		IncorrectPriceFailures:   p.IncorrectPriceFailures,
		MinOrderQuantityFailures: p.MinOrderQuantityFailures,
		Token:                    p.Token,
		ClientMutationID:         clientMutationID,
	}
	if out.IncorrectPriceFailures == nil {
		out.IncorrectPriceFailures = []pricing.IncorrectPriceFailure{}
	}
	if out.MinOrderQuantityFailures == nil {
		out.MinOrderQuantityFailures = []pricing.MinOrderQuantityFailure{}
	}
	return out
}

type CartPayload struct {
	Cart             *CartView `json:"cart"`
	ClientMutationID string    `json:"clientMutationId,omitempty"`
}
