package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductConfiguration identifies what the shopper selected, independent of
// catalog internals. It is the matching key for line items: one cart never
// holds two rows with the same configuration.
type ProductConfiguration struct {
	ProductID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_config" json:"productId"`
	ProductVariantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_config" json:"productVariantId"`
}

type Cart struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"                                  json:"id"`
	ShopID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_carts_account_shop" json:"shop_id"`

	// nil means anonymous: the cart is reached with id + secret token instead.
	// NULLs are distinct in the unique index, so any number of anonymous
	// carts may coexist per shop.
	AccountID *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_carts_account_shop" json:"account_id,omitempty"`

	// bcrypt hash of the anonymous capability token; empty for account carts.
	TokenHash string `json:"-"`

	// Opaque reference owned by the checkout subsystem.
	CheckoutRef *string `json:"checkout_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
}

func (c *Cart) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (Cart) TableName() string {
	return "carts"
}

func (c *Cart) Anonymous() bool {
	return c.AccountID == nil
}

type CartItem struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"                                      json:"id"`
	CartID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_config" json:"cart_id"`

	ProductConfiguration ProductConfiguration `gorm:"embedded" json:"product_configuration"`

	Quantity int `gorm:"not null;check:quantity>0" json:"quantity"`

	// Both prices are integer cents. PriceCents is refreshed on every
	// validated addition; PriceWhenAddedCents is fixed at first addition.
	PriceCents          int64 `gorm:"not null" json:"price_cents"`
	PriceWhenAddedCents int64 `gorm:"not null" json:"price_when_added_cents"`

	// AddedAt survives quantity changes; removal destroys the row, so a
	// re-added configuration starts over with a fresh AddedAt.
	AddedAt time.Time `gorm:"not null" json:"added_at"`

	Metafields map[string]any `gorm:"serializer:json" json:"metafields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *CartItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (CartItem) TableName() string {
	return "cart_items"
}
