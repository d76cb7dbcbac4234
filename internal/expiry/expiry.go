package expiry

import (
	"time"

	"github.com/Skotchmaster/cart_service/internal/models"
)

// Policy computes when an anonymous cart expires. The value is derived on
// every read and never stored, so the threshold can be retuned without a
// migration.
type Policy struct {
	Threshold time.Duration
}

// ExpiresAt returns nil for account carts. For anonymous carts it is always
// UpdatedAt + Threshold, so any mutation pushes expiry out.
func (p Policy) ExpiresAt(cart *models.Cart) *time.Time {
	if cart == nil || cart.AccountID != nil {
		return nil
	}
	t := cart.UpdatedAt.Add(p.Threshold)
	return &t
}

// Expired reports whether the cart has passed its expiry at the given moment.
func (p Policy) Expired(cart *models.Cart, now time.Time) bool {
	at := p.ExpiresAt(cart)
	return at != nil && now.After(*at)
}
