package service

import (
	"context"
	"testing"
	"time"

	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconcileFixture is the scenario used throughout: the account cart holds
// {A: 2}, the anonymous cart {A: 3} and {B: 1}.
type reconcileFixture struct {
	env       *testEnv
	shopID    uuid.UUID
	accountID uuid.UUID
	cfgA      models.ProductConfiguration
	cfgB      models.ProductConfiguration
	account   *CartPayload
	anon      *CartPayload
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	env := newTestEnv(t)
	f := &reconcileFixture{
		env:       env,
		shopID:    uuid.New(),
		accountID: uuid.New(),
		cfgA:      env.newConfig(1000),
		cfgB:      env.newConfig(500),
	}
	f.account = env.createAccountCart(f.shopID, f.accountID, sub(f.cfgA, 2, 1000))
	f.anon = env.createAnonymousCart(f.shopID, sub(f.cfgA, 3, 1000), sub(f.cfgB, 1, 500))
	return f
}

func (f *reconcileFixture) quantitiesByConfig(cart *models.Cart) map[models.ProductConfiguration]int {
	out := make(map[models.ProductConfiguration]int, len(cart.Items))
	for _, it := range cart.Items {
		out[it.ProductConfiguration] = it.Quantity
	}
	return out
}

func TestReconcileCarts_Merge(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	cart, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, f.account.Cart.ID, cart.ID)
	require.Len(t, cart.Items, 2)
	q := f.quantitiesByConfig(cart)
	assert.Equal(t, 5, q[f.cfgA])
	assert.Equal(t, 1, q[f.cfgB])

	// The anonymous cart is gone, token and all.
	_, err = f.env.Svc.GetCart(ctx, f.anon.Cart.ID, Access{Token: f.anon.Token})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), f.env.cartCount())
}

func TestReconcileCarts_MergePreservesItemHistory(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	var anonB models.CartItem
	for _, it := range f.anon.Cart.Items {
		if it.ProductConfiguration == f.cfgB {
			anonB = it
		}
	}

	cart, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeMerge)
	require.NoError(t, err)

	for _, it := range cart.Items {
		if it.ProductConfiguration == f.cfgB {
			// Copied from the anonymous side with its original history.
			assert.WithinDuration(t, anonB.AddedAt, it.AddedAt, time.Second)
			assert.Equal(t, anonB.PriceWhenAddedCents, it.PriceWhenAddedCents)
		}
	}
}

func TestReconcileCarts_MergeTakesMostRecentPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shopID := uuid.New()
	accountID := uuid.New()
	cfg := env.newConfig(1000)

	account := env.createAccountCart(shopID, accountID, sub(cfg, 2, 1000))

	// Catalog price drifts before the anonymous shopper adds the same
	// configuration, so the anonymous item carries the newer price.
	env.Catalog.setPrice(cfg, 1300)
	anon := env.createAnonymousCart(shopID, sub(cfg, 3, 1300))

	cart, err := env.Svc.ReconcileCarts(ctx, anon.Cart.ID, anon.Token, accountID, shopID, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, account.Cart.ID, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, int64(1300), cart.Items[0].PriceCents)
	// First-addition price of the account cart's row is untouched.
	assert.Equal(t, int64(1000), cart.Items[0].PriceWhenAddedCents)
}

func TestReconcileCarts_KeepAccountCart(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	cart, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeKeepAccountCart)
	require.NoError(t, err)

	assert.Equal(t, f.account.Cart.ID, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, f.cfgA, cart.Items[0].ProductConfiguration)
	assert.Equal(t, int64(1), f.env.cartCount())
}

func TestReconcileCarts_KeepAnonymousCart(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	cart, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeKeepAnonymousCart)
	require.NoError(t, err)

	// The account cart keeps its identity and creation time but takes the
	// anonymous item set wholesale.
	assert.Equal(t, f.account.Cart.ID, cart.ID)
	assert.WithinDuration(t, f.account.Cart.CreatedAt, cart.CreatedAt, time.Second)
	require.Len(t, cart.Items, 2)
	q := f.quantitiesByConfig(cart)
	assert.Equal(t, 3, q[f.cfgA])
	assert.Equal(t, 1, q[f.cfgB])
	assert.Equal(t, int64(1), f.env.cartCount())
}

func TestReconcileCarts_AdoptsWhenNoAccountCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shopID := uuid.New()
	accountID := uuid.New()
	cfg := env.newConfig(1000)

	anon := env.createAnonymousCart(shopID, sub(cfg, 2, 1000))

	cart, err := env.Svc.ReconcileCarts(ctx, anon.Cart.ID, anon.Token, accountID, shopID, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, anon.Cart.ID, cart.ID)
	require.NotNil(t, cart.AccountID)
	assert.Equal(t, accountID, *cart.AccountID)
	assert.Empty(t, cart.TokenHash)

	// The old capability token no longer opens the cart.
	_, err = env.Svc.GetCart(ctx, cart.ID, Access{Token: anon.Token})
	assert.ErrorIs(t, err, ErrPermission)
}

func TestReconcileCarts_TokenMismatch(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, "wrong-token", f.accountID, f.shopID, ModeMerge)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
	assert.Equal(t, int64(2), f.env.cartCount())
}

func TestReconcileCarts_WrongShop(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, uuid.New(), ModeMerge)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReconcileCarts_UnknownMode(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, "discardBoth")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReconcileCarts_AlreadyReconciled(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeMerge)
	require.NoError(t, err)

	// A retried request after success finds no anonymous cart anymore.
	_, err = f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeMerge)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileCarts_DefaultsToMerge(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	cart, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, "")
	require.NoError(t, err)

	q := f.quantitiesByConfig(cart)
	assert.Equal(t, 5, q[f.cfgA])
}

func TestReconcileCarts_PublishesEvent(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.env.Svc.ReconcileCarts(ctx, f.anon.Cart.ID, f.anon.Token, f.accountID, f.shopID, ModeMerge)
	require.NoError(t, err)
	assert.Contains(t, f.env.Events.topics(), "cart.reconciled")
}
