package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/Skotchmaster/cart_service/internal/pricing"
	"github.com/Skotchmaster/cart_service/internal/repo"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCatalog is an in-memory catalog collaborator. Unknown configurations
// fail the lookup, like the real client would on a 404.
type fakeCatalog struct {
	mu     sync.Mutex
	prices map[models.ProductConfiguration]int64
	moqs   map[models.ProductConfiguration]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		prices: make(map[models.ProductConfiguration]int64),
		moqs:   make(map[models.ProductConfiguration]int),
	}
}

func (f *fakeCatalog) setPrice(cfg models.ProductConfiguration, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[cfg] = price
}

func (f *fakeCatalog) setMOQ(cfg models.ProductConfiguration, moq int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moqs[cfg] = moq
}

func (f *fakeCatalog) GetCurrentPrice(_ context.Context, cfg models.ProductConfiguration, _ uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[cfg]
	if !ok {
		return 0, errors.New("unknown configuration")
	}
	return price, nil
}

func (f *fakeCatalog) GetMinOrderQuantity(_ context.Context, cfg models.ProductConfiguration, _ uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if moq, ok := f.moqs[cfg]; ok {
		return moq, nil
	}
	return 1, nil
}

type recordedEvent struct {
	Topic string
	Key   string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, topic, key string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Topic: topic, Key: key})
	return nil
}

func (f *fakeEvents) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Topic)
	}
	return out
}

type testEnv struct {
	T       *testing.T
	DB      *gorm.DB
	Catalog *fakeCatalog
	Events  *fakeEvents
	Svc     *CartService

	clock time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_txlock=immediate",
		filepath.Join(t.TempDir(), "carts.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Cart{}, &models.CartItem{}))

	env := &testEnv{
		T:       t,
		DB:      db,
		Catalog: newFakeCatalog(),
		Events:  &fakeEvents{},
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.Svc = &CartService{
		Repo:      &repo.GormRepo{DB: db},
		Validator: &pricing.Validator{Catalog: env.Catalog},
		Events:    env.Events,
		Now:       func() time.Time { return env.clock },
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}

// newConfig registers a fresh configuration in the catalog at the given price.
func (env *testEnv) newConfig(price int64) models.ProductConfiguration {
	cfg := models.ProductConfiguration{ProductID: uuid.New(), ProductVariantID: uuid.New()}
	env.Catalog.setPrice(cfg, price)
	return cfg
}

func sub(cfg models.ProductConfiguration, quantity int, price int64) pricing.Submission {
	return pricing.Submission{Configuration: cfg, Quantity: quantity, PriceCents: price}
}

func (env *testEnv) createAnonymousCart(shopID uuid.UUID, subs ...pricing.Submission) *CartPayload {
	env.T.Helper()
	payload, err := env.Svc.CreateCart(context.Background(), shopID, nil, subs)
	require.NoError(env.T, err)
	require.NotNil(env.T, payload.Cart)
	require.NotEmpty(env.T, payload.Token)
	return payload
}

func (env *testEnv) createAccountCart(shopID, accountID uuid.UUID, subs ...pricing.Submission) *CartPayload {
	env.T.Helper()
	payload, err := env.Svc.CreateCart(context.Background(), shopID, &accountID, subs)
	require.NoError(env.T, err)
	require.NotNil(env.T, payload.Cart)
	return payload
}

func (env *testEnv) cartCount() int64 {
	var n int64
	require.NoError(env.T, env.DB.Model(&models.Cart{}).Count(&n).Error)
	return n
}

func (env *testEnv) itemCount(cartID uuid.UUID) int64 {
	var n int64
	require.NoError(env.T, env.DB.Model(&models.CartItem{}).Where("cart_id = ?", cartID).Count(&n).Error)
	return n
}
