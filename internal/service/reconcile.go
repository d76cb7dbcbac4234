package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/cart_service/internal/hash"
	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/Skotchmaster/cart_service/internal/repo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReconciliationMode string

const (
	ModeMerge             ReconciliationMode = "merge"
	ModeKeepAccountCart   ReconciliationMode = "keepAccountCart"
	ModeKeepAnonymousCart ReconciliationMode = "keepAnonymousCart"
)

func (m ReconciliationMode) Valid() bool {
	switch m {
	case ModeMerge, ModeKeepAccountCart, ModeKeepAnonymousCart:
		return true
	}
	return false
}

// reconcileItems computes the account cart's item set for the given mode.
// Pure; the atomic write happens in the repo. The second return value is
// false when the account cart's items are to be left untouched.
//
// Merge price tie-break: a matched configuration takes the price of the item
// with the later updated_at, ties going to the account side. Deterministic,
// so a retried reconcile recomputes the identical target set.
func reconcileItems(mode ReconciliationMode, accountCart, anonCart *models.Cart) ([]models.CartItem, bool) {
	switch mode {
	case ModeKeepAccountCart:
		return nil, false

	case ModeKeepAnonymousCart:
		target := make([]models.CartItem, 0, len(anonCart.Items))
		for _, it := range anonCart.Items {
			target = append(target, copyItem(it))
		}
		return target, true

	default: // merge
		target := make([]models.CartItem, 0, len(accountCart.Items)+len(anonCart.Items))
		byConfig := make(map[models.ProductConfiguration]int, len(accountCart.Items))
		for _, it := range accountCart.Items {
			byConfig[it.ProductConfiguration] = len(target)
			target = append(target, it)
		}
		for _, it := range anonCart.Items {
			idx, ok := byConfig[it.ProductConfiguration]
			if !ok {
				target = append(target, copyItem(it))
				continue
			}
			kept := &target[idx]
			kept.Quantity += it.Quantity
			if it.UpdatedAt.After(kept.UpdatedAt) {
				kept.PriceCents = it.PriceCents
			}
		}
		return target, true
	}
}

// copyItem clones an anonymous-cart item into a fresh row, preserving its
// first-addition history (added_at, price_when_added) but not its identity.
func copyItem(it models.CartItem) models.CartItem {
	return models.CartItem{
		ID:                   uuid.New(),
		ProductConfiguration: it.ProductConfiguration,
		Quantity:             it.Quantity,
		PriceCents:           it.PriceCents,
		PriceWhenAddedCents:  it.PriceWhenAddedCents,
		AddedAt:              it.AddedAt,
		Metafields:           it.Metafields,
		UpdatedAt:            it.UpdatedAt,
	}
}

// ReconcileCarts folds an anonymous cart into the authenticated account's
// cart for the shop. If the account has no cart yet the anonymous cart is
// adopted outright. Either way the anonymous cart (and its token) is gone
// once the call succeeds; both effects commit in one transaction. No
// validation failures are produced here: reconciliation moves already-placed
// items, it does not accept new submissions.
func (s *CartService) ReconcileCarts(ctx context.Context, anonCartID uuid.UUID, anonToken string, accountID, shopID uuid.UUID, mode ReconciliationMode) (*models.Cart, error) {
	if mode == "" {
		mode = ModeMerge
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown reconciliation mode %q: %w", mode, ErrValidation)
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		anonCart, err := s.loadCart(ctx, anonCartID)
		if err != nil {
			return nil, err
		}
		if !anonCart.Anonymous() {
			return nil, fmt.Errorf("cart %s is not anonymous: %w", anonCartID, ErrNotFound)
		}
		if anonCart.ShopID != shopID {
			return nil, fmt.Errorf("cart belongs to another shop: %w", ErrValidation)
		}
		if anonToken == "" || !hash.CheckToken(anonCart.TokenHash, anonToken) {
			return nil, fmt.Errorf("cart token mismatch: %w", ErrPermission)
		}

		accountCart, err := s.Repo.GetAccountCart(ctx, accountID, shopID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		if accountCart == nil {
			err = s.Repo.AdoptCart(ctx, anonCart.ID, accountID)
		} else {
			target, replace := reconcileItems(mode, accountCart, anonCart)
			err = s.Repo.CommitReconciliation(ctx, accountCart, anonCart, target, replace, s.now())
		}
		if errors.Is(err, repo.ErrTxConflict) || errors.Is(err, repo.ErrDuplicateAccountCart) {
			// The world moved between load and commit: an account cart
			// appeared, or one of the carts was mutated. Reload and redo.
			continue
		}
		if err != nil {
			return nil, err
		}

		resultID := anonCart.ID
		if accountCart != nil {
			resultID = accountCart.ID
		}
		result, err := s.loadCart(ctx, resultID)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, "cart.reconciled", result)
		return result, nil
	}

	return nil, fmt.Errorf("reconciliation contended after %d attempts: %w", maxTxAttempts, ErrConflict)
}
