package pricing

import (
	"context"

	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Catalog is the external collaborator supplying authoritative prices and
// minimum-order-quantity policy.
type Catalog interface {
	GetCurrentPrice(ctx context.Context, cfg models.ProductConfiguration, shopID uuid.UUID) (int64, error)
	GetMinOrderQuantity(ctx context.Context, cfg models.ProductConfiguration, shopID uuid.UUID) (int, error)
}

// Submission is one proposed line item as the client sent it.
type Submission struct {
	Configuration models.ProductConfiguration
	Quantity      int
	PriceCents    int64
	Metafields    map[string]any
}

type IncorrectPriceFailure struct {
	ProductConfiguration models.ProductConfiguration `json:"productConfiguration"`
	ProvidedPrice        int64                       `json:"providedPrice"`
	CurrentPrice         int64                       `json:"currentPrice"`
}

type MinOrderQuantityFailure struct {
	ProductConfiguration models.ProductConfiguration `json:"productConfiguration"`
	Quantity             int                         `json:"quantity"`
	MinOrderQuantity     int                         `json:"minOrderQuantity"`
}

// Result is the tagged outcome of validating one submission. At most one of
// the failure fields is set; when both are nil the submission passed and
// CurrentPrice carries the authoritative price to persist.
type Result struct {
	Submission       Submission
	CurrentPrice     int64
	IncorrectPrice   *IncorrectPriceFailure
	MinOrderQuantity *MinOrderQuantityFailure
}

func (r Result) OK() bool {
	return r.IncorrectPrice == nil && r.MinOrderQuantity == nil
}

type Validator struct {
	Catalog Catalog
}

// ValidateItem checks one submission against the catalog. Validation failures
// are values, not errors; an error here means the catalog itself failed.
func (v *Validator) ValidateItem(ctx context.Context, shopID uuid.UUID, sub Submission) (Result, error) {
	res := Result{Submission: sub}

	currentPrice, err := v.Catalog.GetCurrentPrice(ctx, sub.Configuration, shopID)
	if err != nil {
		return res, err
	}
	res.CurrentPrice = currentPrice

	if sub.PriceCents != currentPrice {
		res.IncorrectPrice = &IncorrectPriceFailure{
			ProductConfiguration: sub.Configuration,
			ProvidedPrice:        sub.PriceCents,
			CurrentPrice:         currentPrice,
		}
		return res, nil
	}

	moq, err := v.Catalog.GetMinOrderQuantity(ctx, sub.Configuration, shopID)
	if err != nil {
		return res, err
	}
	if sub.Quantity < moq {
		res.MinOrderQuantity = &MinOrderQuantityFailure{
			ProductConfiguration: sub.Configuration,
			Quantity:             sub.Quantity,
			MinOrderQuantity:     moq,
		}
	}
	return res, nil
}

// ValidateBatch validates all submissions before anything is committed.
// Lookups are read-only, so they run concurrently; results keep submission
// order.
func (v *Validator) ValidateBatch(ctx context.Context, shopID uuid.UUID, subs []Submission) ([]Result, error) {
	results := make([]Result, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			res, err := v.ValidateItem(gctx, shopID, sub)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
