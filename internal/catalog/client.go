package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/google/uuid"
)

// Client talks to the catalog service for authoritative pricing and
// minimum-order-quantity policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(catalogServiceURL string) *Client {
	return &Client{
		baseURL: catalogServiceURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type variantPricing struct {
	PriceCents       int64 `json:"price_cents"`
	MinOrderQuantity int   `json:"min_order_quantity"`
}

func (c *Client) fetchPricing(ctx context.Context, cfg models.ProductConfiguration, shopID uuid.UUID) (*variantPricing, error) {
	url := fmt.Sprintf("%s/shops/%s/products/%s/variants/%s/pricing",
		c.baseURL, shopID, cfg.ProductID, cfg.ProductVariantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing lookup failed with status: %d", resp.StatusCode)
	}

	var result variantPricing
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

func (c *Client) GetCurrentPrice(ctx context.Context, cfg models.ProductConfiguration, shopID uuid.UUID) (int64, error) {
	p, err := c.fetchPricing(ctx, cfg, shopID)
	if err != nil {
		return 0, err
	}
	return p.PriceCents, nil
}

func (c *Client) GetMinOrderQuantity(ctx context.Context, cfg models.ProductConfiguration, shopID uuid.UUID) (int, error) {
	p, err := c.fetchPricing(ctx, cfg, shopID)
	if err != nil {
		return 0, err
	}
	return p.MinOrderQuantity, nil
}
