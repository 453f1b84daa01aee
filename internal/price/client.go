package price

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/pkg/config"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

// Client fetches token USD price snapshots
type Client struct {
	http    *resty.Client
	tokenID string
	logger  *zap.Logger
}

// New creates a new price client
func New(cfg *config.PriceConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("accept", "application/json")

	return &Client{
		http:    httpClient,
		tokenID: cfg.TokenID,
		logger:  logging.GetLogger().With(zap.String("component", "price-client")),
	}
}

// TokenUSD returns the current USD price for the configured token.
// Returns 0 when no token id is configured; valuation is optional.
func (c *Client) TokenUSD(ctx context.Context) (float64, error) {
	if c.tokenID == "" {
		return 0, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "price.token_usd")
	defer span.End()

	var result map[string]map[string]float64
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", c.tokenID).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&result).
		Get("/api/v3/simple/price")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("price fetch returned status %d", resp.StatusCode())
	}

	quote, ok := result[c.tokenID]
	if !ok {
		return 0, fmt.Errorf("price response missing token %s", c.tokenID)
	}
	return quote["usd"], nil
}
