package farcaster

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/pkg/config"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

// Client wraps the Farcaster hub REST API
type Client struct {
	http     *resty.Client
	maxBatch int
	logger   *zap.Logger
}

// New creates a new Farcaster client
func New(cfg *config.FarcasterConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("farcaster_url is required")
	}

	logger := logging.GetLogger().With(zap.String("component", "farcaster-client"))

	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("api_key", cfg.APIKey)
	}

	client := &Client{
		http:     httpClient,
		maxBatch: cfg.MaxBatch,
		logger:   logger,
	}

	logger.Info("Farcaster client initialized", zap.String("url", cfg.URL))

	return client, nil
}

// GetCast fetches a single cast by hash. Returns (nil, nil) when the
// cast does not exist; absence is an expected outcome, not a fault.
func (c *Client) GetCast(ctx context.Context, hash string) (*Cast, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.get_cast")
	defer span.End()

	var result castResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("identifier", hash).
		SetQueryParam("type", "hash").
		SetResult(&result).
		Get("/v2/farcaster/cast")
	if err != nil {
		return nil, fmt.Errorf("failed to get cast %s: %w", hash, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cast lookup %s returned status %d", hash, resp.StatusCode())
	}

	return result.Cast, nil
}

// UsersByAddress resolves wallet addresses to Farcaster users. Lookups
// are batched up to the hub's batch limit; one request per batch,
// never one per address. Addresses that resolve to no user are simply
// absent from the result map.
func (c *Client) UsersByAddress(ctx context.Context, addresses []string) (map[string]*User, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.users_by_address")
	defer span.End()

	users := make(map[string]*User)
	if len(addresses) == 0 {
		return users, nil
	}

	for start := 0; start < len(addresses); start += c.maxBatch {
		end := start + c.maxBatch
		if end > len(addresses) {
			end = len(addresses)
		}

		batch := make([]string, 0, end-start)
		for _, addr := range addresses[start:end] {
			batch = append(batch, strings.ToLower(addr))
		}

		var result bulkUsersByAddressResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("addresses", strings.Join(batch, ",")).
			SetResult(&result).
			Get("/v2/farcaster/user/bulk-by-address")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve addresses: %w", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			// None of the batch resolved
			continue
		}
		if resp.IsError() {
			return nil, fmt.Errorf("address resolution returned status %d", resp.StatusCode())
		}

		for addr, matched := range result {
			if len(matched) == 0 {
				continue
			}
			user := matched[0]
			users[strings.ToLower(addr)] = &user
		}
	}

	return users, nil
}
