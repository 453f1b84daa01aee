package lockup

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/pkg/config"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

// Client wraps the lockup indexer REST API, the authoritative batch
// source for on-chain lockup records
type Client struct {
	http     *resty.Client
	contract string
	pageSize int
	logger   *zap.Logger
}

// New creates a new lockup indexer client
func New(cfg *config.LockupConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("lockup_indexer_url is required")
	}

	logger := logging.GetLogger().With(zap.String("component", "lockup-client"))

	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("accept", "application/json")

	client := &Client{
		http:     httpClient,
		contract: cfg.Contract,
		pageSize: cfg.PageSize,
		logger:   logger,
	}

	logger.Info("Lockup indexer client initialized", zap.String("url", cfg.URL))

	return client, nil
}

// lockupsResponse wraps the indexer list endpoint payload. Individual
// records stay untyped until ParseRecord validates them.
type lockupsResponse struct {
	Lockups []map[string]interface{} `json:"lockups"`
}

// FetchLockups pulls the most recent lockup records, bounded by the
// configured page size. Records the indexer reports in a shape that
// cannot be coerced are dropped and logged, never fatal. Amounts from
// this source are 18-decimal base units.
func (c *Client) FetchLockups(ctx context.Context) ([]*Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "lockup.fetch_lockups")
	defer span.End()

	var result lockupsResponse
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", c.pageSize)).
		SetQueryParam("order", "desc").
		SetResult(&result)
	if c.contract != "" {
		req.SetQueryParam("contract", c.contract)
	}

	resp, err := req.Get("/v1/lockups")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lockups: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lockup fetch returned status %d", resp.StatusCode())
	}

	records := make([]*Record, 0, len(result.Lockups))
	for _, raw := range result.Lockups {
		record, err := ParseRecord(raw, UnitBase)
		if err != nil {
			c.logger.Warn("Dropping malformed lockup record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}
