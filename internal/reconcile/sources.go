package reconcile

import (
	"context"

	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/models"
)

// ContentSource resolves cast hashes to casts. (nil, nil) means the
// cast definitively does not exist; an error means resolution failed
// transiently and the hash should be skipped for this pass.
type ContentSource interface {
	GetCast(ctx context.Context, hash string) (*farcaster.Cast, error)
}

// IdentitySource resolves wallet addresses to Farcaster users in
// batched calls
type IdentitySource interface {
	UsersByAddress(ctx context.Context, addresses []string) (map[string]*farcaster.User, error)
}

// BatchSource is the authoritative upstream feed of lockup records
type BatchSource interface {
	FetchLockups(ctx context.Context) ([]*lockup.Record, error)
}

// PriceSource provides a USD price snapshot for the staked token
type PriceSource interface {
	TokenUSD(ctx context.Context) (float64, error)
}

// CastStore is the persistence boundary for cast aggregate entries.
// Upsert must be atomic per hash and apply the display-field merge
// policy; GetByHash returns (nil, nil) when no entry exists.
type CastStore interface {
	GetByHash(ctx context.Context, hash string) (*models.Cast, error)
	ListAll(ctx context.Context) ([]*models.Cast, error)
	ListActiveByRank(ctx context.Context, limit int) ([]*models.Cast, error)
	Upsert(ctx context.Context, cast *models.Cast) error
}
