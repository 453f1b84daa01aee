package reconcile

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/farcaster"
)

// ownerLookupWorkers bounds concurrent cast lookups within a pass
const ownerLookupWorkers = 8

// Resolver resolves cast owners and sender identities for a
// reconciliation pass. It caches nothing across passes; address to
// identity links can change upstream.
type Resolver struct {
	casts  ContentSource
	ids    IdentitySource
	logger *zap.Logger
}

// NewResolver creates a resolver over the given sources
func NewResolver(casts ContentSource, ids IdentitySource, logger *zap.Logger) *Resolver {
	return &Resolver{
		casts:  casts,
		ids:    ids,
		logger: logger,
	}
}

// ResolveOwners fetches the cast for every hash. A hash whose lookup
// fails transiently is absent from the result and skipped for this
// pass; a hash whose cast definitively does not exist maps to nil.
// One failure never blocks the rest of the batch.
func (r *Resolver) ResolveOwners(ctx context.Context, hashes []string) map[string]*farcaster.Cast {
	results := make(map[string]*farcaster.Cast, len(hashes))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, ownerLookupWorkers)

	for _, hash := range hashes {
		hash := hash
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			cast, err := r.casts.GetCast(ctx, hash)
			if err != nil {
				r.logger.Warn("Owner resolution failed, skipping hash for this pass",
					zap.String("hash", hash), zap.Error(err))
				return
			}

			mu.Lock()
			results[hash] = cast
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// ResolveSenders resolves wallet addresses to fids in one batched
// call. On upstream failure the map is empty and the affected stakes
// are excluded from this pass; the next pass retries naturally.
func (r *Resolver) ResolveSenders(ctx context.Context, addresses []string) map[string]int64 {
	fids := make(map[string]int64, len(addresses))
	if len(addresses) == 0 {
		return fids
	}

	users, err := r.ids.UsersByAddress(ctx, addresses)
	if err != nil {
		r.logger.Warn("Sender identity resolution failed for this pass", zap.Error(err))
		return fids
	}

	for addr, user := range users {
		if user != nil {
			fids[strings.ToLower(addr)] = user.FID
		}
	}
	return fids
}
