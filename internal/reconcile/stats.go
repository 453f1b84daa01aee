package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/models"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

// UserStats summarizes one user's staking activity. All sums exclude
// unlocked stakes; caster sums also exclude expired stakes, matching
// the aggregation engine's active predicate exactly.
type UserStats struct {
	FID              int64  `json:"fid"`
	CasterStaked     string `json:"caster_staked"`
	SupporterGiven   string `json:"supporter_given"`
	UniqueSupported  int    `json:"unique_supported"`
	ReceivedStaked   string `json:"received_staked"`
	UniqueSupporters int    `json:"unique_supporters"`
}

// NetworkStats summarizes activity across all entries
type NetworkStats struct {
	TotalCasterStaked    string `json:"total_caster_staked"`
	TotalSupporterStaked string `json:"total_supporter_staked"`
	ActiveCasts          int    `json:"active_casts"`
}

// Stats derives read-only projections over the persisted aggregate.
// No classification happens here; it only reuses the engine's
// validity predicates.
type Stats struct {
	store  CastStore
	logger *zap.Logger
}

// NewStats creates a stats projector
func NewStats(store CastStore) *Stats {
	return &Stats{
		store:  store,
		logger: logging.GetLogger().With(zap.String("component", "stats")),
	}
}

// UserStats derives per-user totals across all entries
func (s *Stats) UserStats(ctx context.Context, fid int64) (*UserStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "stats.user")
	defer span.End()

	entries, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	now := time.Now().UTC()
	stats := &UserStats{FID: fid}

	casterStaked := decimal.Zero
	supporterGiven := decimal.Zero
	received := decimal.Zero
	supportedOwners := make(map[int64]bool)
	supporters := make(map[int64]bool)

	for _, entry := range entries {
		casterTimes := entry.CasterUnlockTimes()

		if entry.AuthorFID == fid {
			casterStaked = casterStaked.Add(activeCasterTotal(entry, now))
			for _, st := range entry.SupporterStakes {
				if !validSupporterStake(st, casterTimes) {
					continue
				}
				if amt, err := decimal.NewFromString(st.Amount); err == nil {
					received = received.Add(amt)
					supporters[st.SupporterFID] = true
				}
			}
			continue
		}

		for _, st := range entry.SupporterStakes {
			if st.SupporterFID != fid || !validSupporterStake(st, casterTimes) {
				continue
			}
			if amt, err := decimal.NewFromString(st.Amount); err == nil {
				supporterGiven = supporterGiven.Add(amt)
				supportedOwners[entry.AuthorFID] = true
			}
		}
	}

	stats.CasterStaked = casterStaked.String()
	stats.SupporterGiven = supporterGiven.String()
	stats.UniqueSupported = len(supportedOwners)
	stats.ReceivedStaked = received.String()
	stats.UniqueSupporters = len(supporters)
	return stats, nil
}

// NetworkStats derives network-wide totals
func (s *Stats) NetworkStats(ctx context.Context) (*NetworkStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "stats.network")
	defer span.End()

	entries, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	now := time.Now().UTC()
	casterTotal := decimal.Zero
	supporterTotal := decimal.Zero
	activeCasts := 0

	for _, entry := range entries {
		casterTotal = casterTotal.Add(activeCasterTotal(entry, now))
		supporterTotal = supporterTotal.Add(ActiveSupporterTotal(entry))
		if ComputeStatus(entry, entry.Status != models.StatusInvalid, now) == models.StatusActive {
			activeCasts++
		}
	}

	return &NetworkStats{
		TotalCasterStaked:    casterTotal.String(),
		TotalSupporterStaked: supporterTotal.String(),
		ActiveCasts:          activeCasts,
	}, nil
}

// activeCasterTotal sums caster stakes that are still locked and
// unexpired
func activeCasterTotal(entry *models.Cast, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, st := range entry.CasterStakes {
		if st.Unlocked || st.UnlockTime <= now.Unix() {
			continue
		}
		if amt, err := decimal.NewFromString(st.Amount); err == nil {
			total = total.Add(amt)
		}
	}
	return total
}
