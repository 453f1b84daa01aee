package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/models"
	"github.com/stakecast/stakecast/pkg/config"
	"github.com/stakecast/stakecast/pkg/logging"
	"github.com/stakecast/stakecast/pkg/telemetry"
)

// Syncer reconciles upstream lockup records into persisted cast
// aggregates. Two paths feed the same aggregation logic: SyncAll, the
// authoritative periodic full re-sync, and ApplyOptimisticLockup, the
// advisory single-event webhook path. The optimistic path is allowed
// to lose against a concurrent full re-sync; the re-sync is strictly
// more correct and converges regardless of interleaving.
type Syncer struct {
	store     CastStore
	batch     BatchSource
	casts     ContentSource
	price     PriceSource
	resolver  *Resolver
	validator *Validator
	decimals  int
	logger    *zap.Logger
}

// NewSyncer creates a new reconciliation syncer
func NewSyncer(
	store CastStore,
	batch BatchSource,
	casts ContentSource,
	ids IdentitySource,
	price PriceSource,
	stakeCfg *config.StakeConfig,
) *Syncer {
	logger := logging.GetLogger().With(zap.String("component", "reconcile"))
	return &Syncer{
		store:     store,
		batch:     batch,
		casts:     casts,
		price:     price,
		resolver:  NewResolver(casts, ids, logger),
		validator: NewValidator(stakeCfg),
		decimals:  stakeCfg.TokenDecimals,
		logger:    logger,
	}
}

// SyncResult summarizes a full re-sync pass
type SyncResult struct {
	EntriesUpserted int
	RecordsSeen     int
	RecordsDropped  int
}

// SyncAll pulls all lockup records from the batch source, rebuilds
// every touched entry from scratch and recomputes global ranks. The
// batch source is authoritative: stake slices are fully replaced, not
// merged. Running twice over unchanged upstream data yields identical
// persisted entries. Per-entry persistence failures are logged and
// counted, never fatal to the pass.
func (s *Syncer) SyncAll(ctx context.Context) (*SyncResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.sync_all")
	defer span.End()

	result := &SyncResult{}

	records, err := s.batch.FetchLockups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lockups: %w", err)
	}
	result.RecordsSeen = len(records)

	// Group records by normalized hash; malformed references are
	// dropped at this earliest validation point
	groups := make(map[string][]*lockup.Record)
	senderSet := make(map[string]bool)
	for _, rec := range records {
		hash, ok := NormalizeHash(rec.ContentRef)
		if !ok {
			result.RecordsDropped++
			s.logger.Debug("Dropping lockup with malformed content reference",
				zap.Int64("lockup_id", rec.LockupID), zap.String("ref", rec.ContentRef))
			continue
		}
		groups[hash] = append(groups[hash], rec)
		senderSet[rec.Sender] = true
	}

	hashes := make([]string, 0, len(groups))
	for hash := range groups {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	senders := make([]string, 0, len(senderSet))
	for addr := range senderSet {
		senders = append(senders, addr)
	}
	sort.Strings(senders)

	owners := s.resolver.ResolveOwners(ctx, hashes)
	senderFids := s.resolver.ResolveSenders(ctx, senders)

	priceUSD, err := s.price.TokenUSD(ctx)
	if err != nil {
		// Valuation is optional; totals stay correct without it
		s.logger.Warn("Price snapshot unavailable for this pass", zap.Error(err))
		priceUSD = 0
	}

	now := time.Now().UTC()

	touched := make(map[string]*models.Cast, len(hashes))
	for _, hash := range hashes {
		cast, resolved := owners[hash]
		if !resolved {
			// Transient lookup failure; next pass retries
			continue
		}
		if cast == nil {
			// Reference points at no known cast; entries are only
			// created once content is resolvable
			s.logger.Debug("Content not found for staked reference", zap.String("hash", hash))
			continue
		}
		entry := s.buildEntry(hash, cast, groups[hash], senderFids, now, result)
		entry.USDValue = usdValue(entry.TotalStaked, priceUSD)
		touched[hash] = entry
	}

	// Rank is global: recompute statuses of untouched entries (time
	// passage can expire them) and rank the whole active set
	existing, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	type derived struct {
		status    string
		rankValid bool
		rank      int64
	}
	prev := make(map[string]derived)
	stored := make(map[string]*models.Cast, len(existing))

	all := make([]*models.Cast, 0, len(existing)+len(touched))
	for _, e := range existing {
		stored[e.Hash] = e
		if _, ok := touched[e.Hash]; ok {
			continue
		}
		prev[e.Hash] = derived{status: e.Status, rankValid: e.Rank.Valid, rank: e.Rank.Int64}
		RecomputeStored(e, now)
		all = append(all, e)
	}
	for _, hash := range hashes {
		if entry, ok := touched[hash]; ok {
			all = append(all, entry)
		}
	}
	AssignRanks(all)

	// Only entries whose persisted form would actually change are
	// written; a pass over unchanged upstream data writes nothing
	for _, e := range all {
		if _, isTouched := touched[e.Hash]; isTouched {
			if prior, ok := stored[e.Hash]; ok && !entryChanged(prior, e) {
				continue
			}
		} else {
			p := prev[e.Hash]
			if p.status == e.Status && p.rankValid == e.Rank.Valid && p.rank == e.Rank.Int64 {
				continue
			}
		}
		if err := s.store.Upsert(ctx, e); err != nil {
			s.logger.Error("Failed to persist entry",
				zap.String("hash", e.Hash), zap.Error(err))
			continue
		}
		result.EntriesUpserted++
	}

	s.logger.Info("Sync pass complete",
		zap.Int("records_seen", result.RecordsSeen),
		zap.Int("records_dropped", result.RecordsDropped),
		zap.Int("entries_upserted", result.EntriesUpserted))

	return result, nil
}

// buildEntry rebuilds one entry from scratch out of the batch records
// for its hash. Records with unparseable or non-positive amounts, and
// supporter records whose sender identity cannot be resolved, are
// dropped for this pass.
func (s *Syncer) buildEntry(
	hash string,
	cast *farcaster.Cast,
	records []*lockup.Record,
	senderFids map[string]int64,
	now time.Time,
	result *SyncResult,
) *models.Cast {
	res := s.validator.Check(cast)

	entry := &models.Cast{
		Hash:            hash,
		AuthorFID:       res.OwnerFID,
		Username:        res.Username,
		DisplayName:     res.DisplayName,
		AvatarURL:       res.AvatarURL,
		Text:            res.Text,
		Description:     res.Description,
		CasterStakes:    models.CasterStakes{},
		SupporterStakes: models.SupporterStakes{},
	}

	wallets := cast.Author.Wallets()

	// Lock order, so reruns produce identical slices regardless of
	// upstream paging order
	sorted := make([]*lockup.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LockupID < sorted[j].LockupID })

	for _, rec := range sorted {
		amt, err := NormalizeAmount(rec.Amount, rec.AmountUnit, s.decimals)
		if err != nil {
			result.RecordsDropped++
			s.logger.Warn("Dropping lockup with invalid amount",
				zap.Int64("lockup_id", rec.LockupID), zap.Error(err))
			continue
		}

		if Classify(rec, wallets) == KindCaster {
			entry.CasterStakes = append(entry.CasterStakes, models.CasterStake{
				LockupID:   rec.LockupID,
				Amount:     amt.String(),
				UnlockTime: rec.UnlockTime,
				Unlocked:   rec.Unlocked,
				LockTime:   rec.LockTime,
			})
			continue
		}

		fid, ok := senderFids[rec.Sender]
		if !ok {
			result.RecordsDropped++
			s.logger.Debug("Dropping supporter stake with unresolved sender",
				zap.Int64("lockup_id", rec.LockupID), zap.String("sender", rec.Sender))
			continue
		}
		entry.SupporterStakes = append(entry.SupporterStakes, models.SupporterStake{
			LockupID:     rec.LockupID,
			Amount:       amt.String(),
			SupporterFID: fid,
			UnlockTime:   rec.UnlockTime,
			Unlocked:     rec.Unlocked,
			LockTime:     rec.LockTime,
		})
	}

	Recompute(entry, res.Valid, now)
	return entry
}

// ApplyOptimisticLockup applies a single pushed lockup event on a
// best-effort basis. Any step that cannot complete skips the update
// without raising; the periodic re-sync reconciles it eventually.
// Returns the updated entry, or nil when the event was skipped.
func (s *Syncer) ApplyOptimisticLockup(ctx context.Context, record *lockup.Record) (*models.Cast, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.apply_optimistic")
	defer span.End()

	now := time.Now().UTC()

	hash, ok := NormalizeHash(record.ContentRef)
	if !ok {
		s.logger.Debug("Skipping pushed lockup with malformed reference",
			zap.Int64("lockup_id", record.LockupID))
		return nil, nil
	}

	// A lockup that is already withdrawn or expired adds nothing the
	// batch path will not record anyway
	if record.Unlocked || record.UnlockTime <= now.Unix() {
		return nil, nil
	}

	amt, err := NormalizeAmount(record.Amount, record.AmountUnit, s.decimals)
	if err != nil {
		s.logger.Debug("Skipping pushed lockup with invalid amount",
			zap.Int64("lockup_id", record.LockupID), zap.Error(err))
		return nil, nil
	}

	entry, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", hash, err)
	}
	if entry != nil && hasLockup(entry, record.LockupID) {
		// Duplicate delivery
		return nil, nil
	}

	// Classification needs the author's wallet set, which is not
	// persisted, so the cast is always fetched here
	cast, err := s.casts.GetCast(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cast %s: %w", hash, err)
	}
	if cast == nil {
		return nil, nil
	}

	res := s.validator.Check(cast)

	// Stored ACTIVE/EXPIRED entries are settled; a transient
	// re-validation miss must not invalidate them
	contentOK := res.Valid ||
		(entry != nil && (entry.Status == models.StatusActive || entry.Status == models.StatusExpired))

	if entry == nil {
		if !contentOK {
			return nil, nil
		}
		entry = &models.Cast{
			Hash:            hash,
			CasterStakes:    models.CasterStakes{},
			SupporterStakes: models.SupporterStakes{},
		}
	}

	// Refresh denormalized fields; the store's merge policy keeps
	// existing non-empty values if these come back blank
	entry.AuthorFID = res.OwnerFID
	entry.Username = res.Username
	entry.DisplayName = res.DisplayName
	entry.AvatarURL = res.AvatarURL
	entry.Text = res.Text
	if res.Valid {
		entry.Description = res.Description
	}

	if Classify(record, cast.Author.Wallets()) == KindCaster {
		entry.CasterStakes = append(entry.CasterStakes, models.CasterStake{
			LockupID:   record.LockupID,
			Amount:     amt.String(),
			UnlockTime: record.UnlockTime,
			Unlocked:   record.Unlocked,
			LockTime:   record.LockTime,
		})
	} else {
		fids := s.resolver.ResolveSenders(ctx, []string{record.Receiver})
		fid, ok := fids[record.Receiver]
		if !ok {
			s.logger.Debug("Skipping pushed supporter stake with unresolved identity",
				zap.Int64("lockup_id", record.LockupID))
			return nil, nil
		}
		entry.SupporterStakes = append(entry.SupporterStakes, models.SupporterStake{
			LockupID:     record.LockupID,
			Amount:       amt.String(),
			SupporterFID: fid,
			UnlockTime:   record.UnlockTime,
			Unlocked:     record.Unlocked,
			LockTime:     record.LockTime,
		})
	}

	// Rank stays as stored; only the authoritative pass moves ranks
	Recompute(entry, contentOK, now)

	if err := s.store.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist entry %s: %w", hash, err)
	}

	return entry, nil
}

// Leaderboard returns ACTIVE entries ordered by rank ascending
func (s *Syncer) Leaderboard(ctx context.Context, limit int) ([]*models.Cast, error) {
	return s.store.ListActiveByRank(ctx, limit)
}

// GetCast returns a single entry, or (nil, nil) when none exists
func (s *Syncer) GetCast(ctx context.Context, hash string) (*models.Cast, error) {
	return s.store.GetByHash(ctx, hash)
}

// entryChanged reports whether persisting next over stored would alter
// the row. Display fields follow the store's merge policy: an empty
// incoming value keeps the stored one, so only a differing non-empty
// value counts as a change.
func entryChanged(stored, next *models.Cast) bool {
	if next.Status != stored.Status ||
		next.TotalStaked != stored.TotalStaked ||
		next.USDValue != stored.USDValue ||
		next.Rank != stored.Rank {
		return true
	}
	if len(next.CasterStakes) != len(stored.CasterStakes) ||
		len(next.SupporterStakes) != len(stored.SupporterStakes) {
		return true
	}
	for i := range next.CasterStakes {
		if next.CasterStakes[i] != stored.CasterStakes[i] {
			return true
		}
	}
	for i := range next.SupporterStakes {
		if next.SupporterStakes[i] != stored.SupporterStakes[i] {
			return true
		}
	}
	if next.AuthorFID != 0 && next.AuthorFID != stored.AuthorFID {
		return true
	}
	if next.Username != "" && next.Username != stored.Username {
		return true
	}
	if next.DisplayName != "" && next.DisplayName != stored.DisplayName {
		return true
	}
	if next.AvatarURL != "" && next.AvatarURL != stored.AvatarURL {
		return true
	}
	if next.Text != "" && next.Text != stored.Text {
		return true
	}
	if next.Description != "" && next.Description != stored.Description {
		return true
	}
	return false
}

func hasLockup(entry *models.Cast, lockupID int64) bool {
	for _, s := range entry.CasterStakes {
		if s.LockupID == lockupID {
			return true
		}
	}
	for _, s := range entry.SupporterStakes {
		if s.LockupID == lockupID {
			return true
		}
	}
	return false
}

func usdValue(totalStaked string, priceUSD float64) float64 {
	if priceUSD == 0 {
		return 0
	}
	total, err := decimal.NewFromString(totalStaked)
	if err != nil {
		return 0
	}
	value, _ := total.Float64()
	return value * priceUSD
}
