package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/internal/lockup"
	"github.com/stakecast/stakecast/internal/models"
	"github.com/stakecast/stakecast/pkg/config"
)

const (
	custodyAddr   = "0xaaaa000000000000000000000000000000000001"
	verifiedAddr  = "0xbbbb000000000000000000000000000000000002"
	supporterAddr = "0xcccc000000000000000000000000000000000003"
	strangerAddr  = "0xdddd000000000000000000000000000000000004"
)

var testHash = "0x" + strings.Repeat("a", 40)

func activeRank(rank int64) sql.NullInt64 {
	return sql.NullInt64{Int64: rank, Valid: true}
}

// fakeStore is an in-memory CastStore. Like the real repository it
// hands out copies, so callers mutating a loaded entry do not change
// stored state until Upsert.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*models.Cast
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*models.Cast)}
}

func copyCast(c *models.Cast) *models.Cast {
	dup := *c
	dup.CasterStakes = append(models.CasterStakes{}, c.CasterStakes...)
	dup.SupporterStakes = append(models.SupporterStakes{}, c.SupporterStakes...)
	return &dup
}

func (f *fakeStore) GetByHash(_ context.Context, hash string) (*models.Cast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[hash]
	if !ok {
		return nil, nil
	}
	return copyCast(entry), nil
}

func (f *fakeStore) ListAll(_ context.Context) ([]*models.Cast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes := make([]string, 0, len(f.entries))
	for hash := range f.entries {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	result := make([]*models.Cast, 0, len(hashes))
	for _, hash := range hashes {
		result = append(result, copyCast(f.entries[hash]))
	}
	return result, nil
}

func (f *fakeStore) ListActiveByRank(_ context.Context, limit int) ([]*models.Cast, error) {
	all, _ := f.ListAll(context.Background())
	var active []*models.Cast
	for _, e := range all {
		if e.Status == models.StatusActive {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Rank.Int64 < active[j].Rank.Int64 })
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (f *fakeStore) Upsert(_ context.Context, cast *models.Cast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[cast.Hash] = copyCast(cast)
	return nil
}

type fakeBatch struct {
	records []*lockup.Record
	err     error
}

func (f *fakeBatch) FetchLockups(context.Context) ([]*lockup.Record, error) {
	return f.records, f.err
}

type fakeContent struct {
	casts map[string]*farcaster.Cast
	fail  map[string]bool
}

func (f *fakeContent) GetCast(_ context.Context, hash string) (*farcaster.Cast, error) {
	if f.fail[hash] {
		return nil, errors.New("upstream unavailable")
	}
	return f.casts[hash], nil
}

type fakeIdentity struct {
	users map[string]*farcaster.User
	err   error
}

func (f *fakeIdentity) UsersByAddress(_ context.Context, addresses []string) (map[string]*farcaster.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]*farcaster.User)
	for _, addr := range addresses {
		if user, ok := f.users[strings.ToLower(addr)]; ok {
			result[strings.ToLower(addr)] = user
		}
	}
	return result, nil
}

type fakePrice struct {
	usd float64
	err error
}

func (f *fakePrice) TokenUSD(context.Context) (float64, error) {
	return f.usd, f.err
}

func testStakeConfig() *config.StakeConfig {
	return &config.StakeConfig{
		MarkerPhrase:  "staking my cast",
		ChannelID:     "higher",
		TokenDecimals: 18,
	}
}

func qualifyingCast(hash string) *farcaster.Cast {
	return &farcaster.Cast{
		Hash:    hash,
		Text:    "staking my cast: climbing",
		Channel: &farcaster.Channel{ID: "higher"},
		Author: farcaster.User{
			FID:            42,
			Username:       "alice",
			DisplayName:    "Alice",
			PfpURL:         "https://img.example/alice.png",
			CustodyAddress: custodyAddr,
			VerifiedAddresses: farcaster.VerifiedAddresses{
				EthAddresses: []string{verifiedAddr},
			},
		},
	}
}

func supporterUser() *farcaster.User {
	return &farcaster.User{FID: 9, Username: "bob"}
}

func newTestSyncer(store CastStore, batch BatchSource, content ContentSource, ids IdentitySource, price PriceSource) *Syncer {
	return NewSyncer(store, batch, content, ids, price, testStakeConfig())
}

func TestSyncAllClassifiesAndAggregates(t *testing.T) {
	now := time.Now().UTC()
	unlock := now.Add(time.Hour).Unix()

	store := newFakeStore()
	batch := &fakeBatch{records: []*lockup.Record{
		{LockupID: 1, Sender: custodyAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
		{LockupID: 2, Sender: supporterAddr, Amount: "500000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
		// malformed reference, dropped before grouping
		{LockupID: 3, Sender: supporterAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: "zzz"},
		// unparseable amount, dropped at classification
		{LockupID: 4, Sender: verifiedAddr, Amount: "abc",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
		// supporter whose sender cannot be resolved to an identity
		{LockupID: 5, Sender: strangerAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
	}}
	content := &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}}
	ids := &fakeIdentity{users: map[string]*farcaster.User{supporterAddr: supporterUser()}}

	syncer := newTestSyncer(store, batch, content, ids, &fakePrice{usd: 2.0})

	result, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if result.RecordsSeen != 5 {
		t.Errorf("RecordsSeen = %d, want 5", result.RecordsSeen)
	}
	if result.RecordsDropped != 3 {
		t.Errorf("RecordsDropped = %d, want 3", result.RecordsDropped)
	}
	if result.EntriesUpserted != 1 {
		t.Errorf("EntriesUpserted = %d, want 1", result.EntriesUpserted)
	}

	entry, err := store.GetByHash(context.Background(), testHash)
	if err != nil || entry == nil {
		t.Fatalf("GetByHash = (%v, %v), want entry", entry, err)
	}
	if entry.Status != models.StatusActive {
		t.Errorf("Status = %s, want %s", entry.Status, models.StatusActive)
	}
	if entry.TotalStaked != "1.5" {
		t.Errorf("TotalStaked = %s, want 1.5", entry.TotalStaked)
	}
	if entry.USDValue != 3.0 {
		t.Errorf("USDValue = %v, want 3.0", entry.USDValue)
	}
	if !entry.Rank.Valid || entry.Rank.Int64 != 1 {
		t.Errorf("Rank = %+v, want 1", entry.Rank)
	}
	if entry.AuthorFID != 42 || entry.Username != "alice" {
		t.Errorf("author fields = (%d, %q), want (42, alice)", entry.AuthorFID, entry.Username)
	}
	if entry.Description != "climbing" {
		t.Errorf("Description = %q, want climbing", entry.Description)
	}

	if len(entry.CasterStakes) != 1 {
		t.Fatalf("len(CasterStakes) = %d, want 1", len(entry.CasterStakes))
	}
	if entry.CasterStakes[0].LockupID != 1 || entry.CasterStakes[0].Amount != "1" {
		t.Errorf("caster stake = %+v, want lockup 1 amount 1", entry.CasterStakes[0])
	}
	if len(entry.SupporterStakes) != 1 {
		t.Fatalf("len(SupporterStakes) = %d, want 1", len(entry.SupporterStakes))
	}
	if entry.SupporterStakes[0].SupporterFID != 9 || entry.SupporterStakes[0].Amount != "0.5" {
		t.Errorf("supporter stake = %+v, want fid 9 amount 0.5", entry.SupporterStakes[0])
	}
}

func TestSyncAllIdempotent(t *testing.T) {
	unlock := time.Now().UTC().Add(time.Hour).Unix()

	store := newFakeStore()
	batch := &fakeBatch{records: []*lockup.Record{
		{LockupID: 1, Sender: custodyAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
		{LockupID: 2, Sender: supporterAddr, Amount: "500000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
	}}
	content := &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}}
	ids := &fakeIdentity{users: map[string]*farcaster.User{supporterAddr: supporterUser()}}

	syncer := newTestSyncer(store, batch, content, ids, &fakePrice{usd: 1.0})

	firstResult, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if firstResult.EntriesUpserted != 1 {
		t.Errorf("first pass EntriesUpserted = %d, want 1", firstResult.EntriesUpserted)
	}
	first, _ := store.ListAll(context.Background())

	secondResult, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	second, _ := store.ListAll(context.Background())

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated sync diverged:\nfirst:  %+v\nsecond: %+v", first[0], second[0])
	}
	// Unchanged upstream data writes nothing on the second pass
	if secondResult.EntriesUpserted != 0 {
		t.Errorf("second pass EntriesUpserted = %d, want 0", secondResult.EntriesUpserted)
	}
}

func TestEntryChanged(t *testing.T) {
	base := func() *models.Cast {
		return &models.Cast{
			Hash:      testHash,
			AuthorFID: 42,
			Username:  "alice",
			CasterStakes: models.CasterStakes{
				{LockupID: 1, Amount: "1", UnlockTime: 1700000000},
			},
			SupporterStakes: models.SupporterStakes{},
			TotalStaked:     "1",
			USDValue:        2.0,
			Rank:            activeRank(1),
			Status:          models.StatusActive,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Cast)
		changed bool
	}{
		{name: "identical", mutate: func(*models.Cast) {}, changed: false},
		{
			name: "empty display fields fall back to stored values",
			mutate: func(c *models.Cast) {
				c.AuthorFID = 0
				c.Username = ""
			},
			changed: false,
		},
		{
			name:    "renamed author",
			mutate:  func(c *models.Cast) { c.Username = "alice_renamed" },
			changed: true,
		},
		{
			name:    "status moved",
			mutate:  func(c *models.Cast) { c.Status = models.StatusExpired },
			changed: true,
		},
		{
			name:    "rank moved",
			mutate:  func(c *models.Cast) { c.Rank = activeRank(2) },
			changed: true,
		},
		{
			name:    "price snapshot moved",
			mutate:  func(c *models.Cast) { c.USDValue = 3.0 },
			changed: true,
		},
		{
			name: "new stake",
			mutate: func(c *models.Cast) {
				c.SupporterStakes = models.SupporterStakes{
					{LockupID: 2, Amount: "0.5", SupporterFID: 9, UnlockTime: 1700000000},
				}
			},
			changed: true,
		},
		{
			name: "stake marked unlocked",
			mutate: func(c *models.Cast) {
				c.CasterStakes[0].Unlocked = true
			},
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base()
			tt.mutate(next)
			if got := entryChanged(base(), next); got != tt.changed {
				t.Errorf("entryChanged = %v, want %v", got, tt.changed)
			}
		})
	}
}

func TestSyncAllSkipsUnresolvableContent(t *testing.T) {
	unlock := time.Now().UTC().Add(time.Hour).Unix()
	missingHash := "0x" + strings.Repeat("b", 40)

	store := newFakeStore()
	batch := &fakeBatch{records: []*lockup.Record{
		// lookup fails transiently
		{LockupID: 1, Sender: custodyAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
		// cast definitively does not exist
		{LockupID: 2, Sender: custodyAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: missingHash},
	}}
	content := &fakeContent{
		casts: map[string]*farcaster.Cast{},
		fail:  map[string]bool{testHash: true},
	}

	syncer := newTestSyncer(store, batch, content, &fakeIdentity{}, &fakePrice{})

	result, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if result.EntriesUpserted != 0 {
		t.Errorf("EntriesUpserted = %d, want 0", result.EntriesUpserted)
	}
	all, _ := store.ListAll(context.Background())
	if len(all) != 0 {
		t.Errorf("store has %d entries, want 0", len(all))
	}
}

func TestSyncAllExpiresUntouchedEntries(t *testing.T) {
	now := time.Now().UTC()
	expiredHash := "0x" + strings.Repeat("c", 40)
	stableHash := "0x" + strings.Repeat("d", 40)

	store := newFakeStore()
	store.Upsert(context.Background(), &models.Cast{
		Hash:   expiredHash,
		Status: models.StatusActive,
		CasterStakes: models.CasterStakes{
			{LockupID: 1, Amount: "10", UnlockTime: now.Add(-time.Minute).Unix()},
		},
		TotalStaked: "10",
		Rank:        activeRank(1),
	})
	store.Upsert(context.Background(), &models.Cast{
		Hash:        stableHash,
		Status:      models.StatusValid,
		TotalStaked: "0",
	})

	syncer := newTestSyncer(store, &fakeBatch{}, &fakeContent{}, &fakeIdentity{}, &fakePrice{})

	result, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	// Only the entry whose derived state moved gets rewritten
	if result.EntriesUpserted != 1 {
		t.Errorf("EntriesUpserted = %d, want 1", result.EntriesUpserted)
	}

	expired, _ := store.GetByHash(context.Background(), expiredHash)
	if expired.Status != models.StatusExpired {
		t.Errorf("Status = %s, want %s", expired.Status, models.StatusExpired)
	}
	if expired.Rank.Valid {
		t.Errorf("Rank = %+v, want null", expired.Rank)
	}

	stable, _ := store.GetByHash(context.Background(), stableHash)
	if stable.Status != models.StatusValid {
		t.Errorf("stable entry status = %s, want %s", stable.Status, models.StatusValid)
	}
}

func TestSyncAllToleratesPriceFailure(t *testing.T) {
	unlock := time.Now().UTC().Add(time.Hour).Unix()

	store := newFakeStore()
	batch := &fakeBatch{records: []*lockup.Record{
		{LockupID: 1, Sender: custodyAddr, Amount: "1000000000000000000",
			AmountUnit: lockup.UnitBase, UnlockTime: unlock, ContentRef: testHash},
	}}
	content := &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}}

	syncer := newTestSyncer(store, batch, content, &fakeIdentity{}, &fakePrice{err: errors.New("price api down")})

	if _, err := syncer.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	entry, _ := store.GetByHash(context.Background(), testHash)
	if entry == nil {
		t.Fatal("entry missing")
	}
	if entry.USDValue != 0 {
		t.Errorf("USDValue = %v, want 0", entry.USDValue)
	}
	if entry.TotalStaked != "1" {
		t.Errorf("TotalStaked = %s, want 1", entry.TotalStaked)
	}
}

func TestSyncAllBatchFailure(t *testing.T) {
	syncer := newTestSyncer(newFakeStore(), &fakeBatch{err: errors.New("indexer down")},
		&fakeContent{}, &fakeIdentity{}, &fakePrice{})

	if _, err := syncer.SyncAll(context.Background()); err == nil {
		t.Fatal("expected error when batch source fails")
	}
}

func TestApplyOptimisticLockupCaster(t *testing.T) {
	unlock := time.Now().UTC().Add(time.Hour).Unix()

	store := newFakeStore()
	content := &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}}
	syncer := newTestSyncer(store, &fakeBatch{}, content, &fakeIdentity{}, &fakePrice{})

	record := &lockup.Record{
		LockupID: 1, Sender: custodyAddr, Amount: "1",
		AmountUnit: lockup.UnitToken, UnlockTime: unlock, ContentRef: testHash,
	}

	entry, err := syncer.ApplyOptimisticLockup(context.Background(), record)
	if err != nil {
		t.Fatalf("ApplyOptimisticLockup failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Status != models.StatusActive {
		t.Errorf("Status = %s, want %s", entry.Status, models.StatusActive)
	}
	if entry.TotalStaked != "1" {
		t.Errorf("TotalStaked = %s, want 1", entry.TotalStaked)
	}
	if len(entry.CasterStakes) != 1 || entry.CasterStakes[0].LockupID != 1 {
		t.Errorf("CasterStakes = %+v, want single lockup 1", entry.CasterStakes)
	}

	stored, _ := store.GetByHash(context.Background(), testHash)
	if stored == nil || stored.Status != models.StatusActive {
		t.Errorf("stored entry = %+v, want persisted ACTIVE entry", stored)
	}
}

func TestApplyOptimisticLockupSupporter(t *testing.T) {
	unlock := time.Now().UTC().Add(time.Hour).Unix()

	store := newFakeStore()
	store.Upsert(context.Background(), &models.Cast{
		Hash:      testHash,
		AuthorFID: 42,
		Status:    models.StatusActive,
		CasterStakes: models.CasterStakes{
			{LockupID: 1, Amount: "1", UnlockTime: unlock},
		},
		TotalStaked: "1",
	})
	content := &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}}
	ids := &fakeIdentity{users: map[string]*farcaster.User{supporterAddr: supporterUser()}}
	syncer := newTestSyncer(store, &fakeBatch{}, content, ids, &fakePrice{})

	record := &lockup.Record{
		LockupID: 2, Sender: strangerAddr, Receiver: supporterAddr, Amount: "0.5",
		AmountUnit: lockup.UnitToken, UnlockTime: unlock, ContentRef: testHash,
	}

	entry, err := syncer.ApplyOptimisticLockup(context.Background(), record)
	if err != nil {
		t.Fatalf("ApplyOptimisticLockup failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if len(entry.SupporterStakes) != 1 || entry.SupporterStakes[0].SupporterFID != 9 {
		t.Errorf("SupporterStakes = %+v, want single stake from fid 9", entry.SupporterStakes)
	}
	if entry.TotalStaked != "1.5" {
		t.Errorf("TotalStaked = %s, want 1.5", entry.TotalStaked)
	}
}

func TestApplyOptimisticLockupSkips(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour).Unix()

	storeWithEntry := func() *fakeStore {
		store := newFakeStore()
		store.Upsert(context.Background(), &models.Cast{
			Hash:   testHash,
			Status: models.StatusActive,
			CasterStakes: models.CasterStakes{
				{LockupID: 1, Amount: "1", UnlockTime: future},
			},
			TotalStaked: "1",
		})
		return store
	}

	tests := []struct {
		name    string
		store   *fakeStore
		content *fakeContent
		record  *lockup.Record
	}{
		{
			name:    "malformed reference",
			store:   newFakeStore(),
			content: &fakeContent{},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: "zzz"},
		},
		{
			name:    "already unlocked",
			store:   newFakeStore(),
			content: &fakeContent{},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: testHash, Unlocked: true},
		},
		{
			name:    "already expired",
			store:   newFakeStore(),
			content: &fakeContent{},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: now.Add(-time.Minute).Unix(), ContentRef: testHash},
		},
		{
			name:    "invalid amount",
			store:   newFakeStore(),
			content: &fakeContent{},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "-1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: testHash},
		},
		{
			name:    "duplicate delivery",
			store:   storeWithEntry(),
			content: &fakeContent{casts: map[string]*farcaster.Cast{testHash: qualifyingCast(testHash)}},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: testHash},
		},
		{
			name:    "cast does not exist",
			store:   newFakeStore(),
			content: &fakeContent{},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: testHash},
		},
		{
			name:  "cast fails validation and no stored entry",
			store: newFakeStore(),
			content: &fakeContent{casts: map[string]*farcaster.Cast{
				testHash: {Hash: testHash, Text: "unrelated cast", Author: farcaster.User{FID: 42}},
			}},
			record: &lockup.Record{LockupID: 1, Sender: custodyAddr, Amount: "1",
				AmountUnit: lockup.UnitToken, UnlockTime: future, ContentRef: testHash},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := newTestSyncer(tt.store, &fakeBatch{}, tt.content, &fakeIdentity{}, &fakePrice{})
			entry, err := syncer.ApplyOptimisticLockup(context.Background(), tt.record)
			if err != nil {
				t.Fatalf("ApplyOptimisticLockup failed: %v", err)
			}
			if entry != nil {
				t.Errorf("expected skip, got entry %+v", entry)
			}
		})
	}
}
