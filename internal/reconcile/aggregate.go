package reconcile

import (
	"database/sql"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stakecast/stakecast/internal/models"
)

// ComputeTotal sums all caster and supporter amounts in token units.
// Amounts in the slices were normalized at classification time;
// anything unparseable is skipped rather than poisoning the total.
func ComputeTotal(cast *models.Cast) decimal.Decimal {
	total := decimal.Zero
	for _, s := range cast.CasterStakes {
		if amt, err := decimal.NewFromString(s.Amount); err == nil {
			total = total.Add(amt)
		}
	}
	for _, s := range cast.SupporterStakes {
		if amt, err := decimal.NewFromString(s.Amount); err == nil {
			total = total.Add(amt)
		}
	}
	return total
}

// ComputeStatus derives the entry status from the current stake
// slices. Status is always derived from scratch, never patched.
func ComputeStatus(cast *models.Cast, contentOK bool, now time.Time) string {
	if !contentOK {
		return models.StatusInvalid
	}
	if len(cast.CasterStakes) == 0 {
		return models.StatusValid
	}
	if hasActiveCasterStake(cast, now) {
		return models.StatusActive
	}
	return models.StatusExpired
}

// hasActiveCasterStake reports whether any caster stake is still
// locked and unexpired
func hasActiveCasterStake(cast *models.Cast, now time.Time) bool {
	for _, s := range cast.CasterStakes {
		if !s.Unlocked && s.UnlockTime > now.Unix() {
			return true
		}
	}
	return false
}

// Recompute refreshes the derived fields of an entry from its stake
// slices: total and status. Rank is assigned separately across the
// whole active set.
func Recompute(cast *models.Cast, contentOK bool, now time.Time) {
	cast.TotalStaked = ComputeTotal(cast).String()
	cast.Status = ComputeStatus(cast, contentOK, now)
}

// RecomputeStored refreshes an entry loaded from the store, where
// content qualification is implied by the stored status. Entries
// stored INVALID stay INVALID until a fresh content lookup says
// otherwise.
func RecomputeStored(cast *models.Cast, now time.Time) {
	Recompute(cast, cast.Status != models.StatusInvalid, now)
}

// AssignRanks assigns dense 1-based ranks across all ACTIVE entries,
// ordered by total staked descending. Ties keep first-staked-first
// order (earliest caster lockup id, then hash, so reruns over
// unchanged data produce identical ranks). Non-ACTIVE entries get a
// null rank.
func AssignRanks(casts []*models.Cast) {
	var active []*models.Cast
	for _, c := range casts {
		if c.Status == models.StatusActive {
			active = append(active, c)
		} else {
			c.Rank = sql.NullInt64{}
		}
	}

	// Deterministic base order before the stable sort by total
	sort.Slice(active, func(i, j int) bool {
		a, b := earliestCasterLockup(active[i]), earliestCasterLockup(active[j])
		if a != b {
			return a < b
		}
		return active[i].Hash < active[j].Hash
	})
	sort.SliceStable(active, func(i, j int) bool {
		ti, _ := decimal.NewFromString(active[i].TotalStaked)
		tj, _ := decimal.NewFromString(active[j].TotalStaked)
		return ti.GreaterThan(tj)
	})

	for i, c := range active {
		c.Rank = sql.NullInt64{Int64: int64(i + 1), Valid: true}
	}
}

func earliestCasterLockup(cast *models.Cast) int64 {
	earliest := int64(-1)
	for _, s := range cast.CasterStakes {
		if earliest == -1 || s.LockupID < earliest {
			earliest = s.LockupID
		}
	}
	return earliest
}

// validSupporterStake is the single supporter-validity predicate: the
// stake must still be locked and its unlock time must be a member of
// the caster's own unlock-time set, so supporter locks co-terminate
// with one of the author's locks. Every read path uses this predicate.
func validSupporterStake(s models.SupporterStake, casterTimes map[int64]bool) bool {
	return !s.Unlocked && casterTimes[s.UnlockTime]
}

// ActiveSupporterTotal sums the supporter stakes that qualify as
// legitimate co-stakes
func ActiveSupporterTotal(cast *models.Cast) decimal.Decimal {
	casterTimes := cast.CasterUnlockTimes()
	total := decimal.Zero
	for _, s := range cast.SupporterStakes {
		if !validSupporterStake(s, casterTimes) {
			continue
		}
		if amt, err := decimal.NewFromString(s.Amount); err == nil {
			total = total.Add(amt)
		}
	}
	return total
}

// SupporterTotal is one supporter's summed valid co-stake on a cast
type SupporterTotal struct {
	FID    int64  `json:"fid"`
	Amount string `json:"amount"`
}

// TopSupporters groups valid supporter stakes by fid, sums each
// supporter's amounts and returns the top n by total, descending,
// with ties kept in first-seen order.
func TopSupporters(cast *models.Cast, n int) []SupporterTotal {
	casterTimes := cast.CasterUnlockTimes()

	totals := make(map[int64]decimal.Decimal)
	var order []int64
	for _, s := range cast.SupporterStakes {
		if !validSupporterStake(s, casterTimes) {
			continue
		}
		amt, err := decimal.NewFromString(s.Amount)
		if err != nil {
			continue
		}
		if _, seen := totals[s.SupporterFID]; !seen {
			order = append(order, s.SupporterFID)
		}
		totals[s.SupporterFID] = totals[s.SupporterFID].Add(amt)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return totals[order[i]].GreaterThan(totals[order[j]])
	})

	if n > 0 && len(order) > n {
		order = order[:n]
	}

	result := make([]SupporterTotal, 0, len(order))
	for _, fid := range order {
		result = append(result, SupporterTotal{FID: fid, Amount: totals[fid].String()})
	}
	return result
}
