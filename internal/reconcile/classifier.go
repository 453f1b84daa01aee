package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stakecast/stakecast/internal/lockup"
)

// StakeKind classifies who funded a lockup relative to the cast author
type StakeKind int

const (
	// KindCaster is a self-stake: the funding sender controls the
	// cast author's identity
	KindCaster StakeKind = iota
	// KindSupporter is a stake funded by anyone else
	KindSupporter
)

// Cast hashes are 20 bytes: 0x plus 40 hex characters
var castHashPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeHash normalizes a content reference into a canonical cast
// hash. Bare hex is accepted by prepending 0x. Returns false for
// anything that does not normalize to a well-formed hash; such
// references are dropped by callers.
func NormalizeHash(ref string) (string, bool) {
	hash := strings.ToLower(strings.TrimSpace(ref))
	if hash == "" {
		return "", false
	}
	if !strings.HasPrefix(hash, "0x") {
		hash = "0x" + hash
	}
	if !castHashPattern.MatchString(hash) {
		return "", false
	}
	return hash, true
}

// NormalizeAmount converts a raw amount string into token units using
// the provenance tag assigned at ingestion. Base-unit amounts are
// shifted down by the token's decimals; a base-tagged amount that is
// not a plain integer is treated as already normalized, since base
// units are always integral. Non-positive or unparseable amounts
// produce an error and the lockup is dropped.
func NormalizeAmount(raw string, unit lockup.AmountUnit, decimals int) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}

	if unit == lockup.UnitBase && d.IsInteger() {
		d = d.Shift(int32(-decimals))
	}

	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive amount %q", raw)
	}
	return d, nil
}

// Classify tags a lockup as a caster or supporter stake. The sender
// is compared lower-cased against the owner's wallet set (custody
// plus verified addresses).
func Classify(record *lockup.Record, ownerWallets map[string]bool) StakeKind {
	if ownerWallets[strings.ToLower(record.Sender)] {
		return KindCaster
	}
	return KindSupporter
}
