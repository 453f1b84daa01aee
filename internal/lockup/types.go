package lockup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AmountUnit tags the unit a raw amount was reported in. The batch
// indexer reports 18-decimal base units while the webhook source
// reports already-normalized token units; the tag is assigned at the
// ingestion boundary and carried through the pipeline instead of
// sniffing value magnitude.
type AmountUnit int

const (
	// UnitBase is 18-decimal fixed-point base units (wei-like)
	UnitBase AmountUnit = iota
	// UnitToken is already-normalized token units
	UnitToken
)

// Record is a single on-chain lockup, immutable once observed
type Record struct {
	LockupID   int64
	Sender     string
	Receiver   string
	Amount     string
	AmountUnit AmountUnit
	UnlockTime int64
	LockTime   int64
	ContentRef string
	Unlocked   bool
}

// ParseRecord coerces an untyped upstream payload into a Record.
// Malformed required fields produce an error; the caller drops the
// record and continues.
func ParseRecord(raw map[string]interface{}, unit AmountUnit) (*Record, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty payload")
	}

	id, ok := coerceInt(firstField(raw, "lockupId", "lockup_id", "id"))
	if !ok {
		return nil, fmt.Errorf("missing or invalid lockup id")
	}

	sender, ok := coerceString(firstField(raw, "sender", "from"))
	if !ok || sender == "" {
		return nil, fmt.Errorf("missing sender")
	}

	receiver, _ := coerceString(firstField(raw, "receiver", "to"))

	amount, ok := coerceString(firstField(raw, "amount", "value"))
	if !ok || amount == "" {
		return nil, fmt.Errorf("missing amount")
	}

	unlockTime, ok := coerceInt(firstField(raw, "unlockTime", "unlock_time"))
	if !ok {
		return nil, fmt.Errorf("missing or invalid unlock time")
	}

	lockTime, _ := coerceInt(firstField(raw, "lockTime", "lock_time", "createdAt", "created_at"))

	contentRef, _ := coerceString(firstField(raw, "castHash", "cast_hash", "contentRef", "content_ref", "cid"))

	unlocked, _ := coerceBool(firstField(raw, "unlocked", "withdrawn"))

	return &Record{
		LockupID:   id,
		Sender:     strings.ToLower(sender),
		Receiver:   strings.ToLower(receiver),
		Amount:     amount,
		AmountUnit: unit,
		UnlockTime: unlockTime,
		LockTime:   lockTime,
		ContentRef: contentRef,
		Unlocked:   unlocked,
	}, nil
}

func firstField(raw map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func coerceString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

func coerceInt(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func coerceBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}
