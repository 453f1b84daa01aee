package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Cast status values. Status is always derived from the current stake
// slices, never patched incrementally.
const (
	StatusInvalid = "INVALID"
	StatusValid   = "VALID"
	StatusActive  = "ACTIVE"
	StatusExpired = "EXPIRED"
)

// CasterStake is a lockup funded by the cast author's own wallet
type CasterStake struct {
	LockupID   int64  `json:"lockup_id"`
	Amount     string `json:"amount"` // token units, decimal string
	UnlockTime int64  `json:"unlock_time"`
	Unlocked   bool   `json:"unlocked"`
	LockTime   int64  `json:"lock_time,omitempty"`
}

// SupporterStake is a lockup funded by someone other than the author
type SupporterStake struct {
	LockupID     int64  `json:"lockup_id"`
	Amount       string `json:"amount"` // token units, decimal string
	SupporterFID int64  `json:"supporter_fid"`
	UnlockTime   int64  `json:"unlock_time"`
	Unlocked     bool   `json:"unlocked"`
	LockTime     int64  `json:"lock_time,omitempty"`
}

// CasterStakes is stored as a JSONB column
type CasterStakes []CasterStake

// Value implements driver.Valuer
func (s CasterStakes) Value() (driver.Value, error) {
	if s == nil {
		s = CasterStakes{}
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *CasterStakes) Scan(value interface{}) error {
	if value == nil {
		*s = CasterStakes{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported type for CasterStakes: %T", value)
		}
		b = []byte(str)
	}
	return json.Unmarshal(b, s)
}

// SupporterStakes is stored as a JSONB column
type SupporterStakes []SupporterStake

// Value implements driver.Valuer
func (s SupporterStakes) Value() (driver.Value, error) {
	if s == nil {
		s = SupporterStakes{}
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *SupporterStakes) Scan(value interface{}) error {
	if value == nil {
		*s = SupporterStakes{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("unsupported type for SupporterStakes: %T", value)
		}
		b = []byte(str)
	}
	return json.Unmarshal(b, s)
}

// Cast is the aggregate root for a staked cast, keyed by the
// normalized content hash. Entries are never deleted; expiry is a
// status, not removal.
type Cast struct {
	Hash      string `gorm:"primaryKey;type:varchar(66);column:hash"`
	AuthorFID int64  `gorm:"not null;default:0;column:author_fid"`

	// Denormalized author profile; refreshed opportunistically, never
	// allowed to regress to empty on upsert
	Username    string `gorm:"type:varchar(64);not null;default:'';column:username"`
	DisplayName string `gorm:"type:varchar(128);not null;default:'';column:display_name"`
	AvatarURL   string `gorm:"type:varchar(1024);not null;default:'';column:avatar_url"`

	Text        string `gorm:"type:text;not null;default:'';column:text"`
	Description string `gorm:"type:varchar(128);not null;default:'';column:description"`

	CasterStakes    CasterStakes    `gorm:"type:jsonb;column:caster_stakes"`
	SupporterStakes SupporterStakes `gorm:"type:jsonb;column:supporter_stakes"`

	// Derived fields, always recomputed from the stake slices
	TotalStaked string        `gorm:"type:varchar(80);not null;default:'0';column:total_staked"`
	USDValue    float64       `gorm:"not null;default:0;column:usd_value"`
	Rank        sql.NullInt64 `gorm:"column:rank"`
	Status      string        `gorm:"type:varchar(10);not null;default:'INVALID';column:status"`

	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for Cast
func (Cast) TableName() string {
	return "stake_casts"
}

// HasContent reports whether the cast itself was ever resolved, as
// opposed to an entry created from a bare lockup reference
func (c *Cast) HasContent() bool {
	return c.AuthorFID != 0 || c.Text != ""
}

// CasterUnlockTimes returns the set of unlock times across the
// author's own stakes. A supporter stake is only counted as a valid
// co-stake when its unlock time is a member of this set.
func (c *Cast) CasterUnlockTimes() map[int64]bool {
	times := make(map[int64]bool, len(c.CasterStakes))
	for _, s := range c.CasterStakes {
		times[s.UnlockTime] = true
	}
	return times
}
