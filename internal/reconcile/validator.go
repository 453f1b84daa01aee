package reconcile

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/stakecast/stakecast/internal/farcaster"
	"github.com/stakecast/stakecast/pkg/config"
)

// descriptionLimit caps the stored description length
const descriptionLimit = 120

// ValidationResult is the outcome of checking whether a cast
// qualifies as a stake target. Author fields are populated even when
// the cast does not qualify, so entries can be created in a
// transiently invalid state.
type ValidationResult struct {
	Valid       bool
	OwnerFID    int64
	Username    string
	DisplayName string
	AvatarURL   string
	Text        string
	Description string
}

// Validator decides whether a cast qualifies as a stake target: its
// text must contain the marker phrase and it must belong to the
// required channel.
type Validator struct {
	marker    *regexp.Regexp
	channelID string
}

// NewValidator creates a validator from the stake-qualification rules
func NewValidator(cfg *config.StakeConfig) *Validator {
	// (?s) lets the capture span lines: a description on the line
	// after the marker still counts
	pattern := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(cfg.MarkerPhrase) + `[\s:,.!-]*(.*)`)
	return &Validator{
		marker:    pattern,
		channelID: cfg.ChannelID,
	}
}

// Check validates a fetched cast. Returns nil only for a nil cast;
// a cast that fails validation yields a result with Valid=false,
// which is a normal outcome, not an error.
func (v *Validator) Check(cast *farcaster.Cast) *ValidationResult {
	if cast == nil {
		return nil
	}

	result := &ValidationResult{
		OwnerFID:    cast.Author.FID,
		Username:    cast.Author.Username,
		DisplayName: cast.Author.DisplayName,
		AvatarURL:   cast.Author.PfpURL,
		Text:        cast.Text,
	}

	match := v.marker.FindStringSubmatch(cast.Text)
	if match == nil || !v.inChannel(cast) {
		return result
	}

	result.Valid = true
	result.Description = truncateDescription(strings.TrimSpace(match[1]))
	return result
}

// inChannel reports channel membership by explicit channel tag or by
// parent-reference substring match
func (v *Validator) inChannel(cast *farcaster.Cast) bool {
	if v.channelID == "" {
		return true
	}
	if cast.Channel != nil && cast.Channel.ID == v.channelID {
		return true
	}
	return cast.ParentURL != "" && strings.Contains(cast.ParentURL, v.channelID)
}

// truncateDescription caps the description at descriptionLimit
// characters. Counting runes rather than bytes keeps a multi-byte
// character at the boundary intact.
func truncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= descriptionLimit {
		return s
	}
	return string([]rune(s)[:descriptionLimit]) + "..."
}
