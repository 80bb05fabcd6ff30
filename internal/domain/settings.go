package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Duplicate policies applied to repeated (user, reward) redemptions inside
// the anti-spam window.
const (
	DuplicateConsume = "consume"
	DuplicateRefund  = "refund"
)

// PolicySettings controls how redemption events translate into queue
// commands.
type PolicySettings struct {
	AntiSpamWindowSec int      `json:"anti_spam_window_sec"`
	DuplicatePolicy   string   `json:"duplicate_policy"`
	TargetRewards     []string `json:"target_rewards"`
}

// RewardEnabled reports whether the reward participates in policy
// evaluation. An empty target set enables every reward.
func (p PolicySettings) RewardEnabled(rewardID string) bool {
	if len(p.TargetRewards) == 0 {
		return true
	}
	for _, id := range p.TargetRewards {
		if id == rewardID {
			return true
		}
	}
	return false
}

// Settings is the per-broadcaster configuration document. It is persisted as
// JSON on the Broadcaster row and updated through SettingsUpdate commands
// with partial-patch semantics.
type Settings struct {
	OverlayTheme         string         `json:"overlay_theme"`
	GroupSize            int            `json:"group_size"`
	ClearOnStreamStart   bool           `json:"clear_on_stream_start"`
	ClearDecrementCounts bool           `json:"clear_decrement_counts"`
	Policy               PolicySettings `json:"policy"`
}

// DefaultSettings returns the document applied to broadcasters that have not
// customized anything yet.
func DefaultSettings() Settings {
	return Settings{
		OverlayTheme: "default",
		GroupSize:    1,
		Policy: PolicySettings{
			AntiSpamWindowSec: 60,
			DuplicatePolicy:   DuplicateConsume,
		},
	}
}

// ParseSettings decodes a stored settings document, filling absent fields
// with defaults. An empty or "{}" document yields DefaultSettings.
func ParseSettings(raw string) (Settings, error) {
	s := DefaultSettings()
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.Policy.DuplicatePolicy == "" {
		s.Policy.DuplicatePolicy = DuplicateConsume
	}
	return s, nil
}

// Encode serializes the settings document for storage.
func (s Settings) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(b), nil
}

// settingsPatch mirrors Settings with every field optional so that a partial
// update replaces only the fields the client sent. Unknown fields are
// rejected.
type settingsPatch struct {
	OverlayTheme         *string              `json:"overlay_theme"`
	GroupSize            *int                 `json:"group_size"`
	ClearOnStreamStart   *bool                `json:"clear_on_stream_start"`
	ClearDecrementCounts *bool                `json:"clear_decrement_counts"`
	Policy               *policySettingsPatch `json:"policy"`
}

type policySettingsPatch struct {
	AntiSpamWindowSec *int      `json:"anti_spam_window_sec"`
	DuplicatePolicy   *string   `json:"duplicate_policy"`
	TargetRewards     *[]string `json:"target_rewards"`
}

// ApplyPatch merges a partial JSON patch into the settings document.
// Top-level fields are replaced wholesale; the nested policy object merges
// field-wise, so patching duplicate_policy leaves target_rewards intact.
// Unknown fields or malformed values yield an error and no change.
func (s Settings) ApplyPatch(patch json.RawMessage) (Settings, error) {
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	var p settingsPatch
	if err := dec.Decode(&p); err != nil {
		return Settings{}, fmt.Errorf("invalid settings patch: %w", err)
	}

	out := s
	if p.OverlayTheme != nil {
		out.OverlayTheme = *p.OverlayTheme
	}
	if p.GroupSize != nil {
		if *p.GroupSize < 1 {
			return Settings{}, fmt.Errorf("invalid settings patch: group_size must be >= 1")
		}
		out.GroupSize = *p.GroupSize
	}
	if p.ClearOnStreamStart != nil {
		out.ClearOnStreamStart = *p.ClearOnStreamStart
	}
	if p.ClearDecrementCounts != nil {
		out.ClearDecrementCounts = *p.ClearDecrementCounts
	}
	if p.Policy != nil {
		if p.Policy.AntiSpamWindowSec != nil {
			if *p.Policy.AntiSpamWindowSec < 0 {
				return Settings{}, fmt.Errorf("invalid settings patch: anti_spam_window_sec must be >= 0")
			}
			out.Policy.AntiSpamWindowSec = *p.Policy.AntiSpamWindowSec
		}
		if p.Policy.DuplicatePolicy != nil {
			switch *p.Policy.DuplicatePolicy {
			case DuplicateConsume, DuplicateRefund:
				out.Policy.DuplicatePolicy = *p.Policy.DuplicatePolicy
			default:
				return Settings{}, fmt.Errorf("invalid settings patch: duplicate_policy must be consume or refund")
			}
		}
		if p.Policy.TargetRewards != nil {
			out.Policy.TargetRewards = append([]string(nil), (*p.Policy.TargetRewards)...)
		}
	}
	return out, nil
}
