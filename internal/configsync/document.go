package configsync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/samber/lo"
)

// Document is the settings document exchanged with the remote host and
// stored denormalized under the configJson key. Every field is optional;
// a missing field keeps the local value.
type Document struct {
	Version   string           `json:"version"`
	UpdatedAt int64            `json:"updatedAt,omitempty"`
	Settings  DocumentSettings `json:"settings"`
	Stats     DocumentStats    `json:"stats"`
}

type DocumentSettings struct {
	IsEnabled               *bool   `json:"isEnabled,omitempty"`
	RandomChance            *int    `json:"randomChance,omitempty"`
	Mode                    *string `json:"mode,omitempty"`
	IntervalValue           *int    `json:"intervalValue,omitempty"`
	IntervalProgressVisible *bool   `json:"intervalProgressVisible,omitempty"`
	ChanceManualEnabled     *bool   `json:"chanceManualEnabled,omitempty"`
	IntervalManualEnabled   *bool   `json:"intervalManualEnabled,omitempty"`
	RouletteManualEnabled   *bool   `json:"rouletteManualEnabled,omitempty"`
	Accent1                 *string `json:"accent1,omitempty"`
	Accent2                 *string `json:"accent2,omitempty"`
}

type DocumentStats struct {
	TabCount         *int `json:"tabCount,omitempty"`
	RouletteProgress *int `json:"rouletteProgress,omitempty"`
	RouletteTarget   *int `json:"rouletteTarget,omitempty"`
	RickrollCount    *int `json:"rickrollCount,omitempty"`
}

// Export renders the current state as a document.
func Export(snap state.Snapshot, now time.Time) Document {
	return Document{
		Version:   snap.ConfigVersion,
		UpdatedAt: now.UnixMilli(),
		Settings: DocumentSettings{
			IsEnabled:               lo.ToPtr(snap.Enabled),
			RandomChance:            lo.ToPtr(snap.RollChance),
			Mode:                    lo.ToPtr(string(snap.Mode)),
			IntervalValue:           lo.ToPtr(snap.IntervalValue),
			IntervalProgressVisible: lo.ToPtr(snap.IntervalProgressVisible),
			ChanceManualEnabled:     lo.ToPtr(snap.ChanceManualEnabled),
			IntervalManualEnabled:   lo.ToPtr(snap.IntervalManualEnabled),
			RouletteManualEnabled:   lo.ToPtr(snap.RouletteManualEnabled),
			Accent1:                 lo.ToPtr(snap.Accent1),
			Accent2:                 lo.ToPtr(snap.Accent2),
		},
		Stats: DocumentStats{
			TabCount:         lo.ToPtr(snap.TabCount),
			RouletteProgress: lo.ToPtr(snap.RouletteProgress),
			RouletteTarget:   lo.ToPtr(snap.RouletteTarget),
			RickrollCount:    lo.ToPtr(snap.RickrollCount),
		},
	}
}

// Merge builds the update that applies remote onto local. Recognized
// settings overwrite local ones field by field; counters are never taken
// from remote. The caller decides whether remote is new enough.
func Merge(local state.Snapshot, remote Document, now time.Time) (state.Update, error) {
	u := state.Update{ConfigVersion: lo.ToPtr(strings.TrimSpace(remote.Version))}
	rs := remote.Settings

	if rs.IsEnabled != nil {
		u.Enabled = lo.ToPtr(*rs.IsEnabled)
	}
	if rs.RandomChance != nil && inSettingRange(*rs.RandomChance) {
		u.RollChance = lo.ToPtr(*rs.RandomChance)
	}
	if rs.Mode != nil {
		if mode, err := state.ParseMode(*rs.Mode); err == nil {
			u.Mode = lo.ToPtr(mode)
		}
	}
	if rs.IntervalValue != nil && inSettingRange(*rs.IntervalValue) {
		u.IntervalValue = lo.ToPtr(*rs.IntervalValue)
	}
	u.IntervalProgressVisible = copyPtr(rs.IntervalProgressVisible)
	u.ChanceManualEnabled = copyPtr(rs.ChanceManualEnabled)
	u.IntervalManualEnabled = copyPtr(rs.IntervalManualEnabled)
	u.RouletteManualEnabled = copyPtr(rs.RouletteManualEnabled)
	u.Accent1 = copyPtr(rs.Accent1)
	u.Accent2 = copyPtr(rs.Accent2)

	merged := local
	u.ApplyTo(&merged)
	payload, err := json.Marshal(Export(merged, now))
	if err != nil {
		return state.Update{}, err
	}
	u.ConfigJSON = lo.ToPtr(string(payload))
	return u, nil
}

func inSettingRange(v int) bool {
	return v >= state.MinSettingValue && v <= state.MaxSettingValue
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
