package configsync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOverwritesSettingsAndKeepsStats(t *testing.T) {
	local := state.Defaults()
	local.ConfigVersion = "1.0.0"
	local.TabCount = 37
	local.RickrollCount = 2
	local.RouletteTarget = 4

	doc, err := ParseDocument([]byte(`{
		"version": "1.0.1",
		"updatedAt": 1700000000000,
		"settings": {"isEnabled": false, "randomChance": 10, "mode": "interval", "intervalValue": 7, "accent1": "#112233"},
		"stats": {"tabCount": 0, "rickrollCount": 999}
	}`))
	require.NoError(t, err)

	now := time.UnixMilli(1800000000000)
	u, err := Merge(local, doc, now)
	require.NoError(t, err)

	merged := local
	u.ApplyTo(&merged)
	assert.False(t, merged.Enabled)
	assert.Equal(t, 10, merged.RollChance)
	assert.Equal(t, state.ModeInterval, merged.Mode)
	assert.Equal(t, 7, merged.IntervalValue)
	assert.Equal(t, "#112233", merged.Accent1)
	assert.Equal(t, "1.0.1", merged.ConfigVersion)
	assert.Equal(t, 37, merged.TabCount)
	assert.Equal(t, 2, merged.RickrollCount)
	assert.Equal(t, 4, merged.RouletteTarget)
	assert.Nil(t, u.TabCount)
	assert.Nil(t, u.RickrollCount)

	var stored Document
	require.NoError(t, json.Unmarshal([]byte(merged.ConfigJSON), &stored))
	assert.Equal(t, "1.0.1", stored.Version)
	assert.Equal(t, now.UnixMilli(), stored.UpdatedAt)
	require.NotNil(t, stored.Stats.TabCount)
	assert.Equal(t, 37, *stored.Stats.TabCount)
}

func TestMergeKeepsLocalValuesForMissingFields(t *testing.T) {
	local := state.Defaults()
	local.RollChance = 33
	local.Mode = state.ModeRoulette

	doc, err := ParseDocument([]byte(`{"version": "2.0", "settings": {"intervalValue": 12}, "extra": {"ignored": true}}`))
	require.NoError(t, err)
	u, err := Merge(local, doc, time.Now())
	require.NoError(t, err)

	assert.Nil(t, u.RollChance)
	assert.Nil(t, u.Mode)
	assert.Nil(t, u.Enabled)
	require.NotNil(t, u.IntervalValue)
	assert.Equal(t, 12, *u.IntervalValue)
}

func TestParseDocumentRejectsSchemaViolations(t *testing.T) {
	bad := []string{
		`{"settings": {"randomChance": 5}}`,
		`{"version": "1.0", "settings": {"randomChance": 0}}`,
		`{"version": "1.0", "settings": {"intervalValue": 1001}}`,
		`{"version": "1.0", "settings": {"mode": "sideways"}}`,
		`{"version": "1.0", "settings": {"isEnabled": "yes"}}`,
		`{"version": "one", "settings": {}}`,
	}
	for _, body := range bad {
		_, err := ParseDocument([]byte(body))
		if !errors.Is(err, ErrSchema) {
			t.Fatalf("expected schema error for %s, got %v", body, err)
		}
	}

	_, err := ParseDocument([]byte(`{not json`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSchema))
}

func TestExportRoundTripsThroughSchema(t *testing.T) {
	snap := state.Defaults()
	snap.TabCount = 5
	data, err := json.Marshal(Export(snap, time.Now()))
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, state.DefaultConfigVersion, doc.Version)
	require.NotNil(t, doc.Settings.RandomChance)
	assert.Equal(t, state.DefaultRollChance, *doc.Settings.RandomChance)
}
