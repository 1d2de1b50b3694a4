package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
)

func TestLoadAppliesDefaultsOnFreshInstall(t *testing.T) {
	backend := NewInMemoryBackend()
	store := NewStore(Options{Backend: backend})
	defer store.Close()

	fresh, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !fresh {
		t.Fatalf("expected fresh install on empty backend")
	}
	snap := store.Snapshot()
	if !snap.Enabled || snap.Mode != ModeRoll || snap.RollChance != 250 || snap.IntervalValue != 50 {
		t.Fatalf("unexpected defaults: %+v", snap.Settings)
	}
	if snap.ConfigVersion != DefaultConfigVersion {
		t.Fatalf("expected default config version, got %q", snap.ConfigVersion)
	}

	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	persisted, _ := backend.LoadKeys(context.Background())
	for _, key := range Keys {
		if _, ok := persisted[key]; !ok {
			t.Fatalf("expected default for %s to be written back", key)
		}
	}
}

func TestSetPersistsOnlyTouchedKeys(t *testing.T) {
	backend := NewInMemoryBackend()
	store := NewStore(Options{Backend: backend})
	defer store.Close()

	store.Set(Update{RollChance: lo.ToPtr(10)})
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	persisted, _ := backend.LoadKeys(context.Background())
	if len(persisted) != 1 {
		t.Fatalf("expected exactly one persisted key, got %v", persisted)
	}
	if string(persisted[KeyRandomChance]) != "10" {
		t.Fatalf("expected randomChance=10, got %s", persisted[KeyRandomChance])
	}
}

func TestJSONFileStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	first := NewStore(Options{Backend: NewJSONFileBackend(path)})
	if _, err := first.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	first.Set(Update{
		Mode:             lo.ToPtr(ModeRoulette),
		TabCount:         lo.ToPtr(37),
		RouletteProgress: lo.ToPtr(2),
		RouletteTarget:   lo.ToPtr(9),
	})
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second := NewStore(Options{Backend: NewJSONFileBackend(path)})
	defer second.Close()
	fresh, err := second.Load(context.Background())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if fresh {
		t.Fatalf("expected existing state on reload")
	}
	snap := second.Snapshot()
	if snap.Mode != ModeRoulette || snap.TabCount != 37 || snap.RouletteProgress != 2 || snap.RouletteTarget != 9 {
		t.Fatalf("unexpected reloaded state: %+v", snap)
	}
}

func TestLoadFallsBackPerKeyOnMalformedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := map[string]any{
		KeyMode:          "sideways",
		KeyRandomChance:  "lots",
		KeyIntervalValue: 0,
		KeyTabCount:      12,
		KeyIsEnabled:     false,
	}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(Options{Backend: NewJSONFileBackend(path)})
	defer store.Close()
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	snap := store.Snapshot()
	if snap.Mode != ModeRoll {
		t.Fatalf("expected default mode, got %q", snap.Mode)
	}
	if snap.RollChance != DefaultRollChance || snap.IntervalValue != DefaultIntervalValue {
		t.Fatalf("expected default numeric settings, got %+v", snap.Settings)
	}
	if snap.TabCount != 12 || snap.Enabled {
		t.Fatalf("expected readable keys to survive, got %+v", snap)
	}
}

func TestLoadRecoversFromUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(Options{Backend: NewJSONFileBackend(path)})
	defer store.Close()
	fresh, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !fresh {
		t.Fatalf("expected an unreadable file to load as a fresh install")
	}
	if snap := store.Snapshot(); snap.Settings != Defaults().Settings {
		t.Fatalf("expected default settings, got %+v", snap.Settings)
	}
	if data, err := os.ReadFile(path + ".corrupt"); err != nil || string(data) != "{not json" {
		t.Fatalf("expected original file moved aside, got %q (%v)", data, err)
	}

	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten file: %v", err)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		t.Fatalf("rewritten file is not valid JSON: %v", err)
	}
}

func TestApplySerializesReadModifyWrite(t *testing.T) {
	store := NewStore(Options{})
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Apply(func(cur Snapshot) Update {
				return Update{TabCount: lo.ToPtr(cur.TabCount + 1)}
			})
		}()
	}
	wg.Wait()
	if got := store.Snapshot().TabCount; got != 50 {
		t.Fatalf("expected 50 increments, got %d", got)
	}
}

func TestSubscribeSeesLatestSnapshot(t *testing.T) {
	store := NewStore(Options{})
	defer store.Close()

	updates, cancel := store.Subscribe()
	defer cancel()

	store.Set(Update{RouletteProgress: lo.ToPtr(1), RouletteTarget: lo.ToPtr(4)})
	store.Set(Update{RouletteProgress: lo.ToPtr(0), RouletteTarget: lo.ToPtr(7)})

	select {
	case snap := <-updates:
		if snap.RouletteProgress != 0 || snap.RouletteTarget != 7 {
			t.Fatalf("expected newest roulette pair, got %d/%d", snap.RouletteProgress, snap.RouletteTarget)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}

func TestFlushAfterCloseReportsClosed(t *testing.T) {
	store := NewStore(Options{})
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := store.Flush(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
