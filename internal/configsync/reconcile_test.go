package configsync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/GXboy12345/newtab-rick/internal/engine"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/samber/lo"
)

// recordingStore keeps every snapshot committed through Apply.
type recordingStore struct {
	*state.Store
	mu        sync.Mutex
	committed []state.Snapshot
}

func (r *recordingStore) Apply(fn func(state.Snapshot) state.Update) (state.Snapshot, state.Update) {
	snap, u := r.Store.Apply(fn)
	r.mu.Lock()
	r.committed = append(r.committed, snap)
	r.mu.Unlock()
	return snap, u
}

func (r *recordingStore) snapshots() []state.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.Snapshot(nil), r.committed...)
}

func writeDocument(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func TestMergeThroughEngineKeepsRouletteConsistent(t *testing.T) {
	cases := []struct {
		name     string
		local    state.Update
		document string
		interval int
	}{
		{
			name: "switch into roulette",
			local: state.Update{
				Mode:             lo.ToPtr(state.ModeInterval),
				IntervalValue:    lo.ToPtr(10),
				RouletteProgress: lo.ToPtr(3),
				RouletteTarget:   lo.ToPtr(9),
			},
			document: `{"version":"1.0.1","settings":{"mode":"roulette"}}`,
			interval: 10,
		},
		{
			name: "interval shrinks below target",
			local: state.Update{
				Mode:             lo.ToPtr(state.ModeRoulette),
				IntervalValue:    lo.ToPtr(50),
				RouletteProgress: lo.ToPtr(2),
				RouletteTarget:   lo.ToPtr(40),
			},
			document: `{"version":"1.0.1","settings":{"intervalValue":5}}`,
			interval: 5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := newTestStore(t)
			tc.local.ConfigVersion = lo.ToPtr("1.0.0")
			base.Set(tc.local)
			store := &recordingStore{Store: base}
			eng := engine.New(store, engine.Options{Rand: engine.NewSeededRand(11)})

			path := writeDocument(t, tc.document)
			syncer, err := NewSyncer(store, NewFetcher(nil), Options{DefaultURL: "file://" + path, Reconciler: eng})
			if err != nil {
				t.Fatalf("new syncer: %v", err)
			}
			result, err := syncer.CheckOnce(context.Background())
			if err != nil || result != ResultApplied {
				t.Fatalf("expected applied, got %s (%v)", result, err)
			}

			for i, snap := range store.snapshots() {
				if snap.Mode != state.ModeRoulette {
					continue
				}
				if snap.RouletteTarget < 1 || snap.RouletteTarget > snap.IntervalValue || snap.RouletteProgress >= snap.RouletteTarget {
					t.Fatalf("committed state #%d has inconsistent roulette pair: interval=%d progress=%d target=%d",
						i, snap.IntervalValue, snap.RouletteProgress, snap.RouletteTarget)
				}
			}
			snap := base.Snapshot()
			if snap.Mode != state.ModeRoulette || snap.IntervalValue != tc.interval {
				t.Fatalf("settings not merged: %+v", snap.Settings)
			}
			if snap.RouletteProgress != 0 {
				t.Fatalf("expected a new cycle, progress=%d", snap.RouletteProgress)
			}
			if snap.RouletteTarget < 1 || snap.RouletteTarget > tc.interval {
				t.Fatalf("target %d outside [1,%d]", snap.RouletteTarget, tc.interval)
			}
		})
	}
}

func TestMergeThroughEngineKeepsUnchangedCycle(t *testing.T) {
	base := newTestStore(t)
	base.Set(state.Update{
		ConfigVersion:    lo.ToPtr("1.0.0"),
		Mode:             lo.ToPtr(state.ModeRoulette),
		IntervalValue:    lo.ToPtr(20),
		RouletteProgress: lo.ToPtr(4),
		RouletteTarget:   lo.ToPtr(12),
	})
	eng := engine.New(base, engine.Options{Rand: engine.NewSeededRand(5)})

	path := writeDocument(t, `{"version":"1.1.0","settings":{"randomChance":3}}`)
	syncer, _ := NewSyncer(base, NewFetcher(nil), Options{DefaultURL: "file://" + path, Reconciler: eng})
	if result, err := syncer.CheckOnce(context.Background()); err != nil || result != ResultApplied {
		t.Fatalf("expected applied, got %s (%v)", result, err)
	}
	snap := base.Snapshot()
	if snap.RollChance != 3 {
		t.Fatalf("expected randomChance 3, got %d", snap.RollChance)
	}
	if snap.RouletteProgress != 4 || snap.RouletteTarget != 12 {
		t.Fatalf("unrelated merge must keep the cycle, got progress=%d target=%d", snap.RouletteProgress, snap.RouletteTarget)
	}
}
