package engine

import (
	"log/slog"
	"math/rand/v2"

	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/samber/lo"
)

// Rand draws uniform integers in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

// NewSeededRand returns a deterministic generator for simulations and tests.
func NewSeededRand(seed uint64) Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// StateStore is the part of state.Store the engine mutates through.
type StateStore interface {
	Snapshot() state.Snapshot
	Apply(fn func(current state.Snapshot) state.Update) (state.Snapshot, state.Update)
}

type Options struct {
	Rand   Rand
	Logger *slog.Logger
}

// Engine decides whether a new tab is redirected and keeps the counters
// that decision depends on. Every decision runs inside a single store
// Apply so counter updates from concurrent events never interleave.
type Engine struct {
	store  StateStore
	rng    Rand
	logger *slog.Logger
}

type Decision struct {
	// Ignored is set when the engine is disabled and the event was dropped.
	Ignored  bool
	Fire     bool
	Mode     state.Mode
	TabCount int
}

func New(store StateStore, opts Options) *Engine {
	rng := opts.Rand
	if rng == nil {
		rng = globalRand{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, rng: rng, logger: logger}
}

// OnTabCreated records one new tab and reports whether it should be
// redirected.
func (e *Engine) OnTabCreated() Decision {
	var decision Decision
	e.store.Apply(func(cur state.Snapshot) state.Update {
		var u state.Update
		u, decision = e.decide(cur)
		return u
	})
	if decision.Fire {
		e.logger.Info("redirect triggered", "mode", decision.Mode, "tab_count", decision.TabCount)
	}
	return decision
}

func (e *Engine) decide(cur state.Snapshot) (state.Update, Decision) {
	if !cur.Enabled {
		return state.Update{}, Decision{Ignored: true, Mode: cur.Mode, TabCount: cur.TabCount}
	}
	tabCount := cur.TabCount + 1
	u := state.Update{TabCount: lo.ToPtr(tabCount)}
	decision := Decision{Mode: cur.Mode, TabCount: tabCount}

	switch cur.Mode {
	case state.ModeRoll:
		decision.Fire = cur.RollChance >= 1 && e.rng.IntN(cur.RollChance) == 0
	case state.ModeInterval:
		decision.Fire = cur.IntervalValue >= 1 && tabCount%cur.IntervalValue == 0
	case state.ModeRoulette:
		progress, target := cur.RouletteProgress, cur.RouletteTarget
		if cur.IntervalValue >= 1 && (!targetInRange(target, cur.IntervalValue) || progress < 0 || progress >= target) {
			progress, target = 0, e.drawTarget(cur.IntervalValue)
		}
		progress++
		if target >= 1 && progress == target {
			decision.Fire = true
			progress, target = 0, e.drawTarget(cur.IntervalValue)
		}
		u.RouletteProgress = lo.ToPtr(progress)
		u.RouletteTarget = lo.ToPtr(target)
	default:
		e.logger.Warn("unknown mode, tab not evaluated", "mode", cur.Mode)
	}

	if decision.Fire {
		u.RickrollCount = lo.ToPtr(cur.RickrollCount + 1)
	}
	return u, decision
}

func (e *Engine) SetEnabled(enabled bool) state.Snapshot {
	snap, _ := e.store.Apply(func(state.Snapshot) state.Update {
		return state.Update{Enabled: lo.ToPtr(enabled)}
	})
	return snap
}

func (e *Engine) SetChance(chance int) state.Snapshot {
	snap, _ := e.store.Apply(func(state.Snapshot) state.Update {
		return state.Update{RollChance: lo.ToPtr(chance)}
	})
	return snap
}

// SetMode switches policy. Selecting roulette always starts a new cycle.
// Counters outside the roulette pair are left alone.
func (e *Engine) SetMode(mode state.Mode) state.Snapshot {
	snap, _ := e.store.Apply(func(cur state.Snapshot) state.Update {
		u := state.Update{Mode: lo.ToPtr(mode)}
		if mode == state.ModeRoulette {
			u.RouletteProgress = lo.ToPtr(0)
			u.RouletteTarget = lo.ToPtr(e.drawTarget(cur.IntervalValue))
		}
		return u
	})
	return snap
}

func (e *Engine) SetInterval(interval int) state.Snapshot {
	snap, _ := e.store.Apply(func(cur state.Snapshot) state.Update {
		u := state.Update{IntervalValue: lo.ToPtr(interval)}
		if cur.Mode == state.ModeRoulette {
			u.RouletteProgress = lo.ToPtr(0)
			u.RouletteTarget = lo.ToPtr(e.drawTarget(interval))
		}
		return u
	})
	return snap
}

// ResetCounts zeroes tabCount and rouletteProgress. rickrollCount is kept.
func (e *Engine) ResetCounts() state.Snapshot {
	snap, _ := e.store.Apply(func(cur state.Snapshot) state.Update {
		u := state.Update{
			TabCount:         lo.ToPtr(0),
			RouletteProgress: lo.ToPtr(0),
		}
		if cur.Mode == state.ModeRoulette {
			u.RouletteTarget = lo.ToPtr(e.drawTarget(cur.IntervalValue))
		}
		return u
	})
	return snap
}

// Reconcile restores the roulette invariants after state was loaded from
// a backend. previousInterval is the interval in effect before the state
// changed, or 0 when unknown.
func (e *Engine) Reconcile(previousInterval int) state.Snapshot {
	snap, _ := e.store.Apply(func(cur state.Snapshot) state.Update {
		return e.rouletteFix(cur.Mode, previousInterval, cur)
	})
	return snap
}

// ReconcileMerge completes an update computed from prev, typically a remote
// settings merge, so the state it produces already holds a valid roulette
// cycle. It runs inside the caller's store Apply and never touches the
// store itself.
func (e *Engine) ReconcileMerge(prev state.Snapshot, u state.Update) state.Update {
	merged := prev
	u.ApplyTo(&merged)
	fix := e.rouletteFix(prev.Mode, prev.IntervalValue, merged)
	if fix.RouletteProgress != nil {
		u.RouletteProgress = fix.RouletteProgress
		u.RouletteTarget = fix.RouletteTarget
	}
	return u
}

// rouletteFix starts a new cycle when cur just entered roulette, its
// interval changed, or its pair is out of range.
func (e *Engine) rouletteFix(previousMode state.Mode, previousInterval int, cur state.Snapshot) state.Update {
	if cur.Mode != state.ModeRoulette || cur.IntervalValue < 1 {
		return state.Update{}
	}
	enteredRoulette := previousMode != state.ModeRoulette
	intervalChanged := previousInterval > 0 && previousInterval != cur.IntervalValue
	if !enteredRoulette && !intervalChanged && targetInRange(cur.RouletteTarget, cur.IntervalValue) &&
		cur.RouletteProgress >= 0 && cur.RouletteProgress < cur.RouletteTarget {
		return state.Update{}
	}
	return state.Update{
		RouletteProgress: lo.ToPtr(0),
		RouletteTarget:   lo.ToPtr(e.drawTarget(cur.IntervalValue)),
	}
}

// drawTarget returns a uniform value in [1, interval], or 0 when the
// interval is unusable.
func (e *Engine) drawTarget(interval int) int {
	if interval < 1 {
		return 0
	}
	return e.rng.IntN(interval) + 1
}

func targetInRange(target, interval int) bool {
	return target >= 1 && target <= interval
}
