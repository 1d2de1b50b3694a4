package configsync

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/samber/lo"
)

const (
	DefaultInterval     = 180 * time.Minute
	DefaultInitialDelay = 5 * time.Second
)

type Result string

const (
	ResultApplied Result = "applied"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

type Store interface {
	Snapshot() state.Snapshot
	Apply(fn func(current state.Snapshot) state.Update) (state.Snapshot, state.Update)
}

// Reconciler completes a merged update so derived state stays consistent
// with the merged settings. It is called inside the merge's Apply.
type Reconciler interface {
	ReconcileMerge(prev state.Snapshot, merged state.Update) state.Update
}

type Options struct {
	// DefaultURL is used when the remoteConfigUrl key is empty.
	DefaultURL   string
	Interval     time.Duration
	InitialDelay time.Duration
	Jitter       float64
	Timeout      time.Duration
	Reconciler   Reconciler
	Logger       *slog.Logger
	Now          func() time.Time
}

// Syncer pulls the remote settings document and merges it when its version
// is newer than the local one. Checks never overlap.
type Syncer struct {
	store   Store
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	checkMu sync.Mutex
	trigger chan struct{}
}

func NewSyncer(store Store, fetcher Fetcher, opts Options) (*Syncer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	opts.Jitter = clampJitterRatio(opts.Jitter)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		now:     now,
		trigger: make(chan struct{}, 1),
	}, nil
}

// RemoteURL is the URL the next check will use.
func (s *Syncer) RemoteURL() string {
	if u := strings.TrimSpace(s.store.Snapshot().RemoteConfigURL); u != "" {
		return u
	}
	return strings.TrimSpace(s.opts.DefaultURL)
}

// CheckOnce fetches, validates and merges the remote document. Failures
// are logged and leave state unchanged; the error is returned for callers
// that want to report it.
func (s *Syncer) CheckOnce(ctx context.Context) (Result, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	remoteURL := s.RemoteURL()
	if remoteURL == "" {
		s.logger.Debug("config check skipped, no remote url")
		return ResultSkipped, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	body, err := s.fetcher.Fetch(ctx, remoteURL)
	if err != nil {
		s.logger.Warn("config fetch failed", "url", remoteURL, "error", err)
		return ResultFailed, err
	}
	now := s.now()
	s.store.Apply(func(state.Snapshot) state.Update {
		return state.Update{LastConfigCheck: lo.ToPtr(now.UnixMilli())}
	})

	doc, err := ParseDocument(body)
	if err != nil {
		s.logger.Warn("config document rejected", "url", remoteURL, "error", err)
		return ResultFailed, err
	}

	var (
		applied      bool
		mergeErr     error
		localVersion string
	)
	snap, _ := s.store.Apply(func(cur state.Snapshot) state.Update {
		localVersion = cur.ConfigVersion
		if CompareVersions(doc.Version, cur.ConfigVersion) <= 0 {
			return state.Update{}
		}
		u, err := Merge(cur, doc, now)
		if err != nil {
			mergeErr = err
			return state.Update{}
		}
		applied = true
		if s.opts.Reconciler != nil {
			u = s.opts.Reconciler.ReconcileMerge(cur, u)
		}
		return u
	})
	if mergeErr != nil {
		s.logger.Warn("config merge failed", "version", doc.Version, "error", mergeErr)
		return ResultFailed, mergeErr
	}
	if !applied {
		s.logger.Debug("config up to date", "local_version", localVersion, "remote_version", doc.Version)
		return ResultSkipped, nil
	}

	s.logger.Info("config applied",
		"from_version", localVersion,
		"to_version", doc.Version,
		"mode", snap.Mode,
		"interval", snap.IntervalValue,
	)
	return ResultApplied, nil
}

// Trigger asks Run for an immediate check. Requests made while one is
// already queued are folded together.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run owns the check schedule until ctx is done. A fresh install gets an
// early first check; otherwise the first check waits a full interval.
func (s *Syncer) Run(ctx context.Context, freshInstall bool) {
	rng := rand.New(rand.NewPCG(uint64(s.now().UnixNano()), 0))
	first := jitteredIntervalWithSample(s.opts.Interval, s.opts.Jitter, rng.Float64())
	if freshInstall {
		first = s.opts.InitialDelay
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	run := func() {
		_, _ = s.CheckOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("config sync stopping", "reason", ctx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(s.opts.Interval, s.opts.Jitter, rng.Float64()))
		case <-s.trigger:
			run()
		}
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
