package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

type Options struct {
	Backend      Backend
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

// Store is the in-memory source of truth for settings and counters. Every
// mutation is written through to the backend by a single writer goroutine;
// callers never wait on durability.
type Store struct {
	backend      Backend
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	snap   Snapshot
	closed bool

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}

	pendingMu sync.Mutex
	pending   map[string]json.RawMessage
	wake      chan struct{}
	flushReq  chan chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewStore(opts Options) *Store {
	backend := opts.Backend
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	s := &Store{
		backend:      backend,
		logger:       logger,
		writeTimeout: writeTimeout,
		snap:         Defaults(),
		subs:         map[chan Snapshot]struct{}{},
		pending:      map[string]json.RawMessage{},
		wake:         make(chan struct{}, 1),
		flushReq:     make(chan chan struct{}),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Load reads every key from the backend. Missing or undecodable keys take
// their default value and are written back. fresh reports that the backend
// held no keys at all.
func (s *Store) Load(ctx context.Context) (fresh bool, err error) {
	values, err := s.backend.LoadKeys(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Defaults()
	repaired := map[string]any{}
	defaults := fullValues(snap)
	for _, key := range Keys {
		raw, ok := values[key]
		if !ok {
			repaired[key] = defaults[key]
			continue
		}
		if decodeErr := decodeKey(&snap, key, raw); decodeErr != nil {
			s.logger.Warn("state key unreadable, using default", "key", key, "error", decodeErr)
			repaired[key] = defaults[key]
		}
	}
	s.snap = snap
	s.enqueueLocked(repaired)
	s.publishLocked()
	return len(values) == 0, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Set merges u into the state and schedules a write of the touched keys.
func (s *Store) Set(u Update) Snapshot {
	snap, _ := s.Apply(func(Snapshot) Update { return u })
	return snap
}

// Apply runs one read-modify-write step under the store lock. fn sees the
// current state and returns the update to apply; no other mutation can
// interleave with it.
func (s *Store) Apply(fn func(current Snapshot) Update) (Snapshot, Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := fn(s.snap)
	values := u.values()
	if len(values) == 0 {
		return s.snap, u
	}
	u.ApplyTo(&s.snap)
	s.enqueueLocked(values)
	s.publishLocked()
	return s.snap, u
}

// Subscribe returns a channel that receives the newest snapshot after every
// mutation. A slow reader only ever sees the latest value.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Flush blocks until every write queued before the call has reached the
// backend.
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushReq <- ack:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued writes and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.quit)
		<-s.done

		s.subsMu.Lock()
		for ch := range s.subs {
			delete(s.subs, ch)
			close(ch)
		}
		s.subsMu.Unlock()

		err = s.backend.Close()
	})
	return err
}

func (s *Store) enqueueLocked(values map[string]any) {
	if len(values) == 0 {
		return
	}
	if s.closed {
		s.logger.Warn("state store closed, dropping write", "keys", len(values))
		return
	}
	encoded, err := encodeValues(values)
	if err != nil {
		s.logger.Error("state encode failed", "error", err)
		return
	}
	s.pendingMu.Lock()
	for key, value := range encoded {
		s.pending[key] = value
	}
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) publishLocked() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.snap
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.writePending()
		case ack := <-s.flushReq:
			s.writePending()
			close(ack)
		case <-s.quit:
			s.writePending()
			return
		}
	}
}

func (s *Store) writePending() {
	s.pendingMu.Lock()
	if len(s.pending) == 0 {
		s.pendingMu.Unlock()
		return
	}
	batch := s.pending
	s.pending = map[string]json.RawMessage{}
	s.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.backend.SaveKeys(ctx, batch); err != nil {
		s.logger.Error("state write failed", "keys", len(batch), "error", err)
	}
}

func fullValues(snap Snapshot) map[string]any {
	return Full(snap).values()
}
