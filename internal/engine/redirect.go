package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/tabs"
)

const (
	DefaultRedirectDelay   = 100 * time.Millisecond
	DefaultRedirectTimeout = 10 * time.Second
	DefaultLandingURL      = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
)

type RedirectorOptions struct {
	LandingURL string
	Delay      time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Redirector sends tabs to the landing page after a short delay so the new
// tab can finish its own first navigation.
type Redirector struct {
	nav        tabs.Navigator
	landingURL string
	delay      time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

func NewRedirector(nav tabs.Navigator, opts RedirectorOptions) *Redirector {
	landingURL := strings.TrimSpace(opts.LandingURL)
	if landingURL == "" {
		landingURL = DefaultLandingURL
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRedirectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redirector{
		nav:        nav,
		landingURL: landingURL,
		delay:      delay,
		timeout:    timeout,
		logger:     logger,
		pending:    map[string]*time.Timer{},
	}
}

func (r *Redirector) LandingURL() string {
	return r.landingURL
}

// Schedule queues a redirect of tabID. A second schedule for the same tab
// replaces the first.
func (r *Redirector) Schedule(tabID string) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" || r.nav == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if existing, ok := r.pending[tabID]; ok {
		if existing.Stop() {
			r.wg.Done()
		}
	}
	var timer *time.Timer
	r.wg.Add(1)
	timer = time.AfterFunc(r.delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		if r.pending[tabID] != timer {
			r.mu.Unlock()
			return
		}
		delete(r.pending, tabID)
		r.mu.Unlock()
		r.navigate(tabID)
	})
	r.pending[tabID] = timer
}

// Cancel drops a pending redirect for a tab that no longer exists.
func (r *Redirector) Cancel(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	timer, ok := r.pending[tabID]
	if !ok {
		return false
	}
	delete(r.pending, tabID)
	if timer.Stop() {
		r.wg.Done()
		return true
	}
	return false
}

func (r *Redirector) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// OpenNow opens the landing page in a new tab, bypassing every policy.
func (r *Redirector) OpenNow(ctx context.Context) (tabs.Tab, error) {
	if r.nav == nil {
		return tabs.Tab{}, tabs.ErrNotSupported
	}
	return r.nav.Open(ctx, r.landingURL)
}

// Close stops pending timers and waits for in-flight navigations.
func (r *Redirector) Close() {
	r.mu.Lock()
	r.closed = true
	for tabID, timer := range r.pending {
		if timer.Stop() {
			r.wg.Done()
		}
		delete(r.pending, tabID)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Redirector) navigate(tabID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.nav.Navigate(ctx, tabID, r.landingURL); err != nil {
		r.logger.Debug("redirect skipped", "tab_id", tabID, "error", err)
	}
}
