package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

type CDPOptions struct {
	// ControlURL is the DevTools websocket of a running browser. Empty
	// launches a local Chrome.
	ControlURL string
	Headless   bool
	Logger     *slog.Logger
}

// CDP watches and drives a Chromium browser over the DevTools protocol.
type CDP struct {
	opts   CDPOptions
	logger *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewCDP(opts CDPOptions) *CDP {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CDP{opts: opts, logger: logger}
}

// Connect attaches to (or launches) the browser. It is safe to call more
// than once.
func (c *CDP) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

func (c *CDP) connect(ctx context.Context) (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	wsURL := strings.TrimSpace(c.opts.ControlURL)
	if wsURL == "" {
		l := launcher.New().Headless(c.opts.Headless)
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("cdp: launch: %w", err)
		}
		wsURL = u
		c.launcher = l
		c.logger.Info("cdp: launched local chrome", "url", wsURL)
	} else {
		c.logger.Info("cdp: connecting to browser", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if c.launcher != nil {
			c.launcher.Kill()
			c.launcher = nil
		}
		return nil, fmt.Errorf("cdp: connect: %w", err)
	}
	c.browser = b
	return b, nil
}

// Run reports page targets created after the call as new tabs. Tabs that
// already exist when Run starts are not reported.
func (c *CDP) Run(ctx context.Context, l Listener) error {
	b, err := c.connect(ctx)
	if err != nil {
		return err
	}

	existing, err := proto.TargetGetTargets{}.Call(b)
	if err != nil {
		return fmt.Errorf("cdp: list targets: %w", err)
	}
	known := map[proto.TargetTargetID]struct{}{}
	for _, info := range existing.TargetInfos {
		known[info.TargetID] = struct{}{}
	}

	wait := b.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			info := e.TargetInfo
			if info == nil || info.Type != proto.TargetTargetInfoTypePage {
				return
			}
			if _, seen := known[info.TargetID]; seen {
				return
			}
			known[info.TargetID] = struct{}{}
			l.TabCreated(ctx, Tab{ID: string(info.TargetID), URL: info.URL})
		},
		func(e *proto.TargetTargetDestroyed) {
			if _, seen := known[e.TargetID]; !seen {
				return
			}
			delete(known, e.TargetID)
			l.TabRemoved(ctx, string(e.TargetID))
		},
	)
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("cdp: discover targets: %w", err)
	}
	c.logger.Info("cdp: watching tabs", "existing", len(known))
	wait()
	return ctx.Err()
}

func (c *CDP) Navigate(ctx context.Context, tabID, url string) error {
	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()
	if b == nil {
		return ErrNotConnected
	}
	page, err := b.PageFromTarget(proto.TargetTargetID(tabID))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTabClosed, tabID, err)
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		var cdpErr *cdp.Error
		if errors.As(err, &cdpErr) {
			return fmt.Errorf("%w: %s: %v", ErrTabClosed, tabID, err)
		}
		return err
	}
	return nil
}

func (c *CDP) Open(ctx context.Context, url string) (Tab, error) {
	b, err := c.connect(ctx)
	if err != nil {
		return Tab{}, err
	}
	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Tab{}, fmt.Errorf("cdp: create tab: %w", err)
	}
	return Tab{ID: string(page.TargetID), URL: url}, nil
}

func (c *CDP) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.browser != nil && c.launcher != nil {
		// Only a browser we launched is ours to shut down.
		err = c.browser.Close()
	}
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher = nil
	}
	c.browser = nil
	return err
}
