package tabs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/pkg/browser"
)

// SystemOpener opens URLs in the operating system's default browser. It
// cannot see or navigate existing tabs.
type SystemOpener struct {
	openURL func(url string) error
}

func NewSystemOpener() *SystemOpener {
	return &SystemOpener{openURL: browser.OpenURL}
}

func (s *SystemOpener) Navigate(context.Context, string, string) error {
	return ErrNotSupported
}

func (s *SystemOpener) Open(_ context.Context, url string) (Tab, error) {
	if err := s.openURL(url); err != nil {
		return Tab{}, fmt.Errorf("open %s: %w", url, err)
	}
	return Tab{URL: url}, nil
}

// FallbackNavigator navigates with Primary and opens with Fallback when
// Primary has no browser attached.
type FallbackNavigator struct {
	Primary  Navigator
	Fallback Navigator
}

func (f FallbackNavigator) Navigate(ctx context.Context, tabID, url string) error {
	return f.Primary.Navigate(ctx, tabID, url)
}

func (f FallbackNavigator) Open(ctx context.Context, url string) (Tab, error) {
	tab, err := f.Primary.Open(ctx, url)
	if err == nil || f.Fallback == nil {
		return tab, err
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrNotSupported) {
		return f.Fallback.Open(ctx, url)
	}
	return tab, err
}

// ConsoleBadge prints badge changes to a terminal.
type ConsoleBadge struct {
	w io.Writer

	mu   sync.Mutex
	last *BadgeState
}

func NewConsoleBadge(w io.Writer) *ConsoleBadge {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleBadge{w: w}
}

func (c *ConsoleBadge) Set(_ context.Context, b BadgeState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && *c.last == b {
		return
	}
	c.last = &b
	bg := color.BgRed
	if b.On {
		bg = color.BgGreen
	}
	label := color.New(color.FgHiWhite, bg, color.Bold).Sprintf(" %s ", b.Text)
	fmt.Fprintf(c.w, "%s %s\n", label, b.Title)
}
