// Package tabs holds the browser-facing collaborators: something that
// reports tab creation, something that can navigate or open tabs, and a
// badge for on/off status.
package tabs

import (
	"context"
	"errors"
)

var (
	ErrNotSupported = errors.New("operation not supported")
	ErrNotConnected = errors.New("browser not connected")
	ErrTabClosed    = errors.New("tab closed")
)

type Tab struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Listener receives tab lifecycle events in delivery order.
type Listener interface {
	TabCreated(ctx context.Context, tab Tab)
	TabRemoved(ctx context.Context, tabID string)
}

type Navigator interface {
	Navigate(ctx context.Context, tabID, url string) error
	Open(ctx context.Context, url string) (Tab, error)
}

// Source delivers tab events to l until ctx is done or the browser goes
// away.
type Source interface {
	Run(ctx context.Context, l Listener) error
}

type BadgeState struct {
	Text  string `json:"text"`
	Color string `json:"color"`
	Title string `json:"title"`
	On    bool   `json:"on"`
}

// Badge displays status. Implementations never fail observably.
type Badge interface {
	Set(ctx context.Context, b BadgeState)
}

type BadgeFunc func(ctx context.Context, b BadgeState)

func (f BadgeFunc) Set(ctx context.Context, b BadgeState) {
	f(ctx, b)
}

// MultiBadge fans a badge update out to several displays.
type MultiBadge []Badge

func (m MultiBadge) Set(ctx context.Context, b BadgeState) {
	for _, badge := range m {
		if badge != nil {
			badge.Set(ctx, b)
		}
	}
}
