package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame types exchanged with the browser extension.
const (
	FrameHello      = "hello"
	FrameTabCreated = "tabCreated"
	FrameTabRemoved = "tabRemoved"
	FrameNavigate   = "navigate"
	FrameOpen       = "open"
	FrameBadge      = "badge"
	FrameAck        = "ack"

	bridgeErrTabClosed = "tab_closed"
)

const defaultBridgeTimeout = 10 * time.Second

type Frame struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	TabID string      `json:"tabId,omitempty"`
	URL   string      `json:"url,omitempty"`
	Badge *BadgeState `json:"badge,omitempty"`
	Error string      `json:"error,omitempty"`
}

type BridgeOptions struct {
	// OriginPatterns are passed to websocket.Accept. Extension origins
	// such as "chrome-extension://*" must be listed here.
	OriginPatterns []string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Bridge is the daemon side of a websocket link to a thin browser
// extension. The extension reports tab events and executes navigation and
// badge requests. Only the most recent connection is used.
type Bridge struct {
	originPatterns []string
	timeout        time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	listener  Listener
	lastBadge *BadgeState
	pending   map[string]chan Frame
}

func NewBridge(opts BridgeOptions) *Bridge {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		originPatterns: opts.OriginPatterns,
		timeout:        timeout,
		logger:         logger,
		pending:        map[string]chan Frame{},
	}
}

// Run registers l for tab events until ctx is done.
func (b *Bridge) Run(ctx context.Context, l Listener) error {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
	<-ctx.Done()
	b.mu.Lock()
	b.listener = nil
	b.mu.Unlock()
	return ctx.Err()
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ServeHTTP upgrades the request and serves the extension until it
// disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
	if err != nil {
		b.logger.Warn("bridge: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	b.mu.Lock()
	previous := b.conn
	b.conn = conn
	badge := b.lastBadge
	b.mu.Unlock()
	if previous != nil {
		_ = previous.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
	b.logger.Info("bridge: extension connected", "remote", r.RemoteAddr)
	if badge != nil {
		b.send(r.Context(), Frame{Type: FrameBadge, Badge: badge})
	}

	ctx := r.Context()
	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				b.logger.Debug("bridge: read ended", "error", err)
			}
			break
		}
		b.handleFrame(ctx, frame)
	}

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	b.logger.Info("bridge: extension disconnected")
}

func (b *Bridge) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameHello:
		return
	case FrameAck:
		b.mu.Lock()
		ch, ok := b.pending[frame.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- frame:
			default:
			}
		}
	case FrameTabCreated, FrameTabRemoved:
		b.mu.Lock()
		l := b.listener
		b.mu.Unlock()
		if l == nil || frame.TabID == "" {
			return
		}
		if frame.Type == FrameTabCreated {
			l.TabCreated(ctx, Tab{ID: frame.TabID, URL: frame.URL})
		} else {
			l.TabRemoved(ctx, frame.TabID)
		}
	default:
		b.logger.Debug("bridge: unknown frame", "type", frame.Type)
	}
}

func (b *Bridge) Navigate(ctx context.Context, tabID, url string) error {
	_, err := b.request(ctx, Frame{Type: FrameNavigate, TabID: tabID, URL: url})
	return err
}

func (b *Bridge) Open(ctx context.Context, url string) (Tab, error) {
	ack, err := b.request(ctx, Frame{Type: FrameOpen, URL: url})
	if err != nil {
		return Tab{}, err
	}
	return Tab{ID: ack.TabID, URL: url}, nil
}

// Set forwards the badge to the extension. The last state is replayed to
// the next connection.
func (b *Bridge) Set(ctx context.Context, badge BadgeState) {
	b.mu.Lock()
	b.lastBadge = &badge
	b.mu.Unlock()
	b.send(ctx, Frame{Type: FrameBadge, Badge: &badge})
}

func (b *Bridge) send(ctx context.Context, frame Frame) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		b.logger.Debug("bridge: send failed", "type", frame.Type, "error", err)
	}
}

func (b *Bridge) request(ctx context.Context, frame Frame) (Frame, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	frame.ID = uuid.NewString()
	ch := make(chan Frame, 1)
	b.pending[frame.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, frame.ID)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		return Frame{}, fmt.Errorf("bridge: send %s: %w", frame.Type, err)
	}
	select {
	case ack := <-ch:
		switch ack.Error {
		case "":
			return ack, nil
		case bridgeErrTabClosed:
			return ack, fmt.Errorf("%w: %s", ErrTabClosed, frame.TabID)
		default:
			return ack, fmt.Errorf("bridge: %s failed: %s", frame.Type, ack.Error)
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}
