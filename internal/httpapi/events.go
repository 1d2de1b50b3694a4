package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/state"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams the current snapshot and then every change until the
// client goes away. Slow clients only see the latest snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Warn("events: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.store.Subscribe()
	defer cancel()

	// Clients never send; CloseRead handles pings and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	if err := writeSnapshot(ctx, conn, s.store.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Debug("events: write failed", "error", err)
				}
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap state.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}
