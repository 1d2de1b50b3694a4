package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GXboy12345/newtab-rick/internal/configsync"
	"github.com/GXboy12345/newtab-rick/internal/dispatch"
	"github.com/GXboy12345/newtab-rick/internal/state"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type apiError struct {
	StatusCode    int
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%s, correlation %s)", e.Message, e.Code, e.CorrelationID)
}

// client talks to a running newtabrickd.
type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	return &client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) command(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	var resp dispatch.Response
	err := c.do(ctx, http.MethodPost, "/v1/commands", req, &resp)
	return resp, err
}

func (c *client) state(ctx context.Context) (state.Snapshot, error) {
	var resp dispatch.Response
	if err := c.do(ctx, http.MethodGet, "/v1/state", nil, &resp); err != nil {
		return state.Snapshot{}, err
	}
	if resp.State == nil {
		return state.Snapshot{}, errors.New("server returned no state")
	}
	return *resp.State, nil
}

func (c *client) export(ctx context.Context) (configsync.Document, error) {
	var doc configsync.Document
	err := c.do(ctx, http.MethodGet, "/v1/config/export", nil, &doc)
	return doc, err
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// watch streams snapshots until ctx is done or fn returns an error.
func (c *client) watch(ctx context.Context, fn func(state.Snapshot) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	for {
		var snap state.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if err := fn(snap); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}
