package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAuthInvalid is returned by Connect when Home Assistant answers the
// handshake with auth_invalid.
var ErrAuthInvalid = errors.New("websocket authentication rejected")

// WSClient holds a WebSocket connection to Home Assistant used for event
// subscriptions.
type WSClient struct {
	baseURL string
	token   string
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	msgID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan wsResult

	events chan Event

	subsMu sync.Mutex
	subs   []string
}

// Event is a Home Assistant bus event.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedData is the payload of a state_changed event. NewState is
// nil when the entity was removed.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

type wsFrame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResult struct {
	ok     bool
	result json.RawMessage
	err    *wsError
}

// NewWSClient creates a WebSocket client. Call Connect before Subscribe.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		pending: make(map[int64]chan wsResult),
		events:  make(chan Event, 100),
	}
}

// websocketURL maps http(s)://host[:port] to ws(s)://host[:port]/api/websocket.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// Connect dials, runs the auth_required/auth/auth_ok handshake, starts
// the read loop, and re-issues any subscriptions from a previous
// connection.
func (c *WSClient) Connect(ctx context.Context) error {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return err
	}

	c.logger.Info("connecting to Home Assistant websocket", "url", wsURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   256 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(32 * 1024 * 1024)

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info("websocket authenticated")

	go c.readLoop(conn)
	c.restoreSubscriptions(ctx)
	return nil
}

func (c *WSClient) authenticate(conn *websocket.Conn) error {
	var hello wsFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var reply wsFrame
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return ErrAuthInvalid
	default:
		return fmt.Errorf("unexpected auth reply: %s", reply.Type)
	}
}

// Close closes the connection. The read loop exits on its own.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Reconnect drops the current connection and connects again, restoring
// subscriptions. It is wired as a connwatch OnReady callback.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting websocket")
	_ = c.Close()
	return c.Connect(ctx)
}

// Events returns the channel subscribed events are delivered on. Events
// are dropped when the channel is full.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Subscribe subscribes to eventType and remembers it for reconnects.
func (c *WSClient) Subscribe(ctx context.Context, eventType string) error {
	if err := c.subscribe(ctx, eventType); err != nil {
		return err
	}
	c.subsMu.Lock()
	c.subs = append(c.subs, eventType)
	c.subsMu.Unlock()
	return nil
}

func (c *WSClient) subscribe(ctx context.Context, eventType string) error {
	id := c.msgID.Add(1)
	msg := map[string]any{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": eventType,
	}
	if _, err := c.request(ctx, id, msg); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}
	c.logger.Info("subscribed to events", "event_type", eventType)
	return nil
}

func (c *WSClient) request(ctx context.Context, id int64, msg any) (json.RawMessage, error) {
	ch := make(chan wsResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, errors.New("websocket not connected")
	}
	err := c.conn.WriteJSON(msg)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	timer := time.NewTimer(30 * time.Second)
	defer timer.Stop()

	select {
	case res := <-ch:
		if !res.ok {
			if res.err != nil {
				return nil, fmt.Errorf("%s: %s", res.err.Code, res.err.Message)
			}
			return nil, errors.New("request failed")
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed")
			} else {
				c.logger.Warn("websocket read failed, connection lost", "error", err)
			}
			return
		}

		switch frame.Type {
		case "result":
			c.pendingMu.Lock()
			if ch, ok := c.pending[frame.ID]; ok {
				ch <- wsResult{ok: frame.Success, result: frame.Result, err: frame.Error}
			}
			c.pendingMu.Unlock()
		case "event":
			if frame.Event == nil {
				continue
			}
			select {
			case c.events <- *frame.Event:
			default:
				c.logger.Warn("event channel full, dropping event", "event_type", frame.Event.Type)
			}
		case "pong":
		default:
			c.logger.Debug("unhandled websocket frame", "type", frame.Type)
		}
	}
}

func (c *WSClient) restoreSubscriptions(ctx context.Context) {
	c.subsMu.Lock()
	subs := append([]string(nil), c.subs...)
	c.subsMu.Unlock()

	for _, eventType := range subs {
		if err := c.subscribe(ctx, eventType); err != nil {
			c.logger.Error("failed to restore subscription", "event_type", eventType, "error", err)
		}
	}
}
