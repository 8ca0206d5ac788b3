package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to the peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size in bytes.
	maxFrameSize = 1 << 16
)

// wsFrame is the wire envelope. Outbound requests carry a correlation id
// which the backend echoes on the matching ack; pushed events carry no id.
type wsFrame struct {
	Type  string          `json:"type"` // request | ack | event
	ID    string          `json:"id,omitempty"`
	Op    string          `json:"op,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WS is the websocket transport. Acknowledgements are matched to requests
// by correlation id; the backend's event frames are forwarded to the
// OnEvent handler from the read loop.
type WS struct {
	conn *websocket.Conn
	opts Options
	log  *slog.Logger

	writeMu sync.Mutex // serializes writes to conn

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool
	local   bool // Close() was called locally

	done   chan struct{} // closed when the read loop exits
	connID string
}

// DialWS opens a websocket connection to the chat backend, carrying the
// auth token and identity fields in the handshake, and waits for the
// server's connect event within the configured timeout.
func DialWS(ctx context.Context, opts Options) (*WS, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	endpoint, err := wsURL(opts)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	t := &WS{
		conn:    conn,
		opts:    opts,
		log:     opts.logger(),
		pending: make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}

	// The server confirms the session with a connect event carrying the
	// server-assigned connection id. Nothing else is expected before it.
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect handshake failed: %w", err)
		}
		if f.Type == "event" && f.Event == EventConnect {
			var welcome struct {
				SID string `json:"sid"`
			}
			json.Unmarshal(f.Data, &welcome)
			t.connID = welcome.SID
			break
		}
	}

	go t.readLoop()
	go t.pingLoop()
	t.log.Info("websocket connected", "endpoint", endpoint, "sid", t.connID)
	return t, nil
}

// wsURL derives the ws:// endpoint from the configured http(s) one and
// attaches the handshake query parameters.
func wsURL(opts Options) (string, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", opts.Endpoint, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("token", opts.Token)
	q.Set("userId", opts.Identity.ID)
	q.Set("name", opts.Identity.Name)
	q.Set("email", opts.Identity.Email)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ConnID returns the server-assigned connection identifier.
func (t *WS) ConnID() string { return t.connID }

// Connected reports whether the connection is still live.
func (t *WS) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Emit sends a request frame and waits for the matching acknowledgement.
func (t *WS) Emit(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}

	id := uuid.NewString()
	ack := make(chan json.RawMessage, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.pending[id] = ack
	t.mu.Unlock()

	frame := wsFrame{Type: "request", ID: id, Op: op, Data: data}
	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = t.conn.WriteJSON(frame)
	t.writeMu.Unlock()
	if err != nil {
		t.forget(id)
		return nil, fmt.Errorf("failed to send %s: %w", op, err)
	}

	select {
	case body := <-ack:
		if err := ackFailure(op, body); err != nil {
			return nil, err
		}
		return body, nil
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

func (t *WS) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// readLoop dispatches acks to their waiters and events to the handler. It
// owns the done channel: when it exits the transport is dead.
func (t *WS) readLoop() {
	var readErr error
	defer func() {
		t.mu.Lock()
		wasLocal := t.local
		t.closed = true
		t.pending = make(map[string]chan json.RawMessage)
		t.mu.Unlock()

		close(t.done)
		t.conn.Close()
		if !wasLocal && t.opts.OnDisconnect != nil {
			t.opts.OnDisconnect(readErr)
		}
	}()

	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f wsFrame
		if err := t.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("websocket read error", "error", err)
			}
			readErr = err
			return
		}

		switch f.Type {
		case "ack":
			t.mu.Lock()
			ch := t.pending[f.ID]
			delete(t.pending, f.ID)
			t.mu.Unlock()
			if ch != nil {
				ch <- f.Data
			}
		case "event":
			if t.opts.OnEvent != nil {
				t.opts.OnEvent(f.Event, f.Data)
			}
		default:
			t.log.Warn("unknown frame type", "type", f.Type)
		}
	}
}

// pingLoop keeps the connection alive; the read deadline is refreshed by
// the pong handler.
func (t *WS) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// Close shuts the connection down locally. Idempotent; a local close never
// triggers the OnDisconnect handler.
func (t *WS) Close() error {
	t.mu.Lock()
	if t.local {
		t.mu.Unlock()
		return nil
	}
	t.local = true
	alreadyDead := t.closed
	t.mu.Unlock()

	if !alreadyDead {
		t.writeMu.Lock()
		t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
	}
	return t.conn.Close()
}
