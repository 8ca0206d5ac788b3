package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskdeck/go-realtime-core/config"
	"github.com/taskdeck/go-realtime-core/models"
	"github.com/taskdeck/go-realtime-core/transport"
)

// AuthProvider supplies the authenticated identity and bearer token for
// the transport handshake.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (models.User, error)
	Token(ctx context.Context) (string, error)
}

// TransportFactory opens one transport. Swapped out in tests.
type TransportFactory func(ctx context.Context, opts transport.Options) (transport.Transport, error)

// Option configures a Session.
type Option func(*Session)

// WithTransportFactory overrides how the session opens transports.
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Session) { s.factory = f }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// connectAttempt is the shared state of one in-flight connect; concurrent
// callers wait on done and read err afterwards.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Session owns the single realtime transport for the current authenticated
// user. Connection attempts are single-flight, reconnects after a
// server-initiated disconnect are strictly sequential, and all inbound
// events are fanned out through the Bus.
type Session struct {
	cfg     *config.Config
	auth    AuthProvider
	factory TransportFactory
	log     *slog.Logger
	bus     *Bus
	sleep   func(time.Duration) // reconnect delay; replaced in tests

	mu      sync.Mutex
	state   models.SessionState
	user    models.User
	tr      transport.Transport
	gen     int // transport generation; disconnects from stale transports are ignored
	attempt *connectAttempt
	closing bool
}

// NewSession builds a session. The default factory dials the websocket
// endpoint, or NATS when the config carries a NATS URL.
func NewSession(cfg *config.Config, auth AuthProvider, opts ...Option) *Session {
	s := &Session{
		cfg:   cfg,
		auth:  auth,
		log:   slog.Default(),
		bus:   NewBus(),
		sleep: time.Sleep,
		state: models.SessionDisconnected,
	}
	s.factory = func(ctx context.Context, topts transport.Options) (transport.Transport, error) {
		if cfg.NatsURL != "" {
			return transport.DialNATS(ctx, topts)
		}
		return transport.DialWS(ctx, topts)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus exposes the event subscriptions.
func (s *Session) Bus() *Bus { return s.bus }

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentUser returns the identity bound to the session, zero when
// disconnected.
func (s *Session) CurrentUser() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// IsConnected reports whether a live transport is attached.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.SessionConnected && s.tr != nil && s.tr.Connected()
}

func (s *Session) transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr
}

// Connect establishes the transport. Concurrent callers share one in-flight
// attempt; a second transport is never opened while one is being dialed.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, true)
}

// EnsureConnected is a no-op when connected, otherwise it connects with the
// same bounded-wait contract as Connect.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	return s.connect(ctx, true)
}

func (s *Session) connect(ctx context.Context, userInitiated bool) error {
	s.mu.Lock()
	if s.state == models.SessionConnected && s.tr != nil && s.tr.Connected() {
		s.mu.Unlock()
		return nil
	}
	if a := s.attempt; a != nil {
		s.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.closing && !userInitiated {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if userInitiated {
		s.closing = false
	}
	a := &connectAttempt{done: make(chan struct{})}
	s.attempt = a
	if s.state != models.SessionReconnecting {
		s.state = models.SessionConnecting
	}
	s.mu.Unlock()

	err := s.dial(ctx)

	s.mu.Lock()
	s.attempt = nil
	if err == nil {
		s.state = models.SessionConnected
	} else if s.state == models.SessionConnecting {
		s.state = models.SessionDisconnected
	}
	s.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

// dial fetches identity and token, opens a transport within the bounded
// wait, and joins the per-user room so the backend can route direct
// messages to this connection.
func (s *Session) dial(ctx context.Context) error {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if user.ID == "" {
		return ErrAuthentication
	}
	token, err := s.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: no token: %v", ErrAuthentication, err)
	}

	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	opts := transport.Options{
		Endpoint:       s.cfg.DialEndpoint(),
		Token:          token,
		Identity:       user,
		ConnectTimeout: timeout,
		OnEvent:        s.dispatch,
		OnDisconnect:   func(cause error) { s.handleDisconnect(gen, cause) },
		Logger:         s.log,
	}
	tr, err := s.factory(dctx, opts)
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrConnectionTimeout, timeout, err)
		}
		return err
	}

	s.mu.Lock()
	if s.closing {
		// Disconnect raced the dial; drop the fresh transport.
		s.mu.Unlock()
		tr.Close()
		return ErrNotConnected
	}
	s.tr = tr
	s.user = user
	s.mu.Unlock()

	join := map[string]string{
		"userId": user.ID,
		"name":   user.Name,
		"avatar": user.Avatar,
	}
	if _, err := tr.Emit(dctx, transport.OpJoinUserRoom, join); err != nil {
		s.log.Warn("failed to join user room", "userId", user.ID, "error", err)
	}
	return nil
}

// Disconnect closes the transport and clears the identity. Idempotent; a
// local disconnect never triggers reconnection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closing = true
	s.gen++
	tr := s.tr
	s.tr = nil
	s.user = models.User{}
	s.state = models.SessionDisconnected
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

// handleDisconnect reacts to a transport-initiated drop by starting the
// reconnect loop. Drops from superseded transports are ignored.
func (s *Session) handleDisconnect(gen int, cause error) {
	s.mu.Lock()
	if s.closing || gen != s.gen || s.state == models.SessionFailed {
		s.mu.Unlock()
		return
	}
	s.tr = nil
	s.state = models.SessionReconnecting
	s.mu.Unlock()

	s.log.Warn("transport disconnected, reconnecting", "cause", cause)
	go s.reconnectLoop()
}

// reconnectLoop retries sequentially with a linear delay of attempt×unit.
// Exhausting the attempt cap moves the session to failed and notifies
// observers; no further automatic retries happen after that.
func (s *Session) reconnectLoop() {
	max := s.cfg.MaxReconnectAttempts
	if max <= 0 {
		max = config.DefaultMaxReconnectAttempts
	}
	unit := s.cfg.ReconnectDelayUnit
	if unit <= 0 {
		unit = config.DefaultReconnectDelayUnit
	}

	for attempt := 1; attempt <= max; attempt++ {
		s.sleep(time.Duration(attempt) * unit)

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		err := s.connect(context.Background(), false)
		if err == nil {
			s.log.Info("reconnected", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrNotConnected) {
			// Disconnect was called while an attempt was pending.
			return
		}
		s.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	s.mu.Lock()
	s.state = models.SessionFailed
	s.mu.Unlock()

	err := fmt.Errorf("%w: gave up after %d reconnect attempts", ErrNotConnected, max)
	s.log.Error("reconnect attempts exhausted", "attempts", max)
	s.bus.emitConnectionFailed(err)
}

// dispatch normalizes transport events into bus notifications.
func (s *Session) dispatch(event string, data json.RawMessage) {
	switch event {
	case transport.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("bad new_message payload", "error", err)
			return
		}
		s.bus.emitNewMessage(msg)

	case transport.EventMessageRead:
		var body struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(data, &body); err != nil || body.MessageID == "" {
			s.log.Warn("bad message_read payload", "error", err)
			return
		}
		s.bus.emitMessageRead(body.MessageID)

	case transport.EventUserOnline, transport.EventUserOffline:
		var body struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &body); err != nil || body.UserID == "" {
			s.log.Warn("bad presence payload", "event", event, "error", err)
			return
		}
		s.bus.emitStatusChange(StatusChange{
			UserID: body.UserID,
			Online: event == transport.EventUserOnline,
		})

	case transport.EventChatListUpdate:
		var update ChatListUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.log.Warn("bad chat_list_update payload", "error", err)
			return
		}
		s.bus.emitChatListUpdate(update)

	default:
		s.log.Debug("unhandled event", "event", event)
	}
}
