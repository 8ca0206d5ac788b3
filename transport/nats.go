package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// subjectPrefix is the operation subject hierarchy: taskdeck.chat.op.<op>.
	subjectPrefix = "taskdeck.chat.op"

	// eventSubjectPrefix carries pushed events per user:
	// taskdeck.chat.events.<userID>.
	eventSubjectPrefix = "taskdeck.chat.events"
)

// natsEnvelope wraps a pushed event on the per-user event subject.
type natsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NATS is the transport for deployments that expose the chat backend over
// NATS request/reply instead of a websocket. Acknowledgements map directly
// onto reply messages, so no correlation ids are needed.
type NATS struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	local bool
}

// DialNATS connects to the NATS endpoint and subscribes to the per-user
// event subject. Reconnection is left to the session layer, so the client
// connects with reconnects disabled.
func DialNATS(ctx context.Context, opts Options) (*NATS, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	t := &NATS{opts: opts, log: opts.logger()}

	natsOpts := []nats.Option{
		nats.Name("taskdeck-chat-" + opts.Identity.ID),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			t.mu.Lock()
			wasLocal := t.local
			t.mu.Unlock()
			if !wasLocal && t.opts.OnDisconnect != nil {
				t.opts.OnDisconnect(nc.LastError())
			}
		}),
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}

	nc, err := nats.Connect(opts.Endpoint, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t.nc = nc

	subject := fmt.Sprintf("%s.%s", eventSubjectPrefix, opts.Identity.ID)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var env natsEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.log.Warn("bad event envelope", "subject", msg.Subject, "error", err)
			return
		}
		if t.opts.OnEvent != nil {
			t.opts.OnEvent(env.Event, env.Data)
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	t.sub = sub

	t.log.Info("nats connected", "endpoint", opts.Endpoint, "events", subject)
	return t, nil
}

// Connected reports whether the NATS connection is live.
func (t *NATS) Connected() bool {
	return t.nc != nil && t.nc.IsConnected()
}

// Emit publishes a request and waits for its reply, the acknowledgement.
func (t *NATS) Emit(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	if !t.Connected() {
		return nil, ErrClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, op)
	reply, err := t.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", op, err)
	}
	if err := ackFailure(op, reply.Data); err != nil {
		return nil, err
	}
	return json.RawMessage(reply.Data), nil
}

// Close drains the event subscription and closes the connection.
// Idempotent; never triggers OnDisconnect.
func (t *NATS) Close() error {
	t.mu.Lock()
	if t.local {
		t.mu.Unlock()
		return nil
	}
	t.local = true
	t.mu.Unlock()

	if t.sub != nil {
		t.sub.Unsubscribe()
	}
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}
