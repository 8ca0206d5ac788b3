package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/taskdeck/go-realtime-core/models"
)

// stubBackend is an in-process chat backend speaking the frame protocol,
// used only to exercise the websocket transport.
type stubBackend struct {
	// handle answers request frames; a returned error becomes an ack with
	// an error field.
	handle func(op string, data json.RawMessage) (any, error)

	// pushOnConnect is written right after the welcome frame.
	pushOnConnect *wsFrame

	// closeAfterWelcome drops every connection as soon as it is
	// established, simulating a server-initiated disconnect.
	closeAfterWelcome bool
}

func startStub(t *testing.T, s *stubBackend) string {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", fiberws.New(func(c *fiberws.Conn) {
		defer c.Close()

		welcome := wsFrame{Type: "event", Event: EventConnect, Data: json.RawMessage(`{"sid":"stub-conn-1"}`)}
		if err := c.WriteJSON(welcome); err != nil {
			return
		}
		if s.closeAfterWelcome {
			return
		}
		if s.pushOnConnect != nil {
			if err := c.WriteJSON(*s.pushOnConnect); err != nil {
				return
			}
		}

		for {
			var f wsFrame
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != "request" {
				continue
			}

			var body []byte
			if s.handle == nil {
				body = []byte(`{}`)
			} else if result, err := s.handle(f.Op, f.Data); err != nil {
				body, _ = json.Marshal(map[string]string{"error": err.Error()})
			} else {
				body, _ = json.Marshal(result)
			}
			if err := c.WriteJSON(wsFrame{Type: "ack", ID: f.ID, Data: body}); err != nil {
				return
			}
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func stubOptions(endpoint string) Options {
	return Options{
		Endpoint:       endpoint,
		Token:          "test-token",
		Identity:       models.User{ID: "u1", Name: "Mika", Email: "mika@taskdeck.io"},
		ConnectTimeout: 2 * time.Second,
	}
}

func TestWSDialAndEmit(t *testing.T) {
	stub := &stubBackend{
		handle: func(op string, data json.RawMessage) (any, error) {
			if op != OpSendMessage {
				return nil, fmt.Errorf("unexpected op %s", op)
			}
			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, err
			}
			msg.ID = "srv-1"
			return msg, nil
		},
	}
	endpoint := startStub(t, stub)

	tr, err := DialWS(context.Background(), stubOptions(endpoint))
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	defer tr.Close()

	if tr.ConnID() != "stub-conn-1" {
		t.Fatalf("expected server-assigned connection id, got %q", tr.ConnID())
	}
	if !tr.Connected() {
		t.Fatal("expected transport to be connected")
	}

	ack, err := tr.Emit(context.Background(), OpSendMessage,
		models.Message{SenderID: "u1", ReceiverID: "u2", Content: "hello"})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	var confirmed models.Message
	if err := json.Unmarshal(ack, &confirmed); err != nil {
		t.Fatalf("bad ack: %v", err)
	}
	if confirmed.ID != "srv-1" || confirmed.Content != "hello" {
		t.Fatalf("unexpected ack payload: %+v", confirmed)
	}
}

func TestWSEmitAckError(t *testing.T) {
	stub := &stubBackend{
		handle: func(op string, data json.RawMessage) (any, error) {
			return nil, errors.New("receiver not found")
		},
	}
	endpoint := startStub(t, stub)

	tr, err := DialWS(context.Background(), stubOptions(endpoint))
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	defer tr.Close()

	_, err = tr.Emit(context.Background(), OpSendMessage, struct{}{})
	var ackErr *AckError
	if !errors.As(err, &ackErr) {
		t.Fatalf("expected AckError, got %v", err)
	}
	if ackErr.Message != "receiver not found" {
		t.Fatalf("backend error lost: %q", ackErr.Message)
	}
}

func TestWSPushedEvent(t *testing.T) {
	pushed, _ := json.Marshal(models.Message{ID: "m1", SenderID: "u2", Content: "hi"})
	stub := &stubBackend{
		pushOnConnect: &wsFrame{Type: "event", Event: EventNewMessage, Data: pushed},
	}
	endpoint := startStub(t, stub)

	type event struct {
		name string
		data json.RawMessage
	}
	events := make(chan event, 1)

	opts := stubOptions(endpoint)
	opts.OnEvent = func(name string, data json.RawMessage) {
		events <- event{name, data}
	}

	tr, err := DialWS(context.Background(), opts)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	defer tr.Close()

	select {
	case ev := <-events:
		if ev.name != EventNewMessage {
			t.Fatalf("expected new_message, got %s", ev.name)
		}
		var msg models.Message
		if err := json.Unmarshal(ev.data, &msg); err != nil || msg.ID != "m1" {
			t.Fatalf("bad pushed payload: %s (%v)", ev.data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushed event never arrived")
	}
}

func TestWSServerDisconnect(t *testing.T) {
	stub := &stubBackend{closeAfterWelcome: true}
	endpoint := startStub(t, stub)

	dropped := make(chan error, 1)
	opts := stubOptions(endpoint)
	opts.OnDisconnect = func(err error) { dropped <- err }

	tr, err := DialWS(context.Background(), opts)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	defer tr.Close()

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never fired")
	}

	if tr.Connected() {
		t.Fatal("transport must report disconnected")
	}
	if _, err := tr.Emit(context.Background(), OpGetChatRooms, struct{}{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drop, got %v", err)
	}
}

func TestWSLocalCloseSkipsDisconnectHandler(t *testing.T) {
	stub := &stubBackend{}
	endpoint := startStub(t, stub)

	dropped := make(chan error, 1)
	opts := stubOptions(endpoint)
	opts.OnDisconnect = func(err error) { dropped <- err }

	tr, err := DialWS(context.Background(), opts)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	tr.Close() // idempotent

	select {
	case err := <-dropped:
		t.Fatalf("local close must not fire the disconnect handler, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWSURLDerivation(t *testing.T) {
	opts := stubOptions("https://api.taskdeck.io")
	u, err := wsURL(opts)
	if err != nil {
		t.Fatalf("wsURL failed: %v", err)
	}
	if !strings.HasPrefix(u, "wss://api.taskdeck.io/ws?") {
		t.Fatalf("unexpected url: %s", u)
	}
	for _, want := range []string{"token=test-token", "userId=u1", "email=mika%40taskdeck.io"} {
		if !strings.Contains(u, want) {
			t.Fatalf("url missing %q: %s", want, u)
		}
	}

	opts.Endpoint = "http://localhost:5000/socket"
	u, err = wsURL(opts)
	if err != nil {
		t.Fatalf("wsURL failed: %v", err)
	}
	if !strings.HasPrefix(u, "ws://localhost:5000/socket?") {
		t.Fatalf("explicit path must be preserved: %s", u)
	}

	opts.Endpoint = "ftp://nope"
	if _, err := wsURL(opts); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
