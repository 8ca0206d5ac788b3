package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
)

// Operation names understood by the chat backend.
const (
	OpSendMessage     = "send_message"
	OpGetChatHistory  = "get_chat_history"
	OpMarkMessageRead = "mark_message_read"
	OpGetChatRooms    = "get_chat_rooms"
	OpJoinUserRoom    = "join_user_room"
)

// Event names pushed by the chat backend.
const (
	EventConnect        = "connect"
	EventNewMessage     = "new_message"
	EventMessageRead    = "message_read"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventChatListUpdate = "chat_list_update"
)

// ErrClosed is returned by Emit after the transport has been closed or the
// underlying connection dropped.
var ErrClosed = errors.New("transport: closed")

// EventHandler receives a server-pushed event by name with its raw payload.
type EventHandler func(event string, data json.RawMessage)

// DisconnectHandler is invoked at most once when the connection drops
// without Close having been called locally.
type DisconnectHandler func(err error)

// Options carries everything a transport needs to dial. Handlers must be
// set before dialing so no event can be lost between connect and
// registration.
type Options struct {
	Endpoint       string
	Token          string
	Identity       models.User
	ConnectTimeout time.Duration

	OnEvent      EventHandler
	OnDisconnect DisconnectHandler
	Logger       *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Transport is one bidirectional connection to the chat backend. Emit
// follows the backend's emit-with-acknowledgement pattern: the returned
// payload is the acknowledgement body, and a backend-reported failure
// surfaces as *AckError.
type Transport interface {
	Emit(ctx context.Context, op string, payload any) (json.RawMessage, error)
	Connected() bool
	Close() error
}

// AckError is a domain-level failure reported inside an acknowledgement.
type AckError struct {
	Op      string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("transport: %s failed: %s", e.Op, e.Message)
}

// ackFailure extracts a backend-reported error from an ack payload, if any.
func ackFailure(op string, data json.RawMessage) error {
	var body struct {
		Error string `json:"error"`
	}
	if len(data) > 0 && json.Unmarshal(data, &body) == nil && body.Error != "" {
		return &AckError{Op: op, Message: body.Error}
	}
	return nil
}
