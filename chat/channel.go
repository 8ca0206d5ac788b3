package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
	"github.com/taskdeck/go-realtime-core/transport"
)

const (
	defaultHistoryPage  = 1
	defaultHistoryLimit = 50
)

// Channel layers the typed chat operations over the session's transport.
// Every operation ensures the session is connected first and rejects with
// ErrNotConnected when no transport can be established; none of them retry
// internally.
type Channel struct {
	session *Session
}

func NewChannel(session *Session) *Channel {
	return &Channel{session: session}
}

// emit runs one operation against a connected transport, mapping failures
// into the chat error taxonomy.
func (c *Channel) emit(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	if err := c.session.EnsureConnected(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	tr := c.session.transport()
	if tr == nil {
		return nil, ErrNotConnected
	}

	ack, err := tr.Emit(ctx, op, payload)
	if err != nil {
		var ackErr *transport.AckError
		if errors.As(err, &ackErr) {
			return nil, &RemoteError{Op: ackErr.Op, Message: ackErr.Message}
		}
		if errors.Is(err, transport.ErrClosed) {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return nil, err
	}
	return ack, nil
}

// SendMessage delivers one direct message and resolves with the
// server-confirmed record; the server-assigned id is authoritative. The
// caller appends the result to local state itself.
func (c *Channel) SendMessage(ctx context.Context, receiverID, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if receiverID == "" {
		return models.Message{}, &ValidationError{Field: "receiverId", Reason: "must not be empty"}
	}
	if content == "" {
		return models.Message{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if err := c.session.EnsureConnected(ctx); err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	sender := c.session.CurrentUser()
	payload := models.Message{
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderEmail: sender.Email,
		ReceiverID:  receiverID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	ack, err := c.emit(ctx, transport.OpSendMessage, payload)
	if err != nil {
		return models.Message{}, err
	}

	var confirmed models.Message
	if err := json.Unmarshal(ack, &confirmed); err != nil {
		return models.Message{}, fmt.Errorf("bad send_message ack: %w", err)
	}
	return confirmed, nil
}

// GetChatHistory fetches one page of the conversation with userID. The
// backend returns newest-first; callers that need chronological order
// reverse the slice themselves.
func (c *Channel) GetChatHistory(ctx context.Context, userID string, page, limit int) ([]models.Message, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if page <= 0 {
		page = defaultHistoryPage
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	payload := struct {
		UserID string `json:"userId"`
		Page   int    `json:"page"`
		Limit  int    `json:"limit"`
	}{userID, page, limit}

	ack, err := c.emit(ctx, transport.OpGetChatHistory, payload)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.Unmarshal(ack, &messages); err != nil {
		return nil, fmt.Errorf("bad get_chat_history ack: %w", err)
	}
	return messages, nil
}

// MarkMessageAsRead reports a message as read. The read flag is monotonic,
// so repeated calls for the same id are harmless. Only call this for
// messages not authored by the local user.
func (c *Channel) MarkMessageAsRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return &ValidationError{Field: "messageId", Reason: "must not be empty"}
	}

	payload := struct {
		MessageID string `json:"messageId"`
	}{messageID}

	_, err := c.emit(ctx, transport.OpMarkMessageRead, payload)
	return err
}

// GetChatRooms lists the current user's conversation summaries.
func (c *Channel) GetChatRooms(ctx context.Context) ([]models.ChatRoom, error) {
	ack, err := c.emit(ctx, transport.OpGetChatRooms, struct{}{})
	if err != nil {
		return nil, err
	}

	var rooms []models.ChatRoom
	if err := json.Unmarshal(ack, &rooms); err != nil {
		return nil, fmt.Errorf("bad get_chat_rooms ack: %w", err)
	}
	return rooms, nil
}
