package models

import (
	"time"
)

// Message represents a direct chat message between two users.
type Message struct {
	ID          string    `json:"id"`          // Unique message ID, assigned by the server
	SenderID    string    `json:"senderId"`    // ID of the user sending the message
	SenderName  string    `json:"senderName"`  // Display name of the sender
	SenderEmail string    `json:"senderEmail"` // Email of the sender
	ReceiverID  string    `json:"receiverId"`  // ID of the user the message is addressed to
	Content     string    `json:"content"`     // Message content, trimmed and non-empty when sent
	CreatedAt   time.Time `json:"createdAt"`   // Timestamp of message creation
	Read        bool      `json:"read"`        // Read flag, transitions false to true only
}

// ConversationKey returns the unordered participant pair identifying the
// conversation this message belongs to.
func (m Message) ConversationKey() [2]string {
	if m.SenderID < m.ReceiverID {
		return [2]string{m.SenderID, m.ReceiverID}
	}
	return [2]string{m.ReceiverID, m.SenderID}
}

// ChatRoom summarizes one conversation for the room list view.
type ChatRoom struct {
	OtherUser   User     `json:"otherUser"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}
