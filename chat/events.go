package chat

import (
	"sync"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
)

// StatusChange is the normalized shape for the backend's separate
// user_online and user_offline events.
type StatusChange struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ChatListUpdate lets a conversation list resort and bump unread badges
// without refetching rooms.
type ChatListUpdate struct {
	OtherUserID     string    `json:"otherUserId"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	UnreadIncrement int       `json:"unreadIncrement,omitempty"`
}

// Bus converts server-pushed events into revocable local subscriptions.
// Every On* method returns a disposer that removes exactly that
// registration; disposers are idempotent and safe to call in any order
// relative to connection state. The bus does no filtering: OnNewMessage
// fires for every inbound message regardless of conversation.
type Bus struct {
	mu   sync.Mutex
	next int

	newMessage  map[int]func(models.Message)
	messageRead map[int]func(messageID string)
	status      map[int]func(StatusChange)
	chatList    map[int]func(ChatListUpdate)
	connFailed  map[int]func(error)
}

func NewBus() *Bus {
	return &Bus{
		newMessage:  make(map[int]func(models.Message)),
		messageRead: make(map[int]func(string)),
		status:      make(map[int]func(StatusChange)),
		chatList:    make(map[int]func(ChatListUpdate)),
		connFailed:  make(map[int]func(error)),
	}
}

func (b *Bus) register() int {
	id := b.next
	b.next++
	return id
}

// OnNewMessage registers a callback for every inbound message.
func (b *Bus) OnNewMessage(cb func(models.Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.newMessage[id] = cb
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.newMessage, id)
	}
}

// OnMessageRead registers a callback for read receipts, keyed by message
// id. Receipts may arrive in any order; treat them as idempotent flag
// updates.
func (b *Bus) OnMessageRead(cb func(messageID string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.messageRead[id] = cb
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.messageRead, id)
	}
}

// OnUserStatusChange registers a callback for presence changes.
func (b *Bus) OnUserStatusChange(cb func(StatusChange)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.status[id] = cb
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.status, id)
	}
}

// OnChatListUpdate registers a callback for conversation list updates.
func (b *Bus) OnChatListUpdate(cb func(ChatListUpdate)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.chatList[id] = cb
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.chatList, id)
	}
}

// OnConnectionFailed registers a callback fired once reconnect attempts are
// exhausted and the session has moved to the failed state.
func (b *Bus) OnConnectionFailed(cb func(error)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register()
	b.connFailed[id] = cb
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.connFailed, id)
	}
}

// The emit helpers snapshot the registry under the lock and invoke the
// callbacks outside it, so a callback can register or dispose freely.

func (b *Bus) emitNewMessage(msg models.Message) {
	b.mu.Lock()
	cbs := make([]func(models.Message), 0, len(b.newMessage))
	for _, cb := range b.newMessage {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
}

func (b *Bus) emitMessageRead(messageID string) {
	b.mu.Lock()
	cbs := make([]func(string), 0, len(b.messageRead))
	for _, cb := range b.messageRead {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(messageID)
	}
}

func (b *Bus) emitStatusChange(change StatusChange) {
	b.mu.Lock()
	cbs := make([]func(StatusChange), 0, len(b.status))
	for _, cb := range b.status {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(change)
	}
}

func (b *Bus) emitChatListUpdate(update ChatListUpdate) {
	b.mu.Lock()
	cbs := make([]func(ChatListUpdate), 0, len(b.chatList))
	for _, cb := range b.chatList {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(update)
	}
}

func (b *Bus) emitConnectionFailed(err error) {
	b.mu.Lock()
	cbs := make([]func(error), 0, len(b.connFailed))
	for _, cb := range b.connFailed {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}
