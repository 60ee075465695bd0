// Package event defines the wire protocol carried over the WebSocket
// connection: client requests, per-request replies, and server pushes.
// Every client request produces exactly one reply; pushes are broadcast to
// room members and are not tied to any request.
package event

import (
	"encoding/json"
	"time"

	"github.com/lahorneada/supportchat/internal/domain"
)

// Name identifies a protocol event.
type Name string

// Client -> server events. Each produces exactly one reply.
const (
	StartChat       Name = "start_chat"
	JoinChat        Name = "join_chat"
	SendMessage     Name = "send_message"
	GetMyChats      Name = "get_my_chats"
	GetChatMessages Name = "get_chat_messages"
	CloseChat       Name = "close_chat"
)

// Server -> client pushes.
const (
	NewMessage Name = "new_message"
	ChatClosed Name = "chat_closed"
)

// Known reports whether n is a dispatchable client event.
func (n Name) Known() bool {
	switch n {
	case StartChat, JoinChat, SendMessage, GetMyChats, GetChatMessages, CloseChat:
		return true
	}
	return false
}

// Request is the envelope for every client-initiated event. ID is an opaque
// client-chosen correlation token echoed back on the reply.
type Request struct {
	Event Name            `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorInfo is the client-facing error payload attached to failed replies.
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Header is embedded in every reply to correlate it with its request.
type Header struct {
	Event   Name   `json:"event"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
}

// NewHeader builds a success header echoing the request's event and ID.
func NewHeader(req *Request) Header {
	return Header{Event: req.Event, ID: req.ID, Success: true}
}

// ErrorReply is the single failure shape for any event.
type ErrorReply struct {
	Header
	Error *ErrorInfo `json:"error"`
}

// StartChatReply returns the customer's active chat, created or recovered.
type StartChatReply struct {
	Header
	Chat  *ChatPreview `json:"chat"`
	IsNew bool         `json:"is_new"`
	Info  string       `json:"message,omitempty"`
}

// JoinChatReply confirms room subscription for an accessible chat.
type JoinChatReply struct {
	Header
	Chat *ChatView `json:"chat"`
	Info string    `json:"message,omitempty"`
}

// SendMessageReply carries the persisted, author-enriched message.
type SendMessageReply struct {
	Header
	Message *MessageView `json:"message"`
}

// MyChatsReply lists the caller's active chats, most recent activity first.
type MyChatsReply struct {
	Header
	Chats []ChatPreview `json:"chats"`
}

// ChatMessagesReply carries a chat's history in createdAt-ascending order.
type ChatMessagesReply struct {
	Header
	Messages []MessageView `json:"messages"`
}

// CloseChatReply confirms the chat's transition to closed (or that it
// already was closed).
type CloseChatReply struct {
	Header
	Chat *ChatView `json:"chat"`
	Info string    `json:"message,omitempty"`
}

// NewMessagePush is broadcast to every connection joined to the chat's room
// when a message is persisted, including the sender's other connections.
type NewMessagePush struct {
	Event   Name         `json:"event"`
	ChatID  uint         `json:"chat_id"`
	Message *MessageView `json:"message"`
}

// ChatClosedPush is broadcast to the chat's room when it transitions to closed.
type ChatClosedPush struct {
	Event    Name   `json:"event"`
	ChatID   uint   `json:"chat_id"`
	ClosedBy string `json:"closed_by"`
}

// ChatView is the client-facing projection of a chat.
type ChatView struct {
	ID         uint      `json:"id"`
	CustomerID uint      `json:"customer_id"`
	StaffID    uint      `json:"staff_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatPreview is a ChatView with the most recent message attached, used in
// chat listings.
type ChatPreview struct {
	ChatView
	LastMessage *MessageView `json:"last_message,omitempty"`
}

// MessageView is the client-facing projection of a message. AuthorName and
// AuthorRole are derived for rendering at send time and are not persisted;
// history reads leave them empty.
type MessageView struct {
	ID            uint      `json:"id"`
	ChatID        uint      `json:"chat_id"`
	AuthorID      uint      `json:"author_id"`
	AuthorName    string    `json:"author_name,omitempty"`
	AuthorRole    string    `json:"author_role,omitempty"`
	IsStaffAuthor bool      `json:"is_staff_author"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// ViewChat projects a domain chat for the wire.
func ViewChat(c *domain.Chat) *ChatView {
	if c == nil {
		return nil
	}
	return &ChatView{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		StaffID:    c.StaffID,
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt,
	}
}

// ViewMessage projects a domain message for the wire without author enrichment.
func ViewMessage(m *domain.Message) *MessageView {
	if m == nil {
		return nil
	}
	return &MessageView{
		ID:            m.ID,
		ChatID:        m.ChatID,
		AuthorID:      m.AuthorID,
		IsStaffAuthor: m.IsStaffAuthor,
		Text:          m.Text,
		CreatedAt:     m.CreatedAt,
	}
}
