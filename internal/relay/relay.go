// Package relay persists outbound chat events through the session manager
// and fans them out to the chat's room. The session manager decides
// authorization; the relay owns delivery. Broadcasts are fire-and-forget:
// peers that are not connected simply miss the push and catch up through
// chat history.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lahorneada/supportchat/internal/auth"
	"github.com/lahorneada/supportchat/internal/chat"
	"github.com/lahorneada/supportchat/internal/domain"
	"github.com/lahorneada/supportchat/internal/event"
	"github.com/lahorneada/supportchat/internal/room"
	"github.com/lahorneada/supportchat/internal/util"
)

// Relay couples the session manager to the room registry.
type Relay struct {
	service *chat.Service
	rooms   *room.Registry
	logger  *slog.Logger

	// mu guards locks. Each chat gets its own mutex held across the
	// persist+broadcast pair so room members never see a later message
	// before an earlier one; connection goroutines alone order frames per
	// connection, not per chat.
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewRelay creates a Relay.
func NewRelay(svc *chat.Service, rooms *room.Registry, log *slog.Logger) *Relay {
	return &Relay{
		service: svc,
		rooms:   rooms,
		logger:  log.WithGroup("relay"),
		locks:   make(map[uint]*sync.Mutex),
	}
}

// chatLock returns the mutex serializing outbound events for one chat.
func (r *Relay) chatLock(chatID uint) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[chatID] = l
	}
	return l
}

// SendMessage persists the message and broadcasts it, enriched with the
// author's display name and role, to every connection in the chat's room,
// including the sender's own other connections. The enriched view is also
// returned for the sender's reply. The chat lock spans persist and
// broadcast: broadcast order matches persistence order for every chat.
func (r *Relay) SendMessage(ctx context.Context, p *auth.Principal, chatID uint, text string) (*event.MessageView, error) {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := r.service.SendMessage(ctx, p, chatID, text)
	if err != nil {
		return nil, err
	}

	view := enrich(msg, p)
	r.push(chatID, &event.NewMessagePush{
		Event:   event.NewMessage,
		ChatID:  chatID,
		Message: view,
	})
	return view, nil
}

// CloseChat transitions the chat through the session manager and, on the
// first (and only) transition, notifies the chat's room. Re-closing an
// already-closed chat succeeds without a broadcast. The chat lock keeps the
// close ordered against in-flight sends: chat_closed never overtakes a
// message persisted before the transition.
func (r *Relay) CloseChat(ctx context.Context, p *auth.Principal, chatID uint) (*domain.Chat, error) {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	closed, transitioned, err := r.service.CloseChat(ctx, p, chatID)
	if err != nil {
		return nil, err
	}

	if transitioned {
		r.push(chatID, &event.ChatClosedPush{
			Event:    event.ChatClosed,
			ChatID:   chatID,
			ClosedBy: p.Email,
		})
	}
	return closed, nil
}

// push marshals and broadcasts a payload to the chat's room.
func (r *Relay) push(chatID uint, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		util.LogError(r.logger, "relay", "marshal broadcast payload", err, "chat_id", chatID)
		return
	}

	delivered := r.rooms.Broadcast(chatID, data)
	r.logger.Debug("Broadcast delivered",
		"chat_id", chatID,
		"recipients", delivered)
}

// enrich projects a persisted message for the wire with the author's
// display name and role attached for client rendering. Derived, never persisted.
func enrich(msg *domain.Message, p *auth.Principal) *event.MessageView {
	view := event.ViewMessage(msg)
	view.AuthorName = p.DisplayName()
	view.AuthorRole = string(p.Role)
	return view
}
