// Package chat implements the chat session manager: the single active chat
// per customer, staff assignment, status transitions, and the authorization
// rules for every chat operation. It decides authorization only; delivery to
// connected peers belongs to the relay.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lahorneada/supportchat/internal/audit"
	"github.com/lahorneada/supportchat/internal/auth"
	"github.com/lahorneada/supportchat/internal/domain"
	chaterrors "github.com/lahorneada/supportchat/internal/errors"
	"github.com/lahorneada/supportchat/internal/metrics"
	"github.com/lahorneada/supportchat/internal/store"
)

// Service coordinates chat lifecycle and authorization over the chat store.
type Service struct {
	store  *store.ChatStore
	audit  *audit.Recorder
	logger *slog.Logger
}

// NewService creates the session manager.
func NewService(st *store.ChatStore, rec *audit.Recorder, log *slog.Logger) *Service {
	return &Service{
		store:  st,
		audit:  rec,
		logger: log.WithGroup("chat"),
	}
}

// ChatSummary pairs a chat with its most recent message for listings.
type ChatSummary struct {
	Chat        domain.Chat
	LastMessage *domain.Message
}

// lastActivity is the sort key for listings: latest message time, falling
// back to the chat's creation time.
func (cs *ChatSummary) lastActivity() time.Time {
	if cs.LastMessage != nil {
		return cs.LastMessage.CreatedAt
	}
	return cs.Chat.CreatedAt
}

// StartChatResult is the outcome of StartChat: the customer's active chat,
// whether it was just created, and its latest message for preview.
type StartChatResult struct {
	Chat        *domain.Chat
	LastMessage *domain.Message
	IsNew       bool
}

// StartChat returns the customer's single active chat, creating one with a
// staff assignment when none exists. Idempotent: a repeated call returns the
// existing chat with IsNew=false. Only customers may start chats.
func (s *Service) StartChat(ctx context.Context, p *auth.Principal) (*StartChatResult, error) {
	if p.Role != domain.RoleCustomer {
		s.logger.Warn("Non-customer attempted to start chat", "user_id", p.ID, "role", p.Role)
		return nil, chaterrors.ErrForbidden("Only customers can start chats")
	}

	existing, err := s.store.FindActiveChatByCustomer(ctx, p.ID)
	if err == nil {
		last, lerr := s.store.FindLastMessage(ctx, existing.ID)
		if lerr != nil {
			return nil, chaterrors.ErrInternal(lerr)
		}
		s.logger.Info("Customer already has an active chat", "user_id", p.ID, "chat_id", existing.ID)
		return &StartChatResult{Chat: existing, LastMessage: last, IsNew: false}, nil
	}
	if !errors.Is(err, store.ErrChatNotFound) {
		return nil, chaterrors.ErrInternal(err)
	}

	staff, err := s.store.FindAnyAdmin(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoAdmin) {
			s.logger.Error("No admin available for chat assignment", "user_id", p.ID)
			return nil, chaterrors.ErrNoStaffAvailable()
		}
		return nil, chaterrors.ErrInternal(err)
	}

	chat, created, err := s.store.CreateChat(ctx, p.ID, staff.ID)
	if err != nil {
		return nil, chaterrors.ErrInternal(err)
	}
	if created {
		metrics.ChatsStarted.Inc()
		s.audit.Record(ctx, &domain.AuditEntry{
			Entity:     audit.EntityChat,
			Action:     audit.ActionCreate,
			RecordID:   chat.ID,
			ActorID:    p.ID,
			ActorEmail: p.Email,
			Detail:     fmt.Sprintf("assigned staff %d", chat.StaffID),
		})
		s.logger.Info("Chat created",
			"chat_id", chat.ID,
			"customer_id", chat.CustomerID,
			"staff_id", chat.StaffID)
		return &StartChatResult{Chat: chat, IsNew: true}, nil
	}

	// Lost a concurrent create race; the other connection's chat wins.
	last, lerr := s.store.FindLastMessage(ctx, chat.ID)
	if lerr != nil {
		return nil, chaterrors.ErrInternal(lerr)
	}
	return &StartChatResult{Chat: chat, LastMessage: last, IsNew: false}, nil
}

// CanAccessChat is the single authorization primitive shared by join, send,
// and history reads: it returns the chat only when the principal is its
// customer or assigned staff, regardless of status. Closed chats remain
// readable by former participants.
func (s *Service) CanAccessChat(ctx context.Context, p *auth.Principal, chatID uint) (*domain.Chat, error) {
	chat, err := s.store.FindParticipantChat(ctx, chatID, p.ID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			s.logger.Warn("Chat access denied", "user_id", p.ID, "chat_id", chatID)
			return nil, chaterrors.ErrAccessDenied()
		}
		return nil, chaterrors.ErrInternal(err)
	}
	return chat, nil
}

// JoinChat authorizes room subscription for a chat. The transport-level
// subscription itself is the caller's side effect.
func (s *Service) JoinChat(ctx context.Context, p *auth.Principal, chatID uint) (*domain.Chat, error) {
	chat, err := s.CanAccessChat(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Chat join authorized", "user_id", p.ID, "chat_id", chatID)
	return chat, nil
}

// GetMyChats returns the principal's active chats with last-message
// previews, ordered by most recent activity.
func (s *Service) GetMyChats(ctx context.Context, p *auth.Principal) ([]ChatSummary, error) {
	chats, err := s.store.FindChatsByParticipant(ctx, p.ID, domain.ChatActive)
	if err != nil {
		return nil, chaterrors.ErrInternal(err)
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		last, lerr := s.store.FindLastMessage(ctx, c.ID)
		if lerr != nil {
			return nil, chaterrors.ErrInternal(lerr)
		}
		summaries = append(summaries, ChatSummary{Chat: c, LastMessage: last})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].lastActivity().After(summaries[j].lastActivity())
	})
	return summaries, nil
}

// SendMessage validates a write against the chat's state and authorization
// rule and persists the message. Staff may write only to chats they are
// assigned to; customers only to their own.
func (s *Service) SendMessage(ctx context.Context, p *auth.Principal, chatID uint, text string) (*domain.Message, error) {
	chat, err := s.store.FindChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			return nil, chaterrors.ErrChatNotFound(chatID)
		}
		return nil, chaterrors.ErrInternal(err)
	}
	if !chat.IsActive() {
		s.logger.Warn("Write to closed chat rejected", "user_id", p.ID, "chat_id", chatID)
		return nil, chaterrors.ErrChatClosed(chatID)
	}

	isStaff := p.Role.IsStaff()
	var hasAccess bool
	if isStaff {
		hasAccess = chat.StaffID == p.ID
	} else {
		hasAccess = chat.CustomerID == p.ID
	}
	if !hasAccess {
		s.logger.Warn("Write access denied", "user_id", p.ID, "chat_id", chatID)
		return nil, chaterrors.ErrAccessDenied()
	}

	msg := &domain.Message{
		ChatID:        chatID,
		AuthorID:      p.ID,
		IsStaffAuthor: isStaff,
		Text:          text,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, chaterrors.ErrInternal(err)
	}

	metrics.MessagesPersisted.Inc()
	s.audit.Record(ctx, &domain.AuditEntry{
		Entity:     audit.EntityMessage,
		Action:     audit.ActionMessage,
		RecordID:   msg.ID,
		ActorID:    p.ID,
		ActorEmail: p.Email,
		Detail:     fmt.Sprintf("chat %d", chatID),
	})
	s.logger.Info("Message persisted", "chat_id", chatID, "message_id", msg.ID, "user_id", p.ID)
	return msg, nil
}

// GetChatMessages returns a chat's history in createdAt-ascending order for
// any participant, including participants of closed chats. A zero limit
// returns the full history.
func (s *Service) GetChatMessages(ctx context.Context, p *auth.Principal, chatID uint, limit, offset int) ([]domain.Message, error) {
	if _, err := s.CanAccessChat(ctx, p, chatID); err != nil {
		return nil, err
	}

	messages, err := s.store.FindMessagesByChat(ctx, chatID, limit, offset)
	if err != nil {
		return nil, chaterrors.ErrInternal(err)
	}
	return messages, nil
}

// CloseChat transitions the chat to closed. Staff-only, regardless of
// assignment. Closing an already-closed chat is a no-op success with
// transitioned=false, so only the first close triggers a broadcast.
func (s *Service) CloseChat(ctx context.Context, p *auth.Principal, chatID uint) (*domain.Chat, bool, error) {
	if !p.Role.IsStaff() {
		s.logger.Warn("Non-staff attempted to close chat", "user_id", p.ID, "chat_id", chatID)
		return nil, false, chaterrors.ErrForbidden("Only staff can close chats")
	}

	chat, transitioned, err := s.store.CloseChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			return nil, false, chaterrors.ErrChatNotFound(chatID)
		}
		return nil, false, chaterrors.ErrInternal(err)
	}

	if transitioned {
		metrics.ChatsClosed.Inc()
		s.audit.Record(ctx, &domain.AuditEntry{
			Entity:     audit.EntityChat,
			Action:     audit.ActionClose,
			RecordID:   chatID,
			ActorID:    p.ID,
			ActorEmail: p.Email,
		})
		s.logger.Info("Chat closed", "chat_id", chatID, "closed_by", p.Email)
	}
	return chat, transitioned, nil
}

// ListChats returns every chat with the given status for the staff admin
// surface, with previews, newest activity first.
func (s *Service) ListChats(ctx context.Context, p *auth.Principal, status domain.ChatStatus) ([]ChatSummary, error) {
	if !p.Role.IsStaff() {
		return nil, chaterrors.ErrForbidden("Only staff can list all chats")
	}

	chats, err := s.store.FindChatsByStatus(ctx, status)
	if err != nil {
		return nil, chaterrors.ErrInternal(err)
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		last, lerr := s.store.FindLastMessage(ctx, c.ID)
		if lerr != nil {
			return nil, chaterrors.ErrInternal(lerr)
		}
		summaries = append(summaries, ChatSummary{Chat: c, LastMessage: last})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].lastActivity().After(summaries[j].lastActivity())
	})
	return summaries, nil
}
