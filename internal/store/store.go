// Package store implements the durable chat store on a relational database
// through GORM. It is the single source of truth for chats and messages and
// carries the atomicity guarantees the service relies on: the one-active-
// chat-per-customer invariant (partial unique index) and the single
// active->closed transition (conditional update).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lahorneada/supportchat/internal/domain"
)

var (
	// ErrChatNotFound is returned when no chat matches the lookup.
	ErrChatNotFound = errors.New("chat not found")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoAdmin is returned when no admin user exists for staff assignment.
	ErrNoAdmin = errors.New("no admin user available")
)

// ChatStore provides chat, message, and user persistence.
type ChatStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", dsn, err)
	}
	return db, nil
}

// NewChatStore creates a ChatStore over an open database handle.
func NewChatStore(db *gorm.DB, log *slog.Logger) *ChatStore {
	return &ChatStore{db: db, logger: log.WithGroup("store")}
}

// EnsureSchema migrates the tables and creates the partial unique index that
// enforces at most one active chat per customer. Safe to call on every start.
func (s *ChatStore) EnsureSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Chat{},
		&domain.Message{},
		&domain.AuditEntry{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	// Concurrent start_chat calls race to this index; the loser gets a
	// duplicate-key error and reads back the winner's chat.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_one_active_per_customer
		 ON chats (customer_id) WHERE status = 'active'`,
	).Error; err != nil {
		return fmt.Errorf("creating active-chat index: %w", err)
	}

	s.logger.Info("Schema ensured")
	return nil
}

// isDuplicateKey reports whether err is a unique-constraint violation.
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindActiveChatByCustomer returns the customer's single active chat, or
// ErrChatNotFound when none exists.
func (s *ChatStore) FindActiveChatByCustomer(ctx context.Context, customerID uint) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, domain.ChatActive).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("finding active chat for customer %d: %w", customerID, err)
	}
	return &chat, nil
}

// FindChatByID returns the chat regardless of status, or ErrChatNotFound.
func (s *ChatStore) FindChatByID(ctx context.Context, chatID uint) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.WithContext(ctx).First(&chat, chatID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("finding chat %d: %w", chatID, err)
	}
	return &chat, nil
}

// FindParticipantChat returns the chat only when userID is its customer or
// assigned staff, regardless of status. This backs the single authorization
// primitive used by join, send, and history reads.
func (s *ChatStore) FindParticipantChat(ctx context.Context, chatID, userID uint) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.WithContext(ctx).
		Where("id = ? AND (customer_id = ? OR staff_id = ?)", chatID, userID, userID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("finding chat %d for participant %d: %w", chatID, userID, err)
	}
	return &chat, nil
}

// CreateChat creates an active chat for the customer with the given staff
// assignment. The partial unique index makes find-or-create atomic: when a
// concurrent call already created the active chat, the existing chat is
// returned with created=false.
func (s *ChatStore) CreateChat(ctx context.Context, customerID, staffID uint) (*domain.Chat, bool, error) {
	chat := &domain.Chat{
		CustomerID: customerID,
		StaffID:    staffID,
		Status:     domain.ChatActive,
	}
	err := s.db.WithContext(ctx).Create(chat).Error
	if err == nil {
		return chat, true, nil
	}
	if !isDuplicateKey(err) {
		return nil, false, fmt.Errorf("creating chat for customer %d: %w", customerID, err)
	}

	existing, ferr := s.FindActiveChatByCustomer(ctx, customerID)
	if ferr != nil {
		return nil, false, fmt.Errorf("resolving create race for customer %d: %w", customerID, ferr)
	}
	return existing, false, nil
}

// CloseChat transitions the chat to closed. The conditional update makes the
// transition single-shot: transitioned is false when the chat was already
// closed. Returns ErrChatNotFound when the chat does not exist at all.
func (s *ChatStore) CloseChat(ctx context.Context, chatID uint) (*domain.Chat, bool, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND status = ?", chatID, domain.ChatActive).
		Update("status", domain.ChatClosed)
	if res.Error != nil {
		return nil, false, fmt.Errorf("closing chat %d: %w", chatID, res.Error)
	}

	chat, err := s.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return chat, res.RowsAffected > 0, nil
}

// CreateMessage persists a message. CreatedAt is assigned by the store.
func (s *ChatStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("creating message in chat %d: %w", msg.ChatID, err)
	}
	return nil
}

// FindMessagesByChat returns the chat's messages in createdAt-ascending
// order. A zero limit returns the full history.
func (s *ChatStore) FindMessagesByChat(ctx context.Context, chatID uint, limit, offset int) ([]domain.Message, error) {
	q := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	} else if offset > 0 {
		// SQLite rejects OFFSET without LIMIT.
		q = q.Limit(math.MaxInt)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var messages []domain.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("finding messages for chat %d: %w", chatID, err)
	}
	return messages, nil
}

// FindLastMessage returns the chat's most recent message, or nil when the
// chat has none.
func (s *ChatStore) FindLastMessage(ctx context.Context, chatID uint) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding last message for chat %d: %w", chatID, err)
	}
	return &msg, nil
}

// FindChatsByParticipant returns every chat with the given status where
// userID is customer or staff, newest first.
func (s *ChatStore) FindChatsByParticipant(ctx context.Context, userID uint, status domain.ChatStatus) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := s.db.WithContext(ctx).
		Where("(customer_id = ? OR staff_id = ?) AND status = ?", userID, userID, status).
		Order("created_at DESC, id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("finding chats for participant %d: %w", userID, err)
	}
	return chats, nil
}

// FindChatsByStatus returns every chat with the given status, newest first.
// Backs the staff admin listing.
func (s *ChatStore) FindChatsByStatus(ctx context.Context, status domain.ChatStatus) ([]domain.Chat, error) {
	var chats []domain.Chat
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC, id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("finding chats with status %q: %w", status, err)
	}
	return chats, nil
}

// FindAnyAdmin returns an admin user for staff assignment, or ErrNoAdmin.
// Assignment policy is deliberately simple: any admin, no load balancing.
func (s *ChatStore) FindAnyAdmin(ctx context.Context) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).
		Where("role = ?", domain.RoleAdmin).
		Order("id ASC").
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoAdmin
		}
		return nil, fmt.Errorf("finding admin user: %w", err)
	}
	return &user, nil
}

// FindUserByID returns the user, or ErrUserNotFound.
func (s *ChatStore) FindUserByID(ctx context.Context, userID uint) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("finding user %d: %w", userID, err)
	}
	return &user, nil
}

// CreateUser inserts a user row. Used by seeding and tests; account
// management proper is owned by the user-service collaborator.
func (s *ChatStore) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user %q: %w", user.Email, err)
	}
	return nil
}

// Ping verifies database connectivity for readiness checks.
func (s *ChatStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB exposes the underlying handle for collaborators that share the
// database, such as the audit recorder.
func (s *ChatStore) DB() *gorm.DB {
	return s.db
}
