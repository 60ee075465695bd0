package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lahorneada/supportchat/internal/audit"
	"github.com/lahorneada/supportchat/internal/auth"
	"github.com/lahorneada/supportchat/internal/domain"
	chaterrors "github.com/lahorneada/supportchat/internal/errors"
	"github.com/lahorneada/supportchat/internal/store"
)

type fixture struct {
	service  *Service
	store    *store.ChatStore
	customer *auth.Principal
	admin    *auth.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := store.Open(dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	chatStore := store.NewChatStore(db, logger)
	require.NoError(t, chatStore.EnsureSchema(context.Background()))

	ctx := context.Background()
	customer := &domain.User{Name: "Ana", Email: "ana@example.com", Role: domain.RoleCustomer}
	require.NoError(t, chatStore.CreateUser(ctx, customer))
	admin := &domain.User{Name: "Marta", Email: "marta@example.com", Role: domain.RoleAdmin}
	require.NoError(t, chatStore.CreateUser(ctx, admin))

	return &fixture{
		service:  NewService(chatStore, audit.NewRecorder(db, logger), logger),
		store:    chatStore,
		customer: &auth.Principal{ID: customer.ID, Email: customer.Email, Name: customer.Name, Role: customer.Role},
		admin:    &auth.Principal{ID: admin.ID, Email: admin.Email, Name: admin.Name, Role: admin.Role},
	}
}

func (f *fixture) addCustomer(t *testing.T, email string) *auth.Principal {
	t.Helper()
	u := &domain.User{Email: email, Role: domain.RoleCustomer}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return &auth.Principal{ID: u.ID, Email: u.Email, Role: u.Role}
}

func assertCode(t *testing.T, err error, code chaterrors.Code) {
	t.Helper()
	chatErr, ok := chaterrors.As(err)
	require.True(t, ok, "expected ChatError, got %v", err)
	assert.Equal(t, code, chatErr.Code)
}

func TestStartChat_CreatesAndAssignsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	assert.True(t, result.IsNew)
	assert.Equal(t, f.customer.ID, result.Chat.CustomerID)
	assert.Equal(t, f.admin.ID, result.Chat.StaffID)
	assert.Equal(t, domain.ChatActive, result.Chat.Status)
	assert.Nil(t, result.LastMessage)
}

func TestStartChat_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	require.True(t, first.IsNew)

	_, err = f.service.SendMessage(ctx, f.customer, first.Chat.ID, "hola")
	require.NoError(t, err)

	second, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Chat.ID, second.Chat.ID)
	require.NotNil(t, second.LastMessage)
	assert.Equal(t, "hola", second.LastMessage.Text)
}

func TestStartChat_StaffForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.StartChat(context.Background(), f.admin)
	assertCode(t, err, chaterrors.CodeForbidden)
}

func TestStartChat_NoAdminAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Remove the only admin so assignment has no candidate.
	require.NoError(t, f.store.DB().Delete(&domain.User{}, f.admin.ID).Error)

	_, err := f.service.StartChat(ctx, f.customer)
	assertCode(t, err, chaterrors.CodeNoStaffAvailable)
}

func TestStartChat_FreshChatAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	_, _, err = f.service.CloseChat(ctx, f.admin, first.Chat.ID)
	require.NoError(t, err)

	second, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	assert.True(t, second.IsNew)
	assert.NotEqual(t, first.Chat.ID, second.Chat.ID)
}

func TestJoinChat_Participants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	chat, err := f.service.JoinChat(ctx, f.customer, result.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Chat.ID, chat.ID)

	chat, err = f.service.JoinChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Chat.ID, chat.ID)
}

func TestJoinChat_OutsiderDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	outsider := f.addCustomer(t, "luis@example.com")
	_, err = f.service.JoinChat(ctx, outsider, result.Chat.ID)
	assertCode(t, err, chaterrors.CodeAccessDenied)
}

func TestJoinChat_MissingChatDenied(t *testing.T) {
	f := newFixture(t)

	// Missing and inaccessible chats are indistinguishable to the caller.
	_, err := f.service.JoinChat(context.Background(), f.customer, 999)
	assertCode(t, err, chaterrors.CodeAccessDenied)
}

func TestJoinChat_ClosedChatStillJoinable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	_, _, err = f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)

	chat, err := f.service.JoinChat(ctx, f.customer, result.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatClosed, chat.Status)
}

func TestSendMessage_CustomerAndStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	msg, err := f.service.SendMessage(ctx, f.customer, result.Chat.ID, "necesito ayuda")
	require.NoError(t, err)
	assert.Equal(t, f.customer.ID, msg.AuthorID)
	assert.False(t, msg.IsStaffAuthor)

	reply, err := f.service.SendMessage(ctx, f.admin, result.Chat.ID, "claro, dime")
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, reply.AuthorID)
	assert.True(t, reply.IsStaffAuthor)
}

func TestSendMessage_ChatNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SendMessage(context.Background(), f.customer, 999, "hola")
	assertCode(t, err, chaterrors.CodeChatNotFound)
}

func TestSendMessage_ClosedChatRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	_, _, err = f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, f.customer, result.Chat.ID, "hola?")
	assertCode(t, err, chaterrors.CodeChatClosed)
}

func TestSendMessage_UnassignedStaffDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	// A second staff member not assigned to this chat.
	other := &domain.User{Email: "staff2@example.com", Role: domain.RoleStaff}
	require.NoError(t, f.store.CreateUser(ctx, other))
	otherStaff := &auth.Principal{ID: other.ID, Email: other.Email, Role: other.Role}

	_, err = f.service.SendMessage(ctx, otherStaff, result.Chat.ID, "intruso")
	assertCode(t, err, chaterrors.CodeAccessDenied)
}

func TestSendMessage_OtherCustomerDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	outsider := f.addCustomer(t, "luis@example.com")
	_, err = f.service.SendMessage(ctx, outsider, result.Chat.ID, "hola")
	assertCode(t, err, chaterrors.CodeAccessDenied)
}

func TestGetChatMessages_OrderAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	for _, text := range []string{"uno", "dos", "tres"} {
		_, err := f.service.SendMessage(ctx, f.customer, result.Chat.ID, text)
		require.NoError(t, err)
	}

	messages, err := f.service.GetChatMessages(ctx, f.admin, result.Chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "uno", messages[0].Text)
	assert.Equal(t, "tres", messages[2].Text)

	outsider := f.addCustomer(t, "luis@example.com")
	_, err = f.service.GetChatMessages(ctx, outsider, result.Chat.ID, 0, 0)
	assertCode(t, err, chaterrors.CodeAccessDenied)
}

func TestGetChatMessages_ClosedChatReadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)
	_, err = f.service.SendMessage(ctx, f.customer, result.Chat.ID, "antes de cerrar")
	require.NoError(t, err)
	_, _, err = f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)

	messages, err := f.service.GetChatMessages(ctx, f.customer, result.Chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "antes de cerrar", messages[0].Text)
}

func TestCloseChat_StaffOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	_, _, err = f.service.CloseChat(ctx, f.customer, result.Chat.ID)
	assertCode(t, err, chaterrors.CodeForbidden)

	chat, transitioned, err := f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, domain.ChatClosed, chat.Status)
}

func TestCloseChat_AnyStaffMayClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	// Closing does not require being the assigned staff member.
	other := &domain.User{Email: "staff2@example.com", Role: domain.RoleStaff}
	require.NoError(t, f.store.CreateUser(ctx, other))
	otherStaff := &auth.Principal{ID: other.ID, Email: other.Email, Role: other.Role}

	_, transitioned, err := f.service.CloseChat(ctx, otherStaff, result.Chat.ID)
	require.NoError(t, err)
	assert.True(t, transitioned)
}

func TestCloseChat_RepeatIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	_, transitioned, err := f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)
	require.True(t, transitioned)

	chat, transitioned, err := f.service.CloseChat(ctx, f.admin, result.Chat.ID)
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, domain.ChatClosed, chat.Status)
}

func TestCloseChat_NotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.CloseChat(context.Background(), f.admin, 999)
	assertCode(t, err, chaterrors.CodeChatNotFound)
}

func TestGetMyChats_ActiveOnlyMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	second := f.addCustomer(t, "luis@example.com")
	secondChat, err := f.service.StartChat(ctx, second)
	require.NoError(t, err)

	// Activity in the older chat makes it most recent for the admin.
	time.Sleep(5 * time.Millisecond)
	_, err = f.service.SendMessage(ctx, f.customer, first.Chat.ID, "ping")
	require.NoError(t, err)

	adminChats, err := f.service.GetMyChats(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, adminChats, 2)
	assert.Equal(t, first.Chat.ID, adminChats[0].Chat.ID)
	require.NotNil(t, adminChats[0].LastMessage)
	assert.Equal(t, "ping", adminChats[0].LastMessage.Text)

	// Closed chats drop out of the listing.
	_, _, err = f.service.CloseChat(ctx, f.admin, secondChat.Chat.ID)
	require.NoError(t, err)
	adminChats, err = f.service.GetMyChats(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, adminChats, 1)
	assert.Equal(t, first.Chat.ID, adminChats[0].Chat.ID)

	customerChats, err := f.service.GetMyChats(ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, customerChats, 1)
}

func TestListChats_StaffOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.StartChat(ctx, f.customer)
	require.NoError(t, err)

	_, err = f.service.ListChats(ctx, f.customer, domain.ChatActive)
	assertCode(t, err, chaterrors.CodeForbidden)

	active, err := f.service.ListChats(ctx, f.admin, domain.ChatActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, result.Chat.ID, active[0].Chat.ID)

	closed, err := f.service.ListChats(ctx, f.admin, domain.ChatClosed)
	require.NoError(t, err)
	assert.Empty(t, closed)
}
