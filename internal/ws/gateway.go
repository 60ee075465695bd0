package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/lahorneada/supportchat/internal/chat"
	"github.com/lahorneada/supportchat/internal/domain"
	chaterrors "github.com/lahorneada/supportchat/internal/errors"
	"github.com/lahorneada/supportchat/internal/event"
	"github.com/lahorneada/supportchat/internal/metrics"
	"github.com/lahorneada/supportchat/internal/ratelimit"
	"github.com/lahorneada/supportchat/internal/relay"
	"github.com/lahorneada/supportchat/internal/room"
	"github.com/lahorneada/supportchat/internal/util"
)

// Gateway dispatches decoded client events to the session manager and the
// relay, and builds exactly one reply per request.
type Gateway struct {
	service    *chat.Service
	relay      *relay.Relay
	rooms      *room.Registry
	msgLimiter *ratelimit.MessageLimiter
	logger     *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(svc *chat.Service, rl *relay.Relay, rooms *room.Registry, ml *ratelimit.MessageLimiter, log *slog.Logger) *Gateway {
	return &Gateway{
		service:    svc,
		relay:      rl,
		rooms:      rooms,
		msgLimiter: ml,
		logger:     log.WithGroup("gateway"),
	}
}

// Dispatch handles one client request and returns the marshaled reply.
// Errors never escape: every failure becomes an error reply correlated to
// the request.
func (g *Gateway) Dispatch(ctx context.Context, conn *Connection, req *event.Request) []byte {
	metrics.EventsReceived.WithLabelValues(string(req.Event)).Inc()
	started := time.Now()
	defer func() {
		metrics.EventDuration.WithLabelValues(string(req.Event)).Observe(time.Since(started).Seconds())
	}()

	defer metrics.RepliesSent.WithLabelValues(string(req.Event)).Inc()

	reply, err := g.handle(ctx, conn, req)
	if err != nil {
		return g.errorReply(conn, req, err)
	}

	data, err := json.Marshal(reply)
	if err != nil {
		util.LogError(g.logger, "gateway", "marshal reply", err,
			"event", req.Event,
			"user_id", conn.Principal.ID)
		return g.errorReply(conn, req, chaterrors.ErrInternal(err))
	}
	return data
}

func (g *Gateway) handle(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	switch req.Event {
	case event.StartChat:
		return g.startChat(ctx, conn, req)
	case event.JoinChat:
		return g.joinChat(ctx, conn, req)
	case event.SendMessage:
		return g.sendMessage(ctx, conn, req)
	case event.GetMyChats:
		return g.getMyChats(ctx, conn, req)
	case event.GetChatMessages:
		return g.getChatMessages(ctx, conn, req)
	case event.CloseChat:
		return g.closeChat(ctx, conn, req)
	default:
		return nil, chaterrors.ErrUnknownEvent(string(req.Event))
	}
}

// startChat returns the customer's active chat, creating one if needed, and
// subscribes the connection to its room so pushes arrive without an explicit
// join_chat.
func (g *Gateway) startChat(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	result, err := g.service.StartChat(ctx, conn.Principal)
	if err != nil {
		return nil, err
	}

	g.rooms.Join(result.Chat.ID, conn)

	preview := &event.ChatPreview{
		ChatView:    *event.ViewChat(result.Chat),
		LastMessage: event.ViewMessage(result.LastMessage),
	}
	reply := &event.StartChatReply{
		Header: event.NewHeader(req),
		Chat:   preview,
		IsNew:  result.IsNew,
	}
	if result.IsNew {
		reply.Info = "New chat created"
	} else {
		reply.Info = "Resumed existing active chat"
	}
	return reply, nil
}

// joinChat subscribes the connection to an accessible chat's room. Closed
// chats can be joined for history; only sending is barred.
func (g *Gateway) joinChat(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	var payload event.JoinChatPayload
	if err := event.DecodePayload(req.Data, &payload); err != nil {
		return nil, chaterrors.ErrInvalidPayload("join_chat", err)
	}

	joined, err := g.service.JoinChat(ctx, conn.Principal, payload.ChatID)
	if err != nil {
		return nil, err
	}

	g.rooms.Join(joined.ID, conn)

	return &event.JoinChatReply{
		Header: event.NewHeader(req),
		Chat:   event.ViewChat(joined),
		Info:   "Joined chat",
	}, nil
}

func (g *Gateway) sendMessage(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	var payload event.SendMessagePayload
	if err := event.DecodePayload(req.Data, &payload); err != nil {
		return nil, chaterrors.ErrInvalidPayload("send_message", err)
	}

	if !g.msgLimiter.Allow(conn.Principal.ID) {
		return nil, chaterrors.ErrTooManyRequests(g.msgLimiter.RetryAfter(conn.Principal.ID))
	}

	view, err := g.relay.SendMessage(ctx, conn.Principal, payload.ChatID, payload.Text)
	if err != nil {
		return nil, err
	}

	return &event.SendMessageReply{
		Header:  event.NewHeader(req),
		Message: view,
	}, nil
}

func (g *Gateway) getMyChats(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	summaries, err := g.service.GetMyChats(ctx, conn.Principal)
	if err != nil {
		return nil, err
	}

	previews := lo.Map(summaries, func(s chat.ChatSummary, _ int) event.ChatPreview {
		return event.ChatPreview{
			ChatView:    *event.ViewChat(&s.Chat),
			LastMessage: event.ViewMessage(s.LastMessage),
		}
	})

	return &event.MyChatsReply{
		Header: event.NewHeader(req),
		Chats:  previews,
	}, nil
}

func (g *Gateway) getChatMessages(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	var payload event.GetChatMessagesPayload
	if err := event.DecodePayload(req.Data, &payload); err != nil {
		return nil, chaterrors.ErrInvalidPayload("get_chat_messages", err)
	}

	messages, err := g.service.GetChatMessages(ctx, conn.Principal, payload.ChatID, payload.Limit, payload.Offset)
	if err != nil {
		return nil, err
	}

	views := lo.Map(messages, func(m domain.Message, _ int) event.MessageView {
		return *event.ViewMessage(&m)
	})

	return &event.ChatMessagesReply{
		Header:   event.NewHeader(req),
		Messages: views,
	}, nil
}

func (g *Gateway) closeChat(ctx context.Context, conn *Connection, req *event.Request) (any, error) {
	var payload event.CloseChatPayload
	if err := event.DecodePayload(req.Data, &payload); err != nil {
		return nil, chaterrors.ErrInvalidPayload("close_chat", err)
	}

	closed, err := g.relay.CloseChat(ctx, conn.Principal, payload.ChatID)
	if err != nil {
		return nil, err
	}

	reply := &event.CloseChatReply{
		Header: event.NewHeader(req),
		Chat:   event.ViewChat(closed),
	}
	if closed.Status == domain.ChatClosed {
		reply.Info = "Chat closed"
	}
	return reply, nil
}

// errorReply builds the failure envelope for a request. Marshaling an
// ErrorReply cannot fail; its fields are plain scalars.
func (g *Gateway) errorReply(conn *Connection, req *event.Request, err error) []byte {
	chatErr := chaterrors.From(err)
	metrics.EventErrors.WithLabelValues(string(chatErr.Code)).Inc()

	if chatErr.Code == chaterrors.CodeInternal {
		util.LogError(g.logger, "gateway", "handle event", err,
			"event", req.Event,
			"user_id", conn.Principal.ID)
	} else {
		g.logger.Debug("Event rejected",
			"event", req.Event,
			"code", chatErr.Code,
			"user_id", conn.Principal.ID)
	}

	reply := &event.ErrorReply{
		Header: event.Header{Event: req.Event, ID: req.ID, Success: false},
		Error:  chatErr.ToErrorInfo(),
	}
	data, _ := json.Marshal(reply)
	return data
}
