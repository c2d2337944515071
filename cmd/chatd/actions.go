package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/chat"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/presence"
	"github.com/roomchat/backend/internal/reaction"
	"github.com/roomchat/backend/internal/receipt"
	"github.com/roomchat/backend/internal/storage"
	"github.com/roomchat/backend/internal/thread"
)

// Inbound action subjects published by the transport collaborator.
const (
	subjectSend        = "chat.send"
	subjectJoin        = "chat.join"
	subjectLeave       = "chat.leave"
	subjectDisconnect  = "chat.disconnect"
	subjectTyping      = "chat.typing"
	subjectRead        = "chat.read"
	subjectReadBulk    = "chat.read.bulk"
	subjectDelivered   = "chat.delivered"
	subjectReact       = "chat.react"
	subjectUnreact     = "chat.unreact"
	subjectReply       = "chat.reply"
	subjectReplyDelete = "chat.reply.delete"
	subjectRoomCreate  = "chat.room.create"
)

// actionTimeout bounds the handling of one inbound action.
const actionTimeout = 10 * time.Second

// action is the envelope every inbound subject carries. Handlers pick the
// fields relevant to their subject; unused fields are left zero.
type action struct {
	Username   string   `json:"username"`
	RoomID     string   `json:"roomId"`
	Content    string   `json:"content"`
	MessageID  string   `json:"messageId"`
	MessageIDs []string `json:"messageIds"`
	Emoji      string   `json:"emoji"`
	Typing     bool     `json:"typing"`
}

// handlers holds the services the action edge dispatches into.
type handlers struct {
	chat     *chat.Service
	presence *presence.Tracker
	receipts *receipt.Service
	reacts   *reaction.Service
	threads  *thread.Service
	gateway  broadcast.Gateway
}

// register wires every inbound subject to its handler.
func (h *handlers) register(gw *broadcast.NATSGateway) error {
	routes := []struct {
		subject string
		fn      func(ctx context.Context, a action) error
	}{
		{subjectSend, h.send},
		{subjectJoin, h.join},
		{subjectLeave, h.leave},
		{subjectDisconnect, h.disconnect},
		{subjectTyping, h.typing},
		{subjectRead, h.read},
		{subjectReadBulk, h.readBulk},
		{subjectDelivered, h.delivered},
		{subjectReact, h.react},
		{subjectUnreact, h.unreact},
		{subjectReply, h.reply},
		{subjectReplyDelete, h.replyDelete},
		{subjectRoomCreate, h.roomCreate},
	}

	for _, r := range routes {
		r := r
		if _, err := gw.Subscribe(r.subject, func(data []byte) {
			var a action
			if err := json.Unmarshal(data, &a); err != nil {
				log.Printf("[actions] %s: bad payload: %v", r.subject, err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
			defer cancel()
			if err := r.fn(ctx, a); err != nil {
				h.reportError(a, r.subject, err)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// reportError maps a domain error to a coded event on the acting user's
// private queue. The error is never broadcast to the room.
func (h *handlers) reportError(a action, subject string, err error) {
	code := "INTERNAL"
	switch {
	case errors.Is(err, storage.ErrRoomNotFound), errors.Is(err, storage.ErrMessageNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, storage.ErrRoomExists):
		code = "CONFLICT"
	case errors.Is(err, thread.ErrNotReplyOwner):
		code = "UNAUTHORIZED"
	case errors.Is(err, model.ErrValidation):
		code = "VALIDATION"
	case errors.Is(err, chat.ErrRateLimited):
		code = "RATE_LIMITED"
	}

	log.Printf("[actions] %s user=%s room=%s: %v", subject, a.Username, a.RoomID, err)
	if a.Username == "" {
		return
	}

	event := broadcast.ErrorEvent{
		Type:      broadcast.TypeError,
		Code:      code,
		Message:   err.Error(),
		Action:    subject,
		RoomID:    a.RoomID,
		Timestamp: broadcast.NowMillis(),
	}
	if err := h.gateway.DeliverToUser(a.Username, event); err != nil {
		log.Printf("[actions] deliver error to %s: %v", a.Username, err)
	}
}

func (h *handlers) send(ctx context.Context, a action) error {
	_, err := h.chat.SendMessage(ctx, a.RoomID, a.Username, a.Content)
	return err
}

func (h *handlers) join(ctx context.Context, a action) error {
	ok, err := h.chat.RoomExists(ctx, a.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrRoomNotFound
	}
	h.presence.Join(ctx, a.Username, a.RoomID)
	return nil
}

func (h *handlers) leave(ctx context.Context, a action) error {
	h.presence.Leave(ctx, a.Username, a.RoomID)
	return nil
}

func (h *handlers) disconnect(ctx context.Context, a action) error {
	h.presence.Disconnect(ctx, a.Username)
	return nil
}

func (h *handlers) typing(ctx context.Context, a action) error {
	if a.Typing {
		h.presence.StartTyping(ctx, a.Username, a.RoomID)
	} else {
		h.presence.StopTyping(ctx, a.Username, a.RoomID)
	}
	return nil
}

func (h *handlers) read(ctx context.Context, a action) error {
	return h.receipts.MarkAsRead(ctx, a.MessageID, a.Username, a.RoomID)
}

func (h *handlers) readBulk(ctx context.Context, a action) error {
	return h.receipts.MarkBulkAsRead(ctx, a.MessageIDs, a.Username, a.RoomID)
}

func (h *handlers) delivered(ctx context.Context, a action) error {
	return h.receipts.MarkAsDelivered(ctx, a.MessageID, a.Username, a.RoomID)
}

func (h *handlers) react(ctx context.Context, a action) error {
	_, err := h.reacts.Add(ctx, a.MessageID, a.RoomID, a.Username, a.Emoji)
	return err
}

func (h *handlers) unreact(ctx context.Context, a action) error {
	_, err := h.reacts.Remove(ctx, a.MessageID, a.RoomID, a.Username, a.Emoji)
	return err
}

func (h *handlers) reply(ctx context.Context, a action) error {
	_, err := h.threads.Reply(ctx, a.MessageID, a.RoomID, a.Username, a.Content)
	return err
}

func (h *handlers) replyDelete(ctx context.Context, a action) error {
	return h.threads.DeleteReply(ctx, a.MessageID, a.Username)
}

func (h *handlers) roomCreate(ctx context.Context, a action) error {
	_, err := h.chat.CreateRoom(ctx, a.RoomID)
	return err
}
