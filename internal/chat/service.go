// Package chat is the central room and message service. It owns room
// lifecycle, the rate-limited send path, and history reads through the
// cache-aside layer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/cache"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/presence"
	"github.com/roomchat/backend/internal/ratelimit"
	"github.com/roomchat/backend/internal/storage"
)

// ErrRateLimited is returned when a sender exceeds the per-room send quota.
var ErrRateLimited = errors.New("chat: rate limit exceeded")

// Service coordinates the durable store, the cache, presence, the rate
// limiter, and the broadcast gateway.
type Service struct {
	rooms    storage.RoomRepository
	messages storage.MessageRepository
	cache    *cache.Cache
	presence *presence.Tracker
	limiter  *ratelimit.Limiter
	gateway  broadcast.Gateway
	locks    *keylock.Map
}

// NewService creates the chat service.
func NewService(
	rooms storage.RoomRepository,
	messages storage.MessageRepository,
	c *cache.Cache,
	tracker *presence.Tracker,
	limiter *ratelimit.Limiter,
	gateway broadcast.Gateway,
	locks *keylock.Map,
) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		cache:    c,
		presence: tracker,
		limiter:  limiter,
		gateway:  gateway,
		locks:    locks,
	}
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// CreateRoom validates the id, creates the room in the durable store, and
// warms the cache. Returns storage.ErrRoomExists on a duplicate id.
func (s *Service) CreateRoom(ctx context.Context, roomID string) (*model.Room, error) {
	if err := model.ValidateRoomID(roomID); err != nil {
		return nil, fmt.Errorf("chat: create room: %w", err)
	}

	room := model.NewRoom(roomID)
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("chat: create room %s: %w", roomID, err)
	}

	s.cache.CacheRoom(ctx, room)
	log.Printf("[chat] room %s created", roomID)
	return room, nil
}

// Room returns the room, cache first. Returns storage.ErrRoomNotFound when
// the room does not exist.
func (s *Service) Room(ctx context.Context, roomID string) (*model.Room, error) {
	if room := s.cache.Room(ctx, roomID); room != nil {
		return room, nil
	}

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("chat: room %s: %w", roomID, err)
	}
	s.cache.CacheRoom(ctx, room)
	return room, nil
}

// RoomExists reports whether the room is present in the durable store.
func (s *Service) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if s.cache.Room(ctx, roomID) != nil {
		return true, nil
	}
	ok, err := s.rooms.Exists(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("chat: room exists %s: %w", roomID, err)
	}
	return ok, nil
}

// ClearRoomCache drops every ephemeral key tied to the room. Durable state
// is untouched.
func (s *Service) ClearRoomCache(ctx context.Context, roomID string) {
	s.cache.ClearRoom(ctx, roomID)
	s.presence.ClearRoom(ctx, roomID)
	log.Printf("[chat] cleared cached state for room %s", roomID)
}

// ---------------------------------------------------------------------------
// Send path
// ---------------------------------------------------------------------------

// SendMessage validates the content, checks the sender's send quota,
// persists the message, updates the room's recent window, warms the cache,
// and broadcasts the message on the room topic.
func (s *Service) SendMessage(ctx context.Context, roomID, sender, content string) (*model.Message, error) {
	if err := model.ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("chat: send: %w", err)
	}

	limitKey := fmt.Sprintf("msg:%s:%s", roomID, sender)
	if !s.limiter.Allow(ctx, limitKey, ratelimit.RuleMessageSend) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrRateLimited
	}

	s.locks.Lock(roomID)
	defer s.locks.Unlock(roomID)

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("chat: send to %s: %w", roomID, err)
	}

	msg := model.NewMessage(uuid.NewString(), roomID, sender, content)

	start := time.Now()
	if err := s.messages.Save(ctx, msg); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("chat: save message: %w", err)
	}

	room.AddMessage(msg.ID)
	if err := s.rooms.Save(ctx, room); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("chat: update room %s: %w", roomID, err)
	}
	metrics.StoreLatency.Observe(time.Since(start).Seconds())

	s.cache.CacheMessage(ctx, roomID, msg)
	s.cache.CacheRoom(ctx, room)

	// A completed send ends any typing indicator for the sender.
	s.presence.ClearTyping(ctx, sender, roomID)

	if err := s.gateway.Broadcast(broadcast.RoomTopic(roomID), msg); err != nil {
		log.Printf("[chat] broadcast message %s: %v", msg.ID, err)
	} else {
		metrics.BroadcastEvents.WithLabelValues("message").Inc()
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return msg, nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// Messages returns a page of the room's history, newest first. Page zero is
// served from the recent cache only when it holds a full page; a partially
// warm cache is not a source of truth, so anything short verifies the room
// exists, reads the durable store, and repopulates the recent cache.
func (s *Service) Messages(ctx context.Context, roomID string, page, size int) ([]*model.Message, error) {
	coldPageZero := page == 0 && size <= cache.RecentCap
	if coldPageZero {
		if recent := s.cache.RecentMessages(ctx, roomID); len(recent) >= size {
			return recent[:size], nil
		}
		if _, err := s.rooms.FindByID(ctx, roomID); err != nil {
			return nil, fmt.Errorf("chat: messages for %s: %w", roomID, err)
		}
	}

	msgs, err := s.messages.FindByRoom(ctx, roomID, page, size)
	if err != nil {
		return nil, fmt.Errorf("chat: messages for %s: %w", roomID, err)
	}
	if coldPageZero {
		s.cache.CacheRecentMessages(ctx, roomID, msgs)
	}
	return msgs, nil
}

// RecentMessages returns up to limit of the room's newest messages, cache
// first.
func (s *Service) RecentMessages(ctx context.Context, roomID string, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > cache.RecentCap {
		limit = cache.RecentCap
	}
	if recent := s.cache.RecentMessages(ctx, roomID); recent != nil {
		if len(recent) > limit {
			recent = recent[:limit]
		}
		return recent, nil
	}

	msgs, err := s.messages.FindRecentByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: recent messages for %s: %w", roomID, err)
	}
	return msgs, nil
}

// Message returns a single message by id, cache first.
func (s *Service) Message(ctx context.Context, messageID string) (*model.Message, error) {
	if msg := s.cache.Message(ctx, messageID); msg != nil {
		return msg, nil
	}
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: message %s: %w", messageID, err)
	}
	return msg, nil
}

// MessageCount returns the room's total persisted message count.
func (s *Service) MessageCount(ctx context.Context, roomID string) (int64, error) {
	n, err := s.messages.CountByRoom(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("chat: message count for %s: %w", roomID, err)
	}
	return n, nil
}
