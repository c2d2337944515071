// Package receipt implements the per-message delivery state machine: each
// recipient progresses SENT → DELIVERED → READ, tracked both per user and as
// an aggregate status that only ever advances. The durable store is the
// source of truth; Redis carries a best-effort status cache and the per-user
// last-read watermark used for fast unread counting.
//
// Key patterns and TTLs:
//
//	msg:status:{messageId}             value  1 hour (full message snapshot)
//	msg:status:{messageId}:{username}  value  1 hour (per-user status)
//	user:lastread:{roomId}:{username}  value  24 hours
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/storage"
)

const (
	StatusPrefix   = "msg:status:"
	LastReadPrefix = "user:lastread:"

	StatusTTL   = 1 * time.Hour
	LastReadTTL = 24 * time.Hour

	// unreadScanLimit bounds the fallback scan when no last-read watermark
	// is cached.
	unreadScanLimit = 50
)

// Service applies delivery and read transitions to messages.
type Service struct {
	messages storage.MessageRepository
	rdb      *redis.Client
	gateway  broadcast.Gateway
	locks    *keylock.Map
}

// NewService creates a receipt service.
func NewService(messages storage.MessageRepository, rdb *redis.Client, gateway broadcast.Gateway, locks *keylock.Map) *Service {
	return &Service{messages: messages, rdb: rdb, gateway: gateway, locks: locks}
}

func (s *Service) emit(roomID string, event broadcast.ReadReceiptEvent) {
	if err := s.gateway.Broadcast(broadcast.ReceiptsTopic(roomID), event); err != nil {
		log.Printf("[receipt] broadcast to room %s: %v", roomID, err)
		return
	}
	metrics.BroadcastEvents.WithLabelValues("receipt").Inc()
}

// MarkAsDelivered records delivery of a message to username and broadcasts a
// delivery receipt. No-op for the sender and for repeat calls.
func (s *Service) MarkAsDelivered(ctx context.Context, messageID, username, roomID string) error {
	s.locks.Lock(messageID)
	defer s.locks.Unlock(messageID)

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("receipt: mark delivered: %w", err)
	}
	if !msg.MarkAsDelivered(username) {
		return nil
	}
	if err := s.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("receipt: mark delivered: %w", err)
	}

	s.updateStatusCache(ctx, msg)
	s.emit(roomID, broadcast.ReadReceiptEvent{
		Type:        broadcast.TypeDelivered,
		MessageID:   messageID,
		RoomID:      roomID,
		Username:    username,
		Status:      model.StatusDelivered,
		Timestamp:   time.Now().UTC(),
		DeliveredTo: msg.DeliveredTo,
	})

	log.Printf("[receipt] message %s delivered to %s", messageID, username)
	return nil
}

// MarkAsRead records that username has read a message, updates their
// last-read watermark, and broadcasts a read receipt. No-op for the sender
// and for repeat calls.
func (s *Service) MarkAsRead(ctx context.Context, messageID, username, roomID string) error {
	s.locks.Lock(messageID)
	defer s.locks.Unlock(messageID)

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("receipt: mark read: %w", err)
	}
	if !msg.MarkAsRead(username) {
		return nil
	}
	if err := s.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("receipt: mark read: %w", err)
	}

	s.updateStatusCache(ctx, msg)
	s.updateLastRead(ctx, username, roomID)
	s.emit(roomID, broadcast.ReadReceiptEvent{
		Type:      broadcast.TypeRead,
		MessageID: messageID,
		RoomID:    roomID,
		Username:  username,
		Status:    model.StatusRead,
		Timestamp: time.Now().UTC(),
		ReadBy:    msg.ReadBy,
	})

	log.Printf("[receipt] message %s read by %s", messageID, username)
	return nil
}

// MarkBulkAsRead applies the read transition to every listed message the
// user did not send and has not already read, persists them in one batch,
// and broadcasts a single BULK_READ event carrying the union of the affected
// readBy sets.
func (s *Service) MarkBulkAsRead(ctx context.Context, messageIDs []string, username, roomID string) error {
	// Lock in sorted order so concurrent bulk calls cannot deadlock. The
	// inbound list may repeat an id; the locks are not reentrant, so
	// duplicates must collapse to one acquisition.
	sorted := make([]string, len(messageIDs))
	copy(sorted, messageIDs)
	sort.Strings(sorted)
	var ids []string
	for _, id := range sorted {
		if len(ids) == 0 || ids[len(ids)-1] != id {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.locks.Lock(id)
	}
	defer func() {
		for _, id := range ids {
			s.locks.Unlock(id)
		}
	}()

	msgs, err := s.messages.FindAllByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("receipt: bulk read: %w", err)
	}

	var changed []*model.Message
	for _, msg := range msgs {
		if msg.MarkAsRead(username) {
			changed = append(changed, msg)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	if err := s.messages.SaveAll(ctx, changed); err != nil {
		return fmt.Errorf("receipt: bulk read: %w", err)
	}

	readByUnion := make(map[string]struct{})
	for _, msg := range changed {
		s.updateStatusCache(ctx, msg)
		for _, u := range msg.ReadBy {
			readByUnion[u] = struct{}{}
		}
	}
	union := make([]string, 0, len(readByUnion))
	for u := range readByUnion {
		union = append(union, u)
	}
	sort.Strings(union)

	s.updateLastRead(ctx, username, roomID)
	s.emit(roomID, broadcast.ReadReceiptEvent{
		Type:      broadcast.TypeBulkRead,
		RoomID:    roomID,
		Username:  username,
		Status:    model.StatusRead,
		Timestamp: time.Now().UTC(),
		ReadBy:    union,
	})

	log.Printf("[receipt] %d messages marked read by %s in room %s", len(changed), username, roomID)
	return nil
}

// MessageStatus returns the delivery status of a message for a given user:
// the cached per-user entry when present, otherwise derived from the durable
// receipt sets. Returns "" when the user has no recorded state.
func (s *Service) MessageStatus(ctx context.Context, messageID, username string) (model.Status, error) {
	key := StatusPrefix + messageID + ":" + username
	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		metrics.CacheOps.WithLabelValues("status", "hit").Inc()
		return model.Status(val), nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("[receipt] status cache for %s: %v", key, err)
	}
	metrics.CacheOps.WithLabelValues("status", "miss").Inc()

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("receipt: message status: %w", err)
	}
	return msg.StatusFor(username), nil
}

// UnreadCount returns how many messages in the room the user has not read,
// excluding their own. It prefers the cached last-read watermark and falls
// back to scanning recent messages when none is cached.
func (s *Service) UnreadCount(ctx context.Context, username, roomID string) (int64, error) {
	key := LastReadPrefix + roomID + ":" + username
	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		lastRead, perr := time.Parse(time.RFC3339Nano, val)
		if perr == nil {
			return s.messages.CountSentAfter(ctx, roomID, lastRead, username)
		}
		log.Printf("[receipt] malformed last-read for %s: %v", key, perr)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[receipt] last-read cache for %s: %v", key, err)
	}

	msgs, err := s.messages.FindRecentByRoom(ctx, roomID, unreadScanLimit)
	if err != nil {
		return 0, fmt.Errorf("receipt: unread count: %w", err)
	}
	var n int64
	for _, msg := range msgs {
		if msg.Sender != username && !msg.IsReadBy(username) {
			n++
		}
	}
	return n, nil
}

// UnreadMessages returns the user's unread messages among the room's most
// recent, newest first.
func (s *Service) UnreadMessages(ctx context.Context, username, roomID string) ([]*model.Message, error) {
	msgs, err := s.messages.FindRecentByRoom(ctx, roomID, unreadScanLimit)
	if err != nil {
		return nil, fmt.Errorf("receipt: unread messages: %w", err)
	}
	out := make([]*model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Sender != username && !msg.IsReadBy(username) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// updateStatusCache refreshes the message's status snapshot and the per-user
// status entries. Best effort.
func (s *Service) updateStatusCache(ctx context.Context, msg *model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[receipt] marshal message %s: %v", msg.ID, err)
		return
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, StatusPrefix+msg.ID, data, StatusTTL)
	for _, u := range msg.ReadBy {
		pipe.Set(ctx, StatusPrefix+msg.ID+":"+u, string(model.StatusRead), StatusTTL)
	}
	for _, u := range msg.DeliveredTo {
		if !msg.IsReadBy(u) {
			pipe.Set(ctx, StatusPrefix+msg.ID+":"+u, string(model.StatusDelivered), StatusTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[receipt] update status cache for %s: %v", msg.ID, err)
	}
}

// updateLastRead stamps the user's last-read watermark for the room.
func (s *Service) updateLastRead(ctx context.Context, username, roomID string) {
	key := LastReadPrefix + roomID + ":" + username
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.rdb.Set(ctx, key, now, LastReadTTL).Err(); err != nil {
		log.Printf("[receipt] update last-read for %s: %v", key, err)
	}
}
