// Package reaction aggregates emoji reactions on messages. A user holds at
// most one active reaction per message: reacting with a second emoji
// replaces the first. Derived counts always equal the size of the emoji's
// user set, and an emoji with no users is dropped entirely.
//
// Key patterns and TTLs:
//
//	reaction:{messageId}:{username}  value  1 hour (the user's emoji)
//	msg:reactions:{messageId}        value  1 hour (full emoji -> users map)
package reaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/storage"
)

const (
	UserReactionPrefix = "reaction:"
	ReactionsPrefix    = "msg:reactions:"

	ReactionTTL = 1 * time.Hour
)

// Service applies reaction transitions to messages.
type Service struct {
	messages storage.MessageRepository
	rdb      *redis.Client
	gateway  broadcast.Gateway
	locks    *keylock.Map
}

// NewService creates a reaction service.
func NewService(messages storage.MessageRepository, rdb *redis.Client, gateway broadcast.Gateway, locks *keylock.Map) *Service {
	return &Service{messages: messages, rdb: rdb, gateway: gateway, locks: locks}
}

func (s *Service) emit(roomID string, event broadcast.ReactionEvent) {
	if err := s.gateway.Broadcast(broadcast.ReactionsTopic(roomID), event); err != nil {
		log.Printf("[reaction] broadcast to room %s: %v", roomID, err)
		return
	}
	metrics.BroadcastEvents.WithLabelValues("reaction").Inc()
}

// Add records username's reaction with emoji on a message. If the user
// already reacted with a different emoji, the old reaction is removed first
// without its own broadcast and the emitted event is an UPDATE instead of an
// ADD. Returns the emitted event, or nil if the user already had this exact
// reaction.
func (s *Service) Add(ctx context.Context, messageID, roomID, username, emoji string) (*broadcast.ReactionEvent, error) {
	s.locks.Lock(messageID)
	defer s.locks.Unlock(messageID)

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: add: %w", err)
	}

	oldEmoji := msg.UserReaction(username)
	if oldEmoji == emoji {
		return nil, nil
	}
	if oldEmoji != "" {
		msg.RemoveReaction(username, oldEmoji)
	}
	if !msg.AddReaction(username, emoji) {
		return nil, nil
	}

	if err := s.messages.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("reaction: add: %w", err)
	}
	s.updateReactionCache(ctx, msg)

	eventType := broadcast.TypeReactionAdd
	if oldEmoji != "" {
		eventType = broadcast.TypeReactionUpdate
	}
	event := broadcast.ReactionEvent{
		Type:           eventType,
		MessageID:      messageID,
		RoomID:         roomID,
		Username:       username,
		Emoji:          emoji,
		Timestamp:      time.Now().UTC(),
		Reactions:      msg.Reactions,
		ReactionCounts: msg.ReactionCounts,
		TotalReactions: msg.TotalReactions(),
	}
	s.emit(roomID, event)

	log.Printf("[reaction] %s added %s to message %s", username, emoji, messageID)
	return &event, nil
}

// Remove deletes username's reaction with emoji from a message and
// broadcasts a REMOVE event. Returns the emitted event, or nil if the user
// had no such reaction.
func (s *Service) Remove(ctx context.Context, messageID, roomID, username, emoji string) (*broadcast.ReactionEvent, error) {
	s.locks.Lock(messageID)
	defer s.locks.Unlock(messageID)

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: remove: %w", err)
	}
	if !msg.RemoveReaction(username, emoji) {
		return nil, nil
	}

	if err := s.messages.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("reaction: remove: %w", err)
	}
	s.updateReactionCache(ctx, msg)
	if err := s.rdb.Del(ctx, UserReactionPrefix+messageID+":"+username).Err(); err != nil {
		log.Printf("[reaction] evict user reaction cache: %v", err)
	}

	event := broadcast.ReactionEvent{
		Type:           broadcast.TypeReactionRemove,
		MessageID:      messageID,
		RoomID:         roomID,
		Username:       username,
		Emoji:          emoji,
		Timestamp:      time.Now().UTC(),
		Reactions:      msg.Reactions,
		ReactionCounts: msg.ReactionCounts,
		TotalReactions: msg.TotalReactions(),
	}
	s.emit(roomID, event)

	log.Printf("[reaction] %s removed %s from message %s", username, emoji, messageID)
	return &event, nil
}

// UserReaction returns the emoji username currently reacts with on the
// message, preferring the per-user cache. Returns "" if none.
func (s *Service) UserReaction(ctx context.Context, messageID, username string) (string, error) {
	key := UserReactionPrefix + messageID + ":" + username
	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		metrics.CacheOps.WithLabelValues("reaction", "hit").Inc()
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("[reaction] user reaction cache for %s: %v", key, err)
	}
	metrics.CacheOps.WithLabelValues("reaction", "miss").Inc()

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("reaction: user reaction: %w", err)
	}
	emoji := msg.UserReaction(username)
	if emoji != "" {
		if err := s.rdb.Set(ctx, key, emoji, ReactionTTL).Err(); err != nil {
			log.Printf("[reaction] repopulate user reaction cache: %v", err)
		}
	}
	return emoji, nil
}

// MessageReactions returns the full emoji -> users map for a message,
// preferring the per-message cache.
func (s *Service) MessageReactions(ctx context.Context, messageID string) (map[string][]string, error) {
	key := ReactionsPrefix + messageID
	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var reactions map[string][]string
		if jerr := json.Unmarshal([]byte(val), &reactions); jerr == nil {
			metrics.CacheOps.WithLabelValues("reaction", "hit").Inc()
			return reactions, nil
		}
		log.Printf("[reaction] malformed reactions cache for %s, treating as miss", messageID)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[reaction] reactions cache for %s: %v", messageID, err)
	}
	metrics.CacheOps.WithLabelValues("reaction", "miss").Inc()

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: message reactions: %w", err)
	}
	s.updateReactionCache(ctx, msg)
	return msg.Reactions, nil
}

// ReactionCounts returns the emoji -> count map for a message.
func (s *Service) ReactionCounts(ctx context.Context, messageID string) (map[string]int, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: counts: %w", err)
	}
	return msg.ReactionCounts, nil
}

// UsersByReaction returns every user who reacted with emoji on the message.
func (s *Service) UsersByReaction(ctx context.Context, messageID, emoji string) ([]string, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: users by reaction: %w", err)
	}
	return msg.Reactions[emoji], nil
}

// BulkReactionCounts returns the reaction counts for several messages at
// once. Missing ids are skipped.
func (s *Service) BulkReactionCounts(ctx context.Context, messageIDs []string) (map[string]map[string]int, error) {
	msgs, err := s.messages.FindAllByIDs(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("reaction: bulk counts: %w", err)
	}
	out := make(map[string]map[string]int, len(msgs))
	for _, msg := range msgs {
		out[msg.ID] = msg.ReactionCounts
	}
	return out, nil
}

// updateReactionCache refreshes the per-message reaction map and the
// per-user reaction entries. Best effort.
func (s *Service) updateReactionCache(ctx context.Context, msg *model.Message) {
	data, err := json.Marshal(msg.Reactions)
	if err != nil {
		log.Printf("[reaction] marshal reactions for %s: %v", msg.ID, err)
		return
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, ReactionsPrefix+msg.ID, data, ReactionTTL)
	for emoji, users := range msg.Reactions {
		for _, u := range users {
			pipe.Set(ctx, UserReactionPrefix+msg.ID+":"+u, emoji, ReactionTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[reaction] update reaction cache for %s: %v", msg.ID, err)
	}
}
