// Package cache is the cache-aside layer between the durable store and
// Redis. It keeps hot Room and Message aggregates, a bounded newest-first
// recent-message list per room, and the global online-user set.
//
// Every operation is best-effort: Redis failures and malformed cached values
// are logged and reported as a miss, never surfaced to the caller. The system
// stays correct with Redis fully unavailable, just slower.
//
// Key patterns and TTLs (fixed; external tooling inspects these):
//
//	message:{id}              value  1 hour
//	recent:messages:{roomId}  list   5 minutes, capped at 50, newest first
//	room:{roomId}             value  10 minutes
//	online:users              set    1 hour
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/model"
)

const (
	MessagePrefix  = "message:"
	RecentPrefix   = "recent:messages:"
	RoomPrefix     = "room:"
	OnlineUsersKey = "online:users"

	MessageTTL     = 1 * time.Hour
	RecentTTL      = 5 * time.Minute
	RoomTTL        = 10 * time.Minute
	OnlineUsersTTL = 1 * time.Hour

	// RecentCap bounds the recent-message list per room.
	RecentCap = 50

	// opTimeout bounds every Redis call so a slow ephemeral store degrades
	// to a cache miss instead of stalling the request path.
	opTimeout = 2 * time.Second
)

// Cache wraps the Redis client with typed cache-aside operations.
type Cache struct {
	rdb *redis.Client
}

// New creates a cache backed by the given Redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// decode converts a cached JSON value back into its typed entity. A shape
// mismatch fails closed to a miss.
func decode(data string, dst interface{}) bool {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		log.Printf("[cache] malformed cached value, treating as miss: %v", err)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// CacheMessage stores the message under its own key and pushes it onto the
// head of the room's bounded recent list.
func (c *Cache) CacheMessage(ctx context.Context, roomID string, msg *model.Message) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[cache] marshal message %s: %v", msg.ID, err)
		return
	}

	recentKey := RecentPrefix + roomID
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, MessagePrefix+msg.ID, data, MessageTTL)
	pipe.LPush(ctx, recentKey, data)
	pipe.LTrim(ctx, recentKey, 0, RecentCap-1)
	pipe.Expire(ctx, recentKey, RecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[cache] cache message %s: %v", msg.ID, err)
	}
}

// Message returns the cached message, or nil on miss.
func (c *Cache) Message(ctx context.Context, messageID string) *model.Message {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := c.rdb.Get(ctx, MessagePrefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOps.WithLabelValues("message", "miss").Inc()
		return nil
	}
	if err != nil {
		log.Printf("[cache] get message %s: %v", messageID, err)
		metrics.CacheOps.WithLabelValues("message", "miss").Inc()
		return nil
	}

	var msg model.Message
	if !decode(data, &msg) {
		metrics.CacheOps.WithLabelValues("message", "miss").Inc()
		return nil
	}
	metrics.CacheOps.WithLabelValues("message", "hit").Inc()
	return &msg
}

// CacheRecentMessages replaces the room's recent list with msgs, newest
// first, trimmed to the cap. Used to repopulate after a cold history read.
func (c *Cache) CacheRecentMessages(ctx context.Context, roomID string, msgs []*model.Message) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if len(msgs) > RecentCap {
		msgs = msgs[:RecentCap]
	}
	entries := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[cache] marshal message %s: %v", msg.ID, err)
			return
		}
		entries = append(entries, data)
	}
	if len(entries) == 0 {
		return
	}

	recentKey := RecentPrefix + roomID
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, recentKey)
	// RPush keeps the newest-first input order.
	pipe.RPush(ctx, recentKey, entries...)
	pipe.Expire(ctx, recentKey, RecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[cache] repopulate recent for %s: %v", roomID, err)
	}
}

// RecentMessages returns the room's cached recent list, newest first.
// Entries that fail to decode are skipped. An empty slice means a miss.
func (c *Cache) RecentMessages(ctx context.Context, roomID string) []*model.Message {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	items, err := c.rdb.LRange(ctx, RecentPrefix+roomID, 0, RecentCap-1).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[cache] recent messages for %s: %v", roomID, err)
		}
		metrics.CacheOps.WithLabelValues("recent", "miss").Inc()
		return nil
	}

	out := make([]*model.Message, 0, len(items))
	for _, item := range items {
		var msg model.Message
		if decode(item, &msg) {
			out = append(out, &msg)
		}
	}
	if len(out) == 0 {
		metrics.CacheOps.WithLabelValues("recent", "miss").Inc()
		return nil
	}
	metrics.CacheOps.WithLabelValues("recent", "hit").Inc()
	return out
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// CacheRoom stores the room aggregate with the fixed room TTL.
func (c *Cache) CacheRoom(ctx context.Context, room *model.Room) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(room)
	if err != nil {
		log.Printf("[cache] marshal room %s: %v", room.ID, err)
		return
	}
	if err := c.rdb.Set(ctx, RoomPrefix+room.ID, data, RoomTTL).Err(); err != nil {
		log.Printf("[cache] cache room %s: %v", room.ID, err)
	}
}

// Room returns the cached room, or nil on miss.
func (c *Cache) Room(ctx context.Context, roomID string) *model.Room {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := c.rdb.Get(ctx, RoomPrefix+roomID).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOps.WithLabelValues("room", "miss").Inc()
		return nil
	}
	if err != nil {
		log.Printf("[cache] get room %s: %v", roomID, err)
		metrics.CacheOps.WithLabelValues("room", "miss").Inc()
		return nil
	}

	var room model.Room
	if !decode(data, &room) {
		metrics.CacheOps.WithLabelValues("room", "miss").Inc()
		return nil
	}
	metrics.CacheOps.WithLabelValues("room", "hit").Inc()
	return &room
}

// EvictRoom removes the cached room after a structural change.
func (c *Cache) EvictRoom(ctx context.Context, roomID string) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, RoomPrefix+roomID).Err(); err != nil {
		log.Printf("[cache] evict room %s: %v", roomID, err)
	}
}

// ClearRoom drops the room's cached aggregate and recent list.
func (c *Cache) ClearRoom(ctx context.Context, roomID string) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, RoomPrefix+roomID, RecentPrefix+roomID).Err(); err != nil {
		log.Printf("[cache] clear room %s: %v", roomID, err)
	}
}

// ---------------------------------------------------------------------------
// Global online-user set
// ---------------------------------------------------------------------------

// UserOnline adds the user to the global online set, refreshing its TTL.
func (c *Cache) UserOnline(ctx context.Context, username string) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.Pipeline()
	pipe.SAdd(ctx, OnlineUsersKey, username)
	pipe.Expire(ctx, OnlineUsersKey, OnlineUsersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[cache] mark %s online: %v", username, err)
	}
}

// UserOffline removes the user from the global online set.
func (c *Cache) UserOffline(ctx context.Context, username string) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.rdb.SRem(ctx, OnlineUsersKey, username).Err(); err != nil {
		log.Printf("[cache] mark %s offline: %v", username, err)
	}
}

// OnlineUsers returns every globally online user. Empty on store failure.
func (c *Cache) OnlineUsers(ctx context.Context) []string {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	users, err := c.rdb.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		log.Printf("[cache] online users: %v", err)
		return nil
	}
	return users
}

// IsUserOnline reports whether the user is in the global online set.
func (c *Cache) IsUserOnline(ctx context.Context, username string) bool {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	ok, err := c.rdb.SIsMember(ctx, OnlineUsersKey, username).Result()
	if err != nil {
		log.Printf("[cache] online check for %s: %v", username, err)
		return false
	}
	return ok
}
