// Package presence tracks which users are online in which room, who is
// typing, and when each user was last seen. All presence facts are ephemeral
// and live only in Redis with self-expiring TTLs; there is no durable
// counterpart, so a lost Redis simply means presence resets.
//
// Key patterns and TTLs:
//
//	room:users:{roomId}   set    1 hour, refreshed on every join
//	user:room:{username}  value  1 hour
//	typing:{roomId}       set    5 seconds, self-clearing
//	lastseen:{username}   value  24 hours
package presence

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/cache"
	"github.com/roomchat/backend/internal/metrics"
)

const (
	RoomUsersPrefix = "room:users:"
	UserRoomPrefix  = "user:room:"
	TypingPrefix    = "typing:"
	LastSeenPrefix  = "lastseen:"

	RoomUsersTTL = 1 * time.Hour
	UserRoomTTL  = 1 * time.Hour
	// TypingTTL is deliberately short: typing status self-clears if no stop
	// event or repeated start ever arrives.
	TypingTTL   = 5 * time.Second
	LastSeenTTL = 24 * time.Hour
)

// Tracker maintains per-room presence state and emits status events.
type Tracker struct {
	rdb     *redis.Client
	cache   *cache.Cache
	gateway broadcast.Gateway
}

// NewTracker creates a presence tracker.
func NewTracker(rdb *redis.Client, c *cache.Cache, gateway broadcast.Gateway) *Tracker {
	return &Tracker{rdb: rdb, cache: c, gateway: gateway}
}

func (t *Tracker) broadcast(topic, kind string, payload interface{}) {
	if err := t.gateway.Broadcast(topic, payload); err != nil {
		log.Printf("[presence] broadcast to %s: %v", topic, err)
		return
	}
	metrics.BroadcastEvents.WithLabelValues(kind).Inc()
}

// Join transitions (user, room) from absent to present: the user enters the
// room's online set and the global online set, their current-room pointer is
// recorded, last-seen is updated, and USER_JOINED plus a fresh room-user
// snapshot are broadcast.
func (t *Tracker) Join(ctx context.Context, username, roomID string) {
	log.Printf("[presence] user %s joined room %s", username, roomID)

	roomUsersKey := RoomUsersPrefix + roomID
	pipe := t.rdb.Pipeline()
	pipe.SAdd(ctx, roomUsersKey, username)
	pipe.Expire(ctx, roomUsersKey, RoomUsersTTL)
	pipe.Set(ctx, UserRoomPrefix+username, roomID, UserRoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[presence] join %s/%s: %v", username, roomID, err)
	}

	t.cache.UserOnline(ctx, username)
	t.UpdateLastSeen(ctx, username)
	t.broadcastRoomUsers(ctx, roomID)

	t.broadcast(broadcast.StatusTopic(roomID), "status", broadcast.UserStatusEvent{
		Type:      broadcast.TypeUserJoined,
		Username:  username,
		RoomID:    roomID,
		UserCount: t.OnlineCount(ctx, roomID),
		Timestamp: broadcast.NowMillis(),
	})
}

// Leave transitions (user, room) from present to absent: the user drops out
// of the room's online set and the global online set, the current-room
// pointer is deleted, any typing status is cleared, last-seen is updated, and
// USER_LEFT plus a fresh room-user snapshot are broadcast.
func (t *Tracker) Leave(ctx context.Context, username, roomID string) {
	log.Printf("[presence] user %s left room %s", username, roomID)

	pipe := t.rdb.Pipeline()
	pipe.SRem(ctx, RoomUsersPrefix+roomID, username)
	pipe.Del(ctx, UserRoomPrefix+username)
	pipe.SRem(ctx, TypingPrefix+roomID, username)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[presence] leave %s/%s: %v", username, roomID, err)
	}

	t.cache.UserOffline(ctx, username)
	t.UpdateLastSeen(ctx, username)
	t.broadcastRoomUsers(ctx, roomID)

	t.broadcast(broadcast.StatusTopic(roomID), "status", broadcast.UserStatusEvent{
		Type:      broadcast.TypeUserLeft,
		Username:  username,
		RoomID:    roomID,
		UserCount: t.OnlineCount(ctx, roomID),
		Timestamp: broadcast.NowMillis(),
	})
}

// Disconnect handles a dropped session: it looks up the user's current room
// and synthesizes a leave exactly as an explicit one. No-op if the user has
// no current room.
func (t *Tracker) Disconnect(ctx context.Context, username string) {
	roomID := t.UserRoom(ctx, username)
	if roomID == "" {
		return
	}
	log.Printf("[presence] user %s disconnected, leaving room %s", username, roomID)
	t.Leave(ctx, username, roomID)
}

// OnlineUsers returns every user currently present in the room.
func (t *Tracker) OnlineUsers(ctx context.Context, roomID string) []string {
	users, err := t.rdb.SMembers(ctx, RoomUsersPrefix+roomID).Result()
	if err != nil {
		log.Printf("[presence] online users for %s: %v", roomID, err)
		return nil
	}
	return users
}

// OnlineCount returns the number of users currently present in the room.
func (t *Tracker) OnlineCount(ctx context.Context, roomID string) int64 {
	n, err := t.rdb.SCard(ctx, RoomUsersPrefix+roomID).Result()
	if err != nil {
		log.Printf("[presence] online count for %s: %v", roomID, err)
		return 0
	}
	return n
}

// IsOnline reports whether the user is present in the room.
func (t *Tracker) IsOnline(ctx context.Context, username, roomID string) bool {
	ok, err := t.rdb.SIsMember(ctx, RoomUsersPrefix+roomID, username).Result()
	if err != nil {
		log.Printf("[presence] online check %s/%s: %v", username, roomID, err)
		return false
	}
	return ok
}

// UserRoom returns the room the user is currently in, or "" if none.
func (t *Tracker) UserRoom(ctx context.Context, username string) string {
	roomID, err := t.rdb.Get(ctx, UserRoomPrefix+username).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		log.Printf("[presence] current room for %s: %v", username, err)
		return ""
	}
	return roomID
}

// ---------------------------------------------------------------------------
// Typing indicators
// ---------------------------------------------------------------------------

// StartTyping adds the user to the room's typing set and broadcasts
// TYPING_START. The short set TTL makes the indicator degrade gracefully
// under dropped stop events.
func (t *Tracker) StartTyping(ctx context.Context, username, roomID string) {
	typingKey := TypingPrefix + roomID
	pipe := t.rdb.Pipeline()
	pipe.SAdd(ctx, typingKey, username)
	pipe.Expire(ctx, typingKey, TypingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[presence] start typing %s/%s: %v", username, roomID, err)
	}

	t.broadcast(broadcast.TypingTopic(roomID), "typing", broadcast.TypingEvent{
		Type:      broadcast.TypeTypingStart,
		Username:  username,
		RoomID:    roomID,
		Timestamp: broadcast.NowMillis(),
	})
}

// StopTyping removes the user from the room's typing set immediately and
// broadcasts TYPING_STOP. Called explicitly or implicitly on message send.
func (t *Tracker) StopTyping(ctx context.Context, username, roomID string) {
	if err := t.rdb.SRem(ctx, TypingPrefix+roomID, username).Err(); err != nil {
		log.Printf("[presence] stop typing %s/%s: %v", username, roomID, err)
	}

	t.broadcast(broadcast.TypingTopic(roomID), "typing", broadcast.TypingEvent{
		Type:      broadcast.TypeTypingStop,
		Username:  username,
		RoomID:    roomID,
		Timestamp: broadcast.NowMillis(),
	})
}

// ClearTyping removes the user from the typing set without broadcasting.
func (t *Tracker) ClearTyping(ctx context.Context, username, roomID string) {
	if err := t.rdb.SRem(ctx, TypingPrefix+roomID, username).Err(); err != nil {
		log.Printf("[presence] clear typing %s/%s: %v", username, roomID, err)
	}
}

// TypingUsers returns every user currently typing in the room.
func (t *Tracker) TypingUsers(ctx context.Context, roomID string) []string {
	users, err := t.rdb.SMembers(ctx, TypingPrefix+roomID).Result()
	if err != nil {
		log.Printf("[presence] typing users for %s: %v", roomID, err)
		return nil
	}
	return users
}

// IsTyping reports whether the user is currently typing in the room.
func (t *Tracker) IsTyping(ctx context.Context, username, roomID string) bool {
	ok, err := t.rdb.SIsMember(ctx, TypingPrefix+roomID, username).Result()
	if err != nil {
		log.Printf("[presence] typing check %s/%s: %v", username, roomID, err)
		return false
	}
	return ok
}

// ---------------------------------------------------------------------------
// Last seen
// ---------------------------------------------------------------------------

// UpdateLastSeen stamps the user's last-seen timestamp (unix millis).
func (t *Tracker) UpdateLastSeen(ctx context.Context, username string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := t.rdb.Set(ctx, LastSeenPrefix+username, now, LastSeenTTL).Err(); err != nil {
		log.Printf("[presence] update last seen for %s: %v", username, err)
	}
}

// LastSeen returns the user's last-seen time, or the zero time if unknown.
func (t *Tracker) LastSeen(ctx context.Context, username string) time.Time {
	val, err := t.rdb.Get(ctx, LastSeenPrefix+username).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}
	}
	if err != nil {
		log.Printf("[presence] last seen for %s: %v", username, err)
		return time.Time{}
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("[presence] malformed last seen for %s: %v", username, err)
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// ClearRoom drops the room's presence state (online set and typing set).
func (t *Tracker) ClearRoom(ctx context.Context, roomID string) {
	if err := t.rdb.Del(ctx, RoomUsersPrefix+roomID, TypingPrefix+roomID).Err(); err != nil {
		log.Printf("[presence] clear room %s: %v", roomID, err)
	}
}

// broadcastRoomUsers publishes the full online-user snapshot for the room.
func (t *Tracker) broadcastRoomUsers(ctx context.Context, roomID string) {
	users := t.OnlineUsers(ctx, roomID)
	if users == nil {
		users = []string{}
	}
	t.broadcast(broadcast.UsersTopic(roomID), "status", broadcast.RoomUsersEvent{
		Type:      broadcast.TypeRoomUsers,
		RoomID:    roomID,
		Users:     users,
		Count:     int64(len(users)),
		Timestamp: broadcast.NowMillis(),
	})
}
