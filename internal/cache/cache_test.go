package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/model"
)

// newTestCache connects to a local Redis instance and removes leftover test
// keys. Tests that call this helper require a running Redis on
// localhost:6379.
func newTestCache(t *testing.T) (*Cache, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, pattern := range []string{MessagePrefix + "test_*", RecentPrefix + "test_*", RoomPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
		client.SRem(ctx, OnlineUsersKey, "test_user_online")
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return New(client), client
}

func TestRoomRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	room := model.NewRoom("test_room_rt")
	room.AddMessage("m1")
	c.CacheRoom(ctx, room)

	got := c.Room(ctx, "test_room_rt")
	if got == nil {
		t.Fatal("expected cached room, got miss")
	}
	if got.ID != room.ID || got.TotalMessages != 1 {
		t.Errorf("cached room = %+v, want id=%s total=1", got, room.ID)
	}
}

func TestRoomMiss(t *testing.T) {
	c, _ := newTestCache(t)

	if got := c.Room(context.Background(), "test_room_absent"); got != nil {
		t.Errorf("expected miss for absent room, got %+v", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	msg := model.NewMessage("test_msg_rt", "test_room_msgs", "alice", "hello")
	c.CacheMessage(ctx, "test_room_msgs", msg)

	got := c.Message(ctx, "test_msg_rt")
	if got == nil {
		t.Fatal("expected cached message, got miss")
	}
	if got.Content != "hello" || got.Sender != "alice" {
		t.Errorf("cached message = %+v", got)
	}
}

func TestRecentMessagesNewestFirst(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := model.NewMessage(fmt.Sprintf("test_msg_order_%d", i), "test_room_order", "alice", fmt.Sprintf("m%d", i))
		c.CacheMessage(ctx, "test_room_order", msg)
	}

	recent := c.RecentMessages(ctx, "test_room_order")
	if len(recent) != 3 {
		t.Fatalf("got %d recent messages, want 3", len(recent))
	}
	if recent[0].ID != "test_msg_order_2" || recent[2].ID != "test_msg_order_0" {
		t.Errorf("recent order wrong: first=%s last=%s", recent[0].ID, recent[2].ID)
	}
}

func TestRecentMessagesCapped(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < RecentCap+10; i++ {
		msg := model.NewMessage(fmt.Sprintf("test_msg_cap_%d", i), "test_room_cap", "alice", "x")
		c.CacheMessage(ctx, "test_room_cap", msg)
	}

	recent := c.RecentMessages(ctx, "test_room_cap")
	if len(recent) != RecentCap {
		t.Errorf("got %d recent messages, want %d", len(recent), RecentCap)
	}
	if recent[0].ID != fmt.Sprintf("test_msg_cap_%d", RecentCap+9) {
		t.Errorf("newest entry = %s", recent[0].ID)
	}
}

func TestMalformedValueIsMiss(t *testing.T) {
	c, client := newTestCache(t)
	ctx := context.Background()

	client.Set(ctx, MessagePrefix+"test_msg_garbage", "{not json", MessageTTL)
	if got := c.Message(ctx, "test_msg_garbage"); got != nil {
		t.Errorf("expected miss for malformed value, got %+v", got)
	}
}

func TestClearRoom(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	room := model.NewRoom("test_room_clear")
	c.CacheRoom(ctx, room)
	c.CacheMessage(ctx, "test_room_clear", model.NewMessage("test_msg_clear", "test_room_clear", "alice", "x"))

	c.ClearRoom(ctx, "test_room_clear")

	if c.Room(ctx, "test_room_clear") != nil {
		t.Error("room should be evicted")
	}
	if c.RecentMessages(ctx, "test_room_clear") != nil {
		t.Error("recent list should be evicted")
	}
}

func TestOnlineUsers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.UserOnline(ctx, "test_user_online")
	if !c.IsUserOnline(ctx, "test_user_online") {
		t.Error("user should be online after UserOnline")
	}

	c.UserOffline(ctx, "test_user_online")
	if c.IsUserOnline(ctx, "test_user_online") {
		t.Error("user should be offline after UserOffline")
	}
}
