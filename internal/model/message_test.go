package model

import (
	"fmt"
	"testing"
)

func newTestMessage() *Message {
	return NewMessage("m1", "general", "alice", "hi")
}

func TestMarkAsRead(t *testing.T) {
	m := newTestMessage()

	if !m.MarkAsRead("bob") {
		t.Fatal("expected first MarkAsRead to report a change")
	}
	if !m.IsReadBy("bob") {
		t.Error("expected bob in readBy")
	}
	if m.Status != StatusRead {
		t.Errorf("expected status READ, got %s", m.Status)
	}
	if m.ReadAt == nil {
		t.Error("expected readAt to be stamped")
	}
	if m.UserStatus["bob"] != StatusRead {
		t.Errorf("expected per-user status READ, got %s", m.UserStatus["bob"])
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	m := newTestMessage()

	m.MarkAsRead("bob")
	firstReadAt := *m.ReadAt

	if m.MarkAsRead("bob") {
		t.Error("expected second MarkAsRead to be a no-op")
	}
	if len(m.ReadBy) != 1 {
		t.Errorf("expected readBy size 1, got %d", len(m.ReadBy))
	}
	if !m.ReadAt.Equal(firstReadAt) {
		t.Error("expected readAt unchanged on repeat call")
	}
}

func TestSenderNeverInOwnReceipts(t *testing.T) {
	m := newTestMessage()

	if m.MarkAsRead("alice") {
		t.Error("expected MarkAsRead by sender to be a no-op")
	}
	if m.MarkAsDelivered("alice") {
		t.Error("expected MarkAsDelivered by sender to be a no-op")
	}
	if m.IsReadBy("alice") || m.IsDeliveredTo("alice") {
		t.Error("sender must never appear in readBy or deliveredTo")
	}
}

func TestMarkAsDelivered(t *testing.T) {
	m := newTestMessage()

	if !m.MarkAsDelivered("bob") {
		t.Fatal("expected first delivery to report a change")
	}
	if m.Status != StatusDelivered {
		t.Errorf("expected status DELIVERED, got %s", m.Status)
	}
	if m.DeliveredAt == nil {
		t.Fatal("expected deliveredAt to be stamped on first delivery")
	}
	firstDeliveredAt := *m.DeliveredAt

	// A second recipient does not restamp deliveredAt.
	if !m.MarkAsDelivered("carol") {
		t.Fatal("expected delivery to a new recipient to report a change")
	}
	if !m.DeliveredAt.Equal(firstDeliveredAt) {
		t.Error("expected deliveredAt unchanged after second recipient")
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	m := newTestMessage()

	m.MarkAsRead("bob")
	m.MarkAsDelivered("carol")

	if m.Status != StatusRead {
		t.Errorf("expected aggregate status to stay READ, got %s", m.Status)
	}
	if m.UserStatus["bob"] != StatusRead {
		t.Errorf("expected bob's status to stay READ, got %s", m.UserStatus["bob"])
	}
}

func TestStatusFor(t *testing.T) {
	m := newTestMessage()
	m.MarkAsDelivered("bob")
	m.MarkAsRead("carol")

	cases := []struct {
		user     string
		expected Status
	}{
		{"bob", StatusDelivered},
		{"carol", StatusRead},
		{"alice", StatusSent},
		{"dave", ""},
	}
	for _, c := range cases {
		if got := m.StatusFor(c.user); got != c.expected {
			t.Errorf("StatusFor(%s): expected %q, got %q", c.user, c.expected, got)
		}
	}
}

func TestAddReaction(t *testing.T) {
	m := newTestMessage()

	if !m.AddReaction("bob", "👍") {
		t.Fatal("expected first reaction to be added")
	}
	if m.AddReaction("bob", "👍") {
		t.Error("expected duplicate reaction to be a no-op")
	}
	m.AddReaction("carol", "👍")

	if m.ReactionCounts["👍"] != 2 {
		t.Errorf("expected count 2, got %d", m.ReactionCounts["👍"])
	}
	if m.ReactionCounts["👍"] != len(m.Reactions["👍"]) {
		t.Error("count must equal user set size")
	}
}

func TestRemoveReactionDropsEmptyEmoji(t *testing.T) {
	m := newTestMessage()
	m.AddReaction("bob", "🔥")

	if !m.RemoveReaction("bob", "🔥") {
		t.Fatal("expected removal to report a change")
	}
	if _, ok := m.Reactions["🔥"]; ok {
		t.Error("expected emoji removed from reactions when its set is empty")
	}
	if _, ok := m.ReactionCounts["🔥"]; ok {
		t.Error("expected emoji removed from reactionCounts, never kept at 0")
	}
	if m.RemoveReaction("bob", "🔥") {
		t.Error("expected removing an absent reaction to be a no-op")
	}
}

func TestUserReaction(t *testing.T) {
	m := newTestMessage()
	m.AddReaction("bob", "😂")

	if got := m.UserReaction("bob"); got != "😂" {
		t.Errorf("expected 😂, got %q", got)
	}
	if got := m.UserReaction("carol"); got != "" {
		t.Errorf("expected no reaction for carol, got %q", got)
	}
}

func TestTotalReactions(t *testing.T) {
	m := newTestMessage()
	m.AddReaction("bob", "👍")
	m.AddReaction("carol", "👍")
	m.AddReaction("dave", "🔥")

	if got := m.TotalReactions(); got != 3 {
		t.Errorf("expected total 3, got %d", got)
	}
}

func TestReplies(t *testing.T) {
	m := newTestMessage()

	m.AddReply("r1")
	m.AddReply("r2")
	m.AddReply("r1") // duplicate

	if m.ReplyCount != 2 {
		t.Errorf("expected replyCount 2, got %d", m.ReplyCount)
	}
	if m.ReplyCount != len(m.ReplyIDs) {
		t.Error("replyCount must equal the reply id set size")
	}
	if !m.HasReplies {
		t.Error("expected hasReplies=true")
	}

	m.RemoveReply("r1")
	m.RemoveReply("r2")

	if m.ReplyCount != 0 {
		t.Errorf("expected replyCount 0, got %d", m.ReplyCount)
	}
	if m.HasReplies {
		t.Error("expected hasReplies=false after removing all replies")
	}
}

func TestIsReply(t *testing.T) {
	m := newTestMessage()
	if m.IsReply() {
		t.Error("expected top-level message not to be a reply")
	}
	m.ParentMessageID = "parent"
	if !m.IsReply() {
		t.Error("expected message with parent to be a reply")
	}
}

func TestRoomRecentMessagesCap(t *testing.T) {
	r := NewRoom("general")

	for i := 1; i <= MaxRecentMessages+10; i++ {
		r.AddMessage(fmt.Sprintf("m-%d", i))
	}

	if len(r.RecentMessageIDs) != MaxRecentMessages {
		t.Fatalf("expected %d recent ids, got %d", MaxRecentMessages, len(r.RecentMessageIDs))
	}
	// Newest first: head is the last appended id.
	if r.RecentMessageIDs[0] != fmt.Sprintf("m-%d", MaxRecentMessages+10) {
		t.Errorf("expected newest id at head, got %s", r.RecentMessageIDs[0])
	}
	if r.RecentMessageIDs[MaxRecentMessages-1] != "m-11" {
		t.Errorf("expected oldest retained id m-11, got %s", r.RecentMessageIDs[MaxRecentMessages-1])
	}
	if r.TotalMessages != int64(MaxRecentMessages+10) {
		t.Errorf("expected totalMessages %d, got %d", MaxRecentMessages+10, r.TotalMessages)
	}
}

func TestValidateRoomID(t *testing.T) {
	valid := []string{"general", "room-1", "a_b_c", "ABC123"}
	for _, id := range valid {
		if err := ValidateRoomID(id); err != nil {
			t.Errorf("expected %q valid, got %v", id, err)
		}
	}

	invalid := []string{"", "ab", "has space", "emoji🔥", "x/y", string(make([]byte, 51))}
	for _, id := range invalid {
		if err := ValidateRoomID(id); err == nil {
			t.Errorf("expected %q invalid", id)
		}
	}
}
