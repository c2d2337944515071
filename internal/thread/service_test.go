package thread

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryMessageStore, *broadcast.Recorder) {
	t.Helper()
	msgs := storage.NewMemoryMessageStore()
	rec := broadcast.NewRecorder()
	return NewService(msgs, rec, keylock.New()), msgs, rec
}

func seedParent(t *testing.T, msgs *storage.MemoryMessageStore) *model.Message {
	t.Helper()
	parent := model.NewMessage("parent-1", "general", "alice", "root message")
	if err := msgs.Save(context.Background(), parent); err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	return parent
}

func TestReply(t *testing.T) {
	svc, msgs, rec := newTestService(t)
	ctx := context.Background()
	seedParent(t, msgs)

	reply, err := svc.Reply(ctx, "parent-1", "general", "bob", "a reply")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.ParentMessageID != "parent-1" || !reply.IsReply() {
		t.Errorf("reply = %+v, want linked to parent-1", reply)
	}

	parent, _ := msgs.FindByID(ctx, "parent-1")
	if parent.ReplyCount != 1 || !parent.HasReplies {
		t.Errorf("parent replyCount = %d hasReplies = %v", parent.ReplyCount, parent.HasReplies)
	}

	threadEvents := rec.ByTopic(broadcast.RepliesTopic("general"))
	if len(threadEvents) != 1 {
		t.Fatalf("got %d thread events, want 1", len(threadEvents))
	}
	ev := threadEvents[0].Payload.(broadcast.ReplyEvent)
	if ev.Type != broadcast.TypeReply || ev.ParentContent != "root message" {
		t.Errorf("event = %+v", ev)
	}

	roomEvents := rec.ByTopic(broadcast.RoomTopic("general"))
	if len(roomEvents) != 1 {
		t.Errorf("got %d room events, want the reply itself", len(roomEvents))
	}
}

func TestReplyToMissingParent(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reply(context.Background(), "absent", "general", "bob", "hi")
	if !errors.Is(err, storage.ErrMessageNotFound) {
		t.Errorf("Reply error = %v, want ErrMessageNotFound", err)
	}
}

func TestReplyEmptyContent(t *testing.T) {
	svc, msgs, _ := newTestService(t)
	seedParent(t, msgs)

	_, err := svc.Reply(context.Background(), "parent-1", "general", "bob", "   ")
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Reply error = %v, want validation failure", err)
	}
}

func TestDeleteReply(t *testing.T) {
	svc, msgs, rec := newTestService(t)
	ctx := context.Background()
	seedParent(t, msgs)

	reply, err := svc.Reply(ctx, "parent-1", "general", "bob", "a reply")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	rec.Reset()

	if err := svc.DeleteReply(ctx, reply.ID, "bob"); err != nil {
		t.Fatalf("DeleteReply: %v", err)
	}

	if _, err := msgs.FindByID(ctx, reply.ID); !errors.Is(err, storage.ErrMessageNotFound) {
		t.Error("reply should be deleted")
	}
	parent, _ := msgs.FindByID(ctx, "parent-1")
	if parent.ReplyCount != 0 || parent.HasReplies {
		t.Errorf("parent replyCount = %d hasReplies = %v after delete", parent.ReplyCount, parent.HasReplies)
	}

	events := rec.ByTopic(broadcast.RepliesTopic("general"))
	if len(events) != 1 {
		t.Fatalf("got %d thread events, want 1", len(events))
	}
	ev := events[0].Payload.(broadcast.ReplyEvent)
	if ev.Type != broadcast.TypeThreadUpdate || ev.ReplyCount != 0 {
		t.Errorf("event = %+v, want THREAD_UPDATE with count 0", ev)
	}
}

func TestDeleteReplyNotOwner(t *testing.T) {
	svc, msgs, _ := newTestService(t)
	ctx := context.Background()
	seedParent(t, msgs)

	reply, err := svc.Reply(ctx, "parent-1", "general", "bob", "a reply")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	if err := svc.DeleteReply(ctx, reply.ID, "mallory"); !errors.Is(err, ErrNotReplyOwner) {
		t.Errorf("DeleteReply by non-owner = %v, want ErrNotReplyOwner", err)
	}
	if _, err := msgs.FindByID(ctx, reply.ID); err != nil {
		t.Error("reply must survive a rejected delete")
	}
}

func TestDeleteReplyWaitsForReplyLock(t *testing.T) {
	msgs := storage.NewMemoryMessageStore()
	rec := broadcast.NewRecorder()
	locks := keylock.New()
	svc := NewService(msgs, rec, locks)
	ctx := context.Background()
	seedParent(t, msgs)

	reply, err := svc.Reply(ctx, "parent-1", "general", "bob", "a reply")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	// Another writer holds the reply's lock, as a receipt or reaction
	// update would mid-save. The delete must wait for it rather than
	// remove the row underneath.
	locks.Lock(reply.ID)
	done := make(chan error, 1)
	go func() { done <- svc.DeleteReply(ctx, reply.ID, "bob") }()

	select {
	case err := <-done:
		t.Fatalf("DeleteReply finished while the reply was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	locks.Unlock(reply.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DeleteReply: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("DeleteReply did not finish after the lock was released")
	}
	if _, err := msgs.FindByID(ctx, reply.ID); !errors.Is(err, storage.ErrMessageNotFound) {
		t.Error("reply should be deleted")
	}
}

func TestThreadRepliesOrderingAndPaging(t *testing.T) {
	svc, msgs, _ := newTestService(t)
	ctx := context.Background()
	seedParent(t, msgs)

	var replyIDs []string
	for i := 0; i < 5; i++ {
		reply, err := svc.Reply(ctx, "parent-1", "general", "bob", fmt.Sprintf("reply %d", i))
		if err != nil {
			t.Fatalf("Reply %d: %v", i, err)
		}
		replyIDs = append(replyIDs, reply.ID)
	}

	page0, err := svc.ThreadReplies(ctx, "parent-1", 0, 2)
	if err != nil {
		t.Fatalf("ThreadReplies: %v", err)
	}
	if len(page0) != 2 || page0[0].ID != replyIDs[0] || page0[1].ID != replyIDs[1] {
		t.Errorf("page 0 order wrong: %v", []string{page0[0].ID, page0[1].ID})
	}

	page2, _ := svc.ThreadReplies(ctx, "parent-1", 2, 2)
	if len(page2) != 1 || page2[0].ID != replyIDs[4] {
		t.Errorf("page 2 = %d replies, want the last one", len(page2))
	}
}

func TestThreadInfo(t *testing.T) {
	svc, msgs, _ := newTestService(t)
	ctx := context.Background()
	seedParent(t, msgs)

	svc.Reply(ctx, "parent-1", "general", "bob", "one")
	svc.Reply(ctx, "parent-1", "general", "carol", "two")

	info, err := svc.ThreadInfo(ctx, "parent-1")
	if err != nil {
		t.Fatalf("ThreadInfo: %v", err)
	}
	if info.ReplyCount != 2 || !info.HasReplies {
		t.Errorf("info = %+v, want 2 replies", info)
	}
}
