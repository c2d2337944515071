// Package thread links reply messages to their parent and keeps the parent's
// denormalized reply count consistent with its reply id set.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roomchat/backend/internal/broadcast"
	"github.com/roomchat/backend/internal/keylock"
	"github.com/roomchat/backend/internal/metrics"
	"github.com/roomchat/backend/internal/model"
	"github.com/roomchat/backend/internal/storage"
)

// ErrNotReplyOwner is returned when a user tries to delete a reply they did
// not send.
var ErrNotReplyOwner = errors.New("thread: only the sender can delete a reply")

// Service manages reply threads.
type Service struct {
	messages storage.MessageRepository
	gateway  broadcast.Gateway
	locks    *keylock.Map
}

// NewService creates a thread service.
func NewService(messages storage.MessageRepository, gateway broadcast.Gateway, locks *keylock.Map) *Service {
	return &Service{messages: messages, gateway: gateway, locks: locks}
}

func (s *Service) emitReply(roomID string, event broadcast.ReplyEvent) {
	if err := s.gateway.Broadcast(broadcast.RepliesTopic(roomID), event); err != nil {
		log.Printf("[thread] broadcast to room %s: %v", roomID, err)
		return
	}
	metrics.BroadcastEvents.WithLabelValues("reply").Inc()
}

// Reply creates a new message as a reply to parentID, links it to the
// parent, and broadcasts both a REPLY event (with a parent preview) on the
// thread topic and the reply itself on the main room topic.
func (s *Service) Reply(ctx context.Context, parentID, roomID, sender, content string) (*model.Message, error) {
	if err := model.ValidateContent(content); err != nil {
		return nil, fmt.Errorf("thread: reply: %w", err)
	}

	s.locks.Lock(parentID)
	defer s.locks.Unlock(parentID)

	parent, err := s.messages.FindByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("thread: reply: %w", err)
	}

	reply := model.NewMessage(uuid.NewString(), roomID, sender, content)
	reply.ParentMessageID = parentID
	if err := s.messages.Save(ctx, reply); err != nil {
		return nil, fmt.Errorf("thread: save reply: %w", err)
	}

	parent.AddReply(reply.ID)
	if err := s.messages.Save(ctx, parent); err != nil {
		return nil, fmt.Errorf("thread: update parent: %w", err)
	}

	s.emitReply(roomID, broadcast.ReplyEvent{
		Type:            broadcast.TypeReply,
		ParentMessageID: parentID,
		ReplyMessageID:  reply.ID,
		RoomID:          roomID,
		Sender:          sender,
		Content:         content,
		ParentSender:    parent.Sender,
		ParentContent:   parent.Content,
		ReplyCount:      parent.ReplyCount,
		HasReplies:      parent.HasReplies,
		Timestamp:       time.Now().UTC(),
	})
	if err := s.gateway.Broadcast(broadcast.RoomTopic(roomID), reply); err != nil {
		log.Printf("[thread] broadcast reply to room %s: %v", roomID, err)
	} else {
		metrics.BroadcastEvents.WithLabelValues("message").Inc()
	}

	log.Printf("[thread] reply %s created for parent %s", reply.ID, parentID)
	return reply, nil
}

// DeleteReply removes a reply. Only the reply's sender may delete it. The
// parent's reply set is updated and a THREAD_UPDATE event is broadcast.
func (s *Service) DeleteReply(ctx context.Context, replyID, username string) error {
	reply, err := s.removeOwnedReply(ctx, replyID, username)
	if err != nil {
		return err
	}

	if reply.ParentMessageID == "" {
		return nil
	}

	s.locks.Lock(reply.ParentMessageID)
	defer s.locks.Unlock(reply.ParentMessageID)

	parent, err := s.messages.FindByID(ctx, reply.ParentMessageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			// Parent gone; nothing left to update.
			return nil
		}
		return fmt.Errorf("thread: delete reply: %w", err)
	}

	parent.RemoveReply(replyID)
	if err := s.messages.Save(ctx, parent); err != nil {
		return fmt.Errorf("thread: update parent: %w", err)
	}

	s.emitReply(parent.RoomID, broadcast.ReplyEvent{
		Type:            broadcast.TypeThreadUpdate,
		ParentMessageID: parent.ID,
		RoomID:          parent.RoomID,
		ReplyCount:      parent.ReplyCount,
		HasReplies:      parent.HasReplies,
		Timestamp:       time.Now().UTC(),
	})

	log.Printf("[thread] reply %s deleted by %s", replyID, username)
	return nil
}

// removeOwnedReply deletes the reply while holding its lock, so a concurrent
// writer that read the row before the delete cannot save it back afterwards.
// The lock is released before the caller takes the parent's lock.
func (s *Service) removeOwnedReply(ctx context.Context, replyID, username string) (*model.Message, error) {
	s.locks.Lock(replyID)
	defer s.locks.Unlock(replyID)

	reply, err := s.messages.FindByID(ctx, replyID)
	if err != nil {
		return nil, fmt.Errorf("thread: delete reply: %w", err)
	}
	if reply.Sender != username {
		return nil, ErrNotReplyOwner
	}

	if err := s.messages.Delete(ctx, replyID); err != nil {
		return nil, fmt.Errorf("thread: delete reply: %w", err)
	}
	return reply, nil
}

// ThreadReplies returns a page of the replies to parentID, oldest first.
func (s *Service) ThreadReplies(ctx context.Context, parentID string, page, size int) ([]*model.Message, error) {
	replies, err := s.messages.FindReplies(ctx, parentID, page, size)
	if err != nil {
		return nil, fmt.Errorf("thread: replies for %s: %w", parentID, err)
	}
	return replies, nil
}

// ThreadInfo returns the current reply-count snapshot of a message.
func (s *Service) ThreadInfo(ctx context.Context, messageID string) (*broadcast.ReplyEvent, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("thread: info for %s: %w", messageID, err)
	}
	return &broadcast.ReplyEvent{
		Type:            broadcast.TypeThreadUpdate,
		ParentMessageID: msg.ID,
		RoomID:          msg.RoomID,
		ReplyCount:      msg.ReplyCount,
		HasReplies:      msg.HasReplies,
		Timestamp:       time.Now().UTC(),
	}, nil
}
