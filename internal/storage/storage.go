// Package storage defines the durable-store contracts for rooms and messages
// and provides Postgres and in-memory implementations. The durable store is
// the system of record; the ephemeral Redis tier only caches what lives here.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roomchat/backend/internal/model"
)

var (
	// ErrRoomNotFound is returned when a room id is absent from the store.
	ErrRoomNotFound = errors.New("storage: room not found")

	// ErrRoomExists is returned by Create when the room id is already taken.
	ErrRoomExists = errors.New("storage: room already exists")

	// ErrMessageNotFound is returned when a message id is absent from the store.
	ErrMessageNotFound = errors.New("storage: message not found")
)

// RoomRepository persists Room aggregates.
type RoomRepository interface {
	// Create stores a new room. Returns ErrRoomExists if the id is taken.
	Create(ctx context.Context, room *model.Room) error

	// FindByID returns the room or ErrRoomNotFound.
	FindByID(ctx context.Context, roomID string) (*model.Room, error)

	// Save overwrites an existing room.
	Save(ctx context.Context, room *model.Room) error

	// Exists reports whether a room with the given id is stored.
	Exists(ctx context.Context, roomID string) (bool, error)
}

// MessageRepository persists Message aggregates.
type MessageRepository interface {
	// Save upserts a message.
	Save(ctx context.Context, msg *model.Message) error

	// SaveAll upserts a batch of messages.
	SaveAll(ctx context.Context, msgs []*model.Message) error

	// FindByID returns the message or ErrMessageNotFound.
	FindByID(ctx context.Context, id string) (*model.Message, error)

	// FindAllByIDs returns the messages that exist among ids; missing ids are
	// skipped, not an error.
	FindAllByIDs(ctx context.Context, ids []string) ([]*model.Message, error)

	// FindByRoom returns a page of the room's messages, newest first.
	FindByRoom(ctx context.Context, roomID string, page, size int) ([]*model.Message, error)

	// FindRecentByRoom returns up to limit of the room's newest messages,
	// newest first.
	FindRecentByRoom(ctx context.Context, roomID string, limit int) ([]*model.Message, error)

	// FindReplies returns a page of the replies to parentID, oldest first.
	FindReplies(ctx context.Context, parentID string, page, size int) ([]*model.Message, error)

	// CountByRoom returns the total number of messages in a room.
	CountByRoom(ctx context.Context, roomID string) (int64, error)

	// CountSentAfter counts the room's messages newer than after, excluding
	// those sent by excludeSender.
	CountSentAfter(ctx context.Context, roomID string, after time.Time, excludeSender string) (int64, error)

	// Delete removes a message. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
