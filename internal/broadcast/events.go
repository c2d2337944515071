package broadcast

import (
	"time"

	"github.com/roomchat/backend/internal/model"
)

// Event type discriminators carried in the "type" field of every payload.
const (
	TypeUserJoined     = "USER_JOINED"
	TypeUserLeft       = "USER_LEFT"
	TypeRoomUsers      = "ROOM_USERS"
	TypeTypingStart    = "TYPING_START"
	TypeTypingStop     = "TYPING_STOP"
	TypeDelivered      = "DELIVERED"
	TypeRead           = "READ"
	TypeBulkRead       = "BULK_READ"
	TypeReactionAdd    = "ADD"
	TypeReactionUpdate = "UPDATE"
	TypeReactionRemove = "REMOVE"
	TypeReply          = "REPLY"
	TypeThreadUpdate   = "THREAD_UPDATE"
	TypeError          = "ERROR"
)

// UserStatusEvent announces a join or leave on a room's status topic.
type UserStatusEvent struct {
	Type      string `json:"type"` // USER_JOINED | USER_LEFT
	Username  string `json:"username"`
	RoomID    string `json:"roomId"`
	UserCount int64  `json:"userCount"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// RoomUsersEvent is the full online-user snapshot for a room.
type RoomUsersEvent struct {
	Type      string   `json:"type"` // ROOM_USERS
	RoomID    string   `json:"roomId"`
	Users     []string `json:"users"`
	Count     int64    `json:"count"`
	Timestamp int64    `json:"timestamp"`
}

// TypingEvent announces a typing start or stop.
type TypingEvent struct {
	Type      string `json:"type"` // TYPING_START | TYPING_STOP
	Username  string `json:"username"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}

// ReadReceiptEvent announces delivery or read progress for one message, or a
// BULK_READ covering several.
type ReadReceiptEvent struct {
	Type        string       `json:"type"` // DELIVERED | READ | BULK_READ
	MessageID   string       `json:"messageId,omitempty"`
	RoomID      string       `json:"roomId"`
	Username    string       `json:"username"`
	Status      model.Status `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	ReadBy      []string     `json:"readBy,omitempty"`
	DeliveredTo []string     `json:"deliveredTo,omitempty"`
}

// ReactionEvent carries the full updated reaction state of a message.
type ReactionEvent struct {
	Type           string              `json:"type"` // ADD | UPDATE | REMOVE
	MessageID      string              `json:"messageId"`
	RoomID         string              `json:"roomId"`
	Username       string              `json:"username"`
	Emoji          string              `json:"emoji"`
	Timestamp      time.Time           `json:"timestamp"`
	Reactions      map[string][]string `json:"reactions"`
	ReactionCounts map[string]int      `json:"reactionCounts"`
	TotalReactions int                 `json:"totalReactions"`
}

// ReplyEvent announces a new reply (with a preview of its parent) or a
// thread-count update after a reply deletion.
type ReplyEvent struct {
	Type            string    `json:"type"` // REPLY | THREAD_UPDATE
	ParentMessageID string    `json:"parentMessageId"`
	ReplyMessageID  string    `json:"replyMessageId,omitempty"`
	RoomID          string    `json:"roomId"`
	Sender          string    `json:"sender,omitempty"`
	Content         string    `json:"content,omitempty"`
	ParentSender    string    `json:"parentSender,omitempty"`
	ParentContent   string    `json:"parentContent,omitempty"`
	ReplyCount      int       `json:"replyCount"`
	HasReplies      bool      `json:"hasReplies"`
	Timestamp       time.Time `json:"timestamp"`
}

// ErrorEvent is delivered only to the acting user's private error queue,
// never broadcast to a room.
type ErrorEvent struct {
	Type      string `json:"type"` // ERROR
	Code      string `json:"code"` // NOT_FOUND | CONFLICT | UNAUTHORIZED | VALIDATION | RATE_LIMITED
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NowMillis returns the current wall clock as unix milliseconds, the
// timestamp convention of the status/typing/error payloads.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
