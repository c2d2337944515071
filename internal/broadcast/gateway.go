// Package broadcast defines the fan-out contract between the state-sync
// engine and the real-time transport. The engine only ever publishes: it
// emits state-change events to per-room topics and structured errors to
// per-user queues, and never consumes from these subjects.
package broadcast

// Subject patterns for room-scoped fan-out and per-user delivery.
const (
	RoomPrefix = "room."
	UserPrefix = "user."
)

// Gateway fans state-change events out to subscribed clients. Implementations
// are responsible for serialization and delivery; the engine treats publish
// failures as non-fatal and logs them at the call site.
type Gateway interface {
	// Broadcast publishes payload to every subscriber of topic.
	Broadcast(topic string, payload interface{}) error

	// DeliverToUser publishes payload to the named user's private queue.
	DeliverToUser(username string, payload interface{}) error
}

// RoomTopic is the main topic of a room, carrying messages and replies.
func RoomTopic(roomID string) string { return RoomPrefix + roomID }

// StatusTopic carries USER_JOINED / USER_LEFT events.
func StatusTopic(roomID string) string { return RoomPrefix + roomID + ".status" }

// UsersTopic carries full online-user list snapshots.
func UsersTopic(roomID string) string { return RoomPrefix + roomID + ".users" }

// TypingTopic carries TYPING_START / TYPING_STOP events.
func TypingTopic(roomID string) string { return RoomPrefix + roomID + ".typing" }

// ReceiptsTopic carries DELIVERED / READ / BULK_READ events.
func ReceiptsTopic(roomID string) string { return RoomPrefix + roomID + ".receipts" }

// ReactionsTopic carries ADD / UPDATE / REMOVE reaction events.
func ReactionsTopic(roomID string) string { return RoomPrefix + roomID + ".reactions" }

// RepliesTopic carries REPLY / THREAD_UPDATE events.
func RepliesTopic(roomID string) string { return RoomPrefix + roomID + ".replies" }

// UserErrorQueue is the private error channel of a user.
func UserErrorQueue(username string) string { return UserPrefix + username + ".errors" }
