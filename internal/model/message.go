// Package model defines the Room and Message aggregates and the state
// transitions applied to them: delivery/read receipts, emoji reactions, and
// thread linkage. All methods mutate the receiver in place and report whether
// anything changed so callers can skip redundant persistence and broadcasts.
package model

import "time"

// Status is the aggregate delivery state of a message.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// statusRank orders statuses so that transitions only ever advance.
var statusRank = map[Status]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// advance returns the later of two statuses.
func advance(current, next Status) Status {
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}

// Message is a single chat message with its receipt, reaction, and thread
// state. Set-valued fields are stored as sorted-insertion string slices so
// they serialize as plain JSON arrays.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Status      Status            `json:"status"`
	UserStatus  map[string]Status `json:"userStatus,omitempty"`
	SentAt      time.Time         `json:"sentAt"`
	DeliveredAt *time.Time        `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time        `json:"readAt,omitempty"`
	ReadBy      []string          `json:"readBy,omitempty"`
	DeliveredTo []string          `json:"deliveredTo,omitempty"`

	ParentMessageID string   `json:"parentMessageId,omitempty"`
	HasReplies      bool     `json:"hasReplies"`
	ReplyCount      int      `json:"replyCount"`
	ReplyIDs        []string `json:"replyIds,omitempty"`

	Reactions      map[string][]string `json:"reactions,omitempty"`      // emoji -> usernames
	ReactionCounts map[string]int      `json:"reactionCounts,omitempty"` // emoji -> len(Reactions[emoji])
}

// NewMessage creates a message in the SENT state with all receipt, reaction,
// and thread fields initialized empty.
func NewMessage(id, roomID, sender, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:             id,
		RoomID:         roomID,
		Sender:         sender,
		Content:        content,
		Timestamp:      now,
		SentAt:         now,
		Status:         StatusSent,
		UserStatus:     make(map[string]Status),
		Reactions:      make(map[string][]string),
		ReactionCounts: make(map[string]int),
	}
}

// contains reports whether s holds v.
func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// addToSet appends v to s if absent and reports whether it was added.
func addToSet(s []string, v string) ([]string, bool) {
	if contains(s, v) {
		return s, false
	}
	return append(s, v), true
}

// removeFromSet removes v from s and reports whether it was present.
func removeFromSet(s []string, v string) ([]string, bool) {
	for i, e := range s {
		if e == v {
			return append(s[:i], s[i+1:]...), true
		}
	}
	return s, false
}

// ---------------------------------------------------------------------------
// Receipts
// ---------------------------------------------------------------------------

// MarkAsDelivered records delivery of the message to username. The sender is
// never recorded against their own message. The first delivery advances the
// aggregate status and stamps DeliveredAt; repeat calls change nothing.
// Returns true if the message state changed.
func (m *Message) MarkAsDelivered(username string) bool {
	if username == m.Sender {
		return false
	}

	var added bool
	m.DeliveredTo, added = addToSet(m.DeliveredTo, username)
	if !added {
		return false
	}

	if m.UserStatus == nil {
		m.UserStatus = make(map[string]Status)
	}
	m.UserStatus[username] = advance(m.UserStatus[username], StatusDelivered)

	if m.DeliveredAt == nil {
		now := time.Now().UTC()
		m.DeliveredAt = &now
		m.Status = advance(m.Status, StatusDelivered)
	}
	return true
}

// MarkAsRead records that username has read the message. Reading implies
// delivery, so the aggregate status always advances to READ even if
// MarkAsDelivered was never called. No-op for the sender and for repeat
// calls. Returns true if the message state changed.
func (m *Message) MarkAsRead(username string) bool {
	if username == m.Sender {
		return false
	}

	var added bool
	m.ReadBy, added = addToSet(m.ReadBy, username)
	if !added {
		return false
	}

	if m.UserStatus == nil {
		m.UserStatus = make(map[string]Status)
	}
	m.UserStatus[username] = StatusRead

	now := time.Now().UTC()
	m.ReadAt = &now
	m.Status = StatusRead
	return true
}

// IsReadBy reports whether username has read the message.
func (m *Message) IsReadBy(username string) bool {
	return contains(m.ReadBy, username)
}

// IsDeliveredTo reports whether the message was delivered to username.
func (m *Message) IsDeliveredTo(username string) bool {
	return contains(m.DeliveredTo, username)
}

// StatusFor returns the per-user delivery status of the message, derived from
// the receipt sets: READ if read, DELIVERED if delivered, SENT for the
// sender, and "" for anyone with no recorded state.
func (m *Message) StatusFor(username string) Status {
	switch {
	case m.IsReadBy(username):
		return StatusRead
	case m.IsDeliveredTo(username):
		return StatusDelivered
	case username == m.Sender:
		return StatusSent
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Reactions
// ---------------------------------------------------------------------------

// AddReaction records username's reaction with emoji. The count for the emoji
// is kept equal to the size of its user set. Returns false if the user had
// already reacted with that emoji.
func (m *Message) AddReaction(username, emoji string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	if m.ReactionCounts == nil {
		m.ReactionCounts = make(map[string]int)
	}

	users, added := addToSet(m.Reactions[emoji], username)
	if !added {
		return false
	}
	m.Reactions[emoji] = users
	m.ReactionCounts[emoji] = len(users)
	return true
}

// RemoveReaction removes username's reaction with emoji. An emoji whose user
// set becomes empty is dropped from both maps so no emoji ever appears with a
// zero count. Returns false if the user had no such reaction.
func (m *Message) RemoveReaction(username, emoji string) bool {
	users, removed := removeFromSet(m.Reactions[emoji], username)
	if !removed {
		return false
	}
	if len(users) == 0 {
		delete(m.Reactions, emoji)
		delete(m.ReactionCounts, emoji)
	} else {
		m.Reactions[emoji] = users
		m.ReactionCounts[emoji] = len(users)
	}
	return true
}

// UserReaction returns the emoji username currently reacts with, or "" if
// they have no active reaction.
func (m *Message) UserReaction(username string) string {
	for emoji, users := range m.Reactions {
		if contains(users, username) {
			return emoji
		}
	}
	return ""
}

// HasUserReactedWith reports whether username reacted with emoji.
func (m *Message) HasUserReactedWith(username, emoji string) bool {
	return contains(m.Reactions[emoji], username)
}

// TotalReactions returns the total number of reactions across all emojis.
func (m *Message) TotalReactions() int {
	total := 0
	for _, n := range m.ReactionCounts {
		total += n
	}
	return total
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// AddReply links a reply message id to this message and recomputes the
// denormalized reply count.
func (m *Message) AddReply(replyID string) {
	m.ReplyIDs, _ = addToSet(m.ReplyIDs, replyID)
	m.ReplyCount = len(m.ReplyIDs)
	m.HasReplies = m.ReplyCount > 0
}

// RemoveReply unlinks a reply message id and recomputes the reply count.
func (m *Message) RemoveReply(replyID string) {
	m.ReplyIDs, _ = removeFromSet(m.ReplyIDs, replyID)
	m.ReplyCount = len(m.ReplyIDs)
	m.HasReplies = m.ReplyCount > 0
}

// IsReply reports whether this message is a reply to another message.
func (m *Message) IsReply() bool {
	return m.ParentMessageID != ""
}
