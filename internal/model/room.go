package model

import (
	"fmt"
	"regexp"
	"time"
)

// MaxRecentMessages is the number of message ids retained on the room's
// recent list, newest first.
const MaxRecentMessages = 50

// roomIDPattern constrains room identifiers to a URL- and key-safe alphabet.
var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// ValidateRoomID checks that a room identifier is well formed.
func ValidateRoomID(roomID string) error {
	if !roomIDPattern.MatchString(roomID) {
		return fmt.Errorf("%w: room id must be 3-50 characters of letters, numbers, hyphens, and underscores", ErrValidation)
	}
	return nil
}

// Room is a chat room aggregate. It does not embed messages; it carries a
// bounded newest-first list of recent message ids and a monotonically
// non-decreasing total counter.
type Room struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	RecentMessageIDs []string  `json:"recentMessageIds"`
	TotalMessages    int64     `json:"totalMessages"`
}

// NewRoom creates an empty room with the given identifier.
func NewRoom(roomID string) *Room {
	now := time.Now().UTC()
	return &Room{
		ID:               roomID,
		CreatedAt:        now,
		UpdatedAt:        now,
		RecentMessageIDs: []string{},
	}
}

// AddMessage records a newly appended message: the id is pushed onto the head
// of the recent list, the oldest entry is evicted past the cap, and the total
// counter is incremented.
func (r *Room) AddMessage(messageID string) {
	r.RecentMessageIDs = append([]string{messageID}, r.RecentMessageIDs...)
	if len(r.RecentMessageIDs) > MaxRecentMessages {
		r.RecentMessageIDs = r.RecentMessageIDs[:MaxRecentMessages]
	}
	r.TotalMessages++
	r.UpdatedAt = time.Now().UTC()
}
