package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/roomchat/backend/internal/model"
)

func cloneRoom(r *model.Room) *model.Room {
	data, _ := json.Marshal(r)
	var out model.Room
	_ = json.Unmarshal(data, &out)
	return &out
}

func cloneMessage(m *model.Message) *model.Message {
	data, _ := json.Marshal(m)
	var out model.Message
	_ = json.Unmarshal(data, &out)
	return &out
}

// MemoryRoomStore is an in-process RoomRepository, used in tests and
// single-node development setups. Reads and writes copy the aggregate so
// callers never share state with the store.
type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*model.Room
}

// NewMemoryRoomStore creates an empty in-memory room store.
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[string]*model.Room)}
}

func (s *MemoryRoomStore) Create(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return ErrRoomExists
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryRoomStore) FindByID(ctx context.Context, roomID string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryRoomStore) Save(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryRoomStore) Exists(ctx context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}

// MemoryMessageStore is an in-process MessageRepository. Insertion order is
// tracked per message so pagination stays stable when timestamps collide.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
	seq      map[string]int64
	n        int64
}

// NewMemoryMessageStore creates an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*model.Message),
		seq:      make(map[string]int64),
	}
}

func (s *MemoryMessageStore) Save(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(msg)
	return nil
}

func (s *MemoryMessageStore) saveLocked(msg *model.Message) {
	if _, ok := s.messages[msg.ID]; !ok {
		s.n++
		s.seq[msg.ID] = s.n
	}
	s.messages[msg.ID] = cloneMessage(msg)
}

func (s *MemoryMessageStore) SaveAll(ctx context.Context, msgs []*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.saveLocked(m)
	}
	return nil
}

func (s *MemoryMessageStore) FindByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryMessageStore) FindAllByIDs(ctx context.Context, ids []string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out = append(out, cloneMessage(msg))
		}
	}
	return out, nil
}

// byRoomLocked returns the room's messages newest first.
func (s *MemoryMessageStore) byRoomLocked(roomID string) []*model.Message {
	var out []*model.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out
}

func paginate(msgs []*model.Message, page, size int) []*model.Message {
	if page < 0 || size <= 0 {
		return []*model.Message{}
	}
	start := page * size
	if start >= len(msgs) {
		return []*model.Message{}
	}
	end := start + size
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[start:end]
}

func (s *MemoryMessageStore) FindByRoom(ctx context.Context, roomID string, page, size int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginate(s.byRoomLocked(roomID), page, size), nil
}

func (s *MemoryMessageStore) FindRecentByRoom(ctx context.Context, roomID string, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byRoomLocked(roomID)
	if limit >= 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *MemoryMessageStore) FindReplies(ctx context.Context, parentID string, page, size int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Message
	for _, m := range s.messages {
		if m.ParentMessageID == parentID {
			out = append(out, cloneMessage(m))
		}
	}
	// Oldest first for thread display.
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return paginate(out, page, size), nil
}

func (s *MemoryMessageStore) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.RoomID == roomID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryMessageStore) CountSentAfter(ctx context.Context, roomID string, after time.Time, excludeSender string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.RoomID == roomID && m.Sender != excludeSender && m.Timestamp.After(after) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryMessageStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	delete(s.seq, id)
	return nil
}
