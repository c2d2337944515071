package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roomchat/backend/internal/model"
)

// PostgresRoomStore is the Postgres-backed RoomRepository. The set-valued
// recent-message list is stored as JSONB.
type PostgresRoomStore struct {
	db *sql.DB
}

// NewPostgresRoomStore creates a room store backed by the given database handle.
func NewPostgresRoomStore(db *sql.DB) *PostgresRoomStore {
	return &PostgresRoomStore{db: db}
}

func (s *PostgresRoomStore) Create(ctx context.Context, room *model.Room) error {
	recent, err := json.Marshal(room.RecentMessageIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal recent ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, created_at, updated_at, recent_message_ids, total_messages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO NOTHING`,
		room.ID, room.CreatedAt, room.UpdatedAt, recent, room.TotalMessages,
	)
	if err != nil {
		return fmt.Errorf("storage: create room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: create room: %w", err)
	}
	if n == 0 {
		return ErrRoomExists
	}
	return nil
}

func (s *PostgresRoomStore) FindByID(ctx context.Context, roomID string) (*model.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT room_id, created_at, updated_at, recent_message_ids, total_messages
		FROM rooms WHERE room_id = $1`, roomID)

	var room model.Room
	var recent []byte
	err := row.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt, &recent, &room.TotalMessages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find room %s: %w", roomID, err)
	}
	if err := json.Unmarshal(recent, &room.RecentMessageIDs); err != nil {
		return nil, fmt.Errorf("storage: decode recent ids for %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *PostgresRoomStore) Save(ctx context.Context, room *model.Room) error {
	recent, err := json.Marshal(room.RecentMessageIDs)
	if err != nil {
		return fmt.Errorf("storage: marshal recent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, created_at, updated_at, recent_message_ids, total_messages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			recent_message_ids = EXCLUDED.recent_message_ids,
			total_messages = EXCLUDED.total_messages`,
		room.ID, room.CreatedAt, room.UpdatedAt, recent, room.TotalMessages,
	)
	if err != nil {
		return fmt.Errorf("storage: save room %s: %w", room.ID, err)
	}
	return nil
}

func (s *PostgresRoomStore) Exists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE room_id = $1)`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: room exists %s: %w", roomID, err)
	}
	return exists, nil
}

// PostgresMessageStore is the Postgres-backed MessageRepository. Receipt
// sets, reaction maps, and reply ids are stored as JSONB columns.
type PostgresMessageStore struct {
	db *sql.DB
}

// NewPostgresMessageStore creates a message store backed by the given
// database handle.
func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

const messageColumns = `
	id, room_id, sender, content, ts, status, user_status,
	sent_at, delivered_at, read_at, read_by, delivered_to,
	parent_message_id, reply_ids, reply_count, has_replies,
	reactions, reaction_counts`

type messageRow struct {
	userStatus  []byte
	readBy      []byte
	deliveredTo []byte
	replyIDs    []byte
	reactions   []byte
	counts      []byte
}

func marshalMessage(m *model.Message) (messageRow, error) {
	var row messageRow
	var err error
	fields := []struct {
		dst *[]byte
		src interface{}
	}{
		{&row.userStatus, m.UserStatus},
		{&row.readBy, m.ReadBy},
		{&row.deliveredTo, m.DeliveredTo},
		{&row.replyIDs, m.ReplyIDs},
		{&row.reactions, m.Reactions},
		{&row.counts, m.ReactionCounts},
	}
	for _, f := range fields {
		if *f.dst, err = json.Marshal(f.src); err != nil {
			return row, fmt.Errorf("storage: marshal message %s: %w", m.ID, err)
		}
	}
	return row, nil
}

func (s *PostgresMessageStore) Save(ctx context.Context, msg *model.Message) error {
	return s.saveTx(ctx, s.db, msg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *PostgresMessageStore) saveTx(ctx context.Context, ex execer, msg *model.Message) error {
	row, err := marshalMessage(msg)
	if err != nil {
		return err
	}

	var parent sql.NullString
	if msg.ParentMessageID != "" {
		parent = sql.NullString{String: msg.ParentMessageID, Valid: true}
	}
	var deliveredAt, readAt sql.NullTime
	if msg.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *msg.DeliveredAt, Valid: true}
	}
	if msg.ReadAt != nil {
		readAt = sql.NullTime{Time: *msg.ReadAt, Valid: true}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			user_status = EXCLUDED.user_status,
			delivered_at = EXCLUDED.delivered_at,
			read_at = EXCLUDED.read_at,
			read_by = EXCLUDED.read_by,
			delivered_to = EXCLUDED.delivered_to,
			reply_ids = EXCLUDED.reply_ids,
			reply_count = EXCLUDED.reply_count,
			has_replies = EXCLUDED.has_replies,
			reactions = EXCLUDED.reactions,
			reaction_counts = EXCLUDED.reaction_counts`,
		msg.ID, msg.RoomID, msg.Sender, msg.Content, msg.Timestamp, string(msg.Status), row.userStatus,
		msg.SentAt, deliveredAt, readAt, row.readBy, row.deliveredTo,
		parent, row.replyIDs, msg.ReplyCount, msg.HasReplies,
		row.reactions, row.counts,
	)
	if err != nil {
		return fmt.Errorf("storage: save message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresMessageStore) SaveAll(ctx context.Context, msgs []*model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin batch save: %w", err)
	}
	for _, m := range msgs {
		if err := s.saveTx(ctx, tx, m); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit batch save: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(r rowScanner) (*model.Message, error) {
	var m model.Message
	var status string
	var parent sql.NullString
	var deliveredAt, readAt sql.NullTime
	var userStatus, readBy, deliveredTo, replyIDs, reactions, counts []byte

	err := r.Scan(
		&m.ID, &m.RoomID, &m.Sender, &m.Content, &m.Timestamp, &status, &userStatus,
		&m.SentAt, &deliveredAt, &readAt, &readBy, &deliveredTo,
		&parent, &replyIDs, &m.ReplyCount, &m.HasReplies,
		&reactions, &counts,
	)
	if err != nil {
		return nil, err
	}

	m.Status = model.Status(status)
	if parent.Valid {
		m.ParentMessageID = parent.String
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		m.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	for _, f := range []struct {
		data []byte
		dst  interface{}
	}{
		{userStatus, &m.UserStatus},
		{readBy, &m.ReadBy},
		{deliveredTo, &m.DeliveredTo},
		{replyIDs, &m.ReplyIDs},
		{reactions, &m.Reactions},
		{counts, &m.ReactionCounts},
	} {
		// A SQL NULL scans as an empty byte slice; leave the field zero.
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("storage: decode message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (s *PostgresMessageStore) FindByID(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find message %s: %w", id, err)
	}
	return msg, nil
}

func (s *PostgresMessageStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages: %w", err)
	}
	if out == nil {
		out = []*model.Message{}
	}
	return out, nil
}

func (s *PostgresMessageStore) FindAllByIDs(ctx context.Context, ids []string) ([]*model.Message, error) {
	if len(ids) == 0 {
		return []*model.Message{}, nil
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal id list: %w", err)
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))`, idsJSON)
}

func (s *PostgresMessageStore) FindByRoom(ctx context.Context, roomID string, page, size int) ([]*model.Message, error) {
	if page < 0 || size <= 0 {
		return []*model.Message{}, nil
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE room_id = $1 ORDER BY ts DESC, id DESC LIMIT $2 OFFSET $3`,
		roomID, size, page*size)
}

func (s *PostgresMessageStore) FindRecentByRoom(ctx context.Context, roomID string, limit int) ([]*model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE room_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		roomID, limit)
}

func (s *PostgresMessageStore) FindReplies(ctx context.Context, parentID string, page, size int) ([]*model.Message, error) {
	if page < 0 || size <= 0 {
		return []*model.Message{}, nil
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE parent_message_id = $1 ORDER BY ts ASC, id ASC LIMIT $2 OFFSET $3`,
		parentID, size, page*size)
}

func (s *PostgresMessageStore) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count messages in %s: %w", roomID, err)
	}
	return n, nil
}

func (s *PostgresMessageStore) CountSentAfter(ctx context.Context, roomID string, after time.Time, excludeSender string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = $1 AND ts > $2 AND sender <> $3`,
		roomID, after, excludeSender).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count unread in %s: %w", roomID, err)
	}
	return n, nil
}

func (s *PostgresMessageStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete message %s: %w", id, err)
	}
	return nil
}
