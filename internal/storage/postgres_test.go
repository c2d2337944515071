package storage

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/roomchat/backend/internal/model"
)

// stubRow feeds fixed values to scanMessage in column order, the way a
// database row would.
type stubRow struct {
	vals []interface{}
}

func (r *stubRow) Scan(dest ...interface{}) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d destinations, %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		v := r.vals[i]
		switch dst := d.(type) {
		case *string:
			*dst = v.(string)
		case *time.Time:
			*dst = v.(time.Time)
		case *[]byte:
			if v == nil {
				*dst = nil
			} else {
				*dst = []byte(v.(string))
			}
		case *sql.NullTime:
			if v == nil {
				*dst = sql.NullTime{}
			} else {
				*dst = sql.NullTime{Time: v.(time.Time), Valid: true}
			}
		case *sql.NullString:
			if v == nil {
				*dst = sql.NullString{}
			} else {
				*dst = sql.NullString{String: v.(string), Valid: true}
			}
		case *int:
			*dst = v.(int)
		case *bool:
			*dst = v.(bool)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanMessageNullJSONB(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Rows written before the receipt and reaction columns were backfilled
	// carry NULL in every JSONB column.
	row := &stubRow{vals: []interface{}{
		"msg-1", "general", "alice", "hello", ts, "SENT", nil,
		ts, nil, nil, nil, nil,
		nil, nil, 0, false,
		nil, nil,
	}}

	m, err := scanMessage(row)
	if err != nil {
		t.Fatalf("scanMessage: %v", err)
	}
	if m.ID != "msg-1" || m.RoomID != "general" || m.Status != model.StatusSent {
		t.Errorf("message = %+v", m)
	}
	if m.UserStatus != nil || m.ReadBy != nil || m.Reactions != nil || m.ReplyIDs != nil {
		t.Errorf("null columns must stay zero, got %+v", m)
	}
	if m.DeliveredAt != nil || m.ReadAt != nil || m.ParentMessageID != "" {
		t.Errorf("null scalars must stay zero, got %+v", m)
	}
}

func TestScanMessagePopulated(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	read := ts.Add(time.Minute)
	row := &stubRow{vals: []interface{}{
		"msg-2", "general", "alice", "hello", ts, "READ", `{"bob":"READ"}`,
		ts, read, read, `["bob"]`, `["bob"]`,
		"msg-1", `["r1","r2"]`, 2, true,
		`{"👍":["bob"]}`, `{"👍":1}`,
	}}

	m, err := scanMessage(row)
	if err != nil {
		t.Fatalf("scanMessage: %v", err)
	}
	if m.Status != model.StatusRead || !m.IsReadBy("bob") {
		t.Errorf("message = %+v", m)
	}
	if m.ParentMessageID != "msg-1" || m.ReplyCount != 2 || len(m.ReplyIDs) != 2 {
		t.Errorf("thread fields = %+v", m)
	}
	if len(m.Reactions["👍"]) != 1 || m.Reactions["👍"][0] != "bob" || m.ReactionCounts["👍"] != 1 {
		t.Errorf("reactions = %v %v", m.Reactions, m.ReactionCounts)
	}
	if m.ReadAt == nil || !m.ReadAt.Equal(read) {
		t.Errorf("readAt = %v", m.ReadAt)
	}
}
