package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"handoff/internal/chat"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLite is the durable Store. Timestamps are stored as unix nanoseconds so
// the per-room ordering of transcript entries survives a round trip exactly.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" coherent and writes serialized.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			visitor_name TEXT NOT NULL,
			visitor_email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			PRIMARY KEY (room_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			room_id TEXT PRIMARY KEY,
			visitor_name TEXT NOT NULL,
			visitor_email TEXT NOT NULL DEFAULT '',
			issue TEXT NOT NULL,
			priority TEXT NOT NULL,
			requested_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLite) SaveRoom(ctx context.Context, r chat.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, visitor_name, visitor_email, status, agent_id, agent_name, active, created_at, last_activity, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			visitor_name = excluded.visitor_name,
			visitor_email = excluded.visitor_email,
			status = excluded.status,
			agent_id = excluded.agent_id,
			agent_name = excluded.agent_name,
			active = excluded.active,
			last_activity = excluded.last_activity,
			message_count = excluded.message_count`,
		r.ID, r.VisitorName, r.VisitorEmail, string(r.Status), r.AgentID, r.AgentName,
		boolToInt(r.Active), r.CreatedAt.UnixNano(), r.LastActivity.UnixNano(), r.MessageCount)
	if err != nil {
		return fmt.Errorf("save room %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE room_id = ?`,
		`DELETE FROM requests WHERE room_id = ?`,
		`DELETE FROM rooms WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, roomID); err != nil {
			return fmt.Errorf("delete room %s: %w", roomID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendMessage(ctx context.Context, m chat.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, seq, sender, body, agent_name, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.Seq, string(m.Sender), m.Body, m.AgentName, m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("append message %s/%d: %w", m.RoomID, m.Seq, err)
	}
	return nil
}

func (s *SQLite) SaveRequest(ctx context.Context, p chat.PendingRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (room_id, visitor_name, visitor_email, issue, priority, requested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			visitor_name = excluded.visitor_name,
			visitor_email = excluded.visitor_email,
			issue = excluded.issue,
			priority = excluded.priority,
			requested_at = excluded.requested_at`,
		p.RoomID, p.VisitorName, p.VisitorEmail, p.Issue, string(p.Priority), p.RequestedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save request %s: %w", p.RoomID, err)
	}
	return nil
}

func (s *SQLite) DeleteRequest(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete request %s: %w", roomID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Messages: make(map[string][]chat.Message)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, visitor_name, visitor_email, status, agent_id, agent_name, active, created_at, last_activity, message_count
		FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	for rows.Next() {
		var (
			r                 chat.Room
			status            string
			active            int
			created, activity int64
		)
		if err := rows.Scan(&r.ID, &r.VisitorName, &r.VisitorEmail, &status, &r.AgentID, &r.AgentName,
			&active, &created, &activity, &r.MessageCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.Status = chat.RoomStatus(status)
		r.Active = active != 0
		r.CreatedAt = time.Unix(0, created)
		r.LastActivity = time.Unix(0, activity)
		snap.Rooms = append(snap.Rooms, r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT room_id, seq, sender, body, agent_name, ts FROM messages ORDER BY room_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for rows.Next() {
		var (
			m      chat.Message
			sender string
			ts     int64
		)
		if err := rows.Scan(&m.RoomID, &m.Seq, &sender, &m.Body, &m.AgentName, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = chat.SenderRole(sender)
		m.Timestamp = time.Unix(0, ts)
		snap.Messages[m.RoomID] = append(snap.Messages[m.RoomID], m)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT room_id, visitor_name, visitor_email, issue, priority, requested_at FROM requests ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for rows.Next() {
		var (
			p        chat.PendingRequest
			priority string
			at       int64
		)
		if err := rows.Scan(&p.RoomID, &p.VisitorName, &p.VisitorEmail, &p.Issue, &priority, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan request: %w", err)
		}
		p.Priority = chat.Priority(priority)
		p.RequestedAt = time.Unix(0, at)
		snap.Requests = append(snap.Requests, p)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	return snap, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
