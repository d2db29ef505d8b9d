package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

type SQLiteStore struct {
	Path string
	db   *sql.DB
}

func (s *SQLiteStore) Init() error {
	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	s.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id        TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'open',
		product           TEXT,
		topic             TEXT,
		issue_details     TEXT,
		parent_channel_id TEXT,
		assigned_to       TEXT,
		tags              TEXT,
		thread_name       TEXT,
		supporters        TEXT,
		created_at        TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_thread ON tickets(channel_id);

	CREATE TABLE IF NOT EXISTS transcripts (
		ticket_id    INTEGER PRIMARY KEY,
		html_content TEXT,
		json_content TEXT,
		text_content TEXT,
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS bot_settings (
		key   TEXT PRIMARY KEY,
		value TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}

	// Additive migrations; "duplicate column" failures mean the column is
	// already there.
	for _, stmt := range []string{
		"ALTER TABLE tickets ADD COLUMN closed_at TEXT",
		"ALTER TABLE tickets ADD COLUMN rating INTEGER",
		"ALTER TABLE tickets ADD COLUMN rating_comment TEXT",
	} {
		if _, err := db.Exec(stmt); err == nil {
			log.Printf("[DB] Migrated: %s", stmt)
		}
	}

	// Uniqueness backstop for the one-open-ticket-per-user invariant. The
	// callers still read first to report the existing thread, but two
	// racing inserts cannot both win.
	if _, err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_user ON tickets(user_id) WHERE status = 'open'"); err != nil {
		return fmt.Errorf("sqlite unique index: %w", err)
	}

	for key, value := range defaultSettings {
		if _, err := db.Exec("INSERT OR IGNORE INTO bot_settings (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("sqlite seed settings: %w", err)
		}
	}

	log.Printf("[DB] SQLite initialised at %s", s.Path)
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) CreateTicket(t *Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Status = StatusOpen

	res, err := s.db.Exec(
		`INSERT INTO tickets (channel_id, user_id, status, product, topic, issue_details, parent_channel_id, thread_name, supporters, tags, created_at)
		 VALUES (?, ?, 'open', ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.UserID, t.Product, t.Topic, t.Details, t.ParentChannelID,
		t.ThreadName, encodeList(t.Supporters), encodeList(t.Tags),
		t.CreatedAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateOpen
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

const ticketColumns = `id, channel_id, user_id, status,
	COALESCE(product, ''), COALESCE(topic, ''), COALESCE(issue_details, ''),
	COALESCE(parent_channel_id, ''), COALESCE(assigned_to, ''),
	COALESCE(supporters, ''), COALESCE(tags, ''), COALESCE(thread_name, ''),
	COALESCE(rating, 0), COALESCE(rating_comment, ''),
	created_at, COALESCE(closed_at, '')`

func (s *SQLiteStore) scanTicket(row interface{ Scan(...interface{}) error }) (*Ticket, error) {
	var t Ticket
	var supporters, tags, createdAt, closedAt string
	err := row.Scan(&t.ID, &t.ThreadID, &t.UserID, &t.Status,
		&t.Product, &t.Topic, &t.Details,
		&t.ParentChannelID, &t.AssignedTo,
		&supporters, &tags, &t.ThreadName,
		&t.Rating, &t.RatingComment,
		&createdAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Supporters = decodeList(supporters)
	t.Tags = decodeList(tags)
	t.CreatedAt, _ = time.ParseInLocation(sqliteTimeLayout, createdAt, time.UTC)
	if closedAt != "" {
		ts, err := time.ParseInLocation(sqliteTimeLayout, closedAt, time.UTC)
		if err == nil {
			t.ClosedAt = &ts
		}
	}
	return &t, nil
}

func (s *SQLiteStore) TicketByID(id int64) (*Ticket, error) {
	return s.scanTicket(s.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id))
}

func (s *SQLiteStore) TicketByThread(threadID string) (*Ticket, error) {
	return s.scanTicket(s.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE channel_id = ?", threadID))
}

func (s *SQLiteStore) OpenTicketByUser(userID string) (*Ticket, error) {
	return s.scanTicket(s.db.QueryRow("SELECT "+ticketColumns+" FROM tickets WHERE user_id = ? AND status = 'open'", userID))
}

func (s *SQLiteStore) queryTickets(query string, args ...interface{}) ([]Ticket, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := s.scanTicket(rows)
		if err != nil {
			continue
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Tickets() ([]Ticket, error) {
	return s.queryTickets("SELECT " + ticketColumns + " FROM tickets ORDER BY created_at DESC, id DESC")
}

func (s *SQLiteStore) TicketsByUser(userID string) ([]Ticket, error) {
	return s.queryTickets("SELECT "+ticketColumns+" FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
}

func (s *SQLiteStore) CloseTicket(id int64, closedAt time.Time) error {
	_, err := s.db.Exec("UPDATE tickets SET status = 'closed', closed_at = ? WHERE id = ?",
		closedAt.UTC().Format(sqliteTimeLayout), id)
	return err
}

func (s *SQLiteStore) ReopenTicket(id int64) error {
	_, err := s.db.Exec("UPDATE tickets SET status = 'open', closed_at = NULL WHERE id = ?", id)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateOpen
	}
	return err
}

func (s *SQLiteStore) UpdateThreadID(id int64, threadID string) error {
	_, err := s.db.Exec("UPDATE tickets SET channel_id = ? WHERE id = ?", threadID, id)
	return err
}

func (s *SQLiteStore) AssignTicket(id int64, supporterID string) error {
	if supporterID == "" {
		_, err := s.db.Exec("UPDATE tickets SET assigned_to = NULL WHERE id = ?", id)
		return err
	}
	_, err := s.db.Exec("UPDATE tickets SET assigned_to = ? WHERE id = ?", supporterID, id)
	return err
}

func (s *SQLiteStore) SetSupporters(id int64, supporters []string) error {
	_, err := s.db.Exec("UPDATE tickets SET supporters = ? WHERE id = ?", encodeList(supporters), id)
	return err
}

func (s *SQLiteStore) SetTags(id int64, tags []string) error {
	_, err := s.db.Exec("UPDATE tickets SET tags = ? WHERE id = ?", encodeList(tags), id)
	return err
}

func (s *SQLiteStore) SetThreadName(id int64, name string) error {
	_, err := s.db.Exec("UPDATE tickets SET thread_name = ? WHERE id = ?", name, id)
	return err
}

func (s *SQLiteStore) SetRating(id int64, rating int, comment string) error {
	_, err := s.db.Exec("UPDATE tickets SET rating = ?, rating_comment = ? WHERE id = ?", rating, comment, id)
	return err
}

func (s *SQLiteStore) DeleteTicket(id int64) error {
	if _, err := s.db.Exec("DELETE FROM transcripts WHERE ticket_id = ?", id); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM tickets WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) SaveTranscript(tr *Transcript) error {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO transcripts (ticket_id, html_content, json_content, text_content, created_at) VALUES (?, ?, ?, ?, ?)",
		tr.TicketID, tr.HTML, tr.JSON, tr.Text, tr.CreatedAt.Format(sqliteTimeLayout),
	)
	return err
}

func (s *SQLiteStore) TranscriptByTicket(ticketID int64) (*Transcript, error) {
	var tr Transcript
	var createdAt string
	err := s.db.QueryRow(
		"SELECT ticket_id, COALESCE(html_content, ''), COALESCE(json_content, ''), COALESCE(text_content, ''), created_at FROM transcripts WHERE ticket_id = ?",
		ticketID,
	).Scan(&tr.TicketID, &tr.HTML, &tr.JSON, &tr.Text, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tr.CreatedAt, _ = time.ParseInLocation(sqliteTimeLayout, createdAt, time.UTC)
	return &tr, nil
}

func (s *SQLiteStore) Setting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT COALESCE(value, '') FROM bot_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO bot_settings (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *SQLiteStore) Settings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, COALESCE(value, '') FROM bot_settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func (s *SQLiteStore) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tickets").Scan(&st.Total); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tickets WHERE status = 'open'").Scan(&st.Open); err != nil {
		return st, err
	}
	err := s.db.QueryRow("SELECT COUNT(*) FROM tickets WHERE status = 'closed' AND date(closed_at) = date('now')").Scan(&st.ClosedToday)
	return st, err
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	data, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}
