// Package storage persists decoded packets and link events to SQLite so
// receiver sessions can be inspected after the fact.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the store at path without touching the schema. The migrate
// subcommand uses this so migrations fully own schema changes.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer plus the admin surfaces; a busy timeout keeps them
	// from tripping over each other.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// NewDB opens the store at path, creating the schema if needed.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if err := db.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) ensureSchema() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			source            TEXT,
			started_at_unix   BIGINT
		);
		CREATE TABLE IF NOT EXISTS packets (
			packet_id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id          TEXT,
			payload             BLOB,
			length              INTEGER,
			checksum            INTEGER,
			valid               INTEGER,
			base_unit           DOUBLE,
			received_at_unix_ms BIGINT,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS link_events (
			event_id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id          TEXT,
			code                INTEGER,
			state               TEXT,
			detail              TEXT,
			recorded_at_unix_ms BIGINT,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_packets_received_at ON packets (received_at_unix_ms);
		CREATE INDEX IF NOT EXISTS idx_link_events_recorded_at ON link_events (recorded_at_unix_ms);
	`)
	return err
}

// BeginSession records the start of a receiver run and returns its ID.
func (db *DB) BeginSession(source string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		"INSERT INTO sessions (session_id, source, started_at_unix) VALUES (?, ?, ?)",
		id, source, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record session: %w", err)
	}
	return id, nil
}

// Session describes one receiver run.
type Session struct {
	ID            string `json:"session_id"`
	Source        string `json:"source"`
	StartedAtUnix int64  `json:"started_at_unix"`
}

// Sessions returns the most recent receiver runs, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		"SELECT session_id, source, started_at_unix FROM sessions ORDER BY started_at_unix DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Source, &s.StartedAtUnix); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// PacketRecord is one decoded frame as stored.
type PacketRecord struct {
	ID               int64   `json:"id"`
	SessionID        string  `json:"session_id"`
	Payload          []byte  `json:"payload"`
	Length           int     `json:"length"`
	Checksum         byte    `json:"checksum"`
	Valid            bool    `json:"valid"`
	BaseUnit         float64 `json:"base_unit"`
	ReceivedAtUnixMs int64   `json:"received_at_unix_ms"`
}

// RecordPacket stores one decoded frame. Invalid frames are stored too;
// the valid flag separates them.
func (db *DB) RecordPacket(sessionID string, payload []byte, checksum byte, valid bool, baseUnit float64) error {
	_, err := db.Exec(
		`INSERT INTO packets (session_id, payload, length, checksum, valid, base_unit, received_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, payload, len(payload), int(checksum), boolToInt(valid), baseUnit, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	return nil
}

// RecentPackets returns the newest packets first.
func (db *DB) RecentPackets(limit int) ([]PacketRecord, error) {
	rows, err := db.Query(
		`SELECT packet_id, session_id, payload, length, checksum, valid, base_unit, received_at_unix_ms
		 FROM packets ORDER BY packet_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packets []PacketRecord
	for rows.Next() {
		var (
			p        PacketRecord
			checksum int
			valid    int
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Payload, &p.Length, &checksum, &valid, &p.BaseUnit, &p.ReceivedAtUnixMs); err != nil {
			return nil, err
		}
		p.Checksum = byte(checksum)
		p.Valid = valid == 1
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return packets, nil
}

// PacketCounts returns how many stored packets passed and failed their
// checksum.
func (db *DB) PacketCounts() (valid int64, invalid int64, err error) {
	err = db.QueryRow(
		"SELECT COALESCE(SUM(valid), 0), COALESCE(SUM(1 - valid), 0) FROM packets",
	).Scan(&valid, &invalid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count packets: %w", err)
	}
	return valid, invalid, nil
}

// RateBucket is packet volume for one minute.
type RateBucket struct {
	MinuteUnix int64 `json:"minute_unix"`
	Total      int64 `json:"total"`
	Valid      int64 `json:"valid"`
}

// PacketRates returns per-minute packet counts since the given time,
// oldest first.
func (db *DB) PacketRates(since time.Time) ([]RateBucket, error) {
	rows, err := db.Query(
		`SELECT (received_at_unix_ms/60000)*60 AS minute_unix, COUNT(*), COALESCE(SUM(valid), 0)
		 FROM packets WHERE received_at_unix_ms >= ?
		 GROUP BY minute_unix ORDER BY minute_unix`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []RateBucket
	for rows.Next() {
		var b RateBucket
		if err := rows.Scan(&b.MinuteUnix, &b.Total, &b.Valid); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return buckets, nil
}

// LinkEventRecord is one receiver event as stored.
type LinkEventRecord struct {
	ID               int64  `json:"id"`
	SessionID        string `json:"session_id"`
	Code             int    `json:"code"`
	State            string `json:"state"`
	Detail           string `json:"detail"`
	RecordedAtUnixMs int64  `json:"recorded_at_unix_ms"`
}

// RecordLinkEvent stores one receiver event.
func (db *DB) RecordLinkEvent(sessionID string, code int, state, detail string) error {
	_, err := db.Exec(
		`INSERT INTO link_events (session_id, code, state, detail, recorded_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, code, state, detail, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record link event: %w", err)
	}
	return nil
}

// RecentLinkEvents returns the newest link events first.
func (db *DB) RecentLinkEvents(limit int) ([]LinkEventRecord, error) {
	rows, err := db.Query(
		`SELECT event_id, session_id, code, state, detail, recorded_at_unix_ms
		 FROM link_events ORDER BY event_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []LinkEventRecord
	for rows.Next() {
		var e LinkEventRecord
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Code, &e.State, &e.Detail, &e.RecordedAtUnixMs); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
