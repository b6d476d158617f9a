package storage

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

func TestBeginSession(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	id, err := db.BeginSession("serial:/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session ID")
	}

	id2, err := db.BeginSession("udp::9999")
	if err != nil {
		t.Fatalf("second BeginSession failed: %v", err)
	}
	if id2 == id {
		t.Error("expected distinct session IDs")
	}

	// Verify both rows landed
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	if err != nil {
		t.Fatalf("failed to count sessions: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 sessions, got %d", count)
	}

	var source string
	err = db.QueryRow("SELECT source FROM sessions WHERE session_id = ?", id).Scan(&source)
	if err != nil {
		t.Fatalf("failed to read session: %v", err)
	}
	if source != "serial:/dev/ttyUSB0" {
		t.Errorf("expected source serial:/dev/ttyUSB0, got %q", source)
	}
}

func TestSessionsOrdering(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	// Insert directly so the start times are distinct and controlled
	for i, s := range []struct {
		id      string
		started int64
	}{
		{"old", 1000},
		{"mid", 2000},
		{"new", 3000},
	} {
		_, err := db.Exec(
			"INSERT INTO sessions (session_id, source, started_at_unix) VALUES (?, ?, ?)",
			s.id, "mock", s.started,
		)
		if err != nil {
			t.Fatalf("failed to insert session %d: %v", i, err)
		}
	}

	sessions, err := db.Sessions(2)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}

	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "new" || sessions[1].ID != "mid" {
		t.Errorf("expected newest-first order [new mid], got [%s %s]", sessions[0].ID, sessions[1].ID)
	}
	if sessions[0].StartedAtUnix != 3000 {
		t.Errorf("expected started_at_unix 3000, got %d", sessions[0].StartedAtUnix)
	}
}

func TestRecordPacketRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	payload := []byte("Hello")
	if err := db.RecordPacket(session, payload, 0xF4, true, 10.0); err != nil {
		t.Fatalf("RecordPacket failed: %v", err)
	}

	packets, err := db.RecentPackets(10)
	if err != nil {
		t.Fatalf("RecentPackets failed: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}

	p := packets[0]
	if p.SessionID != session {
		t.Errorf("expected session %s, got %s", session, p.SessionID)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Errorf("expected payload %q, got %q", payload, p.Payload)
	}
	if p.Length != 5 {
		t.Errorf("expected length 5, got %d", p.Length)
	}
	if p.Checksum != 0xF4 {
		t.Errorf("expected checksum 0xF4, got 0x%02X", p.Checksum)
	}
	if !p.Valid {
		t.Error("expected packet to be marked valid")
	}
	if p.BaseUnit != 10.0 {
		t.Errorf("expected base unit 10.0, got %v", p.BaseUnit)
	}
	if p.ReceivedAtUnixMs == 0 {
		t.Error("expected non-zero receive timestamp")
	}
}

func TestRecordPacketEmptyPayload(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	if err := db.RecordPacket(session, nil, 0x00, true, 10.0); err != nil {
		t.Fatalf("RecordPacket failed: %v", err)
	}

	packets, err := db.RecentPackets(1)
	if err != nil {
		t.Fatalf("RecentPackets failed: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	if packets[0].Length != 0 {
		t.Errorf("expected length 0, got %d", packets[0].Length)
	}
	if len(packets[0].Payload) != 0 {
		t.Errorf("expected empty payload, got %v", packets[0].Payload)
	}
}

func TestRecentPacketsOrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	for i := byte(0); i < 5; i++ {
		if err := db.RecordPacket(session, []byte{i}, i, true, 10.0); err != nil {
			t.Fatalf("RecordPacket %d failed: %v", i, err)
		}
	}

	packets, err := db.RecentPackets(3)
	if err != nil {
		t.Fatalf("RecentPackets failed: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(packets))
	}

	// Newest first
	if packets[0].Payload[0] != 4 || packets[1].Payload[0] != 3 || packets[2].Payload[0] != 2 {
		t.Errorf("expected payloads [4 3 2], got [%d %d %d]",
			packets[0].Payload[0], packets[1].Payload[0], packets[2].Payload[0])
	}
}

func TestPacketCounts(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	valid, invalid, err := db.PacketCounts()
	if err != nil {
		t.Fatalf("PacketCounts on empty store failed: %v", err)
	}
	if valid != 0 || invalid != 0 {
		t.Errorf("expected 0/0 on empty store, got %d/%d", valid, invalid)
	}

	for _, ok := range []bool{true, true, false, true} {
		if err := db.RecordPacket(session, []byte{1}, 0x01, ok, 10.0); err != nil {
			t.Fatalf("RecordPacket failed: %v", err)
		}
	}

	valid, invalid, err = db.PacketCounts()
	if err != nil {
		t.Fatalf("PacketCounts failed: %v", err)
	}
	if valid != 3 {
		t.Errorf("expected 3 valid packets, got %d", valid)
	}
	if invalid != 1 {
		t.Errorf("expected 1 invalid packet, got %d", invalid)
	}
}

func TestPacketRates(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	// Insert directly with controlled timestamps: three packets in one
	// minute, one in the next, one old enough to be filtered out.
	base := int64(1_700_000_040_000) // falls inside some minute
	minute := (base / 60000) * 60000
	rows := []struct {
		ms    int64
		valid int
	}{
		{minute - 120000, 1}, // before the window
		{minute + 1000, 1},
		{minute + 2000, 0},
		{minute + 3000, 1},
		{minute + 61000, 1}, // next minute
	}
	for i, r := range rows {
		_, err := db.Exec(
			`INSERT INTO packets (session_id, payload, length, checksum, valid, base_unit, received_at_unix_ms)
			 VALUES ('s', x'00', 1, 0, ?, 10.0, ?)`,
			r.valid, r.ms,
		)
		if err != nil {
			t.Fatalf("failed to insert packet %d: %v", i, err)
		}
	}

	buckets, err := db.PacketRates(time.UnixMilli(minute))
	if err != nil {
		t.Fatalf("PacketRates failed: %v", err)
	}

	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].MinuteUnix != minute/1000 {
		t.Errorf("expected first bucket at %d, got %d", minute/1000, buckets[0].MinuteUnix)
	}
	if buckets[0].Total != 3 || buckets[0].Valid != 2 {
		t.Errorf("expected first bucket 3 total / 2 valid, got %d/%d", buckets[0].Total, buckets[0].Valid)
	}
	if buckets[1].MinuteUnix != minute/1000+60 {
		t.Errorf("expected second bucket at %d, got %d", minute/1000+60, buckets[1].MinuteUnix)
	}
	if buckets[1].Total != 1 || buckets[1].Valid != 1 {
		t.Errorf("expected second bucket 1 total / 1 valid, got %d/%d", buckets[1].Total, buckets[1].Valid)
	}
}

func TestRecordLinkEvent(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	if err := db.RecordLinkEvent(session, 0, "sync-locked", "base unit 10.2 samples"); err != nil {
		t.Fatalf("RecordLinkEvent failed: %v", err)
	}
	if err := db.RecordLinkEvent(session, 3, "frame-error", "checksum 0x13, want 0xF4"); err != nil {
		t.Fatalf("second RecordLinkEvent failed: %v", err)
	}

	events, err := db.RecentLinkEvents(10)
	if err != nil {
		t.Fatalf("RecentLinkEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	// Newest first
	if events[0].Code != 3 || events[0].State != "frame-error" || events[0].Detail != "checksum 0x13, want 0xF4" {
		t.Errorf("unexpected newest event: %+v", events[0])
	}
	if events[1].Code != 0 || events[1].State != "sync-locked" {
		t.Errorf("unexpected oldest event: %+v", events[1])
	}
	if events[0].RecordedAtUnixMs == 0 {
		t.Error("expected non-zero event timestamp")
	}
}

func TestNewDBIdempotentSchema(t *testing.T) {
	fname := t.Name() + ".db"
	_ = os.Remove(fname)
	defer func() {
		_ = os.Remove(fname)
		_ = os.Remove(fname + "-shm")
		_ = os.Remove(fname + "-wal")
	}()

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("first NewDB failed: %v", err)
	}

	session, err := db.BeginSession("mock")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	db.Close()

	// Reopening must keep existing data and not recreate tables
	db, err = NewDB(fname)
	if err != nil {
		t.Fatalf("second NewDB failed: %v", err)
	}
	defer db.Close()

	sessions, err := db.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != session {
		t.Errorf("expected surviving session %s, got %+v", session, sessions)
	}
}
