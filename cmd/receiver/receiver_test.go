package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/lightlink/internal/config"
	"github.com/banshee-data/lightlink/internal/decode"
	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/lightsim"
	"github.com/banshee-data/lightlink/internal/monitor"
	"github.com/banshee-data/lightlink/internal/storage"
)

func TestReceiverEndToEnd(t *testing.T) {
	testingDir := t.TempDir()

	// Print out the testing directory for debugging purposes
	t.Logf("Testing directory: %s", testingDir)

	// Initialise the database
	db, err := storage.NewDB(testingDir + "/test_lightlink.db")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}()

	session, err := db.BeginSession("sim:test")
	if err != nil {
		t.Fatalf("Failed to begin session: %v", err)
	}

	// Wire a decoder to the same recorder main uses, minus the web feed
	stats := monitor.NewLinkStats()
	rec := &linkRecorder{db: db, stats: stats, sessionID: session}

	cfg := config.EmptyTuningConfig().DecoderConfig()
	cfg.Handler = rec.handle
	dec := decode.NewDecoder(cfg)

	// Render a clean frame and run it through the decoder
	r := lightsim.NewRenderer(11)
	stream, err := r.Frame([]byte("Hello"))
	if err != nil {
		t.Fatalf("Failed to render frame: %v", err)
	}
	dec.ProcessAll(stream)

	// Retrieve the stored packets
	packets, err := db.RecentPackets(10)
	if err != nil {
		t.Fatalf("Failed to retrieve packets from database: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected only one packet in the database, got %d", len(packets))
	}

	// set expectations on the stored packet
	expected := storage.PacketRecord{
		SessionID: session,
		Payload:   []byte("Hello"),
		Length:    5,
		Checksum:  0xF4,
		Valid:     true,
		BaseUnit:  10,
	}

	ignore := cmpopts.IgnoreFields(storage.PacketRecord{}, "ID", "ReceivedAtUnixMs")
	if diff := cmp.Diff(expected, packets[0], ignore); diff != "" {
		t.Errorf("Packet mismatch (-want +got):\n%s", diff)
	}

	// The sync lock should have been recorded as a link event
	events, err := db.RecentLinkEvents(10)
	if err != nil {
		t.Fatalf("Failed to retrieve link events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected one link event, got %d", len(events))
	}
	if events[0].State != "sync-locked" {
		t.Errorf("Expected sync-locked link event, got %q", events[0].State)
	}

	// Counters follow the same path the stats endpoint reads
	samples, bytes, packetCount, invalid, _, syncs, _ := stats.GetAndReset()
	if samples != 0 {
		t.Errorf("Expected no raw samples recorded through the handler, got %d", samples)
	}
	if syncs != 1 || packetCount != 1 || invalid != 0 {
		t.Errorf("Expected 1 sync and 1 valid packet, got syncs=%d packets=%d invalid=%d",
			syncs, packetCount, invalid)
	}
	if bytes != 6 {
		t.Errorf("Expected 6 assembled bytes (payload plus checksum), got %d", bytes)
	}
}

func TestReceiverCorruptFrameRecorded(t *testing.T) {
	db, err := storage.NewDB(t.TempDir() + "/test_lightlink.db")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer db.Close()

	session, err := db.BeginSession("sim:test")
	if err != nil {
		t.Fatalf("Failed to begin session: %v", err)
	}

	stats := monitor.NewLinkStats()
	rec := &linkRecorder{db: db, stats: stats, sessionID: session}

	cfg := config.EmptyTuningConfig().DecoderConfig()
	cfg.Handler = rec.handle
	dec := decode.NewDecoder(cfg)

	// Flip a payload bit after encoding so the checksum no longer matches
	frame, err := lightsim.NewRenderer(3).Frame([]byte("Hi"))
	if err != nil {
		t.Fatalf("Failed to render frame: %v", err)
	}
	corrupt := corruptOnePulse(frame)
	dec.ProcessAll(corrupt)

	packets, err := db.RecentPackets(10)
	if err != nil {
		t.Fatalf("Failed to retrieve packets: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected one stored packet, got %d", len(packets))
	}
	if packets[0].Valid {
		t.Error("Expected the corrupted packet to be stored as invalid")
	}

	// Both the sync lock and the frame error should be on record
	events, err := db.RecentLinkEvents(10)
	if err != nil {
		t.Fatalf("Failed to retrieve link events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected two link events, got %d", len(events))
	}
	// Newest first
	if events[0].State != "frame-error" || events[1].State != "sync-locked" {
		t.Errorf("Expected frame-error then sync-locked, got %q, %q",
			events[0].State, events[1].State)
	}
}

// corruptOnePulse widens the first data bit pulse from one base unit to
// two, turning a 0 bit into a 1 without touching the checksum.
func corruptOnePulse(stream []float64) []float64 {
	r := lightsim.NewRenderer(0)

	// The rendered frame is the idle lead-in, one-unit sync pulses, the
	// three-unit start pulse, then data.
	unit := r.SamplesPerUnit
	dataStart := (r.LeadUnits + lightcode.SyncPulses + lightcode.Start.Ratio()) * unit

	out := make([]float64, 0, len(stream)+unit)
	out = append(out, stream[:dataStart]...)
	// Repeat the first unit of the data pulse to double its width
	out = append(out, stream[dataStart:dataStart+unit]...)
	out = append(out, stream[dataStart:]...)
	return out
}
