package main

import (
	"testing"

	"github.com/banshee-data/lightlink/internal/config"
)

// TestReceiverFlagDefaults verifies the flag defaults match the
// documented hardware setup.
func TestReceiverFlagDefaults(t *testing.T) {
	if *devMode != false {
		t.Errorf("expected dev default to be false, got %v", *devMode)
	}
	if *listen != ":8080" {
		t.Errorf("expected listen default to be :8080, got %q", *listen)
	}
	if *serialPort != "/dev/ttyUSB0" {
		t.Errorf("expected port default to be /dev/ttyUSB0, got %q", *serialPort)
	}
	if *baudRate != 115200 {
		t.Errorf("expected baud default to be 115200, got %d", *baudRate)
	}
	if *udpEncoding != "text" {
		t.Errorf("expected udp-encoding default to be text, got %q", *udpEncoding)
	}
	if *dbFile != "lightlink.db" {
		t.Errorf("expected db default to be lightlink.db, got %q", *dbFile)
	}
	if *migrationsDir != "migrations" {
		t.Errorf("expected migrations default to be migrations, got %q", *migrationsDir)
	}
}

// TestLoadTuningFallsBackToDefaults verifies the receiver starts with
// built-in tuning when no config file is present.
func TestLoadTuningFallsBackToDefaults(t *testing.T) {
	tuning := loadTuning()
	if tuning == nil {
		t.Fatal("loadTuning returned nil")
	}

	if got := tuning.GetMaxPayload(); got != 70 {
		t.Errorf("expected default max payload 70, got %d", got)
	}
	if got := tuning.GetSampleRateHz(); got != 100 {
		t.Errorf("expected default sample rate 100, got %d", got)
	}
}

func TestBuildSourceRejectsUnknownEncoding(t *testing.T) {
	oldAddr, oldEnc := *udpAddr, *udpEncoding
	defer func() { *udpAddr = oldAddr; *udpEncoding = oldEnc }()

	*udpAddr = ":9911"
	*udpEncoding = "base64"

	if _, _, err := buildSource(config.EmptyTuningConfig()); err == nil {
		t.Error("Expected error for unknown UDP encoding")
	}
}

func TestBuildSourceReplayDescription(t *testing.T) {
	old := *replayFile
	defer func() { *replayFile = old }()

	*replayFile = "capture.log"

	src, desc, err := buildSource(config.EmptyTuningConfig())
	if err != nil {
		t.Fatalf("buildSource returned error: %v", err)
	}
	defer src.Close()

	if desc != "replay:capture.log" {
		t.Errorf("expected source description replay:capture.log, got %q", desc)
	}
}
