package sampler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSampleLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write sample log: %v", err)
	}
	return path
}

func TestReplaySourcePlaysLogOnce(t *testing.T) {
	path := writeSampleLog(t, "# recorded 2026-08-12\n500\n500\n3000\n\n500\n")
	src := NewReplaySource(ReplayConfig{Path: path})
	_, ch := src.Subscribe()

	if err := src.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	got := recvReadings(t, ch, 4, time.Second)
	want := []uint16{500, 500, 3000, 500}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reading %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestReplaySourceLoops(t *testing.T) {
	path := writeSampleLog(t, "1\n2\n3\n")
	src := NewReplaySource(ReplayConfig{Path: path, Loop: true})
	_, ch := src.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Monitor(ctx)
	}()

	// Ten readings from a three-line log proves it wrapped around
	got := recvReadings(t, ch, 10, 2*time.Second)
	if got[0] != 1 || got[3] != 1 || got[6] != 1 {
		t.Errorf("Expected log to restart every 3 readings, got %v", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}

func TestReplaySourceMissingFile(t *testing.T) {
	src := NewReplaySource(ReplayConfig{Path: filepath.Join(t.TempDir(), "nope.log")})

	err := src.Monitor(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing sample log")
	}
}

func TestReadSampleLog(t *testing.T) {
	path := writeSampleLog(t, "# header\n500\n\n3000\nnot-a-number\n42\n")

	got, err := ReadSampleLog(path)
	if err != nil {
		t.Fatalf("ReadSampleLog returned error: %v", err)
	}

	want := []uint16{500, 3000, 42}
	if len(got) != len(want) {
		t.Fatalf("Expected %d readings, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reading %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestReadSampleLogMissingFile(t *testing.T) {
	if _, err := ReadSampleLog(filepath.Join(t.TempDir(), "nope.log")); err == nil {
		t.Fatal("Expected error for missing sample log")
	}
}

func TestReplaySourcePacesReadings(t *testing.T) {
	path := writeSampleLog(t, "1\n2\n3\n")
	src := NewReplaySource(ReplayConfig{Path: path, Interval: 10 * time.Millisecond})
	_, ch := src.Subscribe()

	start := time.Now()
	if err := src.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	elapsed := time.Since(start)

	recvReadings(t, ch, 3, time.Second)
	if elapsed < 20*time.Millisecond {
		t.Errorf("Expected three paced readings to take at least 20ms, took %v", elapsed)
	}
}
