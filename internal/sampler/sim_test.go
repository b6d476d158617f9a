package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/lightlink/internal/timeutil"
)

type fixedReader struct {
	value float64
}

func (r *fixedReader) Sample() float64 { return r.value }

func TestSimSourceSamplesOnTicks(t *testing.T) {
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewSimSource(SimConfig{
		Reader:     &fixedReader{value: 512.4},
		SampleRate: 100,
		Clock:      clk,
	})
	_, ch := src.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Monitor(ctx)
	}()

	// Each advance past the 10ms interval fires one tick. The ticker is
	// created inside Monitor, so keep advancing until readings flow.
	var got []uint16
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		clk.Advance(10 * time.Millisecond)
		select {
		case v := <-ch:
			got = append(got, v)
		case <-time.After(time.Millisecond):
		}
	}
	if len(got) < 3 {
		t.Fatalf("Expected 3 readings, got %d", len(got))
	}
	for i, v := range got {
		if v != 512 {
			t.Errorf("Reading %d: expected 512, got %d", i, v)
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}

func TestSimSourceDefaults(t *testing.T) {
	src := NewSimSource(SimConfig{Reader: &fixedReader{}})

	if src.cfg.SampleRate != 100 {
		t.Errorf("Expected default sample rate 100, got %d", src.cfg.SampleRate)
	}
	if src.cfg.Clock == nil {
		t.Error("Expected default clock to be set")
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-3.0, 0},
		{0.4, 0},
		{0.6, 1},
		{511.5, 512},
		{3000.0, 3000},
		{65534.9, 65535},
		{70000.0, 65535},
	}

	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
