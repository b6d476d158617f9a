package sampler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/lightlink/internal/timeutil"
)

// ReplayConfig contains configuration options for a ReplaySource.
type ReplayConfig struct {
	// Path is the sample log to play: one decimal reading per line, with
	// '#' comments and blank lines ignored.
	Path string

	// Interval is the cadence between readings. Zero publishes the log as
	// fast as subscribers drain it.
	Interval time.Duration

	// Loop restarts the log from the beginning each time it is exhausted.
	Loop bool

	// Clock drives pacing. Nil uses the real clock.
	Clock timeutil.Clock
}

// ReplaySource plays a recorded sample log, for decoding captures offline
// and for demos without hardware.
type ReplaySource struct {
	fanout
	cfg ReplayConfig
}

// NewReplaySource creates a log-replay source with the provided
// configuration.
func NewReplaySource(cfg ReplayConfig) *ReplaySource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &ReplaySource{fanout: newFanout(), cfg: cfg}
}

// Monitor plays the log, once or on loop, until ctx is cancelled or the
// file cannot be read.
func (r *ReplaySource) Monitor(ctx context.Context) error {
	for {
		if err := r.playOnce(ctx); err != nil {
			return err
		}
		if !r.cfg.Loop {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *ReplaySource) playOnce(ctx context.Context) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open sample log: %w", err)
	}
	defer f.Close()

	var ticker timeutil.Ticker
	if r.cfg.Interval > 0 {
		ticker = r.cfg.Clock.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
	}

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		v, ok := parseReading(scan.Text())
		if !ok {
			continue
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C():
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		r.publish(v)
	}
	return scan.Err()
}

// Close closes all subscriber channels.
func (r *ReplaySource) Close() error {
	r.closeAll()
	return nil
}

// ReadSampleLog reads an entire sample log into memory, in the same
// format a ReplaySource streams. Offline tools use this to decode or
// plot a capture in one pass.
func ReadSampleLog(path string) ([]uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample log: %w", err)
	}
	defer f.Close()

	var out []uint16
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		if v, ok := parseReading(scan.Text()); ok {
			out = append(out, v)
		}
	}
	return out, scan.Err()
}
