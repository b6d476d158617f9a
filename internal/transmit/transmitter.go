// Package transmit clocks encoded frames out through a light source.
//
// A Transmitter owns one LightSink and advances it one base unit per tick.
// The light alternates state on every symbol boundary starting lit, so a
// frame needs no gaps between symbols; after END the light rests dark for a
// guard interval so receivers can see the line go quiet between frames.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/timeutil"
)

// LightSink is the output device: an LED pin, a screen region, or a
// simulated channel in tests. SetLight is called once per level transition,
// not once per tick.
type LightSink interface {
	SetLight(on bool) error
}

// ErrBusy is returned by Send while a previous frame is still going out.
var ErrBusy = errors.New("transmitter busy")

// Defaults applied by NewTransmitter for zero Config fields.
const (
	// DefaultBaseUnit keeps pulses long enough for receivers sampling at
	// around 100Hz to count them reliably.
	DefaultBaseUnit = 100 * time.Millisecond

	// DefaultGuardUnits holds the light dark for longer than an END pulse
	// after each frame, so an idle gap never reads as another symbol.
	DefaultGuardUnits = 6
)

// Config controls frame pacing.
type Config struct {
	// BaseUnit is the duration of a ratio-1 pulse. Zero means
	// DefaultBaseUnit.
	BaseUnit time.Duration

	// GuardUnits is how many base units the light stays dark after END
	// before the transmitter reports ready again. Zero means
	// DefaultGuardUnits.
	GuardUnits int

	// Clock supplies tick timing for Run. Nil means the wall clock.
	Clock timeutil.Clock
}

// Transmitter drives a LightSink through one frame at a time.
type Transmitter struct {
	cfg   Config
	sink  LightSink
	clock timeutil.Clock

	mu     sync.Mutex
	levels []bool
	pos    int
	lit    bool
	sent   uint64
}

// NewTransmitter creates a transmitter for sink, filling in defaults for any
// zero Config fields.
func NewTransmitter(sink LightSink, cfg Config) *Transmitter {
	if cfg.BaseUnit <= 0 {
		cfg.BaseUnit = DefaultBaseUnit
	}
	if cfg.GuardUnits <= 0 {
		cfg.GuardUnits = DefaultGuardUnits
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Transmitter{cfg: cfg, sink: sink, clock: clock}
}

// Send queues payload as the next frame. It returns ErrBusy if a frame is
// still being clocked out, or lightcode.ErrPayloadTooLarge if the payload
// will not fit in one frame.
func (t *Transmitter) Send(payload []byte) error {
	syms, err := lightcode.Encode(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos < len(t.levels) {
		return ErrBusy
	}
	t.levels = expandLevels(syms, t.cfg.GuardUnits)
	t.pos = 0
	return nil
}

// Step advances the output by one base unit and reports whether a frame is
// still in flight afterwards. Run drives it from the configured clock;
// callers that own their own timing loop can call it directly.
func (t *Transmitter) Step() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos >= len(t.levels) {
		return false, nil
	}

	want := t.levels[t.pos]
	if want != t.lit {
		if err := t.sink.SetLight(want); err != nil {
			t.levels = nil
			t.pos = 0
			return false, fmt.Errorf("set light: %w", err)
		}
		t.lit = want
	}

	t.pos++
	if t.pos == len(t.levels) {
		t.sent++
	}
	return t.pos < len(t.levels), nil
}

// Busy reports whether a frame is still being clocked out.
func (t *Transmitter) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos < len(t.levels)
}

// FramesSent returns how many frames have fully cleared the sink, guard
// interval included.
func (t *Transmitter) FramesSent() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// FrameDuration returns how long a frame for payload will occupy the light,
// trailing guard time included.
func (t *Transmitter) FrameDuration(payload []byte) (time.Duration, error) {
	syms, err := lightcode.Encode(payload)
	if err != nil {
		return 0, err
	}
	units := lightcode.Ticks(syms) + t.cfg.GuardUnits
	return time.Duration(units) * t.cfg.BaseUnit, nil
}

// Run ticks the transmitter at the configured base unit until ctx is
// cancelled, then forces the light dark and returns.
func (t *Transmitter) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.cfg.BaseUnit)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := t.clear(); err != nil {
				log.Printf("transmit: clearing light on shutdown: %v", err)
			}
			return nil
		case <-ticker.C():
			if _, err := t.Step(); err != nil {
				return err
			}
		}
	}
}

// clear drops any in-flight frame and returns the light to dark.
func (t *Transmitter) clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels = nil
	t.pos = 0
	if t.lit {
		t.lit = false
		if err := t.sink.SetLight(false); err != nil {
			return fmt.Errorf("set light: %w", err)
		}
	}
	return nil
}

// expandLevels flattens symbols into one light level per base unit. The
// first pulse is lit and each following symbol flips the level; the guard
// ticks stay dark.
func expandLevels(syms []lightcode.PulseSymbol, guard int) []bool {
	out := make([]bool, 0, lightcode.Ticks(syms)+guard)
	lit := true
	for _, s := range syms {
		for i := 0; i < s.Ratio(); i++ {
			out = append(out, lit)
		}
		lit = !lit
	}
	for i := 0; i < guard; i++ {
		out = append(out, false)
	}
	return out
}
