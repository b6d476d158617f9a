package sampler

import (
	"context"
	"time"

	"github.com/banshee-data/lightlink/internal/timeutil"
)

// AnalogReader is the sampled side of a simulated light channel.
type AnalogReader interface {
	Sample() float64
}

// SimConfig contains configuration options for a SimSource.
type SimConfig struct {
	// Reader is the simulated photocell, typically a lightsim channel
	// shared with a loopback transmitter.
	Reader AnalogReader

	// SampleRate is readings per second. Zero means 100, matching the
	// default 100ms base unit at ten samples per pulse.
	SampleRate int

	// Clock drives the sampling ticker. Nil uses the real clock.
	Clock timeutil.Clock
}

// SimSource polls a simulated channel at a fixed rate, standing in for
// the ADC in dev mode.
type SimSource struct {
	fanout
	cfg SimConfig
}

// NewSimSource creates a simulated sample source with the provided
// configuration.
func NewSimSource(cfg SimConfig) *SimSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SimSource{fanout: newFanout(), cfg: cfg}
}

// Monitor samples the channel on every tick until ctx is cancelled.
func (s *SimSource) Monitor(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.SampleRate)
	ticker := s.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.publish(Quantize(s.cfg.Reader.Sample()))
		}
	}
}

// Quantize converts a simulated intensity to the unsigned reading an ADC
// would report.
func Quantize(v float64) uint16 {
	n := int(v + 0.5)
	if n < 0 {
		n = 0
	}
	if n > 65535 {
		n = 65535
	}
	return uint16(n)
}

// Close closes all subscriber channels.
func (s *SimSource) Close() error {
	s.closeAll()
	return nil
}
