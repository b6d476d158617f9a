// Package lightsim renders pulse sequences into the intensity sample
// streams a photocell would report, for exercising transmitters and
// receivers without hardware.
//
// The renderer is deterministic for a given seed, so tests can assert exact
// decoder behavior against simulated channels, jitter and noise included.
package lightsim

import (
	"math/rand"
	"sync"

	"github.com/banshee-data/lightlink/internal/lightcode"
)

// Renderer turns symbol or duration sequences into sample streams.
type Renderer struct {
	// SamplesPerUnit is how many receiver samples span one base unit.
	SamplesPerUnit int

	// Ambient and Lit are the intensity levels for a dark and a lit
	// channel, in raw sensor units.
	Ambient float64
	Lit     float64

	// Noise is the standard deviation of gaussian sampling noise added
	// to every sample. Zero renders clean levels.
	Noise float64

	// LeadUnits and TailUnits are the idle stretches rendered around a
	// frame by Frame, in base units.
	LeadUnits int
	TailUnits int

	rng *rand.Rand
}

// NewRenderer creates a renderer with defaults matching a 100Hz receiver
// watching 100ms pulses. The seed fixes the noise and jitter streams.
func NewRenderer(seed int64) *Renderer {
	return &Renderer{
		SamplesPerUnit: 10,
		Ambient:        500,
		Lit:            3000,
		LeadUnits:      8,
		TailUnits:      8,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// sample produces one reading of the channel at the given level.
func (r *Renderer) sample(lit bool) float64 {
	v := r.Ambient
	if lit {
		v = r.Lit
	}
	if r.Noise > 0 {
		v += r.rng.NormFloat64() * r.Noise
	}
	return v
}

// Idle renders the channel sitting dark for the given number of base units.
func (r *Renderer) Idle(units int) []float64 {
	out := make([]float64, 0, units*r.SamplesPerUnit)
	for i := 0; i < units*r.SamplesPerUnit; i++ {
		out = append(out, r.sample(false))
	}
	return out
}

// Durations renders pulses of the given widths in base units, alternating
// level starting lit. Fractional widths round to the nearest sample, which
// is exactly the quantization a real channel imposes.
func (r *Renderer) Durations(units []float64) []float64 {
	var out []float64
	lit := true
	for _, u := range units {
		n := int(u*float64(r.SamplesPerUnit) + 0.5)
		for i := 0; i < n; i++ {
			out = append(out, r.sample(lit))
		}
		lit = !lit
	}
	return out
}

// Symbols renders a symbol sequence at its exact nominal ratios.
func (r *Renderer) Symbols(syms []lightcode.PulseSymbol) []float64 {
	return r.Durations(Ratios(syms))
}

// Frame encodes payload and renders the complete frame with idle lead-in
// and tail. It returns lightcode.ErrPayloadTooLarge for oversized payloads.
func (r *Renderer) Frame(payload []byte) ([]float64, error) {
	syms, err := lightcode.Encode(payload)
	if err != nil {
		return nil, err
	}
	out := r.Idle(r.LeadUnits)
	out = append(out, r.Symbols(syms)...)
	out = append(out, r.Idle(r.TailUnits)...)
	return out, nil
}

// Jitter perturbs each duration by a uniform random offset in
// [-amount, +amount] base units, drawn from the renderer's seeded stream.
func (r *Renderer) Jitter(units []float64, amount float64) []float64 {
	out := make([]float64, len(units))
	for i, u := range units {
		out[i] = u + (r.rng.Float64()*2-1)*amount
	}
	return out
}

// Ratios expands symbols to their nominal durations in base units.
func Ratios(syms []lightcode.PulseSymbol) []float64 {
	out := make([]float64, len(syms))
	for i, s := range syms {
		out[i] = float64(s.Ratio())
	}
	return out
}

// Channel couples a live simulated transmitter to a receiver. It accepts
// SetLight calls from a transmitter and reports intensity samples to
// whoever polls it, so a daemon can run end to end with no hardware.
type Channel struct {
	mu      sync.Mutex
	lit     bool
	ambient float64
	litLev  float64
	noise   float64
	rng     *rand.Rand
}

// NewChannel creates a simulated channel with the renderer's default
// levels.
func NewChannel(seed int64) *Channel {
	return &Channel{
		ambient: 500,
		litLev:  3000,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// SetNoise sets the standard deviation of sampling noise.
func (c *Channel) SetNoise(dev float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noise = dev
}

// SetLight switches the simulated light state. It never fails; the error
// return satisfies the transmitter's sink contract.
func (c *Channel) SetLight(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lit = on
	return nil
}

// Sample reads the channel's current intensity.
func (c *Channel) Sample() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.ambient
	if c.lit {
		v = c.litLev
	}
	if c.noise > 0 {
		v += c.rng.NormFloat64() * c.noise
	}
	return v
}
