// Package decode turns a stream of light intensity samples back into bytes.
//
// The receiver has no access to the transmitter's clock. It conditions each
// raw sample (ambient bias removal, hysteresis, debounce), measures the
// sample count between level transitions, and calibrates its base unit from
// the sync preamble. Every later pulse is classified by nearest match
// against the symbol ratios within a tolerance window and fed through the
// framing state machine, which assembles bits into bytes and validates the
// checksum when the frame ends.
//
// A Decoder does O(1) work per sample and never blocks. Call Process at a
// roughly fixed cadence; around 100Hz suits pulses in the 100ms range.
// Decoders are not safe for concurrent use: run one per sample source and
// fan results out from the event handler.
package decode

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lightlink/internal/lightcode"
)

// Defaults applied by NewDecoder for zero Config fields.
const (
	// DefaultNoiseFloor is the assumed standard deviation of a quiet
	// sample stream, in raw intensity units. Tune per sensor with
	// EstimateNoiseFloor.
	DefaultNoiseFloor = 2.0

	// DefaultEdgeZ is how many noise floors a sample must stray from the
	// ambient estimate before it flips the detected level.
	DefaultEdgeZ = 2.0

	// DefaultDebounceSamples is how many consecutive samples a level
	// change must persist before it counts as an edge.
	DefaultDebounceSamples = 2

	// DefaultSyncTolerance is how far a pulse may deviate from the
	// running preamble average and still extend the sync run.
	DefaultSyncTolerance = 1.0 / 3

	// DefaultTolerance is the classification window half-width as a
	// fraction of the base unit. Widths outside every window are noise.
	DefaultTolerance = 0.4

	// DefaultMaxPulseSamples caps any credible pulse. At a 10ms sample
	// period this is two seconds of unbroken level.
	DefaultMaxPulseSamples = 200
)

// Config controls signal conditioning and framing. The zero value is usable;
// NewDecoder fills in defaults.
type Config struct {
	// NoiseFloor scales samples into z-scores for edge detection. Zero
	// means DefaultNoiseFloor.
	NoiseFloor float64

	// EdgeZ is the hysteresis threshold in noise floor units. Samples
	// within it hold the previous level. Zero means DefaultEdgeZ.
	EdgeZ float64

	// DebounceSamples filters single-sample glitches. Zero means
	// DefaultDebounceSamples.
	DebounceSamples int

	// MinSyncRun is how many consistent sync pulses lock the base unit.
	// Zero means lightcode.MinSyncRun.
	MinSyncRun int

	// SyncTolerance is the preamble consistency bound as a fraction of
	// the running average. Zero means DefaultSyncTolerance.
	SyncTolerance float64

	// Tolerance is the classification window half-width as a fraction of
	// the base unit. Zero means DefaultTolerance.
	Tolerance float64

	// MaxPayload bounds the payload a frame may carry. Zero means
	// lightcode.MaxPayload.
	MaxPayload int

	// MaxPulseSamples caps pulse widths in samples regardless of the
	// base unit. Zero means DefaultMaxPulseSamples.
	MaxPulseSamples int

	// Handler receives events synchronously from inside Process. Nil
	// drops events; the stats counters still run.
	Handler Handler
}

// Decoder is the receiver state machine. One instance per sample source.
type Decoder struct {
	cfg Config

	// Signal conditioning.
	avg     float64 // running ambient intensity estimate
	seeded  bool
	lastLit bool // debounced level of the previous sample
	stable  bool // level the debounce filter has accepted
	flips   int  // consecutive samples disagreeing with stable

	// Pulse measurement.
	width int // samples since the last accepted edge

	// Calibration.
	syncRun []float64
	base    float64 // samples per base unit, 0 until locked

	// Framing.
	state State
	acc   byte
	bits  int
	buf   []byte

	stats Stats
}

// NewDecoder creates a decoder, filling in defaults for zero Config fields.
func NewDecoder(cfg Config) *Decoder {
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}
	if cfg.EdgeZ <= 0 {
		cfg.EdgeZ = DefaultEdgeZ
	}
	if cfg.DebounceSamples <= 0 {
		cfg.DebounceSamples = DefaultDebounceSamples
	}
	if cfg.MinSyncRun <= 0 {
		cfg.MinSyncRun = lightcode.MinSyncRun
	}
	if cfg.SyncTolerance <= 0 {
		cfg.SyncTolerance = DefaultSyncTolerance
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = lightcode.MaxPayload
	}
	if cfg.MaxPulseSamples <= 0 {
		cfg.MaxPulseSamples = DefaultMaxPulseSamples
	}
	return &Decoder{
		cfg:     cfg,
		syncRun: make([]float64, 0, cfg.MinSyncRun),
		buf:     make([]byte, 0, cfg.MaxPayload+1),
	}
}

// Process consumes one raw intensity sample. Events fire synchronously
// through the configured handler before it returns.
func (d *Decoder) Process(sample float64) {
	if !d.seeded {
		d.avg = sample
		d.seeded = true
	}

	// Edge detection with hysteresis: weak excursions hold the previous
	// level instead of toggling it.
	lit := d.lastLit
	if z := (sample - d.avg) / d.cfg.NoiseFloor; math.Abs(z) > d.cfg.EdgeZ {
		lit = z > 0
	}

	// Debounce single-sample glitches.
	if lit != d.stable {
		d.flips++
		if d.flips >= d.cfg.DebounceSamples {
			d.stable = lit
			d.flips = 0
		} else {
			lit = d.stable
		}
	} else {
		d.flips = 0
	}

	// Track the ambient level, adapting faster while hunting for sync.
	f := float64(d.adaptGain())
	d.avg = (sample + d.avg*f) / (f + 1)

	if lit == d.lastLit {
		d.width++
		d.checkPulseTimeout()
		return
	}

	w := d.width
	d.width = 1
	d.lastLit = lit
	d.pulse(w)
}

// ProcessAll feeds a batch of buffered samples through Process in order.
func (d *Decoder) ProcessAll(samples []float64) {
	for _, s := range samples {
		d.Process(s)
	}
}

// State returns the current protocol state.
func (d *Decoder) State() State { return d.state }

// BaseUnit returns the calibrated pulse width in samples, or 0 before the
// first sync lock and after every reset.
func (d *Decoder) BaseUnit() float64 { return d.base }

// Stats returns a snapshot of the activity counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Reset abandons any frame in progress and returns to sync hunting. The
// ambient calibration survives, so reacquisition can start on the next edge.
func (d *Decoder) Reset() {
	d.reset()
	d.width = 0
}

// adaptGain picks the ambient filter time constant. Short while hunting so
// the DC estimate chases a changing scene, long once locked so data pulses
// do not drag it around.
func (d *Decoder) adaptGain() int {
	switch d.state {
	case StateSeekingSync:
		r := 1 + len(d.syncRun)
		if r > d.cfg.MinSyncRun {
			r = d.cfg.MinSyncRun
		}
		return 4*r + 8
	case StateAwaitingStart:
		return 4*d.cfg.MinSyncRun + 8
	default:
		return 4*(d.cfg.MinSyncRun+1) + 8
	}
}

// checkPulseTimeout closes out a frame when the light has sat at one level
// longer than the longest legal pulse. END is always a dark pulse, and an
// idle line behind it produces no closing edge, so a frame with nothing
// following it ends here rather than in classify.
func (d *Decoder) checkPulseTimeout() {
	if d.state != StateAwaitingStart && d.state != StateReceivingData {
		return
	}
	limit := (float64(lightcode.End.Ratio()) + d.cfg.Tolerance) * d.base
	if float64(d.width) > limit || d.width > d.cfg.MaxPulseSamples {
		d.stats.PulseTimeouts++
		d.finalizeFrame("pulse timeout")
	}
}

// pulse dispatches one completed pulse of w samples to the current state.
func (d *Decoder) pulse(w int) {
	switch d.state {
	case StateSeekingSync:
		d.trackSync(w)
	case StateAwaitingStart:
		d.startPulse(w)
	case StateReceivingData:
		d.dataPulse(w)
	}
}

// trackSync grows the preamble run. A width outside the consistency bound
// reseeds the run with itself; an absurd width drops the run entirely.
func (d *Decoder) trackSync(w int) {
	if w > d.cfg.MaxPulseSamples {
		d.syncRun = d.syncRun[:0]
		return
	}
	if len(d.syncRun) > 0 {
		mean := stat.Mean(d.syncRun, nil)
		if math.Abs(mean-float64(w)) > mean*d.cfg.SyncTolerance {
			d.syncRun = d.syncRun[:0]
		}
	}
	d.syncRun = append(d.syncRun, float64(w))
	if len(d.syncRun) < d.cfg.MinSyncRun {
		return
	}

	d.base = stat.Mean(d.syncRun, nil)
	d.syncRun = d.syncRun[:0]
	d.state = StateSyncLocked
	d.stats.SyncLocks++
	debugf("sync locked: base unit %.2f samples", d.base)
	d.emit(Event{Code: EventSyncAcquired, BaseUnit: d.base})
	d.state = StateAwaitingStart
}

// startPulse handles pulses between sync lock and the start marker.
func (d *Decoder) startPulse(w int) {
	ratio, ok := d.classify(w)
	switch {
	case ok && ratio == lightcode.Sync.Ratio():
		// Leftover preamble beyond the lock. Stay put.
	case ok && ratio == lightcode.Start.Ratio():
		debugf("start pulse (width %d), receiving", w)
		d.state = StateReceivingData
		d.acc = 0
		d.bits = 0
		d.buf = d.buf[:0]
	default:
		debugf("unexpected pulse width %d while awaiting start", w)
		if !ok {
			d.stats.UnclassifiedPulses++
		}
		d.stats.FramesAborted++
		d.reset()
	}
}

// dataPulse handles pulses while bits are being assembled.
func (d *Decoder) dataPulse(w int) {
	ratio, ok := d.classify(w)
	if !ok {
		debugf("unclassified pulse width %d mid frame (base %.2f)", w, d.base)
		d.stats.UnclassifiedPulses++
		d.stats.FramesAborted++
		d.reset()
		return
	}
	switch ratio {
	case lightcode.Bit0.Ratio():
		d.pushBit(0)
	case lightcode.Bit1.Ratio():
		d.pushBit(1)
	case lightcode.End.Ratio():
		d.finalizeFrame("end pulse")
	default:
		// A start pulse mid frame means we lost a beat somewhere.
		debugf("start pulse mid frame, dropping %d buffered bytes", len(d.buf))
		d.stats.FramesAborted++
		d.reset()
	}
}

// classify matches a measured width against the symbol ratios. It returns
// the matching ratio and ok=false when the width lands in a gap between
// tolerance windows.
func (d *Decoder) classify(w int) (int, bool) {
	tol := d.cfg.Tolerance * d.base
	for ratio := 1; ratio <= lightcode.End.Ratio(); ratio++ {
		if math.Abs(float64(w)-float64(ratio)*d.base) <= tol {
			return ratio, true
		}
	}
	return 0, false
}

// pushBit shifts one bit into the accumulator, MSB first, and moves each
// completed byte into the frame buffer.
func (d *Decoder) pushBit(bit byte) {
	d.acc = d.acc<<1 | bit
	d.bits++
	if d.bits < 8 {
		return
	}

	b := d.acc
	d.acc = 0
	d.bits = 0
	d.stats.BytesAssembled++
	d.emit(Event{Code: EventByteReceived, Byte: b, BaseUnit: d.base})

	d.buf = append(d.buf, b)
	if len(d.buf) > d.cfg.MaxPayload+1 {
		debugf("frame exceeded %d bytes, dropping", d.cfg.MaxPayload+1)
		d.stats.FramesAborted++
		d.reset()
	}
}

// finalizeFrame closes the frame in progress. The wire carries no length
// field, so the last complete byte heard doubles as the checksum: split it
// off, compare, and report. A frame that never assembled a full byte is
// dropped without an event.
func (d *Decoder) finalizeFrame(reason string) {
	if len(d.buf) == 0 {
		debugf("empty frame dropped (%s)", reason)
		d.reset()
		return
	}
	if d.bits > 0 {
		debugf("dropping %d trailing bits (%s)", d.bits, reason)
	}

	d.state = StateReceivingChecksum
	payload := append([]byte(nil), d.buf[:len(d.buf)-1]...)
	frame := lightcode.Frame{Payload: payload, Checksum: d.buf[len(d.buf)-1]}

	if frame.Valid() {
		d.state = StateFrameComplete
		d.stats.PacketsValid++
		debugf("packet valid (%s): %d bytes", reason, len(frame.Payload))
		d.emit(Event{Code: EventPacketValid, Frame: frame, BaseUnit: d.base})
	} else {
		d.state = StateFrameError
		d.stats.PacketsInvalid++
		debugf("packet invalid (%s): %d bytes, want %#02x got %#02x",
			reason, len(frame.Payload), lightcode.Checksum(frame.Payload), frame.Checksum)
		d.emit(Event{Code: EventPacketInvalid, Frame: frame, BaseUnit: d.base})
	}
	d.reset()
}

// reset returns to sync hunting. Ambient tracking and the in-progress width
// survive, so a back-to-back frame can seed its preamble from the very next
// edge.
func (d *Decoder) reset() {
	d.state = StateSeekingSync
	d.base = 0
	d.syncRun = d.syncRun[:0]
	d.acc = 0
	d.bits = 0
	d.buf = d.buf[:0]
}

func (d *Decoder) emit(ev Event) {
	if d.cfg.Handler != nil {
		d.cfg.Handler(ev)
	}
}

// EstimateNoiseFloor measures the standard deviation of a quiet sample
// stretch, for tuning Config.NoiseFloor against new hardware. Capture
// ambient light with no transmitter running and feed it here; hardcode the
// result rather than estimating on the hot path.
func EstimateNoiseFloor(samples []float64) float64 {
	if len(samples) < 2 {
		return DefaultNoiseFloor
	}
	dev := stat.StdDev(samples, nil)
	if math.IsNaN(dev) || dev < 1 {
		return 1
	}
	return dev
}
