package lightsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightlink/internal/lightcode"
)

type levelRun struct {
	lit bool
	n   int
}

// levelRuns run-length-encodes a sample stream against the midpoint
// between the ambient and lit levels.
func levelRuns(r *Renderer, samples []float64) []levelRun {
	threshold := (r.Ambient + r.Lit) / 2
	var runs []levelRun
	for _, s := range samples {
		lit := s > threshold
		if len(runs) > 0 && runs[len(runs)-1].lit == lit {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, levelRun{lit: lit, n: 1})
	}
	return runs
}

func TestDurationsAlternateStartingLit(t *testing.T) {
	r := NewRenderer(1)

	samples := r.Durations([]float64{1, 2, 3, 1.5})

	runs := levelRuns(r, samples)
	require.Len(t, runs, 4)
	assert.Equal(t, levelRun{lit: true, n: 10}, runs[0])
	assert.Equal(t, levelRun{lit: false, n: 20}, runs[1])
	assert.Equal(t, levelRun{lit: true, n: 30}, runs[2])
	assert.Equal(t, levelRun{lit: false, n: 15}, runs[3])
}

func TestDurationsRoundToNearestSample(t *testing.T) {
	r := NewRenderer(1)

	samples := r.Durations([]float64{1.04, 1.06})

	runs := levelRuns(r, samples)
	require.Len(t, runs, 2)
	assert.Equal(t, 10, runs[0].n)
	assert.Equal(t, 11, runs[1].n)
}

func TestSymbolsMatchNominalTicks(t *testing.T) {
	syms, err := lightcode.Encode([]byte("A"))
	require.NoError(t, err)

	r := NewRenderer(1)
	samples := r.Symbols(syms)

	assert.Len(t, samples, lightcode.Ticks(syms)*r.SamplesPerUnit)
}

func TestFrameAddsIdleLeadAndTail(t *testing.T) {
	r := NewRenderer(1)

	samples, err := r.Frame(nil)
	require.NoError(t, err)

	syms, err := lightcode.Encode(nil)
	require.NoError(t, err)
	want := (r.LeadUnits + lightcode.Ticks(syms) + r.TailUnits) * r.SamplesPerUnit
	assert.Len(t, samples, want)

	runs := levelRuns(r, samples)
	require.NotEmpty(t, runs)
	assert.False(t, runs[0].lit)
	assert.Equal(t, r.LeadUnits*r.SamplesPerUnit, runs[0].n)
	require.True(t, len(runs) > 1)
	assert.True(t, runs[1].lit)
	assert.Equal(t, r.SamplesPerUnit, runs[1].n)
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	r := NewRenderer(1)

	_, err := r.Frame(make([]byte, lightcode.MaxPayload+1))
	require.ErrorIs(t, err, lightcode.ErrPayloadTooLarge)

	_, err = r.Frame(make([]byte, lightcode.MaxPayload))
	require.NoError(t, err)
}

func TestNoiseIsDeterministicPerSeed(t *testing.T) {
	a := NewRenderer(7)
	a.Noise = 3
	b := NewRenderer(7)
	b.Noise = 3

	sa, err := a.Frame([]byte("same"))
	require.NoError(t, err)
	sb, err := b.Frame([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, sa, sb)

	c := NewRenderer(8)
	c.Noise = 3
	sc, err := c.Frame([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, sa, sc)
}

func TestJitterStaysWithinBounds(t *testing.T) {
	r := NewRenderer(3)
	units := make([]float64, 200)
	for i := range units {
		units[i] = 2
	}

	out := r.Jitter(units, 0.25)

	require.Len(t, out, len(units))
	for i, u := range out {
		assert.GreaterOrEqualf(t, u, 1.75, "duration %d below bound", i)
		assert.LessOrEqualf(t, u, 2.25, "duration %d above bound", i)
	}
}

func TestJitterZeroAmountIsIdentity(t *testing.T) {
	r := NewRenderer(3)
	units := []float64{1, 2, 3, 4}

	assert.Equal(t, units, r.Jitter(units, 0))
}

func TestRatios(t *testing.T) {
	syms := []lightcode.PulseSymbol{
		lightcode.Sync, lightcode.Bit1, lightcode.Start, lightcode.End, lightcode.Bit0,
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 1}, Ratios(syms))
}

func TestChannelFollowsLightState(t *testing.T) {
	c := NewChannel(1)

	assert.InDelta(t, 500, c.Sample(), 0.001)

	require.NoError(t, c.SetLight(true))
	assert.InDelta(t, 3000, c.Sample(), 0.001)

	require.NoError(t, c.SetLight(false))
	assert.InDelta(t, 500, c.Sample(), 0.001)
}

func TestChannelNoise(t *testing.T) {
	c := NewChannel(2)
	c.SetNoise(2)

	for i := 0; i < 100; i++ {
		assert.InDelta(t, 500, c.Sample(), 20)
	}
}
