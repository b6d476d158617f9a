// Package units converts the link's timing vocabulary between base
// units, receiver samples and wall-clock durations for status surfaces.
package units

import (
	"fmt"
	"math"
	"time"
)

// SamplesPerUnit returns how many receiver samples span one base unit at
// the given sampling rate.
func SamplesPerUnit(baseUnit time.Duration, sampleRate int) float64 {
	if baseUnit <= 0 || sampleRate <= 0 {
		return 0
	}
	return baseUnit.Seconds() * float64(sampleRate)
}

// BaseUnitDuration converts a base unit width measured in samples, the
// way the decoder reports it, to wall-clock time.
func BaseUnitDuration(samples float64, sampleRate int) time.Duration {
	if samples <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(samples / float64(sampleRate) * float64(time.Second)))
}

// FormatBaseUnit renders a measured base unit for status pages, with the
// wall-clock width when the sampling rate is known.
func FormatBaseUnit(samples float64, sampleRate int) string {
	if samples <= 0 {
		return "unlocked"
	}
	if sampleRate <= 0 {
		return fmt.Sprintf("%.2f samples", samples)
	}
	return fmt.Sprintf("%.2f samples (%s)",
		samples, FormatDuration(BaseUnitDuration(samples, sampleRate)))
}

// FormatDuration renders a duration at the precision a status page
// needs: whole seconds once past a minute, finer below that.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// FormatByteRate renders a byte rate with a unit matched to its size.
// Light links run in the tens of bytes per second; the larger tiers
// cover replays decoded faster than real time.
func FormatByteRate(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= 1<<20:
		return fmt.Sprintf("%.1f MiB/s", bytesPerSec/(1<<20))
	case bytesPerSec >= 1<<10:
		return fmt.Sprintf("%.1f KiB/s", bytesPerSec/(1<<10))
	default:
		return fmt.Sprintf("%.2f B/s", bytesPerSec)
	}
}
