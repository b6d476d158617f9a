package monitor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/lightlink/internal/units"
)

// signalWindow is how many recent raw samples are kept for the signal
// trace chart. At 100Hz this is about twenty seconds.
const signalWindow = 2048

// StatsSnapshot represents a snapshot of current link statistics
type StatsSnapshot struct {
	SamplesPerSec   float64
	BytesPerSec     float64
	PacketsPerSec   float64
	InvalidCount    int64
	DroppedCount    int64
	State           string
	BaseUnitSamples float64
	Timestamp       time.Time
}

// LinkStats tracks receiver statistics with thread-safe operations
type LinkStats struct {
	mu           sync.Mutex
	sampleCount  int64
	byteCount    int64
	packetCount  int64
	invalidCount int64
	droppedCount int64
	syncCount    int64
	state        string
	baseUnit     float64
	lastReset    time.Time
	startTime    time.Time

	recent    []uint16
	recentLen int
	recentPos int

	latestSnapshot *StatsSnapshot
}

// NewLinkStats creates a new LinkStats instance
func NewLinkStats() *LinkStats {
	now := time.Now()
	return &LinkStats{
		lastReset: now,
		startTime: now,
		state:     "seeking-sync",
		recent:    make([]uint16, signalWindow),
	}
}

// RecordSample counts one raw intensity sample and keeps it in the
// recent-signal ring for the trace chart
func (ls *LinkStats) RecordSample(v uint16) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.sampleCount++
	ls.recent[ls.recentPos] = v
	ls.recentPos = (ls.recentPos + 1) % len(ls.recent)
	if ls.recentLen < len(ls.recent) {
		ls.recentLen++
	}
}

// AddByte counts one assembled byte
func (ls *LinkStats) AddByte() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.byteCount++
}

// AddPacket counts one finalized frame by checksum outcome
func (ls *LinkStats) AddPacket(valid bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.packetCount++
	if !valid {
		ls.invalidCount++
	}
}

// AddDropped adds to the count of samples dropped before decoding
func (ls *LinkStats) AddDropped(n int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.droppedCount += n
}

// AddSync counts one base unit acquisition
func (ls *LinkStats) AddSync() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.syncCount++
}

// SetLinkState records the decoder state and calibrated base unit for
// the web interface
func (ls *LinkStats) SetLinkState(state string, baseUnitSamples float64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.state = state
	ls.baseUnit = baseUnitSamples
}

// GetAndReset returns current stats and resets counters
func (ls *LinkStats) GetAndReset() (samples, bytes, packets, invalid, dropped, syncs int64, duration time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ls.lastReset)
	samples = ls.sampleCount
	bytes = ls.byteCount
	packets = ls.packetCount
	invalid = ls.invalidCount
	dropped = ls.droppedCount
	syncs = ls.syncCount

	ls.sampleCount = 0
	ls.byteCount = 0
	ls.packetCount = 0
	ls.invalidCount = 0
	ls.droppedCount = 0
	ls.syncCount = 0
	ls.lastReset = now

	return
}

// LogStats logs formatted statistics and stores snapshot for web interface
func (ls *LinkStats) LogStats() {
	samples, bytes, packets, invalid, dropped, syncs, duration := ls.GetAndReset()
	if samples > 0 || dropped > 0 {
		samplesPerSec := float64(samples) / duration.Seconds()
		bytesPerSec := float64(bytes) / duration.Seconds()
		packetsPerSec := float64(packets) / duration.Seconds()

		// Store snapshot for web interface
		ls.mu.Lock()
		ls.latestSnapshot = &StatsSnapshot{
			SamplesPerSec:   samplesPerSec,
			BytesPerSec:     bytesPerSec,
			PacketsPerSec:   packetsPerSec,
			InvalidCount:    invalid,
			DroppedCount:    dropped,
			State:           ls.state,
			BaseUnitSamples: ls.baseUnit,
			Timestamp:       time.Now(),
		}
		ls.mu.Unlock()

		logMsg := fmt.Sprintf("Link stats: %s samples/sec, %s, %.2f packets/sec",
			FormatWithCommas(int64(samplesPerSec)), units.FormatByteRate(bytesPerSec), packetsPerSec)

		if syncs > 0 {
			logMsg += fmt.Sprintf(", %d sync locks", syncs)
		}
		if invalid > 0 {
			logMsg += fmt.Sprintf(", %d invalid", invalid)
		}
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d samples dropped", dropped)
		}

		log.Print(logMsg)
	}
}

// GetUptime returns the time since the stats were created
func (ls *LinkStats) GetUptime() time.Duration {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return time.Since(ls.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for web interface
func (ls *LinkStats) GetLatestSnapshot() *StatsSnapshot {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.latestSnapshot == nil {
		return nil
	}
	// Return a copy to avoid race conditions
	snapshot := *ls.latestSnapshot
	return &snapshot
}

// LinkState returns the most recently recorded decoder state and base unit
func (ls *LinkStats) LinkState() (string, float64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state, ls.baseUnit
}

// RecentSamples returns a copy of the recent-signal ring, oldest first
func (ls *LinkStats) RecentSamples() []uint16 {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	out := make([]uint16, ls.recentLen)
	if ls.recentLen < len(ls.recent) {
		copy(out, ls.recent[:ls.recentLen])
		return out
	}
	n := copy(out, ls.recent[ls.recentPos:])
	copy(out[n:], ls.recent[:ls.recentPos])
	return out
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
