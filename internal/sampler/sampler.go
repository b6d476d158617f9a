// Package sampler provides photocell reading sources for the receiver.
//
// A Source owns one underlying device (serial port, UDP socket, replay
// log, capture file, or simulated channel) and fans its readings out to
// any number of subscribers. One Monitor goroutine reads the device;
// subscribers receive on buffered channels, and a slow subscriber loses
// readings rather than stalling the read loop.
package sampler

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
)

// Source is a stream of raw photocell readings.
type Source interface {
	// Subscribe creates a new channel for receiving readings. The returned
	// ID identifies the channel when unsubscribing.
	Subscribe() (string, chan uint16)

	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(id string)

	// Monitor reads from the underlying device and sends readings to
	// subscribers. It returns when ctx is cancelled, the device is
	// exhausted, or the read loop fails.
	Monitor(ctx context.Context) error

	// Close releases the underlying device and closes all subscriber
	// channels.
	Close() error
}

// subscriberBuffer is the per-subscriber channel depth. The decode loop
// drains far faster than any sampling rate; the buffer rides out log
// writes and storage stalls on the consumer side.
const subscriberBuffer = 1024

// fanout implements the subscriber half of a Source.
type fanout struct {
	mu          sync.Mutex
	subscribers map[string]chan uint16
	closing     bool
	dropped     uint64
}

func newFanout() fanout {
	return fanout{subscribers: make(map[string]chan uint16)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (f *fanout) Subscribe() (string, chan uint16) {
	id := randomID()
	ch := make(chan uint16, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the fan-out.
func (f *fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// publish delivers one reading to every subscriber. Full channels are
// skipped so a stalled subscriber cannot block the read loop.
func (f *fanout) publish(v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- v:
		default:
			f.dropped++
		}
	}
}

// Dropped reports how many readings were discarded because a subscriber
// channel was full.
func (f *fanout) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// closeAll closes every subscriber channel and stops further publishes.
func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Encoding selects how a datagram or stream payload carries readings.
type Encoding int

const (
	// EncodingText is newline-delimited decimal readings, the format the
	// sensor firmware prints on its console. Blank lines and lines
	// starting with '#' are ignored.
	EncodingText Encoding = iota

	// EncodingBinary is packed little-endian uint16 readings.
	EncodingBinary
)

// String returns the flag-friendly name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	default:
		return "text"
	}
}

// ParseEncoding maps a flag value to an Encoding.
func ParseEncoding(s string) (Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return EncodingText, true
	case "binary", "bin":
		return EncodingBinary, true
	}
	return EncodingText, false
}

// parseReading parses one text line into a reading. Blank lines and
// comment lines return ok=false.
func parseReading(line string) (uint16, bool) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// parseDatagram extracts readings from one datagram payload. Trailing odd
// bytes of a binary payload and unparseable text lines are dropped.
func parseDatagram(payload []byte, enc Encoding) []uint16 {
	if enc == EncodingBinary {
		out := make([]uint16, 0, len(payload)/2)
		for i := 0; i+1 < len(payload); i += 2 {
			out = append(out, binary.LittleEndian.Uint16(payload[i:]))
		}
		return out
	}
	var out []uint16
	for _, line := range strings.Split(string(payload), "\n") {
		if v, ok := parseReading(line); ok {
			out = append(out, v)
		}
	}
	return out
}
