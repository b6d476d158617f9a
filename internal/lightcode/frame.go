package lightcode

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned by Encode when a payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("payload exceeds frame capacity")

// Frame pairs a payload with the checksum that rode along with it. Receivers
// build one from the trailing byte of the data they heard; whether the two
// halves agree is what separates a valid packet from a corrupt one.
type Frame struct {
	Payload  []byte
	Checksum byte
}

// NewFrame builds a frame for payload with its checksum filled in.
func NewFrame(payload []byte) Frame {
	return Frame{Payload: payload, Checksum: Checksum(payload)}
}

// Valid reports whether the checksum matches the payload.
func (f Frame) Valid() bool {
	return Checksum(f.Payload) == f.Checksum
}

// Checksum returns the modular sum of the payload bytes.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode expands payload into the symbol sequence for one complete frame.
// It returns ErrPayloadTooLarge if the payload will not fit.
func Encode(payload []byte) ([]PulseSymbol, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	syms := make([]PulseSymbol, 0, FrameSymbols(len(payload)))
	for i := 0; i < SyncPulses; i++ {
		syms = append(syms, Sync)
	}
	syms = append(syms, Start)
	for _, b := range payload {
		syms = appendByteSymbols(syms, b)
	}
	syms = appendByteSymbols(syms, Checksum(payload))
	syms = append(syms, End)
	return syms, nil
}

// appendByteSymbols appends the eight bit symbols for b, MSB first.
func appendByteSymbols(syms []PulseSymbol, b byte) []PulseSymbol {
	for bit := 7; bit >= 0; bit-- {
		if b&(1<<bit) != 0 {
			syms = append(syms, Bit1)
		} else {
			syms = append(syms, Bit0)
		}
	}
	return syms
}

// FrameSymbols returns the symbol count of a frame carrying payloadLen bytes:
// the sync run, START, eight bits per payload byte, eight checksum bits, END.
func FrameSymbols(payloadLen int) int {
	return SyncPulses + 1 + 8*(payloadLen+1) + 1
}

// Ticks returns the total duration of syms in base units.
func Ticks(syms []PulseSymbol) int {
	total := 0
	for _, s := range syms {
		total += s.Ratio()
	}
	return total
}
