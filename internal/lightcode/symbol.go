// Package lightcode defines the pulse-width code used to carry bytes over a
// blinking light.
//
// Every symbol is one pulse: the light holds a single state, lit or dark, for
// a multiple of the link's base unit and then flips. Duration encodes the
// symbol; polarity carries no information, so a receiver only has to spot
// transitions, not absolute brightness.
//
// One frame on the wire is:
//
//	SYNC x SyncPulses, START, payload bits (MSB first), checksum bits, END
//
// where the checksum byte is the modular sum of the payload bytes. Receivers
// measure the base unit from the leading sync run and need at least
// MinSyncRun consistent pulses before START arrives.
package lightcode

import "fmt"

// PulseSymbol identifies one pulse in the frame alphabet.
type PulseSymbol int

// Frame alphabet. Sync and Bit0 share a duration; receivers tell them apart
// by position, since sync pulses only occur before START.
const (
	Sync PulseSymbol = iota
	Bit0
	Bit1
	Start
	End
)

// Protocol constants shared by transmitters and receivers.
const (
	// MaxPayload is the largest payload a single frame can carry.
	MaxPayload = 70

	// MinSyncRun is how many consistent sync pulses a receiver needs
	// before it can trust its base unit estimate.
	MinSyncRun = 8

	// SyncPulses is how many sync pulses transmitters send per frame,
	// giving receivers margin over MinSyncRun while their filters settle.
	SyncPulses = 14
)

// Ratio returns the symbol's pulse duration as a multiple of the base unit.
func (s PulseSymbol) Ratio() int {
	switch s {
	case Sync, Bit0:
		return 1
	case Bit1:
		return 2
	case Start:
		return 3
	case End:
		return 4
	default:
		return 0
	}
}

func (s PulseSymbol) String() string {
	switch s {
	case Sync:
		return "SYNC"
	case Bit0:
		return "BIT0"
	case Bit1:
		return "BIT1"
	case Start:
		return "START"
	case End:
		return "END"
	default:
		return fmt.Sprintf("PulseSymbol(%d)", int(s))
	}
}
