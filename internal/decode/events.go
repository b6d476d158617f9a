package decode

import (
	"fmt"

	"github.com/banshee-data/lightlink/internal/lightcode"
)

// State identifies where the receiver is in the framing protocol. States
// advance through a frame and snap back to StateSeekingSync after every
// terminal outcome, success or failure.
type State int

const (
	// StateSeekingSync means no timing reference is held yet; the decoder
	// is watching for a consistent run of sync pulses.
	StateSeekingSync State = iota

	// StateSyncLocked is the instant the base unit is fixed. It is
	// observable inside the EventSyncAcquired callback and gives way to
	// StateAwaitingStart before Process returns.
	StateSyncLocked

	// StateAwaitingStart means the base unit is held and the decoder is
	// waiting for a start pulse. More sync pulses are fine here.
	StateAwaitingStart

	// StateReceivingData means bits are being assembled into bytes.
	StateReceivingData

	// StateReceivingChecksum is the moment the end of frame is seen and
	// the final buffered byte is split off as the checksum.
	StateReceivingChecksum

	// StateFrameComplete is observable inside the EventPacketValid
	// callback.
	StateFrameComplete

	// StateFrameError is observable inside the EventPacketInvalid
	// callback.
	StateFrameError
)

func (s State) String() string {
	switch s {
	case StateSeekingSync:
		return "seeking-sync"
	case StateSyncLocked:
		return "sync-locked"
	case StateAwaitingStart:
		return "awaiting-start"
	case StateReceivingData:
		return "receiving-data"
	case StateReceivingChecksum:
		return "receiving-checksum"
	case StateFrameComplete:
		return "frame-complete"
	case StateFrameError:
		return "frame-error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventCode identifies what a decoder event reports. The numeric values are
// a stable contract with receiver integrations and must not be renumbered.
type EventCode int

const (
	// EventSyncAcquired fires once the sync preamble locks the base unit.
	EventSyncAcquired EventCode = 0

	// EventByteReceived fires for every assembled byte, the checksum byte
	// included.
	EventByteReceived EventCode = 1

	// EventPacketValid fires when a completed frame's checksum matches
	// its payload.
	EventPacketValid EventCode = 2

	// EventPacketInvalid fires when a completed frame fails validation.
	EventPacketInvalid EventCode = 3
)

func (c EventCode) String() string {
	switch c {
	case EventSyncAcquired:
		return "sync-acquired"
	case EventByteReceived:
		return "byte-received"
	case EventPacketValid:
		return "packet-valid"
	case EventPacketInvalid:
		return "packet-invalid"
	default:
		return fmt.Sprintf("EventCode(%d)", int(c))
	}
}

// Event is delivered synchronously from inside Process. Handlers must not
// call back into the decoder other than to read its state.
type Event struct {
	Code EventCode

	// Byte is set for EventByteReceived.
	Byte byte

	// Frame is set for EventPacketValid and EventPacketInvalid. Checksum
	// holds the byte that arrived on the wire; for an invalid packet,
	// lightcode.Checksum(Frame.Payload) is what it should have been.
	Frame lightcode.Frame

	// BaseUnit is the calibrated pulse width in samples when the event
	// fired.
	BaseUnit float64
}

// Handler receives decoder events.
type Handler func(Event)

// Stats counts decoder activity since construction. The counters are
// maintained without locks; read them from the goroutine that calls
// Process.
type Stats struct {
	// SyncLocks counts base unit acquisitions.
	SyncLocks uint64

	// BytesAssembled counts every completed byte, checksums included.
	BytesAssembled uint64

	// PacketsValid and PacketsInvalid count finalized frames by outcome.
	PacketsValid   uint64
	PacketsInvalid uint64

	// UnclassifiedPulses counts pulse widths that fell in the gaps
	// between symbol tolerance windows.
	UnclassifiedPulses uint64

	// FramesAborted counts frames dropped before validation: noise
	// pulses mid-frame, stray start pulses, or byte buffer overruns.
	FramesAborted uint64

	// PulseTimeouts counts frames closed because the light sat at one
	// level past the longest legal pulse. A frame with idle line behind
	// it always ends this way.
	PulseTimeouts uint64
}
