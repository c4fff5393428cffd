// Package midibridge implements the bidirectional mapping between raw MIDI
// byte messages and local-sequencer event records, and the
// adapter that binds a local MIDI sequencer handle to the event
// dispatcher.
package midibridge

import (
	"fmt"
	"log/slog"
)

// Kind identifies the event kinds this bridge carries. Anything else is
// logged and dropped — it never fails the connection.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoteOff
	KindNoteOn
	KindPolyKeyPress
	KindControlChange
	KindPitchBend
)

func (k Kind) String() string {
	switch k {
	case KindNoteOff:
		return "NOTE_OFF"
	case KindNoteOn:
		return "NOTE_ON"
	case KindPolyKeyPress:
		return "POLY_KEY_PRESS"
	case KindControlChange:
		return "CONTROL_CHANGE"
	case KindPitchBend:
		return "PITCH_BEND"
	default:
		return "UNKNOWN"
	}
}

// statusKind maps a MIDI status nibble to the event Kind it carries,
// per the AppleMIDI status-byte table.
var statusKind = map[byte]Kind{
	0x80: KindNoteOff,
	0x90: KindNoteOn,
	0xa0: KindPolyKeyPress,
	0xb0: KindControlChange,
	0xe0: KindPitchBend,
}

var kindStatus = map[Kind]byte{
	KindNoteOff:       0x80,
	KindNoteOn:        0x90,
	KindPolyKeyPress:  0xa0,
	KindControlChange: 0xb0,
	KindPitchBend:     0xe0,
}

// Event is the local-sequencer event record. Only the fields relevant to
// Kind are populated on decode; Param1/Param2 double as (note, velocity),
// (key, pressure) or (controller, value) depending on Kind, and Bend holds
// the 14-bit pitch-bend value for KindPitchBend.
type Event struct {
	Kind    Kind
	Channel byte
	Param1  byte
	Param2  byte
	Bend    uint16
}

// FromMIDI decodes a raw MIDI message (status byte plus its data bytes, as
// produced by wire.ParseMIDICommandSection) into an Event. ok is false for
// message kinds this bridge does not carry; the caller logs and drops it.
func FromMIDI(msg []byte) (ev Event, ok bool) {
	if len(msg) == 0 {
		return ev, false
	}
	status := msg[0]
	kind, known := statusKind[status&0xf0]
	if !known {
		return ev, false
	}
	ev.Kind = kind
	ev.Channel = status & 0x0f
	switch kind {
	case KindPitchBend:
		if len(msg) != 3 {
			return ev, false
		}
		lsb, msb := msg[1], msg[2]
		ev.Bend = (uint16(msb) << 7) | uint16(lsb)
	default:
		if len(msg) != 3 {
			return ev, false
		}
		ev.Param1 = msg[1]
		ev.Param2 = msg[2]
	}
	return ev, true
}

// ToMIDI encodes an Event back into a raw MIDI message. ok is false for
// unknown kinds, which are dropped rather than sent.
func ToMIDI(ev Event) (msg []byte, ok bool) {
	status, known := kindStatus[ev.Kind]
	if !known {
		return nil, false
	}
	status |= ev.Channel & 0x0f
	if ev.Kind == KindPitchBend {
		lsb := byte(ev.Bend & 0x7f)
		msb := byte((ev.Bend >> 7) & 0x7f)
		return []byte{status, lsb, msb}, true
	}
	return []byte{status, ev.Param1, ev.Param2}, true
}

func (ev Event) String() string {
	if ev.Kind == KindPitchBend {
		return fmt.Sprintf("%s chan=%d bend=%d", ev.Kind, ev.Channel, ev.Bend)
	}
	return fmt.Sprintf("%s chan=%d p1=%d p2=%d", ev.Kind, ev.Channel, ev.Param1, ev.Param2)
}

// LogDropped logs an unsupported message or event at debug level. Dropping
// never tears down the connection.
func LogDropped(logger *slog.Logger, direction string, payload any) {
	logger.Debug("dropping unsupported midi event", "direction", direction, "payload", payload)
}
