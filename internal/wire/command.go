// Package wire implements the AppleMIDI session-protocol codec and the
// RTP-MIDI packet codec: the two command families that share
// the control and data UDP sockets, distinguished by the magic 0xFFFF at
// offset 0.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the two-byte marker that identifies an AppleMIDI command packet
// as opposed to an RTP-MIDI data packet.
const Magic uint16 = 0xFFFF

// Protocol is the AppleMIDI protocol version carried in IN/OK/BY payloads.
const Protocol uint32 = 2

// CommandKind identifies one of the six AppleMIDI commands by the ASCII of
// its two-character name, matching the wire encoding directly.
type CommandKind uint16

const (
	CommandIN CommandKind = 0x494e // invite
	CommandOK CommandKind = 0x4f4b // accept
	CommandNO CommandKind = 0x4e4f // reject
	CommandBY CommandKind = 0x4259 // teardown
	CommandCK CommandKind = 0x434b // clock sync
	CommandRS CommandKind = 0x5253 // receiver feedback
)

func (k CommandKind) String() string {
	return string([]byte{byte(k >> 8), byte(k)})
}

// ErrShortBuffer is returned when a buffer is too small to hold the command
// it claims to contain.
var ErrShortBuffer = errors.New("wire: buffer too short")

// ErrNotACommand is returned when the buffer does not start with the
// AppleMIDI magic.
var ErrNotACommand = errors.New("wire: not an AppleMIDI command")

// ErrUnterminatedName is returned when an IN/OK/BY payload's name field is
// not NUL-terminated.
var ErrUnterminatedName = errors.New("wire: name is not NUL-terminated")

// PeekKind reports whether buf holds an AppleMIDI command and, if so, which
// one. It does not validate the rest of the payload.
func PeekKind(buf []byte) (CommandKind, error) {
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return 0, ErrNotACommand
	}
	return CommandKind(binary.BigEndian.Uint16(buf[2:4])), nil
}

// Invitation is the payload shared by IN, OK, NO and BY: a protocol
// version, the initiator's token, the sender's SSRC, and (for IN/OK/NO) a
// NUL-terminated display name.
type Invitation struct {
	Kind           CommandKind
	InitiatorToken uint32
	SSRC           uint32
	Name           string
}

// DecodeInvitation parses the header common to IN/OK/NO/BY. Name is empty
// for BY payloads that omit it, and for any payload that is name-less.
func DecodeInvitation(buf []byte) (Invitation, error) {
	var inv Invitation
	if len(buf) < 16 {
		return inv, ErrShortBuffer
	}
	kind, err := PeekKind(buf)
	if err != nil {
		return inv, err
	}
	inv.Kind = kind
	// buf[4:8] is the protocol version; accepted but not required to match.
	inv.InitiatorToken = binary.BigEndian.Uint32(buf[8:12])
	inv.SSRC = binary.BigEndian.Uint32(buf[12:16])
	if len(buf) > 16 {
		name, ok := decodeName(buf[16:])
		if !ok {
			return inv, ErrUnterminatedName
		}
		inv.Name = name
	}
	return inv, nil
}

// decodeName stops at the first NUL and ignores anything after it. ok is
// false when buf holds no NUL at all.
func decodeName(buf []byte) (name string, ok bool) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// EncodeInvitation serializes an Invitation. For BY, pass an empty Name;
// the name and its NUL terminator are omitted entirely.
func EncodeInvitation(inv Invitation) []byte {
	size := 16
	if inv.Kind != CommandBY {
		size += len(inv.Name) + 1
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(inv.Kind))
	binary.BigEndian.PutUint32(buf[4:8], Protocol)
	binary.BigEndian.PutUint32(buf[8:12], inv.InitiatorToken)
	binary.BigEndian.PutUint32(buf[12:16], inv.SSRC)
	if inv.Kind != CommandBY {
		copy(buf[16:], inv.Name)
		buf[size-1] = 0
	}
	return buf
}

func (inv Invitation) String() string {
	return fmt.Sprintf("%s initiator=%08x ssrc=%08x name=%q", inv.Kind, inv.InitiatorToken, inv.SSRC, inv.Name)
}

// ClockSync is the CK payload: a three-way timestamp exchange
// used to estimate clock offset and round-trip latency, in 100µs units.
type ClockSync struct {
	SSRC  uint32
	Count uint8
	T1    uint64
	T2    uint64
	T3    uint64
}

// ckPayloadLen is len(ssrc:4 + count:1 + pad:1 + pad:2 + t1:8 + t2:8 + t3:8).
const ckPayloadLen = 4 + 1 + 1 + 2 + 8 + 8 + 8

// DecodeClockSync parses a whole CK command, starting with its 4-byte
// magic+command header.
func DecodeClockSync(buf []byte) (ClockSync, error) {
	var cs ClockSync
	if len(buf) < 4+ckPayloadLen {
		return cs, ErrShortBuffer
	}
	kind, err := PeekKind(buf)
	if err != nil {
		return cs, err
	}
	if kind != CommandCK {
		return cs, fmt.Errorf("wire: expected CK, got %s", kind)
	}
	body := buf[4:]
	cs.SSRC = binary.BigEndian.Uint32(body[0:4])
	cs.Count = body[4]
	// body[5] and body[6:8] are padding.
	cs.T1 = binary.BigEndian.Uint64(body[8:16])
	cs.T2 = binary.BigEndian.Uint64(body[16:24])
	cs.T3 = binary.BigEndian.Uint64(body[24:32])
	return cs, nil
}

// EncodeClockSync serializes a CK command.
func EncodeClockSync(cs ClockSync) []byte {
	buf := make([]byte, 4+ckPayloadLen)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(CommandCK))
	body := buf[4:]
	binary.BigEndian.PutUint32(body[0:4], cs.SSRC)
	body[4] = cs.Count
	binary.BigEndian.PutUint64(body[8:16], cs.T1)
	binary.BigEndian.PutUint64(body[16:24], cs.T2)
	binary.BigEndian.PutUint64(body[24:32], cs.T3)
	return buf
}

// ReceiverFeedback is the RS payload: acknowledged and logged only, no
// recovery journal is implemented.
type ReceiverFeedback struct {
	SSRC     uint32
	Sequence uint32
}

// DecodeReceiverFeedback parses an RS command payload.
func DecodeReceiverFeedback(buf []byte) (ReceiverFeedback, error) {
	var rf ReceiverFeedback
	if len(buf) < 12 {
		return rf, ErrShortBuffer
	}
	kind, err := PeekKind(buf)
	if err != nil {
		return rf, err
	}
	if kind != CommandRS {
		return rf, fmt.Errorf("wire: expected RS, got %s", kind)
	}
	rf.SSRC = binary.BigEndian.Uint32(buf[4:8])
	rf.Sequence = binary.BigEndian.Uint32(buf[8:12])
	return rf, nil
}

// EncodeReceiverFeedback serializes an RS command.
func EncodeReceiverFeedback(rf ReceiverFeedback) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(CommandRS))
	binary.BigEndian.PutUint32(buf[4:8], rf.SSRC)
	binary.BigEndian.PutUint32(buf[8:12], rf.Sequence)
	return buf
}
