package wire

import (
	"encoding/binary"
	"fmt"
)

// RTP header and RTP-MIDI framing constants.
const (
	rtpHeaderLen  = 12
	flagsMarker   = 0x80 // first header byte: RTP version 2, no padding, extension or CSRCs.
	payloadTypeV1 = 0x61
	midiListLen   = 0x0f // low nibble mask: short-header command-section length
)

// Packet is a decoded RTP-MIDI packet: the 12-byte RTP header plus the
// short-form (no big-header, no journal, no delta-time) MIDI command
// section.
type Packet struct {
	Flags       byte
	PayloadType byte
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	Messages    [][]byte // raw MIDI messages, running status already expanded
}

// DecodePacket parses an RTP-MIDI packet. Only the short RTP-MIDI header
// form is supported for decoding the command-section length; the B/J/Z/P
// flags are read but not acted upon.
func DecodePacket(buf []byte) (Packet, error) {
	var p Packet
	if len(buf) < rtpHeaderLen+1 {
		return p, ErrShortBuffer
	}
	p.Flags = buf[0]
	p.PayloadType = buf[1]
	p.Sequence = binary.BigEndian.Uint16(buf[2:4])
	p.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	p.SSRC = binary.BigEndian.Uint32(buf[8:12])

	header := buf[rtpHeaderLen]
	length := int(header & midiListLen)
	start := rtpHeaderLen + 1
	if start+length > len(buf) {
		return p, fmt.Errorf("wire: midi command section length %d exceeds buffer", length)
	}
	msgs, err := ParseMIDICommandSection(buf[start : start+length])
	p.Messages = msgs
	return p, err
}

// EncodePacket serializes an RTP-MIDI packet holding exactly the messages
// given. Used only for the short, no-journal, no-delta form this core
// implements; callers must have already rejected oversize payloads, since
// an event over 15 bytes is refused rather than fragmented.
func EncodePacket(p Packet) ([]byte, error) {
	payload, err := EncodeMIDICommandSection(p.Messages)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, rtpHeaderLen+len(payload))
	buf[0] = p.Flags
	buf[1] = p.PayloadType
	binary.BigEndian.PutUint16(buf[2:4], p.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.SSRC)
	copy(buf[rtpHeaderLen:], payload)
	return buf, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("RTP-MIDI ssrc=%08x seq=%d messages=%d", p.SSRC, p.Sequence, len(p.Messages))
}

// midiMessageLength returns the total byte length (status + data) of the
// MIDI message starting with status. A return of -1 means "variable,
// terminated by 0xF7" (SysEx).
func midiMessageLength(status byte) int {
	switch status & 0xf0 {
	case 0x80, 0x90, 0xa0, 0xb0, 0xe0:
		return 3
	case 0xc0, 0xd0:
		return 2
	}
	if status >= 0xf0 && status <= 0xf7 {
		return -1
	}
	return 1 // system realtime bytes (0xf8-0xff): status only, no data
}

// ParseMIDICommandSection decodes a stream of MIDI bytes with running
// status: a byte with the high bit set always restarts
// accumulation under that status; once a full message's worth of bytes
// has accumulated, it is emitted and accumulation continues under the
// same status for the next data byte.
func ParseMIDICommandSection(buf []byte) ([][]byte, error) {
	var messages [][]byte
	var status byte
	var pending []byte
	var want int

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, pending)
		}
	}

	i := 0
	for i < len(buf) {
		b := buf[i]
		if b&0x80 != 0 {
			// New status byte: restart accumulation, discarding any
			// incomplete message under the previous status.
			status = b
			if status == 0xf7 {
				// Bare end-of-SysEx with no preceding 0xf0 in this buffer:
				// treat as a (malformed) single-byte message.
				messages = append(messages, []byte{status})
				pending = nil
				want = 0
				i++
				continue
			}
			length := midiMessageLength(status)
			if length < 0 {
				// SysEx: accumulate until the terminating 0xf7, inclusive.
				j := i + 1
				for j < len(buf) && buf[j] != 0xf7 {
					j++
				}
				if j >= len(buf) {
					return messages, fmt.Errorf("wire: unterminated sysex")
				}
				messages = append(messages, append([]byte{}, buf[i:j+1]...))
				i = j + 1
				pending = nil
				want = 0
				continue
			}
			pending = []byte{status}
			want = length
			i++
			if want == 1 {
				// Status-only message (e.g. a system realtime byte):
				// complete immediately, no running-status continuation.
				flush()
				pending = nil
				status = 0
				want = 0
			}
			continue
		}

		// Data byte: append under the current status.
		if status == 0 {
			return messages, fmt.Errorf("wire: data byte %#x with no running status", b)
		}
		pending = append(pending, b)
		i++
		if len(pending) == want {
			flush()
			pending = []byte{status}
		}
	}
	return messages, nil
}

// EncodeMIDICommandSection writes the short-form (no journal, no
// delta-time) MIDI command section for the given messages, each emitted
// with its own status byte (no running-status compression on output).
func EncodeMIDICommandSection(messages [][]byte) ([]byte, error) {
	var out []byte
	for _, m := range messages {
		out = append(out, m...)
	}
	if len(out) > midiListLen {
		return nil, fmt.Errorf("wire: midi command section of %d bytes exceeds short-header max %d", len(out), midiListLen)
	}
	header := byte(len(out) & midiListLen)
	return append([]byte{header}, out...), nil
}
