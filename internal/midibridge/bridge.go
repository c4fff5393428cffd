package midibridge

import (
	"log/slog"
)

// Sequencer is the interface the core requires of the local MIDI
// sequencer subsystem: one readable descriptor, plus a call to ask the
// sequencer for the next event record. The real ALSA-like sequencer is
// out of scope for this core; this interface is the seam a
// caller plugs a real implementation into.
type Sequencer interface {
	// Fd returns the readable descriptor the dispatcher polls for
	// readiness. It must remain valid for the sequencer's lifetime.
	Fd() int

	// ReadEvent is called when Fd is ready; it returns the next event
	// produced by the local sequencer.
	ReadEvent() (Event, error)

	// WriteEvent delivers an event received from a remote peer to the
	// local sequencer.
	WriteEvent(Event) error
}

// Fanout is satisfied by anything that can broadcast a MIDI message to all
// connected remote peers (the rtpmidi.Endpoint in practice).
type Fanout interface {
	SendMIDI(msg []byte)
}

// Bridge binds a Sequencer to the event dispatcher: on sequencer
// readiness it translates the next local event to MIDI bytes and fans it
// out to every connected peer.
type Bridge struct {
	seq    Sequencer
	out    Fanout
	logger *slog.Logger
}

// New creates a Bridge. Register it with the dispatcher via
// dispatch.Dispatcher.Add(seq.Fd(), bridge.OnReadable, nil).
func New(seq Sequencer, out Fanout, logger *slog.Logger) *Bridge {
	return &Bridge{seq: seq, out: out, logger: logger.With("subsystem", "midibridge")}
}

// OnReadable is the dispatcher callback registered for the sequencer's fd.
func (b *Bridge) OnReadable(fd int, userData any) {
	ev, err := b.seq.ReadEvent()
	if err != nil {
		b.logger.Error("reading local sequencer event", "error", err)
		return
	}
	msg, ok := ToMIDI(ev)
	if !ok {
		LogDropped(b.logger, "outbound", ev)
		return
	}
	b.out.SendMIDI(msg)
}

// Deliver translates a raw MIDI message received from a remote peer and
// writes it to the local sequencer. Unsupported messages are logged and
// dropped, never failing the connection.
func (b *Bridge) Deliver(msg []byte) {
	ev, ok := FromMIDI(msg)
	if !ok {
		LogDropped(b.logger, "inbound", msg)
		return
	}
	if err := b.seq.WriteEvent(ev); err != nil {
		b.logger.Error("writing event to local sequencer", "error", err)
	}
}
