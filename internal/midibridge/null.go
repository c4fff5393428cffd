package midibridge

import (
	"errors"
	"os"
)

// ErrNoEvent is returned by NullSequencer.ReadEvent: it never has an event
// ready, since it holds no real sequencer subsystem.
var ErrNoEvent = errors.New("midibridge: no event available")

// NullSequencer is a reference Sequencer with no backing hardware: its fd
// is /dev/null (never readable) and ReadEvent always fails. It exists so
// the dispatcher and bridge wiring can be exercised without the real
// ALSA-like sequencer, which is out of scope for this core.
type NullSequencer struct {
	devNull *os.File
}

// NewNullSequencer opens /dev/null for its file descriptor.
func NewNullSequencer() (*NullSequencer, error) {
	f, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	return &NullSequencer{devNull: f}, nil
}

func (n *NullSequencer) Fd() int {
	return int(n.devNull.Fd())
}

func (n *NullSequencer) ReadEvent() (Event, error) {
	return Event{}, ErrNoEvent
}

func (n *NullSequencer) WriteEvent(Event) error {
	return nil
}

// Close releases the underlying file descriptor.
func (n *NullSequencer) Close() error {
	return n.devNull.Close()
}
