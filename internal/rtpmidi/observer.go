package rtpmidi

// Observer receives best-effort notifications about endpoint activity,
// for the metrics collector (internal/metrics) to sample. Implementations
// must not block or mutate endpoint state — they are called on the
// dispatcher's single goroutine.
type Observer interface {
	PacketForwarded(bytes int)
	PacketDropped(reason string)
	ClockSynced(peer *Peer)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) PacketForwarded(int)  {}
func (NopObserver) PacketDropped(string) {}
func (NopObserver) ClockSynced(*Peer)    {}

// Receiver accepts a decoded MIDI message received from a remote peer, for
// delivery to the local sequencer (midibridge.Bridge implements this).
type Receiver interface {
	Deliver(msg []byte)
}
