package rtpmidi

import (
	"errors"
	"fmt"
)

// ErrSSRCConflict is returned by Registry.BindSSRC when a peer already
// bound to a different SSRC attempts to rebind: a protocol violation.
// The existing entry is kept and the caller logs the error rather than
// replacing it.
var ErrSSRCConflict = errors.New("rtpmidi: ssrc rebind conflict")

// Registry is the dual-keyed peer lookup structure:
// by_initiator and by_ssrc, both pointing at the same underlying peer once
// it is fully established. Peers live in an arena slice; both maps store
// the peer's arena index rather than sharing ownership directly, per the
// Design Notes' preferred approach.
type Registry struct {
	arena       []*Peer
	freeList    []int
	byInitiator map[uint32]int
	bySSRC      map[uint32]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byInitiator: make(map[uint32]int),
		bySSRC:      make(map[uint32]int),
	}
}

// InsertInitiator stores a new peer, keyed by its initiator token. It is
// the entry point for both a locally-initiated invite and a freshly
// accepted inbound one.
func (r *Registry) InsertInitiator(p *Peer) {
	idx := r.alloc(p)
	r.byInitiator[p.InitiatorToken] = idx
}

func (r *Registry) alloc(p *Peer) int {
	if n := len(r.freeList); n > 0 {
		idx := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.arena[idx] = p
		p.arenaIndex = idx
		return idx
	}
	idx := len(r.arena)
	r.arena = append(r.arena, p)
	p.arenaIndex = idx
	return idx
}

// BindSSRC binds ssrc to the peer identified by initiatorToken, called on
// OK. It is idempotent: binding the
// same ssrc again is a no-op. Binding a different ssrc to an already-bound
// peer is a protocol violation: the existing entry is kept and
// ErrSSRCConflict is returned for the caller to log.
func (r *Registry) BindSSRC(initiatorToken, ssrc uint32) error {
	idx, ok := r.byInitiator[initiatorToken]
	if !ok {
		return fmt.Errorf("rtpmidi: bind_ssrc: unknown initiator %08x", initiatorToken)
	}
	p := r.arena[idx]
	if p.RemoteSSRC == ssrc {
		r.bySSRC[ssrc] = idx
		return nil
	}
	if p.RemoteSSRC != 0 {
		return ErrSSRCConflict
	}
	p.RemoteSSRC = ssrc
	// SSRC collisions across different peers resolve as silent overwrite:
	// the most recent bind simply wins the slot.
	r.bySSRC[ssrc] = idx
	return nil
}

// LookupByInitiator returns the peer registered under token, if any.
func (r *Registry) LookupByInitiator(token uint32) (*Peer, bool) {
	idx, ok := r.byInitiator[token]
	if !ok {
		return nil, false
	}
	return r.arena[idx], true
}

// LookupBySSRC returns the peer registered under ssrc, if any.
func (r *Registry) LookupBySSRC(ssrc uint32) (*Peer, bool) {
	idx, ok := r.bySSRC[ssrc]
	if !ok {
		return nil, false
	}
	return r.arena[idx], true
}

// Remove deletes p from both mappings and frees its arena slot. It is a
// no-op if p is not present; teardown removes from both atomically within
// the single-threaded loop.
func (r *Registry) Remove(p *Peer) {
	if p.arenaIndex < 0 || p.arenaIndex >= len(r.arena) || r.arena[p.arenaIndex] != p {
		return
	}
	delete(r.byInitiator, p.InitiatorToken)
	if p.RemoteSSRC != 0 {
		if cur, ok := r.bySSRC[p.RemoteSSRC]; ok && r.arena[cur] == p {
			delete(r.bySSRC, p.RemoteSSRC)
		}
	}
	r.arena[p.arenaIndex] = nil
	r.freeList = append(r.freeList, p.arenaIndex)
	p.arenaIndex = -1
}

// Peers returns every live peer, for iteration (e.g. fanning out outbound
// MIDI, or sending BY to all on shutdown).
func (r *Registry) Peers() []*Peer {
	out := make([]*Peer, 0, len(r.arena)-len(r.freeList))
	for _, p := range r.arena {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Len reports the count of live peers.
func (r *Registry) Len() int {
	return len(r.arena) - len(r.freeList)
}
