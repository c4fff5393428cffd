// Package rtpmidi implements the AppleMIDI peer session state machine,
// the session registry, and the endpoint that owns the two UDP sockets
// and demultiplexes traffic between them.
package rtpmidi

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// State is a peer's connection state. SYNC is informational:
// the peer remains usable while in it.
type State int

const (
	StateNotConnected State = iota
	StateSentRequest
	StateConnected
	StateSync
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateSentRequest:
		return "SENT_REQUEST"
	case StateConnected:
		return "CONNECTED"
	case StateSync:
		return "SYNC"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes who initiated the session.
type Role int

const (
	RoleClient Role = iota // we sent the invite
	RoleServer             // the remote peer invited us
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Peer is the per-connection state. Identity is the pair
// (InitiatorToken, RemoteSSRC).
type Peer struct {
	// id is a short correlation tag for log lines (xid), not part of the
	// wire protocol identity.
	id string

	InitiatorToken uint32
	RemoteSSRC     uint32

	Host        string
	ControlPort uint16
	Name        string
	Role        Role
	State       State

	ConnStart time.Time
	LastHeard time.Time

	// Offset is the estimated clock offset to this peer, in tenths of a
	// millisecond (100µs units), per the most recent completed CK exchange.
	Offset int64
	// LatencyMS is the most recently computed round-trip latency, in ms.
	LatencyMS float64

	seq uint16

	// okControl/okData record whether an OK has been received on that
	// port yet, for the client-role handshake.
	okControl bool
	okData    bool

	// sawDataLeg records whether the data-port leg of the handshake has
	// been observed yet, server role only: an inbound IN only establishes
	// the control leg, so clock sync starts once the data leg also arrives.
	sawDataLeg bool

	// retryTimers maps a port to the dispatcher timer id of its pending
	// 30s invite retry: a single timer per (peer, port).
	retryTimers map[uint16]int

	// arenaIndex is this peer's slot in the Registry's arena.
	arenaIndex int
}

// newPeer constructs a Peer in NOT_CONNECTED with a fresh correlation id.
func newPeer(host string, controlPort uint16, initiatorToken uint32, role Role) *Peer {
	return &Peer{
		id:             newCorrelationID(),
		InitiatorToken: initiatorToken,
		Host:           host,
		ControlPort:    controlPort,
		Role:           role,
		State:          StateNotConnected,
		ConnStart:      time.Now(),
		LastHeard:      time.Now(),
		seq:            uint16(rand.Uint32()),
		retryTimers:    make(map[uint16]int),
	}
}

// ID returns the peer's log correlation tag.
func (p *Peer) ID() string { return p.id }

// DataPort is always ControlPort+1.
func (p *Peer) DataPort() uint16 { return p.ControlPort + 1 }

// NextSeq returns the next outbound sequence number, wrapping at 2^16.
func (p *Peer) NextSeq() uint16 {
	s := p.seq
	p.seq++
	return s
}

// SessionMicros100 returns elapsed time since ConnStart in 100µs units,
// the unit CK timestamps use: relative to that peer's session start, not
// wall clock.
func (p *Peer) SessionMicros100() uint64 {
	return uint64(time.Since(p.ConnStart).Microseconds() / 100)
}

// SessionMillis returns elapsed time since ConnStart in milliseconds, used
// for the outbound RTP timestamp field.
func (p *Peer) SessionMillis() uint32 {
	return uint32(time.Since(p.ConnStart).Milliseconds())
}

func (p *Peer) String() string {
	return fmt.Sprintf("[%s] initiator=%08x ssrc=%08x %s@%s:%d (%s, %s)",
		p.id, p.InitiatorToken, p.RemoteSSRC, p.Name, p.Host, p.ControlPort, p.Role, p.State)
}

// SSRCFor returns the deterministic SSRC for a given display name: the
// low 32 bits of its SHA-1 digest, so a restart with the same name yields
// a stable identity.
func SSRCFor(name string) uint32 {
	sum := sha1.Sum([]byte(name))
	return binary.BigEndian.Uint32(sum[len(sum)-4:])
}

// newCorrelationID and its package-level id source, grounded in
// runZeroInc-sockstats's use of rs/xid for short unique identifiers in
// log output.
var newCorrelationID = func() string {
	return genXID()
}
