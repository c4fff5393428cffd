package rtpmidi

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/coralbits/rtpmidid-go/internal/dispatch"
	"github.com/coralbits/rtpmidid-go/internal/wire"
)

// inviteRetryInterval is the fixed resend interval for an
// un-acknowledged IN.
const inviteRetryInterval = 30 * time.Second

// maxDatagram is large enough for any AppleMIDI command or RTP-MIDI
// packet this endpoint will see; anything bigger is a malformed sender.
const maxDatagram = 1500

// Endpoint owns the two UDP sockets of an AppleMIDI session endpoint and
// demultiplexes everything crossing them onto the dispatcher's single
// goroutine. Every method other than the constructor and
// readLoop's Enqueue call is expected to run only on that goroutine.
type Endpoint struct {
	logger *slog.Logger

	name string
	ssrc uint32

	controlPort uint16
	controlConn *net.UDPConn
	dataConn    *net.UDPConn

	dispatcher *dispatch.Dispatcher
	registry   *Registry
	receiver   Receiver
	observer   Observer

	limiter *rate.Limiter
}

// NewEndpoint binds the control and data sockets (data = control+1) and
// returns an Endpoint ready for Start.
func NewEndpoint(name string, controlPort uint16, dispatcher *dispatch.Dispatcher, receiver Receiver, observer Observer, logger *slog.Logger) (*Endpoint, error) {
	controlConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(controlPort)})
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: binding control socket: %w", err)
	}
	dataConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(controlPort) + 1})
	if err != nil {
		controlConn.Close()
		return nil, fmt.Errorf("rtpmidi: binding data socket: %w", err)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Endpoint{
		logger:      logger.With("subsystem", "rtpmidi"),
		name:        name,
		ssrc:        SSRCFor(name),
		controlPort: controlPort,
		controlConn: controlConn,
		dataConn:    dataConn,
		dispatcher:  dispatcher,
		registry:    NewRegistry(),
		receiver:    receiver,
		observer:    observer,
		// Bounds how fast new outbound invites can be issued, so a burst of
		// discovery advertisements can't hammer the control socket; the 30s
		// retry timer for an already-pending invite is unaffected by this.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}, nil
}

// SSRC returns this endpoint's own session source identifier.
func (e *Endpoint) SSRC() uint32 { return e.ssrc }

// SetSSRC overrides the name-derived SSRC (the `id` config key). Call
// before Start; it has no effect on peers already connected.
func (e *Endpoint) SetSSRC(ssrc uint32) { e.ssrc = ssrc }

// SetReceiver wires the destination for decoded inbound MIDI messages. It
// exists separately from the constructor because the receiver (the local
// MIDI bridge) typically needs a reference back to the endpoint to send
// outbound messages, creating a construction-order cycle.
func (e *Endpoint) SetReceiver(receiver Receiver) { e.receiver = receiver }

// Registry exposes the peer registry, mostly for tests and metrics sampling.
func (e *Endpoint) Registry() *Registry { return e.registry }

// Start spawns the reader goroutines for both sockets. Each received
// datagram is handed to the dispatcher via Enqueue, so every state
// mutation still happens on the single dispatcher goroutine.
func (e *Endpoint) Start() {
	go e.readLoop(e.controlConn, false)
	go e.readLoop(e.dataConn, true)
}

func (e *Endpoint) readLoop(conn *net.UDPConn, isData bool) {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.logger.Debug("transient socket read error, continuing", "error", err, "data_socket", isData)
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		remote := *addr
		e.dispatcher.Enqueue(func() { e.handlePacket(isData, &remote, data) })
	}
}

// Close tears down every live peer with BY and closes both sockets.
func (e *Endpoint) Close() error {
	for _, p := range e.registry.Peers() {
		e.closePeer(p)
	}
	cerr := e.controlConn.Close()
	derr := e.dataConn.Close()
	if cerr != nil {
		return cerr
	}
	return derr
}

// Connect starts the client-role invite handshake to host:controlPort.
// The data-port invite is sent only after the control-port OK arrives.
func (e *Endpoint) Connect(host string, controlPort uint16) (*Peer, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, controlPort))
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: resolving %s:%d: %w", host, controlPort, err)
	}
	token := rand.Uint32()
	peer := newPeer(addr.IP.String(), controlPort, token, RoleClient)
	e.registry.InsertInitiator(peer)
	e.logger.Info("connecting", "peer", peer)
	peer.State = StateSentRequest
	e.sendInvite(peer, peer.ControlPort, true)
	return peer, nil
}

func (e *Endpoint) handlePacket(isData bool, addr *net.UDPAddr, data []byte) {
	kind, err := wire.PeekKind(data)
	if err == nil {
		switch kind {
		case wire.CommandIN:
			e.handleIN(isData, addr, data)
		case wire.CommandOK:
			e.handleOK(isData, addr, data)
		case wire.CommandNO:
			e.handleNO(addr, data)
		case wire.CommandBY:
			e.handleBY(data)
		case wire.CommandCK:
			e.handleCK(data)
		case wire.CommandRS:
			e.handleRS(data)
		default:
			e.logger.Warn("dropping unrecognized applemidi command", "kind", kind, "addr", addr)
			e.observer.PacketDropped("unknown_command")
		}
		return
	}
	if errors.Is(err, wire.ErrNotACommand) {
		e.handleRTP(data)
		return
	}
	e.logger.Debug("dropping undersized datagram", "len", len(data), "addr", addr)
	e.observer.PacketDropped("short_datagram")
}

func (e *Endpoint) handleIN(isData bool, addr *net.UDPAddr, data []byte) {
	inv, err := wire.DecodeInvitation(data)
	if err != nil {
		e.logger.Warn("malformed IN", "error", err, "addr", addr)
		e.observer.PacketDropped("malformed_in")
		return
	}

	peer, found := e.registry.LookupByInitiator(inv.InitiatorToken)
	if !found {
		remoteControlPort := addr.Port
		if isData {
			remoteControlPort = addr.Port - 1
		}
		peer = newPeer(addr.IP.String(), uint16(remoteControlPort), inv.InitiatorToken, RoleServer)
		peer.Name = inv.Name
		peer.RemoteSSRC = inv.SSRC
		peer.State = StateConnected
		peer.sawDataLeg = isData
		e.registry.InsertInitiator(peer)
		if err := e.registry.BindSSRC(peer.InitiatorToken, inv.SSRC); err != nil {
			e.logger.Error("binding ssrc for accepted peer", "error", err, "peer", peer)
		}
		e.logger.Info("accepted inbound session", "peer", peer, "data_socket", isData)
		e.sendOK(isData, addr, peer)
		if peer.sawDataLeg {
			e.startSync(peer)
		}
		return
	}

	// Repeat IN for a known initiator: typically the data-port leg arriving
	// at our server after the control-port leg already completed. Clock
	// sync starts the first time the data-port leg is seen, since CK
	// travels over the data socket and needs the peer's data port known.
	e.sendOK(isData, addr, peer)
	if isData && !peer.sawDataLeg {
		peer.sawDataLeg = true
		e.startSync(peer)
	}
}

func (e *Endpoint) sendOK(isData bool, addr *net.UDPAddr, peer *Peer) {
	inv := wire.Invitation{Kind: wire.CommandOK, InitiatorToken: peer.InitiatorToken, SSRC: e.ssrc, Name: e.name}
	buf := wire.EncodeInvitation(inv)
	conn := e.controlConn
	if isData {
		conn = e.dataConn
	}
	e.writeTo(conn, addr, buf)
}

func (e *Endpoint) handleOK(isData bool, addr *net.UDPAddr, data []byte) {
	inv, err := wire.DecodeInvitation(data)
	if err != nil {
		e.logger.Warn("malformed OK", "error", err, "addr", addr)
		e.observer.PacketDropped("malformed_ok")
		return
	}
	peer, found := e.registry.LookupByInitiator(inv.InitiatorToken)
	if !found {
		e.logger.Warn("OK for unknown initiator token, ignoring", "initiator", inv.InitiatorToken)
		e.observer.PacketDropped("unknown_initiator")
		return
	}

	port := peer.ControlPort
	if isData {
		port = peer.DataPort()
	}
	if id, ok := peer.retryTimers[port]; ok {
		e.dispatcher.RemoveCallLater(id)
		delete(peer.retryTimers, port)
	}

	if !isData {
		peer.okControl = true
		peer.Name = inv.Name
		e.sendInvite(peer, peer.DataPort(), true)
		return
	}

	peer.okData = true
	if !peer.okControl {
		// Data-port OK arrived first; still waiting on control. Keep state.
		return
	}
	if err := e.registry.BindSSRC(peer.InitiatorToken, inv.SSRC); err != nil {
		e.logger.Error("binding ssrc on connect", "error", err, "peer", peer)
		return
	}
	peer.State = StateConnected
	e.logger.Info("session established", "peer", peer)
	e.startSync(peer)
}

func (e *Endpoint) handleNO(addr *net.UDPAddr, data []byte) {
	inv, err := wire.DecodeInvitation(data)
	if err != nil {
		e.logger.Warn("malformed NO", "error", err, "addr", addr)
		return
	}
	e.logger.Warn("invite rejected", "initiator", inv.InitiatorToken, "addr", addr)
}

func (e *Endpoint) handleBY(data []byte) {
	inv, err := wire.DecodeInvitation(data)
	if err != nil {
		e.logger.Warn("malformed BY", "error", err)
		return
	}
	peer, found := e.registry.LookupByInitiator(inv.InitiatorToken)
	if !found {
		e.logger.Debug("BY for unknown initiator, ignoring", "initiator", inv.InitiatorToken)
		return
	}
	e.logger.Info("peer closed session", "peer", peer)
	for port, id := range peer.retryTimers {
		e.dispatcher.RemoveCallLater(id)
		delete(peer.retryTimers, port)
	}
	peer.State = StateClosed
	e.registry.Remove(peer)
}

func (e *Endpoint) handleCK(data []byte) {
	cs, err := wire.DecodeClockSync(data)
	if err != nil {
		e.logger.Warn("malformed CK", "error", err)
		e.observer.PacketDropped("malformed_ck")
		return
	}
	peer, found := e.registry.LookupBySSRC(cs.SSRC)
	if !found {
		e.logger.Warn("CK from unknown ssrc, ignoring", "ssrc", cs.SSRC)
		e.observer.PacketDropped("unknown_ssrc")
		return
	}
	peer.LastHeard = time.Now()

	switch cs.Count {
	case 0:
		reply := wire.ClockSync{SSRC: e.ssrc, Count: 1, T1: cs.T1, T2: peer.SessionMicros100()}
		e.sendCK(peer, reply)
	case 1:
		t3 := peer.SessionMicros100()
		peer.Offset = int64((cs.T1+t3)/2) - int64(cs.T2)
		peer.LatencyMS = float64(t3-cs.T1) / 20.0
		reply := wire.ClockSync{SSRC: e.ssrc, Count: 2, T1: cs.T1, T2: cs.T2, T3: t3}
		e.sendCK(peer, reply)
		peer.State = StateSync
		e.observer.ClockSynced(peer)
	case 2:
		peer.Offset = int64((cs.T1+cs.T3)/2) - int64(cs.T2)
		peer.LatencyMS = float64(cs.T3-cs.T1) / 20.0
		peer.State = StateSync
		e.observer.ClockSynced(peer)
	default:
		e.logger.Warn("CK with unexpected count", "count", cs.Count, "peer", peer)
	}
}

// handleRS logs receipt only; no recovery-journal retransmission is
// implemented.
func (e *Endpoint) handleRS(data []byte) {
	rf, err := wire.DecodeReceiverFeedback(data)
	if err != nil {
		e.logger.Warn("malformed RS", "error", err)
		return
	}
	peer, found := e.registry.LookupBySSRC(rf.SSRC)
	if !found {
		e.logger.Debug("RS from unknown ssrc, ignoring", "ssrc", rf.SSRC)
		return
	}
	e.logger.Debug("received receiver feedback, no journal to replay", "peer", peer, "sequence", rf.Sequence)
}

func (e *Endpoint) handleRTP(data []byte) {
	pkt, err := wire.DecodePacket(data)
	if err != nil {
		e.logger.Warn("malformed rtp-midi packet", "error", err)
		e.observer.PacketDropped("malformed_rtp")
		return
	}
	peer, found := e.registry.LookupBySSRC(pkt.SSRC)
	if !found {
		e.logger.Warn("rtp-midi packet from unknown ssrc, ignoring", "ssrc", pkt.SSRC)
		e.observer.PacketDropped("unknown_ssrc")
		return
	}
	peer.LastHeard = time.Now()
	for _, msg := range pkt.Messages {
		e.receiver.Deliver(msg)
	}
	e.observer.PacketForwarded(len(data))
}

// sendInvite sends an IN to peer on port, and if scheduleRetry, arms the
// fixed 30s retry timer.
func (e *Endpoint) sendInvite(peer *Peer, port uint16, scheduleRetry bool) {
	if e.limiter.Allow() {
		inv := wire.Invitation{Kind: wire.CommandIN, InitiatorToken: peer.InitiatorToken, SSRC: e.ssrc, Name: e.name}
		buf := wire.EncodeInvitation(inv)
		conn := e.controlConn
		if port == peer.DataPort() {
			conn = e.dataConn
		}
		addr := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: int(port)}
		e.writeTo(conn, addr, buf)
	} else {
		e.logger.Debug("invite send rate limited, relying on retry timer", "peer", peer, "port", port)
	}

	if scheduleRetry {
		id := e.dispatcher.CallLater(inviteRetryInterval, func() { e.resendInvite(peer, port) })
		peer.retryTimers[port] = id
	}
}

func (e *Endpoint) resendInvite(peer *Peer, port uint16) {
	delete(peer.retryTimers, port)
	if peer.State == StateClosed {
		return
	}
	acked := peer.okControl
	if port == peer.DataPort() {
		acked = peer.okData
	}
	if acked {
		return
	}
	e.logger.Debug("resending unacknowledged invite", "peer", peer, "port", port)
	e.sendInvite(peer, port, true)
}

func (e *Endpoint) startSync(peer *Peer) {
	cs := wire.ClockSync{SSRC: e.ssrc, Count: 0, T1: peer.SessionMicros100()}
	e.sendCK(peer, cs)
}

func (e *Endpoint) sendCK(peer *Peer, cs wire.ClockSync) {
	buf := wire.EncodeClockSync(cs)
	addr := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: int(peer.DataPort())}
	e.writeTo(e.dataConn, addr, buf)
}

// SendMIDI fans msg out to every CONNECTED or SYNC peer as an RTP-MIDI
// packet. Messages over the 15-byte wire cap are refused.
func (e *Endpoint) SendMIDI(msg []byte) {
	if len(msg) > 15 {
		e.logger.Warn("refusing to send oversize midi message", "len", len(msg))
		e.observer.PacketDropped("oversize")
		return
	}
	for _, peer := range e.registry.Peers() {
		if peer.State != StateConnected && peer.State != StateSync {
			continue
		}
		pkt := wire.Packet{
			Flags:       0x80,
			PayloadType: 0x61,
			Sequence:    peer.NextSeq(),
			Timestamp:   peer.SessionMillis(),
			SSRC:        e.ssrc,
			Messages:    [][]byte{msg},
		}
		buf, err := wire.EncodePacket(pkt)
		if err != nil {
			e.logger.Error("encoding outbound rtp-midi packet", "error", err, "peer", peer)
			continue
		}
		addr := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: int(peer.DataPort())}
		e.writeTo(e.dataConn, addr, buf)
		e.observer.PacketForwarded(len(buf))
	}
}

func (e *Endpoint) closePeer(peer *Peer) {
	if peer.State == StateClosed {
		return
	}
	for port, id := range peer.retryTimers {
		e.dispatcher.RemoveCallLater(id)
		delete(peer.retryTimers, port)
	}
	inv := wire.Invitation{Kind: wire.CommandBY, InitiatorToken: peer.InitiatorToken, SSRC: e.ssrc}
	buf := wire.EncodeInvitation(inv)
	controlAddr := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: int(peer.ControlPort)}
	dataAddr := &net.UDPAddr{IP: net.ParseIP(peer.Host), Port: int(peer.DataPort())}
	e.writeTo(e.controlConn, controlAddr, buf)
	e.writeTo(e.dataConn, dataAddr, buf)
	peer.State = StateClosed
	e.registry.Remove(peer)
}

// writeTo sends buf to addr, logging and continuing on a transient send
// error rather than tearing anything down.
func (e *Endpoint) writeTo(conn *net.UDPConn, addr *net.UDPAddr, buf []byte) {
	if _, err := conn.WriteToUDP(buf, addr); err != nil {
		e.logger.Debug("transient send error", "error", err, "addr", addr)
		e.observer.PacketDropped("send_error")
	}
}
