// Package metrics exposes this endpoint's runtime state as Prometheus
// metrics, gathered at scrape time rather than through pre-registered
// counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coralbits/rtpmidid-go/internal/rtpmidi"
)

// PeerInfo is the scrape-time snapshot of one peer, independent of the
// rtpmidi package's own Peer type; only Counters.ClockSynced takes a
// *rtpmidi.Peer.
type PeerInfo struct {
	ID        string
	Name      string
	State     string
	LatencyMS float64
}

// PeerProvider exposes the live peer set at scrape time.
type PeerProvider interface {
	Peers() []PeerInfo
}

// Counters accumulates the running totals a rtpmidi.Endpoint reports via
// its Observer interface. It is safe for concurrent use, since Collect
// runs on the Prometheus scrape goroutine while updates arrive from the
// dispatcher goroutine.
type Counters struct {
	packetsForwarded uint64
	bytesForwarded   uint64

	mu          sync.Mutex
	dropped     map[string]uint64
	lastLatency float64
	syncedCount uint64
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{dropped: make(map[string]uint64)}
}

// PacketForwarded implements rtpmidi.Observer.
func (c *Counters) PacketForwarded(bytes int) {
	atomic.AddUint64(&c.packetsForwarded, 1)
	atomic.AddUint64(&c.bytesForwarded, uint64(bytes))
}

// PacketDropped implements rtpmidi.Observer.
func (c *Counters) PacketDropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[reason]++
}

// ClockSynced implements rtpmidi.Observer.
func (c *Counters) ClockSynced(peer *rtpmidi.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLatency = peer.LatencyMS
	c.syncedCount++
}

func (c *Counters) droppedSnapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.dropped))
	for k, v := range c.dropped {
		out[k] = v
	}
	return out
}

func (c *Counters) latencySnapshot() (float64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLatency, c.syncedCount
}

// Collector is a prometheus.Collector gathering rtpmidid's runtime state
// at scrape time.
type Collector struct {
	peers     PeerProvider
	counters  *Counters
	startTime time.Time

	activePeersDesc      *prometheus.Desc
	peerStateDesc        *prometheus.Desc
	packetsForwardedDesc *prometheus.Desc
	bytesForwardedDesc   *prometheus.Desc
	packetsDroppedDesc   *prometheus.Desc
	clockSyncsDesc       *prometheus.Desc
	lastLatencyDesc      *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a Collector. peers may be nil if no endpoint is
// running yet.
func NewCollector(peers PeerProvider, counters *Counters, startTime time.Time) *Collector {
	return &Collector{
		peers:     peers,
		counters:  counters,
		startTime: startTime,

		activePeersDesc: prometheus.NewDesc(
			"rtpmidid_active_peers",
			"Number of AppleMIDI peer sessions currently live",
			nil, nil,
		),
		peerStateDesc: prometheus.NewDesc(
			"rtpmidid_peer_state",
			"Always 1, labeled by peer and its current session state",
			[]string{"peer", "name", "state"}, nil,
		),
		packetsForwardedDesc: prometheus.NewDesc(
			"rtpmidid_packets_forwarded_total",
			"Total RTP-MIDI packets forwarded across all peers",
			nil, nil,
		),
		bytesForwardedDesc: prometheus.NewDesc(
			"rtpmidid_bytes_forwarded_total",
			"Total RTP-MIDI bytes forwarded across all peers",
			nil, nil,
		),
		packetsDroppedDesc: prometheus.NewDesc(
			"rtpmidid_packets_dropped_total",
			"Total packets dropped, labeled by reason",
			[]string{"reason"}, nil,
		),
		clockSyncsDesc: prometheus.NewDesc(
			"rtpmidid_clock_syncs_total",
			"Total completed CK clock-sync exchanges",
			nil, nil,
		),
		lastLatencyDesc: prometheus.NewDesc(
			"rtpmidid_last_latency_milliseconds",
			"Round-trip latency computed by the most recent CK exchange",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"rtpmidid_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activePeersDesc
	ch <- c.peerStateDesc
	ch <- c.packetsForwardedDesc
	ch <- c.bytesForwardedDesc
	ch <- c.packetsDroppedDesc
	ch <- c.clockSyncsDesc
	ch <- c.lastLatencyDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.peers != nil {
		peers := c.peers.Peers()
		ch <- prometheus.MustNewConstMetric(c.activePeersDesc, prometheus.GaugeValue, float64(len(peers)))
		for _, p := range peers {
			ch <- prometheus.MustNewConstMetric(c.peerStateDesc, prometheus.GaugeValue, 1, p.ID, p.Name, p.State)
		}
	}

	if c.counters != nil {
		ch <- prometheus.MustNewConstMetric(
			c.packetsForwardedDesc, prometheus.CounterValue,
			float64(atomic.LoadUint64(&c.counters.packetsForwarded)),
		)
		ch <- prometheus.MustNewConstMetric(
			c.bytesForwardedDesc, prometheus.CounterValue,
			float64(atomic.LoadUint64(&c.counters.bytesForwarded)),
		)
		for reason, n := range c.counters.droppedSnapshot() {
			ch <- prometheus.MustNewConstMetric(c.packetsDroppedDesc, prometheus.CounterValue, float64(n), reason)
		}
		lastLatency, synced := c.counters.latencySnapshot()
		ch <- prometheus.MustNewConstMetric(c.clockSyncsDesc, prometheus.CounterValue, float64(synced))
		ch <- prometheus.MustNewConstMetric(c.lastLatencyDesc, prometheus.GaugeValue, lastLatency)
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
