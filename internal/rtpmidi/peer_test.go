package rtpmidi

import "testing"

func TestSSRCForIsStableAcrossCalls(t *testing.T) {
	a := SSRCFor("studio")
	b := SSRCFor("studio")
	if a != b {
		t.Errorf("SSRCFor not stable: %#x != %#x", a, b)
	}
}

func TestSSRCForDiffersByName(t *testing.T) {
	if SSRCFor("studio") == SSRCFor("piano") {
		t.Error("expected different names to produce different ssrc (overwhelmingly likely)")
	}
}

func TestPeerNextSeqIsMonotonicModuloWrap(t *testing.T) {
	p := newPeer("127.0.0.1", 5004, 1, RoleClient)
	first := p.NextSeq()
	second := p.NextSeq()
	if second != first+1 {
		t.Errorf("second = %d, want %d", second, first+1)
	}
}

func TestPeerDataPortIsControlPortPlusOne(t *testing.T) {
	p := newPeer("127.0.0.1", 5004, 1, RoleClient)
	if p.DataPort() != 5005 {
		t.Errorf("DataPort() = %d, want 5005", p.DataPort())
	}
}

// clockSyncOffsetLatency mirrors the three-way CK math implemented in
// Endpoint.handleCK, isolated here so the worked numeric example can be
// checked without standing up real sockets.
func clockSyncOffsetLatency(t1, t2, t3 uint64) (offset int64, latencyMS float64) {
	offset = int64((t1+t3)/2) - int64(t2)
	latencyMS = float64(t3-t1) / 20.0
	return
}

func TestClockSyncMath(t *testing.T) {
	offset, latency := clockSyncOffsetLatency(100, 200, 300)
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
	if latency != 10 {
		t.Errorf("latency = %f, want 10", latency)
	}
}
