package rtpmidi

import "testing"

func TestRegistryInsertAndLookupByInitiator(t *testing.T) {
	r := NewRegistry()
	p := newPeer("10.0.0.1", 5004, 0x11, RoleClient)
	r.InsertInitiator(p)

	got, ok := r.LookupByInitiator(0x11)
	if !ok || got != p {
		t.Fatalf("LookupByInitiator = %v, %v", got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryBindSSRCIsIdempotent(t *testing.T) {
	r := NewRegistry()
	p := newPeer("10.0.0.1", 5004, 0x11, RoleClient)
	r.InsertInitiator(p)

	if err := r.BindSSRC(0x11, 0x99); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := r.BindSSRC(0x11, 0x99); err != nil {
		t.Fatalf("repeat bind should be a no-op: %v", err)
	}
	got, ok := r.LookupBySSRC(0x99)
	if !ok || got != p {
		t.Fatalf("LookupBySSRC = %v, %v", got, ok)
	}
}

func TestRegistryBindSSRCConflictKeepsExisting(t *testing.T) {
	r := NewRegistry()
	p := newPeer("10.0.0.1", 5004, 0x11, RoleClient)
	r.InsertInitiator(p)
	if err := r.BindSSRC(0x11, 0x99); err != nil {
		t.Fatalf("bind: %v", err)
	}

	err := r.BindSSRC(0x11, 0x55)
	if err != ErrSSRCConflict {
		t.Fatalf("err = %v, want ErrSSRCConflict", err)
	}
	if p.RemoteSSRC != 0x99 {
		t.Errorf("RemoteSSRC = %#x, want unchanged 0x99", p.RemoteSSRC)
	}
}

func TestRegistryRemoveFreesSlotForReuse(t *testing.T) {
	r := NewRegistry()
	a := newPeer("10.0.0.1", 5004, 1, RoleClient)
	r.InsertInitiator(a)
	if err := r.BindSSRC(1, 100); err != nil {
		t.Fatalf("bind: %v", err)
	}

	r.Remove(a)
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if _, ok := r.LookupByInitiator(1); ok {
		t.Error("expected initiator lookup to miss after remove")
	}
	if _, ok := r.LookupBySSRC(100); ok {
		t.Error("expected ssrc lookup to miss after remove")
	}

	b := newPeer("10.0.0.2", 6004, 2, RoleServer)
	r.InsertInitiator(b)
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 after reuse", r.Len())
	}
}

func TestRegistryRemoveIsNoOpForStalePeer(t *testing.T) {
	r := NewRegistry()
	p := newPeer("10.0.0.1", 5004, 1, RoleClient)
	r.Remove(p) // never inserted
}
