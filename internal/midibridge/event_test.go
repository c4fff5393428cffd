package midibridge

import "testing"

func TestFromMIDINoteOn(t *testing.T) {
	ev, ok := FromMIDI([]byte{0x91, 0x40, 0x7f})
	if !ok {
		t.Fatal("expected ok")
	}
	if ev.Kind != KindNoteOn || ev.Channel != 1 || ev.Param1 != 0x40 || ev.Param2 != 0x7f {
		t.Errorf("ev = %+v", ev)
	}
}

func TestFromMIDIPitchBend(t *testing.T) {
	ev, ok := FromMIDI([]byte{0xe2, 0x00, 0x40})
	if !ok {
		t.Fatal("expected ok")
	}
	if ev.Kind != KindPitchBend || ev.Channel != 2 || ev.Bend != 0x2000 {
		t.Errorf("ev = %+v", ev)
	}
}

func TestFromMIDIUnknownStatus(t *testing.T) {
	if _, ok := FromMIDI([]byte{0xf0, 0x01, 0xf7}); ok {
		t.Fatal("expected !ok for sysex")
	}
	if _, ok := FromMIDI(nil); ok {
		t.Fatal("expected !ok for empty message")
	}
}

func TestToMIDIRoundTrip(t *testing.T) {
	cases := []Event{
		{Kind: KindNoteOn, Channel: 3, Param1: 64, Param2: 100},
		{Kind: KindNoteOff, Channel: 0, Param1: 10, Param2: 0},
		{Kind: KindControlChange, Channel: 15, Param1: 7, Param2: 127},
		{Kind: KindPitchBend, Channel: 5, Bend: 8192},
	}
	for _, ev := range cases {
		msg, ok := ToMIDI(ev)
		if !ok {
			t.Fatalf("ToMIDI(%+v) not ok", ev)
		}
		back, ok := FromMIDI(msg)
		if !ok {
			t.Fatalf("FromMIDI(% x) not ok", msg)
		}
		if back != ev {
			t.Errorf("round trip = %+v, want %+v", back, ev)
		}
	}
}

func TestToMIDIUnknownKind(t *testing.T) {
	if _, ok := ToMIDI(Event{Kind: KindUnknown}); ok {
		t.Fatal("expected !ok for KindUnknown")
	}
}
