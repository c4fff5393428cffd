package wire

import "testing"

func TestPeekKind(t *testing.T) {
	buf := EncodeInvitation(Invitation{Kind: CommandIN, InitiatorToken: 1, SSRC: 2, Name: "x"})
	kind, err := PeekKind(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != CommandIN {
		t.Errorf("kind = %v, want IN", kind)
	}

	if _, err := PeekKind([]byte{0x01, 0x02, 0x03, 0x04}); err != ErrNotACommand {
		t.Errorf("err = %v, want ErrNotACommand", err)
	}

	if _, err := PeekKind([]byte{0x01}); err != ErrShortBuffer {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
}

func TestInvitationRoundTrip(t *testing.T) {
	cases := []Invitation{
		{Kind: CommandIN, InitiatorToken: 0x11223344, SSRC: 0xaabbccdd, Name: "studio"},
		{Kind: CommandOK, InitiatorToken: 1, SSRC: 2, Name: ""},
		{Kind: CommandBY, InitiatorToken: 7, SSRC: 9},
	}
	for _, want := range cases {
		buf := EncodeInvitation(want)
		got, err := DecodeInvitation(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != want.Kind || got.InitiatorToken != want.InitiatorToken || got.SSRC != want.SSRC || got.Name != want.Name {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestDecodeInvitationIgnoresTrailingBytesAfterNUL(t *testing.T) {
	buf := EncodeInvitation(Invitation{Kind: CommandIN, InitiatorToken: 1, SSRC: 2, Name: "abc"})
	buf = append(buf, 'j', 'u', 'n', 'k')
	got, err := DecodeInvitation(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "abc" {
		t.Errorf("Name = %q, want %q", got.Name, "abc")
	}
}

func TestClockSyncRoundTrip(t *testing.T) {
	want := ClockSync{SSRC: 0xdeadbeef, Count: 1, T1: 100, T2: 200, T3: 300}
	buf := EncodeClockSync(want)
	got, err := DecodeClockSync(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestReceiverFeedbackRoundTrip(t *testing.T) {
	want := ReceiverFeedback{SSRC: 42, Sequence: 7}
	buf := EncodeReceiverFeedback(want)
	got, err := DecodeReceiverFeedback(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
