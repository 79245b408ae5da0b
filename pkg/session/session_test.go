package session

import (
	"testing"

	"dnscat2/pkg/protocol"
)

// fakeDriver is a minimal driver.Driver for exercising the session
// state machine without a real console/exec/ping backend.
type fakeDriver struct {
	outgoing [][]byte
	received [][]byte
	closed   bool
}

func (d *fakeDriver) DataReceived(data []byte) {
	cp := append([]byte(nil), data...)
	d.received = append(d.received, cp)
}

func (d *fakeDriver) GetOutgoing(maxLength int) []byte {
	if len(d.outgoing) == 0 {
		return []byte{}
	}
	next := d.outgoing[0]
	d.outgoing = d.outgoing[1:]
	return next
}

func (d *fakeDriver) Close()         { d.closed = true }
func (d *fakeDriver) IsClosed() bool { return d.closed }

func newTestSession(t *testing.T) (*Session, *fakeDriver) {
	t.Helper()
	oldEnc, oldDelay := DoEncryption, PacketDelay
	DoEncryption = false
	PacketDelay = 0
	t.Cleanup(func() {
		DoEncryption = oldEnc
		PacketDelay = oldDelay
	})

	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := &fakeDriver{}
	s.Driver = d
	return s, d
}

func TestHandshakeEstablishesSession(t *testing.T) {
	s, _ := newTestSession(t)

	out := s.GetOutgoing(1024)
	if out == nil {
		t.Fatalf("expected a SYN packet, got nil")
	}
	pkt, err := protocol.Parse(out, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if pkt.PacketType != protocol.PacketTypeSYN {
		t.Fatalf("expected SYN, got %s", pkt.PacketType)
	}

	syn := protocol.CreateSYN(s.ID, 100, 0)
	synBytes, _ := syn.ToBytes(0)
	if !s.DataIncoming(synBytes) {
		t.Fatalf("expected handshake SYN to trigger an immediate reply")
	}
	if s.State != StateEstablished {
		t.Fatalf("expected ESTABLISHED, got %s", s.State)
	}
	if s.TheirSeq != 100 {
		t.Fatalf("expected TheirSeq=100, got %d", s.TheirSeq)
	}
}

func TestSeqAckWraparound(t *testing.T) {
	s, _ := newTestSession(t)
	s.State = StateEstablished
	s.MySeq = 0xFFFE
	s.TheirSeq = 10
	s.OutgoingBuffer = []byte{1, 2, 3, 4}

	// Ack 4 bytes; MySeq should wrap past 0xFFFF back to 2.
	ack := protocol.CreateMSG(s.ID, 10, 0x0002, nil)
	ackBytes, _ := ack.ToBytes(0)
	s.DataIncoming(ackBytes)

	if s.MySeq != 0x0002 {
		t.Fatalf("expected MySeq to wrap to 0x0002, got 0x%04x", s.MySeq)
	}
	if len(s.OutgoingBuffer) != 0 {
		t.Fatalf("expected all bytes consumed, got %d left", len(s.OutgoingBuffer))
	}
}

func TestRetransmitOnMissingAck(t *testing.T) {
	s, _ := newTestSession(t)
	s.State = StateEstablished
	s.OutgoingBuffer = []byte("payload")

	first := s.GetOutgoing(1024)
	if first == nil {
		t.Fatalf("expected a MSG packet")
	}
	if s.MissedTransmissions != 1 {
		t.Fatalf("expected MissedTransmissions=1, got %d", s.MissedTransmissions)
	}

	// No ack arrives; PacketDelay is 0 so the next call retransmits
	// immediately and the buffer is unchanged.
	second := s.GetOutgoing(1024)
	if second == nil {
		t.Fatalf("expected a retransmitted MSG packet")
	}
	if s.MissedTransmissions != 2 {
		t.Fatalf("expected MissedTransmissions=2, got %d", s.MissedTransmissions)
	}
	if len(s.OutgoingBuffer) != len("payload") {
		t.Fatalf("outgoing buffer should be untouched until acked")
	}
}

func TestBadSeqIsDroppedNotFatal(t *testing.T) {
	s, _ := newTestSession(t)
	s.State = StateEstablished
	s.TheirSeq = 50

	msg := protocol.CreateMSG(s.ID, 999, s.MySeq, []byte("x"))
	data, _ := msg.ToBytes(0)
	if s.DataIncoming(data) {
		t.Fatalf("bad seq should not trigger an immediate reply")
	}
	if s.TheirSeq != 50 {
		t.Fatalf("TheirSeq should be unchanged after a bad-seq packet")
	}
}

func TestFinKillsSession(t *testing.T) {
	s, d := newTestSession(t)
	s.State = StateEstablished

	fin := protocol.CreateFIN(s.ID, "bye")
	data, _ := fin.ToBytes(0)
	s.DataIncoming(data)

	if !s.IsShutdown() {
		t.Fatalf("expected session to be shut down after FIN")
	}
	if !d.closed {
		t.Fatalf("expected driver to be closed after FIN")
	}
}

func TestDuplicateKillIsSafe(t *testing.T) {
	s, _ := newTestSession(t)
	s.Kill()
	s.Kill() // must not panic or double-close
	if !s.IsShutdown() {
		t.Fatalf("expected session shut down")
	}
}
