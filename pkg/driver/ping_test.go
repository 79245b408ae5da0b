package driver

import "testing"

func TestPingDriverGetOutgoingOnlySendsOnce(t *testing.T) {
	d := NewPingDriver()

	first := d.GetOutgoing(0)
	if len(first) != PingLength {
		t.Fatalf("expected %d bytes on first send, got %d", PingLength, len(first))
	}

	second := d.GetOutgoing(0)
	if len(second) != 0 {
		t.Fatalf("expected no data on second call, got %d bytes", len(second))
	}
}

func TestPingDriverDataReceivedMismatchDoesNotPanic(t *testing.T) {
	d := NewPingDriver()
	d.DataReceived([]byte("not the right ping data"))
}

func TestPingDriverCloseAndIsClosed(t *testing.T) {
	d := NewPingDriver()
	if d.IsClosed() {
		t.Fatalf("new driver should not be closed")
	}
	d.Close()
	if !d.IsClosed() {
		t.Fatalf("expected driver to be closed")
	}
}
