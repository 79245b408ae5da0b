package driver

import "testing"

func TestConsoleDriverGetOutgoingDrainsBuffer(t *testing.T) {
	d := &ConsoleDriver{stdinDone: make(chan struct{})}
	d.outgoingData = []byte("hello world")

	first := d.GetOutgoing(5)
	if string(first) != "hello" {
		t.Fatalf("expected partial read to respect maxLength, got %q", first)
	}

	rest := d.GetOutgoing(0)
	if string(rest) != " world" {
		t.Fatalf("expected remainder of buffer, got %q", rest)
	}

	empty := d.GetOutgoing(0)
	if len(empty) != 0 {
		t.Fatalf("expected empty slice once drained, got %q", empty)
	}
}

func TestConsoleDriverGetOutgoingSignalsCloseWhenDrained(t *testing.T) {
	d := &ConsoleDriver{stdinDone: make(chan struct{})}
	d.isShutdown = true

	out := d.GetOutgoing(0)
	if out != nil {
		t.Fatalf("expected nil once shut down with no pending data, got %v", out)
	}
}

func TestConsoleDriverCloseAndIsClosed(t *testing.T) {
	d := &ConsoleDriver{stdinDone: make(chan struct{})}
	if d.IsClosed() {
		t.Fatalf("new driver should not be closed")
	}
	d.Close()
	if !d.IsClosed() {
		t.Fatalf("expected driver to be closed")
	}
}
