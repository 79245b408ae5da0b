package driver

import (
	"strings"
	"testing"
	"time"
)

func TestExecDriverRunsCommandAndCapturesOutput(t *testing.T) {
	d, err := NewExecDriver("echo hello-from-exec-driver")
	if err != nil {
		t.Fatalf("NewExecDriver: %v", err)
	}
	defer d.Close()

	deadline := time.Now().Add(2 * time.Second)
	var out []byte
	for time.Now().Before(deadline) {
		chunk := d.GetOutgoing(0)
		out = append(out, chunk...)
		if strings.Contains(string(out), "hello-from-exec-driver") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !strings.Contains(string(out), "hello-from-exec-driver") {
		t.Fatalf("expected process output to contain the echoed string, got %q", out)
	}
}

func TestExecDriverBecomesShutdownWhenProcessExits(t *testing.T) {
	d, err := NewExecDriver("true")
	if err != nil {
		t.Fatalf("NewExecDriver: %v", err)
	}
	defer d.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.IsClosed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected driver to report shutdown after process exit")
}

func TestExecDriverCloseIsIdempotent(t *testing.T) {
	d, err := NewExecDriver("sh")
	if err != nil {
		t.Fatalf("NewExecDriver: %v", err)
	}
	d.Close()
	d.Close()
	if !d.IsClosed() {
		t.Fatalf("expected driver to be closed")
	}
}

func TestIsShellCommandRecognizesCommonShells(t *testing.T) {
	cases := map[string]bool{
		"sh":         true,
		"/bin/bash":  true,
		"zsh":        true,
		"echo hi":    false,
		"ls -la":     false,
	}
	for cmd, want := range cases {
		if got := isShellCommand(cmd); got != want {
			t.Errorf("isShellCommand(%q) = %v, want %v", cmd, got, want)
		}
	}
}
