package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	l := New(LevelWarn)
	l.SetOutput(&out)
	l.SetErrorOutput(&out)

	l.Debug("should not appear")
	l.Info("should not appear either")
	if out.Len() != 0 {
		t.Fatalf("expected no output below level, got %q", out.String())
	}

	l.Warn("visible warning")
	if !strings.Contains(out.String(), "visible warning") {
		t.Fatalf("expected warning in output, got %q", out.String())
	}
}

func TestErrorGoesToErrorOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	l := New(LevelDebug)
	l.SetOutput(&out)
	l.SetErrorOutput(&errOut)

	l.Info("info line")
	l.Error("error line")

	if !strings.Contains(out.String(), "info line") {
		t.Fatalf("expected info on normal output")
	}
	if strings.Contains(out.String(), "error line") {
		t.Fatalf("error line leaked into normal output")
	}
	if !strings.Contains(errOut.String(), "error line") {
		t.Fatalf("expected error line on error output")
	}
}
