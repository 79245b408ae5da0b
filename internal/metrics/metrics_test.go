package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionCollectorTracksAndForgets(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry()
	r.MustRegister(reg)

	r.Sessions.Track(0x1234, "ESTABLISHED", 5, 3)

	count, err := testutil.GatherAndCount(reg, "dnscat_sessions_active")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 sample for sessions_active, got %d", count)
	}

	r.Sessions.Forget(0x1234)

	n, err := testutil.GatherAndCount(reg, "dnscat_session_seq")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no session_seq samples after Forget, got %d", n)
	}
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry()
	r.MustRegister(reg)

	r.PacketsSent.Add(3)
	r.BytesSent.Add(42)

	if got := testutil.ToFloat64(r.PacketsSent); got != 3 {
		t.Fatalf("PacketsSent = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.BytesSent); got != 42 {
		t.Fatalf("BytesSent = %v, want 42", got)
	}
}
