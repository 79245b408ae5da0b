// Package metrics implements the optional Prometheus collector for the
// tunnel. It is modeled on runZeroInc-conniver's pkg/exporter: a
// prometheus.Collector that holds a small registry of live entries
// (there, TCP connections; here, dnscat sessions) behind a mutex and
// reports a Desc per entry on Collect. Counters that don't need a
// per-session label (packets, bytes, retransmits) are plain
// prometheus.Counter/Gauge values registered alongside it.
//
// Unlike the protocol packages, metrics collection is off by default
// and only wired up when cmd/dnscat is given -metrics-addr.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dnscat"

// sessionEntry is a snapshot of one session's sequence/ack state,
// updated by the session layer on every accepted packet.
type sessionEntry struct {
	seq   uint16
	ack   uint16
	state string
}

// SessionCollector reports per-session sequence/ack state and session
// count. It satisfies prometheus.Collector the way
// exporter.TCPInfoCollector does: Describe emits static Descs, Collect
// walks the live entry map under lock.
type SessionCollector struct {
	mu       sync.Mutex
	sessions map[uint16]*sessionEntry

	seqDesc   *prometheus.Desc
	ackDesc   *prometheus.Desc
	countDesc *prometheus.Desc
}

// NewSessionCollector creates an empty collector. Register it with a
// prometheus.Registry (or prometheus.MustRegister) before serving.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		sessions: make(map[uint16]*sessionEntry),
		seqDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_session_seq", namespace),
			"Current outgoing sequence number for a session.",
			[]string{"session_id", "state"}, nil,
		),
		ackDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_session_ack", namespace),
			"Current acknowledged sequence number for a session.",
			[]string{"session_id", "state"}, nil,
		),
		countDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_sessions_active", namespace),
			"Number of sessions currently tracked by the controller.",
			nil, nil,
		),
	}
}

func (c *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.seqDesc
	descs <- c.ackDesc
	descs <- c.countDesc
}

func (c *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.sessions {
		label := fmt.Sprintf("%04x", id)
		metrics <- prometheus.MustNewConstMetric(c.seqDesc, prometheus.GaugeValue, float64(entry.seq), label, entry.state)
		metrics <- prometheus.MustNewConstMetric(c.ackDesc, prometheus.GaugeValue, float64(entry.ack), label, entry.state)
	}
	metrics <- prometheus.MustNewConstMetric(c.countDesc, prometheus.GaugeValue, float64(len(c.sessions)))
}

// Track starts reporting a session, or updates it if already tracked.
func (c *SessionCollector) Track(sessionID uint16, state string, seq, ack uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = &sessionEntry{seq: seq, ack: ack, state: state}
}

// Forget stops reporting a session, called on FIN/teardown.
func (c *SessionCollector) Forget(sessionID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Registry bundles the session collector with the free-running
// counters every driver and session increments. It is the single
// value cmd/dnscat needs to build and serve.
type Registry struct {
	Sessions *SessionCollector

	PacketsSent     prometheus.Counter
	PacketsReceived prometheus.Counter
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	Retransmits     prometheus.Counter
	PacketsDropped  prometheus.Counter
}

// NewRegistry builds a fresh, unregistered Registry.
func NewRegistry() *Registry {
	return &Registry{
		Sessions: NewSessionCollector(),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_sent_total",
			Help: "Total packets handed to the tunnel driver.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_received_total",
			Help: "Total packets accepted from the tunnel driver.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Total packet bytes handed to the tunnel driver across all sessions.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Total packet bytes accepted from the tunnel driver across all sessions.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retransmits_total",
			Help: "Total packet retransmissions triggered by a missing ack.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total",
			Help: "Total packets dropped for being out of sequence, unsigned, or of unknown type.",
		}),
	}
}

// MustRegister registers every metric in the registry against reg.
func (r *Registry) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(r.Sessions, r.PacketsSent, r.PacketsReceived, r.BytesSent, r.BytesReceived, r.Retransmits, r.PacketsDropped)
}

// Serve starts an HTTP server exposing /metrics on addr and blocks
// until ctx is canceled, then shuts the server down gracefully. It is
// only invoked by cmd/dnscat when -metrics-addr is set; the protocol
// packages never depend on net/http.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
