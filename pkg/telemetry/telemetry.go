// Package telemetry exposes the Prometheus counters and gauges the wire
// and transport layers update on every poll cycle — tx/rx counts, drop
// reasons, retransmits, and the live AIMD window.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ringnet-io/ringnet/pkg/rlog"
)

// Metrics is the set of counters and gauges a single RUDP session or MUX
// server updates. All fields are safe for concurrent use (prometheus
// counters/gauges are internally synchronized) but in practice only the
// driver goroutine touches them, matching the single-threaded poll model.
type Metrics struct {
	registry *prometheus.Registry

	TxPackets  prometheus.Counter
	RxPackets  prometheus.Counter
	Drops      *prometheus.CounterVec // labeled by reason: bad_crc, duplicate, stale, overflow, malformed
	Retransmits prometheus.Counter
	AcksSent   prometheus.Counter
	NaksSent   prometheus.Counter
	Clients    prometheus.Gauge
	AIMDWindow prometheus.Gauge
}

// New builds a Metrics set registered under a fresh registry, namespaced
// by component (e.g. "rudp", "mux") so a process embedding both does not
// collide on metric names.
func New(component string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		TxPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "tx_packets_total",
			Help: "Datagrams transmitted on the data socket.",
		}),
		RxPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "rx_packets_total",
			Help: "Datagrams received on the data socket.",
		}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "drops_total",
			Help: "Frames dropped, labeled by reason.",
		}, []string{"reason"}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "retransmits_total",
			Help: "Send-ring slots replayed in response to a NAK.",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "acks_sent_total",
			Help: "ACK control frames transmitted.",
		}),
		NaksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringnet", Subsystem: component, Name: "naks_sent_total",
			Help: "NAK control frames transmitted.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringnet", Subsystem: component, Name: "clients",
			Help: "Currently tracked client records (mux only; always 0/1 for a single rudp session).",
		}),
		AIMDWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringnet", Subsystem: component, Name: "aimd_window",
			Help: "Current congestion window size in packets, last observed value across all sessions.",
		}),
	}

	reg.MustRegister(m.TxPackets, m.RxPackets, m.Drops, m.Retransmits, m.AcksSent, m.NaksSent, m.Clients, m.AIMDWindow)
	return m
}

// Server exposes Metrics over HTTP at /metrics via promhttp.Handler.
type Server struct {
	addr   string
	http   *http.Server
	metrics *Metrics
}

// NewServer builds (but does not start) an HTTP server that serves m's
// registry at addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		addr:    addr,
		metrics: m,
		http:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins serving in a background goroutine. Bind failures are logged,
// not fatal — a driver should still run without its metrics endpoint.
func (s *Server) Start() {
	go func() {
		rlog.Infow("telemetry server started", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.Errorw("telemetry server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address, for logging.
func (s *Server) Addr() string { return s.addr }

// DropReason names the label values used with Metrics.Drops.
type DropReason string

const (
	DropBadCRC      DropReason = "bad_crc"
	DropDuplicate   DropReason = "duplicate"
	DropStale       DropReason = "stale"
	DropOverflow    DropReason = "overflow"
	DropMalformed   DropReason = "malformed"
	DropUnknownMux  DropReason = "unknown_mux_key"
)

// IncDrop increments the drop counter for reason, creating its label series on
// first use.
func (m *Metrics) IncDrop(reason DropReason) {
	m.Drops.WithLabelValues(string(reason)).Inc()
}

// String renders a one-line human summary, used by CLI drivers for their
// startup and periodic counter printouts.
func (m *Metrics) String() string {
	return fmt.Sprintf("tx=%d rx=%d retransmits=%d acks=%d naks=%d window=%d",
		int(counterValue(m.TxPackets)), int(counterValue(m.RxPackets)),
		int(counterValue(m.Retransmits)), int(counterValue(m.AcksSent)),
		int(counterValue(m.NaksSent)), int(gaugeValue(m.AIMDWindow)))
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var pb dto.Metric
	if err := g.Write(&pb); err != nil {
		return 0
	}
	return pb.GetGauge().GetValue()
}
