// Package metrics provides Prometheus metrics for the capture and reporting pipeline
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Capture outcomes
const (
	OutcomeClaimed      = "claimed"
	OutcomeForeign      = "foreign"
	OutcomeReported     = "reported"
	OutcomeDisabled     = "disabled"
	OutcomeSuppressed   = "suppressed"
	OutcomeHandlerError = "handler_error"
)

// Report and upload results
const (
	ResultSent     = "sent"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
	ResultDropped  = "dropped"
	ResultNoLogs   = "no_logs"
)

// Metrics tracks pipeline counters for one component and syncs with Prometheus
type Metrics struct {
	component string
	captures  map[string]int64
	reports   map[string]int64
	uploads   map[string]int64
	inflight  int64
	mu        sync.RWMutex
}

// New creates a metrics collector
func New(component string) *Metrics {
	return &Metrics{
		component: component,
		captures:  make(map[string]int64),
		reports:   make(map[string]int64),
		uploads:   make(map[string]int64),
	}
}

// RecordCapture records the outcome of one intercepted failure
func (m *Metrics) RecordCapture(site, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.captures[outcome]++
	m.mu.Unlock()
	capturesTotal.WithLabelValues(m.component, site, outcome).Inc()
}

// RecordReport records a report attempt at the given depth
func (m *Metrics) RecordReport(depth, result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reports[result]++
	m.mu.Unlock()
	reportsTotal.WithLabelValues(m.component, depth, result).Inc()
}

// RecordUpload records a log artifact upload attempt
func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.uploads[result]++
	m.mu.Unlock()
	uploadsTotal.WithLabelValues(m.component, result).Inc()
}

// ReportStarted marks a background report as in flight
func (m *Metrics) ReportStarted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()
	reportsInflight.WithLabelValues(m.component).Inc()
}

// ReportFinished marks a background report as done
func (m *Metrics) ReportFinished() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
	reportsInflight.WithLabelValues(m.component).Dec()
}

// Reset clears the in-memory counters (useful for testing)
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.captures = make(map[string]int64)
	m.reports = make(map[string]int64)
	m.uploads = make(map[string]int64)
	m.inflight = 0
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters, keyed by
// "capture_<outcome>", "report_<result>" and "upload_<result>"
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.captures)+len(m.reports)+len(m.uploads)+1)
	for k, v := range m.captures {
		out["capture_"+k] = v
	}
	for k, v := range m.reports {
		out["report_"+k] = v
	}
	for k, v := range m.uploads {
		out["upload_"+k] = v
	}
	out["inflight"] = m.inflight
	return out
}

var (
	capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_captures_total",
			Help: "Total number of intercepted failures by outcome",
		},
		[]string{"component", "site", "outcome"},
	)

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_reports_total",
			Help: "Total number of diagnostic report attempts by depth and result",
		},
		[]string{"component", "depth", "result"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashreport_log_uploads_total",
			Help: "Total number of log artifact uploads by result",
		},
		[]string{"component", "result"},
	)

	reportsInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crashreport_reports_inflight",
			Help: "Number of diagnostic reports currently running in the background",
		},
		[]string{"component"},
	)

	collectors = []prometheus.Collector{
		capturesTotal,
		reportsTotal,
		uploadsTotal,
		reportsInflight,
	}
)

// Register adds the pipeline collectors to reg. Collectors already
// registered are left in place.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
