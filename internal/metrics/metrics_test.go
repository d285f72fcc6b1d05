package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCapture(t *testing.T) {
	m := New("capture-test")

	m.RecordCapture("process", OutcomeReported)
	m.RecordCapture("worker", OutcomeReported)
	m.RecordCapture("worker", OutcomeForeign)

	snap := m.Snapshot()
	if snap["capture_reported"] != 2 {
		t.Errorf("capture_reported = %d, want 2", snap["capture_reported"])
	}
	if snap["capture_foreign"] != 1 {
		t.Errorf("capture_foreign = %d, want 1", snap["capture_foreign"])
	}

	got := testutil.ToFloat64(capturesTotal.WithLabelValues("capture-test", "worker", OutcomeReported))
	if got != 1 {
		t.Errorf("prometheus worker/reported = %v, want 1", got)
	}
}

func TestRecordReportAndUpload(t *testing.T) {
	m := New("report-test")

	m.RecordReport("0", ResultSent)
	m.RecordReport("1", ResultFailed)
	m.RecordUpload(ResultFailed)
	m.RecordUpload(ResultNoLogs)

	snap := m.Snapshot()
	if snap["report_sent"] != 1 || snap["report_failed"] != 1 {
		t.Errorf("reports = %v", snap)
	}
	if snap["upload_failed"] != 1 || snap["upload_no_logs"] != 1 {
		t.Errorf("uploads = %v", snap)
	}

	if got := testutil.ToFloat64(reportsTotal.WithLabelValues("report-test", "1", ResultFailed)); got != 1 {
		t.Errorf("prometheus depth 1 failed = %v, want 1", got)
	}
}

func TestInflight(t *testing.T) {
	m := New("inflight-test")

	m.ReportStarted()
	m.ReportStarted()
	m.ReportFinished()

	if m.Snapshot()["inflight"] != 1 {
		t.Errorf("inflight = %d, want 1", m.Snapshot()["inflight"])
	}
	if got := testutil.ToFloat64(reportsInflight.WithLabelValues("inflight-test")); got != 1 {
		t.Errorf("prometheus inflight = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCapture("process", OutcomeClaimed)
	m.RecordReport("0", ResultSent)
	m.RecordUpload(ResultSent)
	m.ReportStarted()
	m.ReportFinished()
}

func TestReset(t *testing.T) {
	m := New("reset-test")
	m.RecordCapture("process", OutcomeClaimed)
	m.Reset()

	if len(m.Snapshot()) != 1 {
		t.Errorf("Snapshot() after Reset = %v, want only inflight", m.Snapshot())
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	if err := Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	New("register-test").RecordCapture("process", OutcomeClaimed)

	n, err := testutil.GatherAndCount(reg, "crashreport_captures_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n == 0 {
		t.Error("expected captures series to be gathered")
	}
}
