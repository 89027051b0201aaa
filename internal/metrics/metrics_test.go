package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily はレジストリから名前の一致するメトリクスファミリーを返す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterWithLabel はラベル値が一致するカウンタの値を返す。
func counterWithLabel(t *testing.T, mf *dto.MetricFamily, label, value string) float64 {
	t.Helper()
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s{%s=%q} not found", mf.GetName(), label, value)
	return 0
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestNewCollector_DuplicateRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

func TestRecordGateDecision_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGateDecision("allow")
	c.RecordGateDecision("allow")
	c.RecordGateDecision("redirect")
	c.RecordGateDecision("fail_open")

	mf := findFamily(t, reg, "bookshelf_gate_decisions_total")
	if v := counterWithLabel(t, mf, "outcome", "allow"); v != 2 {
		t.Errorf("allow = %v, want 2", v)
	}
	if v := counterWithLabel(t, mf, "outcome", "redirect"); v != 1 {
		t.Errorf("redirect = %v, want 1", v)
	}
	if v := counterWithLabel(t, mf, "outcome", "fail_open"); v != 1 {
		t.Errorf("fail_open = %v, want 1", v)
	}
}

func TestRecordGateDegradedAndRotation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGateDegraded()
	c.RecordSessionRotation()
	c.RecordSessionRotation()

	if v := findFamily(t, reg, "bookshelf_gate_degraded_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("gate_degraded_total = %v, want 1", v)
	}
	if v := findFamily(t, reg, "bookshelf_session_rotations_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("session_rotations_total = %v, want 2", v)
	}
}

func TestRecordAccountDeletion_CountsAndObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAccountDeletion(ResultSuccess, 120*time.Millisecond)
	c.RecordAccountDeletion(ResultPartial, 2*time.Second)

	mf := findFamily(t, reg, "bookshelf_account_deletions_total")
	if v := counterWithLabel(t, mf, "result", ResultSuccess); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := counterWithLabel(t, mf, "result", ResultPartial); v != 1 {
		t.Errorf("partial = %v, want 1", v)
	}

	h := findFamily(t, reg, "bookshelf_account_deletion_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 2.1 || sum > 2.13 {
		t.Errorf("sample sum = %v, want ~2.12", sum)
	}
}

func TestRecordDeletionStepFailure_CountsByStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeletionStepFailure("follows")
	c.RecordDeletionStepFailure("follows")
	c.RecordDeletionStepFailure("notifications")

	mf := findFamily(t, reg, "bookshelf_deletion_step_failures_total")
	if v := counterWithLabel(t, mf, "step", "follows"); v != 2 {
		t.Errorf("follows = %v, want 2", v)
	}
	if v := counterWithLabel(t, mf, "step", "notifications"); v != 1 {
		t.Errorf("notifications = %v, want 1", v)
	}
}

func TestRecordDeletionResume_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDeletionResume(ResultSuccess)

	mf := findFamily(t, reg, "bookshelf_deletion_resumes_total")
	if v := counterWithLabel(t, mf, "result", ResultSuccess); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
}
