package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFix(t *testing.T) {
	before := testutil.ToFloat64(FixesTotal.WithLabelValues(FixRejectedAccuracy))
	ObserveFix(FixRejectedAccuracy)
	after := testutil.ToFloat64(FixesTotal.WithLabelValues(FixRejectedAccuracy))
	if after != before+1 {
		t.Fatalf("expected counter increment, got %v -> %v", before, after)
	}
}

func TestSessionGauge(t *testing.T) {
	SessionStarted()
	if testutil.ToFloat64(SessionActive) != 1 {
		t.Fatalf("expected active gauge")
	}
	SessionStopped(1234)
	if testutil.ToFloat64(SessionActive) != 0 {
		t.Fatalf("expected inactive gauge")
	}
}

func TestObserveSave(t *testing.T) {
	before := testutil.ToFloat64(SavesTotal.WithLabelValues("failed"))
	ObserveSave(false)
	if testutil.ToFloat64(SavesTotal.WithLabelValues("failed")) != before+1 {
		t.Fatalf("expected failed save counted")
	}
	ObserveFault("interrupted")
}
