package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Second call must be a no-op, not an AlreadyRegistered failure.
	if err := Register(reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register other: %v", err)
	}
}

func TestCountersRecordAfterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	before := testutil.ToFloat64(serviceStarts.WithLabelValues("ticker"))
	IncStart("ticker")
	IncStart("ticker")
	after := testutil.ToFloat64(serviceStarts.WithLabelValues("ticker"))
	if after-before != 2 {
		t.Fatalf("starts delta: got %v, want 2", after-before)
	}

	b := testutil.ToFloat64(stateTransitions.WithLabelValues("ticker", "stopped", "starting"))
	RecordStateTransition("ticker", "stopped", "starting")
	a := testutil.ToFloat64(stateTransitions.WithLabelValues("ticker", "stopped", "starting"))
	if a-b != 1 {
		t.Fatalf("transitions delta: got %v, want 1", a-b)
	}
}

func TestSetCurrentStateOneHot(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	SetCurrentState("ohlcv", "running")
	if v := testutil.ToFloat64(currentStates.WithLabelValues("ohlcv", "running")); v != 1 {
		t.Fatalf("running gauge: got %v, want 1", v)
	}
	if v := testutil.ToFloat64(currentStates.WithLabelValues("ohlcv", "stopped")); v != 0 {
		t.Fatalf("stopped gauge: got %v, want 0", v)
	}

	SetCurrentState("ohlcv", "failed")
	if v := testutil.ToFloat64(currentStates.WithLabelValues("ohlcv", "running")); v != 0 {
		t.Fatalf("running gauge after transition: got %v, want 0", v)
	}
	if v := testutil.ToFloat64(currentStates.WithLabelValues("ohlcv", "failed")); v != 1 {
		t.Fatalf("failed gauge: got %v, want 1", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	if Handler() == nil {
		t.Fatalf("nil metrics handler")
	}
}
