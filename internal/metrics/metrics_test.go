package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DepositCredited(500)
	m.DepositCredited(250)
	m.DepositDuplicate()
	m.Withdrawal("ok")
	m.SetPending(3)

	if got := testutil.ToFloat64(m.depositUnits); got != 750 {
		t.Fatalf("expected 750 deposit units, got %v", got)
	}
	if got := testutil.ToFloat64(m.depositsCredited); got != 2 {
		t.Fatalf("expected 2 deposits, got %v", got)
	}
	if got := testutil.ToFloat64(m.withdrawals.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 withdrawal, got %v", got)
	}
	if got := testutil.ToFloat64(m.pendingDeposits); got != 3 {
		t.Fatalf("expected 3 pending, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DepositCredited(1)
	m.Transfer("ok")
	m.Notification("deposit", "failed")
	m.SetStableTopoheight(1)
}
