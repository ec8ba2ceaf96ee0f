package otelexport

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/arthurh0812/natours-identity/internal/metrics"
)

type fakeSource struct {
	snap    metrics.Snapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() metrics.Snapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64              { return f.dropped }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				continue
			}
			out[m.Name] = sum.DataPoints[0].Value
		}
	}
	return out
}

func TestRegisterCollectsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("identity-test")

	src := &fakeSource{
		snap:    metrics.Snapshot{metrics.LoginSuccess: 3, metrics.LockoutTriggered: 1},
		dropped: 2,
	}
	exp, err := Register(meter, src)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := collect(t, reader)
	if got["identity_login_success_total"] != 3 {
		t.Fatalf("login success = %d, want 3", got["identity_login_success_total"])
	}
	if got["identity_lockout_triggered_total"] != 1 {
		t.Fatalf("lockout triggered = %d, want 1", got["identity_lockout_triggered_total"])
	}
	if got[metrics.AuditDroppedName] != 2 {
		t.Fatalf("audit dropped = %d, want 2", got[metrics.AuditDroppedName])
	}

	src.snap = metrics.Snapshot{metrics.LoginSuccess: 5}
	if got := collect(t, reader); got["identity_login_success_total"] != 5 {
		t.Fatalf("expected the callback to re-read the source, got %d", got["identity_login_success_total"])
	}

	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRegisterRejectsNil(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("identity-test")
	if _, err := Register(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := Register(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}
