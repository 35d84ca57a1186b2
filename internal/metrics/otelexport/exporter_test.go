package otelexport

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/coverbridge/auth-service/internal/metrics"
)

type testSource struct {
	metrics *metrics.Metrics
	dropped uint64
}

func (s *testSource) TakeSnapshot() metrics.Snapshot { return s.metrics.TakeSnapshot() }
func (s *testSource) AuditDropped() uint64           { return s.dropped }

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("auth-test")

	src := &testSource{metrics: metrics.New(true), dropped: 2}
	src.metrics.Inc(metrics.MetricLoginSuccess)
	src.metrics.Inc(metrics.MetricLoginSuccess)
	src.metrics.Inc(metrics.MetricLoginSuccess)

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	found := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				found[m.Name] = dp.Value
			}
		}
	}
	if found["auth_login_success_total"] != 3 {
		t.Fatalf("auth_login_success_total = %d, want 3", found["auth_login_success_total"])
	}
	if found["auth_audit_dropped_total"] != 2 {
		t.Fatalf("auth_audit_dropped_total = %d, want 2", found["auth_audit_dropped_total"])
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("auth-test")

	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("err = %v, want ErrNilSource", err)
	}
	if _, err := New(nil, &testSource{metrics: metrics.New(true)}); err != ErrNilMeter {
		t.Fatalf("err = %v, want ErrNilMeter", err)
	}
}
