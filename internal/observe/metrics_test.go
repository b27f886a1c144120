package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the int64 sum data point carrying key=value,
// or -1 when absent.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "normal")
	m.RecordTurn(ctx, "normal")
	m.RecordTurn(ctx, "forced_suggestion")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.chat.turns", "mode", "normal"); got != 2 {
		t.Errorf("normal turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "serene.chat.turns", "mode", "forced_suggestion"); got != 1 {
		t.Errorf("forced turns = %d, want 1", got)
	}
}

func TestRecordEscalation(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordEscalation(context.Background())

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.chat.escalations", "", ""); got != 1 {
		t.Errorf("escalations = %d, want 1", got)
	}
}

func TestRecordOracleCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOracleCall(ctx, "gemini", 1200*time.Millisecond, nil)
	m.RecordOracleCall(ctx, "gemini", 20*time.Second, errors.New("deadline"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "serene.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "serene.provider.errors", "provider", "gemini"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}

	met := findMetric(rm, "serene.oracle.duration")
	if met == nil {
		t.Fatal("oracle duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("oracle duration is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("oracle duration data points = %+v, want one point with count 2", hist.DataPoints)
	}
}

func TestRecordForward(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordForward(ctx, "sent")
	m.RecordForward(ctx, "dropped")
	m.RecordForward(ctx, "sent")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.storage.forwards", "status", "sent"); got != 2 {
		t.Errorf("sent = %d, want 2", got)
	}
	if got := sumFor(t, rm, "serene.storage.forwards", "status", "dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestRecordEviction_LowersActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 5)
	m.RecordEviction(ctx, "ttl", 2)
	m.RecordEviction(ctx, "capacity", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.sessions.active", "", ""); got != 3 {
		t.Errorf("active sessions = %d, want 3", got)
	}
	if got := sumFor(t, rm, "serene.sessions.evicted", "reason", "ttl"); got != 2 {
		t.Errorf("ttl evictions = %d, want 2", got)
	}
	if got := sumFor(t, rm, "serene.sessions.evicted", "reason", "capacity"); got != -1 {
		t.Errorf("capacity evictions recorded for n=0: got %d", got)
	}
}

func TestRecordCircuitTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordCircuitTransition(context.Background(), "storage", "open")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "serene.circuit.transitions", "to", "open"); got != 1 {
		t.Errorf("transitions to open = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("mode", "normal")
	if string(kv.Key) != "mode" || kv.Value.AsString() != "normal" {
		t.Errorf("Attr() = %v, want mode=normal", kv)
	}
}
