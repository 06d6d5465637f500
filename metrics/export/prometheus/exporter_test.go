package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	courierAuth "github.com/MrEthical07/courierAuth"
)

type fakeSource struct {
	snapshot courierAuth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() courierAuth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                         { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: courierAuth.MetricsSnapshot{
			Counters:   map[courierAuth.MetricID]uint64{},
			Histograms: map[courierAuth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: courierAuth.MetricsSnapshot{
			Counters: map[courierAuth.MetricID]uint64{
				courierAuth.MetricSignInSuccess: 7,
				courierAuth.MetricDurableDrift:  1,
			},
			Histograms: map[courierAuth.MetricID][]uint64{
				courierAuth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"courierauth_sign_in_success_total 7",
		"courierauth_durable_drift_total 1",
		"courierauth_refresh_stale_total 0",
		`courierauth_validate_latency_seconds_bucket{le="0.005"} 1`,
		`courierauth_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"courierauth_validate_latency_seconds_count 36",
		"courierauth_audit_dropped_total 2",
		"# TYPE courierauth_sign_in_success_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	src := fakeSource{
		snapshot: courierAuth.MetricsSnapshot{
			Counters: map[courierAuth.MetricID]uint64{
				courierAuth.MetricRefreshSuccess: 3,
				courierAuth.MetricMFARequired:    2,
			},
			Histograms: map[courierAuth.MetricID][]uint64{},
		},
	}
	first := New(src).Render()
	for i := 0; i < 5; i++ {
		if got := New(src).Render(); got != first {
			t.Fatal("render output changed between calls")
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: courierAuth.MetricsSnapshot{
			Counters:   map[courierAuth.MetricID]uint64{courierAuth.MetricSignInSuccess: 1},
			Histograms: map[courierAuth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNilExporterRendersNothing(t *testing.T) {
	var exp *Exporter
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: courierAuth.MetricsSnapshot{
			Counters: map[courierAuth.MetricID]uint64{
				courierAuth.MetricSignInSuccess:  1000,
				courierAuth.MetricSignInFailure:  40,
				courierAuth.MetricRefreshSuccess: 800,
				courierAuth.MetricRefreshFailure: 10,
				courierAuth.MetricSessionCreated: 800,
				courierAuth.MetricSessionRevoked: 20,
			},
			Histograms: map[courierAuth.MetricID][]uint64{
				courierAuth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	for b.Loop() {
		_ = exp.Render()
	}
}
