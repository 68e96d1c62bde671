package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := HTTPMiddleware(m, handler)

	req := httptest.NewRequest("POST", "/v1/evaluation/judge", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/v1/evaluation/judge", "418")); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
		t.Errorf("in-flight = %v, want 0", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "/metrics"},
		{"/v1/evaluation/run", "/v1/evaluation/run"},
		{"/v1/evaluation/runs/8f2c", "/v1/evaluation/runs/{id}"},
		{"/wp-admin", "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordReasoningCall(time.Second, "ok")
	m.RecordJudgment("graded", 3)
	m.RecordJudgeRetry("parsing_feedback", "validation")
	m.RecordSkip("search")
	m.RecordRun("completed", time.Second)
	m.SetBreakerState("reasoning", 2)

	if HTTPMiddleware(nil, http.NotFoundHandler()) == nil {
		t.Error("middleware with nil metrics should pass through")
	}
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	m := New()
	m.RecordJudgment("graded", 2)
	m.RecordQuerySynthesized()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`rice_eval_judgments_total{label="2",mode="graded"} 1`,
		`rice_eval_queries_synthesized_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
