package observability

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/questions/0b7c1f7e-2d59-4f43-9a77-5a8f0c0d7e11/review")
	want := "/api/v1/questions/{id}/review"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
	if got := normalizedPath("/api/v1/items/42"); got != "/api/v1/items/{id}" {
		t.Fatalf("numeric ids should collapse, got %s", got)
	}
	if got := normalizedPath(""); got != "/" {
		t.Fatalf("empty path should be /, got %s", got)
	}
}

func TestExtractQuestionID(t *testing.T) {
	id := "0b7c1f7e-2d59-4f43-9a77-5a8f0c0d7e11"
	if got := extractQuestionID("/api/v1/questions/" + id + "/notes"); got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
	if got := extractQuestionID("/api/v1/mistakes"); got != "" {
		t.Fatalf("expected empty id for non-question path, got %s", got)
	}
}

func TestMiddlewareRecordsMetricsAndLogs(t *testing.T) {
	var logs bytes.Buffer
	c := NewCollector(nil, slog.New(slog.NewJSONHandler(&logs, nil)))
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/0b7c1f7e-2d59-4f43-9a77-5a8f0c0d7e11", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	c.AnalysisOutcome("repaired", "backslash_repair")
	c.ReviewSubmitted(true, "learning")

	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`ssctracker_http_requests_total{method="GET",path="/api/v1/questions/{id}",status="418"} 1`,
		`ssctracker_analysis_outcomes_total{outcome="repaired",stage="backslash_repair"} 1`,
		`ssctracker_reviews_total{mastery="learning",result="correct"} 1`,
		`ssctracker_http_request_duration_seconds_count{method="GET",path="/api/v1/questions/{id}"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	if !strings.Contains(logs.String(), `"question_id":"0b7c1f7e-2d59-4f43-9a77-5a8f0c0d7e11"`) {
		t.Fatalf("request log missing question id: %s", logs.String())
	}
}
