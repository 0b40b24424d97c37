package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesMetrics(t *testing.T) {
	NotesCreated.Inc()
	AgentDispatches.WithLabelValues(OutcomeAccepted).Inc()
	JobsFinished.WithLabelValues("completed").Inc()

	h := Handler()
	// A second call must not re-register.
	h = Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"snippets_notes_created_total",
		`snippets_agent_dispatches_total{outcome="accepted"}`,
		`snippets_jobs_finished_total{status="completed"}`,
		"snippets_jobs_running",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
