package status

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"socialbot/internal/model"
)

type fakeInfo struct{}

func (fakeInfo) State() string { return "sleeping" }
func (fakeInfo) Retained() int { return 7 }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	r := NewRouter(NewHolder(), fakeInfo{}, testLogger())

	rec := get(t, r, "/status")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	h := NewHolder()
	started := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	report := model.CycleReport{
		ID:         "c1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Feeds:      3,
		NewItems:   2,
		Sent:       4,
		Failed:     1,
		NextRun:    started.Add(time.Hour),
	}
	h.Publish(report)
	r := NewRouter(h, fakeInfo{}, testLogger())

	rec := get(t, r, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got model.CycleReport
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(report, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestHealth(t *testing.T) {
	h := NewHolder()
	h.Publish(model.CycleReport{
		FinishedAt: time.Date(2025, 3, 10, 10, 1, 0, 0, time.UTC),
		NextRun:    time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
	})
	r := NewRouter(h, fakeInfo{}, testLogger())

	rec := get(t, r, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	delete(body, "uptime")
	want := map[string]any{
		"status":     "ok",
		"state":      "sleeping",
		"retained":   float64(7),
		"last_cycle": "2025-03-10T10:01:00Z",
		"next_run":   "2025-03-10T11:00:00Z",
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}
