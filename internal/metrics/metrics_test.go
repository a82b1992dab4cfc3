package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStats struct{}

func (fakeStats) Transcribing() bool         { return true }
func (fakeStats) TranscriptionsPending() int { return 2 }
func (fakeStats) CatalogSize() int           { return 7 }
func (fakeStats) SSESubscriberCount() int    { return 1 }

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(fakeStats{}))

	expected := `
# HELP memo_engine_catalog_recordings Recordings in the catalog.
# TYPE memo_engine_catalog_recordings gauge
memo_engine_catalog_recordings 7
# HELP memo_engine_transcribing 1 while a transcription call is in progress.
# TYPE memo_engine_transcribing gauge
memo_engine_transcribing 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"memo_engine_catalog_recordings", "memo_engine_transcribing"); err != nil {
		t.Error(err)
	}
}

func TestCollector_NilStats(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(nil))
	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 4 {
		t.Errorf("got %d metrics, want 4", n)
	}
}

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Post("/api/v1/player/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/player/{id}/start", "202"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/player/abc/start", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/player/{id}/start", "202"))

	if after-before != 1 {
		t.Errorf("requests counter delta = %v, want 1", after-before)
	}
}
