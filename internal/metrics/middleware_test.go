package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/links/{id}/check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Delete("/links/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	acceptedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202"))
	goneBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "410"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/links/abc/check", nil),
		httptest.NewRequest(http.MethodDelete, "/links/abc", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")); val != acceptedBefore+1 {
		t.Errorf("expected POST 202 count %f, got %f", acceptedBefore+1, val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "410")); val != goneBefore+1 {
		t.Errorf("expected DELETE 410 count %f, got %f", goneBefore+1, val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds, "http_request_duration_seconds"); val <= 0 {
		t.Errorf("expected http_request_duration_seconds to be observed, got %d", val)
	}
}
