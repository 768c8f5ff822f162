package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/pricing", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if checksTotal == nil || fetchAttemptsTotal == nil || summariesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCheckAndInFlight(t *testing.T) {
	before := testutil.ToFloat64(checksTotal.WithLabelValues(OutcomeChanged))
	ObserveCheck(OutcomeChanged)
	if got := testutil.ToFloat64(checksTotal.WithLabelValues(OutcomeChanged)); got != before+1 {
		t.Errorf("expected changed checks to be %f, got %f", before+1, got)
	}

	done := CheckStarted()
	if got := testutil.ToFloat64(checksInFlight); got != 1 {
		t.Errorf("expected one in-flight check, got %f", got)
	}
	done()
	if got := testutil.ToFloat64(checksInFlight); got != 0 {
		t.Errorf("expected no in-flight checks, got %f", got)
	}
}

func TestObserveFetchAndSummary(t *testing.T) {
	ObserveFetchAttempt("https://Fetch.Example.com/a", "transient")
	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("fetch.example.com", "transient")); got != 1 {
		t.Errorf("expected one transient attempt, got %f", got)
	}
	ObserveFetch("https://fetch.example.com/a", 120*time.Millisecond)
	ObserveSummary("ok", time.Second)
	if got := testutil.ToFloat64(summariesTotal.WithLabelValues("ok")); got < 1 {
		t.Errorf("expected summary counter to be incremented, got %f", got)
	}
	ObserveRateLimitDelay("fetch.example.com", 10*time.Millisecond)
	if got := testutil.CollectAndCount(rateLimitDelaySeconds); got != 1 {
		t.Errorf("expected one rate limit series, got %d", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://example.com/pricing", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
