package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"subdomain collapsed", "https://Investors.Example.com/path", "example.com"},
		{"multi-part suffix", "https://ir.company.co.uk/results", "company.co.uk"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"localhost", "http://localhost:9000", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestScanCounters(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(scanLockSkippedTotal)
	ObserveScanLockSkipped()
	require.InDelta(t, before+1, testutil.ToFloat64(scanLockSkippedTotal), 0.0001)

	ticks := testutil.ToFloat64(schedulerTicksTotal)
	jobs := testutil.ToFloat64(schedulerJobsEnqueuedTotal)
	ObserveSchedulerTick(3)
	require.InDelta(t, ticks+1, testutil.ToFloat64(schedulerTicksTotal), 0.0001)
	require.InDelta(t, jobs+3, testutil.ToFloat64(schedulerJobsEnqueuedTotal), 0.0001)

	ObserveScanDuration(1500 * time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(scanDurationMs))
}

func TestObserveFetchLabels(t *testing.T) {
	ObserveFetch("https://ir.example.com/results", 200)
	ObserveFetch("https://ir.example.com/results", 0)

	require.GreaterOrEqual(t, testutil.ToFloat64(fetchTotal.WithLabelValues("example.com", "200")), 1.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(fetchTotal.WithLabelValues("example.com", "error")), 1.0)
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.InDelta(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.0001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
