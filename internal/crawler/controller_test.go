package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

type sitePage struct {
	status int
	body   string
	err    error
}

// siteFetcher serves a synthetic site keyed by normalized URL.
type siteFetcher struct {
	mu      sync.Mutex
	pages   map[string]sitePage
	fetched []string
}

func (s *siteFetcher) Fetch(_ context.Context, url string, _ monitor.FetchOptions) (monitor.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	page, ok := s.pages[url]
	if !ok {
		return monitor.FetchResponse{URL: url, StatusCode: http.StatusNotFound}, nil
	}
	if page.err != nil {
		return monitor.FetchResponse{}, page.err
	}
	status := page.status
	if status == 0 {
		status = http.StatusOK
	}
	return monitor.FetchResponse{URL: url, StatusCode: status, Body: []byte(page.body)}, nil
}

func (s *siteFetcher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

func syntheticSite() *siteFetcher {
	return &siteFetcher{pages: map[string]sitePage{
		"https://example.com/": {body: `
			<a href="/about">About</a>
			<a href="/investors">Investors</a>
			<a href="/careers/">Careers</a>
			<a href="https://other.com/investors">Elsewhere</a>
			<a href="/investors#top">Investors again</a>`},
		"https://example.com/about": {body: `
			<a href="/about/team">Team</a>
			<a href="/financial-results">Financials</a>`},
		"https://example.com/investors": {body: `
			<a href="/investors/annual-report">Annual</a>
			<a href="investors/quarterly">Quarterly</a>
			<a href="/contact">Contact</a>`},
		"https://example.com/careers": {status: http.StatusNotFound},
		"https://example.com/financial-results": {body: `<a href="/earnings/deep">Deeper</a>`},
		"https://example.com/investors/annual-report": {body: `<p>Annual report</p>`},
		"https://example.com/investors/quarterly":     {err: errors.New("connection reset")},
	}}
}

func TestCrawlTargetedSyntheticSite(t *testing.T) {
	t.Parallel()

	site := syntheticSite()
	c := NewController(site, Config{MaxDepth: 2, MaxPages: 50}, zap.NewNop())

	pages, err := c.CrawlTargeted(context.Background(), "https://Example.com")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/investors",
		"https://example.com/financial-results",
		"https://example.com/investors/annual-report",
	}, pages)

	fetched := site.calls()
	require.NotContains(t, fetched, "https://example.com/about/team", "no IR hint beyond depth 0")
	require.NotContains(t, fetched, "https://example.com/contact")
	require.NotContains(t, fetched, "https://example.com/earnings/deep", "depth == max is not expanded")
	require.NotContains(t, fetched, "https://other.com/investors")
	require.Contains(t, fetched, "https://example.com/careers")
	require.Contains(t, fetched, "https://example.com/investors/quarterly")

	seen := make(map[string]int)
	for _, u := range fetched {
		seen[u]++
	}
	for u, n := range seen {
		require.Equal(t, 1, n, "fetched %s more than once", u)
	}
}

func TestCrawlTargetedStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	c := NewController(syntheticSite(), Config{MaxDepth: 2, MaxPages: 2}, nil)
	pages, err := c.CrawlTargeted(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/", "https://example.com/about"}, pages)
}

func TestCrawlTargetedDepthZeroOnlyRoot(t *testing.T) {
	t.Parallel()

	site := syntheticSite()
	c := NewController(site, Config{MaxDepth: 0, MaxPages: 10}, nil)
	pages, err := c.CrawlTargeted(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/"}, pages)
	require.Len(t, site.calls(), 1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string, opts monitor.FetchOptions) (monitor.FetchResponse, error) {
	args := m.Called(ctx, url, opts)
	return args.Get(0).(monitor.FetchResponse), args.Error(1)
}

func TestCrawlTargetedRootFailureYieldsNothing(t *testing.T) {
	t.Parallel()

	m := &mockFetcher{}
	m.On("Fetch", mock.Anything, "https://down.example/", monitor.FetchOptions{}).
		Return(monitor.FetchResponse{}, errors.New("dial tcp: refused")).Once()

	pages, err := NewController(m, Config{MaxDepth: 2, MaxPages: 5}, nil).
		CrawlTargeted(context.Background(), "https://down.example")
	require.NoError(t, err)
	require.Empty(t, pages)
	m.AssertExpectations(t)
}

func TestCrawlTargetedCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewController(syntheticSite(), Config{MaxDepth: 2, MaxPages: 5}, nil).
		CrawlTargeted(ctx, "https://example.com")
	require.ErrorIs(t, err, context.Canceled)
}
