package crawler

import (
	"context"
	"net/url"
	"sort"
	"strings"
)

type keywordWeight struct {
	keyword string
	weight  float64
}

var irKeywords = []keywordWeight{
	{"investor", 0.4},
	{"relations", 0.3},
	{"financial", 0.2},
	{"results", 0.2},
	{"annual", 0.1},
	{"quarterly", 0.1},
}

// Candidate is one crawled page and its IR score.
type Candidate struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// DiscoveryResult names the best IR page, if any.
type DiscoveryResult struct {
	IRURL      string      `json:"ir_url,omitempty"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates"`
}

// Found reports whether a page scored above zero.
func (r DiscoveryResult) Found() bool {
	return r.IRURL != ""
}

// Discovery picks a company's investor-relations page from a targeted crawl.
type Discovery struct {
	crawler *Controller
}

// NewDiscovery wraps a crawl controller.
func NewDiscovery(crawler *Controller) *Discovery {
	return &Discovery{crawler: crawler}
}

// Discover crawls companyURL and returns the highest-scoring page. Ties keep crawl order.
func (d *Discovery) Discover(ctx context.Context, companyURL string) (DiscoveryResult, error) {
	pages, err := d.crawler.CrawlTargeted(ctx, companyURL)
	if err != nil {
		return DiscoveryResult{}, err
	}

	candidates := make([]Candidate, 0, len(pages))
	for _, page := range pages {
		candidates = append(candidates, Candidate{URL: page, Score: ScorePath(page)})
	}

	ranked := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score > 0 {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	result := DiscoveryResult{Candidates: candidates}
	if len(ranked) > 0 {
		result.IRURL = ranked[0].URL
		result.Confidence = ranked[0].Score
	}
	return result, nil
}

// ScorePath sums the keyword weights found in the URL's lowercased path, capped at 1.
func ScorePath(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	path := strings.ToLower(u.Path)
	score := 0.0
	for _, kw := range irKeywords {
		if strings.Contains(path, kw.keyword) {
			score += kw.weight
		}
	}
	if score > 1 {
		return 1
	}
	return score
}
