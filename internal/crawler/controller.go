package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/normalize"
)

// irPathHints gate which links are followed beyond the root page.
var irPathHints = []string{
	"investor",
	"investors",
	"results",
	"financial",
	"annual-report",
	"quarterly",
	"earnings",
}

// PageFetcher retrieves a page body.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, opts monitor.FetchOptions) (monitor.FetchResponse, error)
}

// Config bounds a targeted crawl.
type Config struct {
	MaxDepth int
	MaxPages int
}

// Controller runs bounded breadth-first crawls over a single host.
type Controller struct {
	fetcher PageFetcher
	cfg     Config
	logger  *zap.Logger
}

// NewController builds a Controller. Non-positive limits fall back to depth 2 and 50 pages.
func NewController(fetcher PageFetcher, cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 2
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{fetcher: fetcher, cfg: cfg, logger: logger}
}

type node struct {
	url   string
	depth int
}

// CrawlTargeted returns the pages reachable from rootURL in visit order.
// Pages that fail to fetch or answer with status >= 400 are skipped silently.
func (c *Controller) CrawlTargeted(ctx context.Context, rootURL string) ([]string, error) {
	root, err := normalize.URL(rootURL, "")
	if err != nil {
		return nil, fmt.Errorf("normalize root: %w", err)
	}

	queue := []node{{url: root, depth: 0}}
	visited := make(map[string]struct{})
	discovered := make([]string, 0, c.cfg.MaxPages)

	for len(queue) > 0 && len(discovered) < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return discovered, fmt.Errorf("crawl canceled: %w", err)
		}
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur.url]; seen || cur.depth > c.cfg.MaxDepth {
			continue
		}
		visited[cur.url] = struct{}{}

		resp, err := c.fetcher.Fetch(ctx, cur.url, monitor.FetchOptions{})
		if err != nil {
			c.logger.Debug("crawl fetch failed", zap.String("url", cur.url), zap.Error(err))
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			continue
		}
		discovered = append(discovered, cur.url)
		if cur.depth == c.cfg.MaxDepth {
			continue
		}

		hrefs, err := normalize.Links(resp.Body)
		if err != nil {
			continue
		}
		for _, href := range hrefs {
			candidate, err := normalize.URL(href, cur.url)
			if err != nil || !normalize.SameHost(candidate, root) {
				continue
			}
			if cur.depth > 0 && !hasIRHint(candidate) {
				continue
			}
			if _, seen := visited[candidate]; !seen {
				queue = append(queue, node{url: candidate, depth: cur.depth + 1})
			}
		}
	}

	c.logger.Debug("targeted crawl finished",
		zap.String("root", root),
		zap.Int("discovered", len(discovered)),
		zap.Int("visited", len(visited)),
	)
	return discovered, nil
}

func hasIRHint(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, hint := range irPathHints {
		if strings.Contains(path, hint) {
			return true
		}
	}
	return false
}
