// Package collyfetcher implements monitor.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

const maxRedirects = 10

// Guard rejects URLs before any network call.
type Guard interface {
	Check(ctx context.Context, rawURL string) error
}

// Limiter spaces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	MaxAttempts   int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	// DialControl, when set, vets every resolved address before connecting.
	// Proxies are bypassed while it is set.
	DialControl func(network, address string, c syscall.RawConn) error
}

// Fetcher implements monitor.Fetcher using the Colly collector.
// Every call passes the guard, waits on the limiter, and retries transient failures.
type Fetcher struct {
	cfg           Config
	guard         Guard
	limiter       Limiter
	retry         *RetryPolicy
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. guard must be non-nil; a nil limiter disables spacing.
func New(cfg Config, guard Guard, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webwatcher-agent/0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport(cfg.DialControl))
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return guard.Check(req.Context(), req.URL.String())
	})

	return &Fetcher{
		cfg:           cfg,
		guard:         guard,
		limiter:       limiter,
		retry:         NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffMin, cfg.BackoffMax),
		logger:        logger,
		baseCollector: c,
	}
}

// attemptResult holds what one collector run produced.
type attemptResult struct {
	response *colly.Response
	duration time.Duration
}

// Fetch performs a GET. After the final attempt it returns the last response
// received, whatever its status, or the last error when none arrived.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts monitor.FetchOptions) (monitor.FetchResponse, error) {
	res, err := f.do(ctx, http.MethodGet, rawURL, opts)
	if res.response == nil {
		return monitor.FetchResponse{}, err
	}
	r := res.response
	return monitor.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headerClone(r.Headers),
		Body:       append([]byte(nil), r.Body...),
		FetchedAt:  time.Now().UTC(),
		Duration:   res.duration,
	}, nil
}

// Head performs a HEAD and surfaces caching and size hints. Non-2xx is an error.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (monitor.HeadResponse, error) {
	res, err := f.do(ctx, http.MethodHead, rawURL, monitor.FetchOptions{})
	if err != nil && res.response == nil {
		return monitor.HeadResponse{}, err
	}
	r := res.response
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return monitor.HeadResponse{}, fmt.Errorf("head %s: %w", rawURL, &statusError{code: r.StatusCode})
	}
	headers := headerClone(r.Headers)
	out := monitor.HeadResponse{
		URL:          r.Request.URL.String(),
		StatusCode:   r.StatusCode,
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
		ContentType:  headers.Get("Content-Type"),
	}
	if raw := headers.Get("Content-Length"); raw != "" {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil && n >= 0 {
			out.ContentLength = &n
		}
	}
	return out, nil
}

// do runs the guarded, limited retry loop. A guard rejection is returned at once.
func (f *Fetcher) do(ctx context.Context, method, rawURL string, opts monitor.FetchOptions) (attemptResult, error) {
	if err := f.guard.Check(ctx, rawURL); err != nil {
		return attemptResult{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	var (
		last    attemptResult
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return last, err
			}
		}

		res, err := f.attempt(ctx, method, rawURL, opts)
		status := 0
		if res.response != nil {
			status = res.response.StatusCode
			last = res
		}
		metrics.ObserveFetch(rawURL, status)

		switch {
		case err != nil:
			lastErr = err
		case status >= http.StatusInternalServerError:
			lastErr = &statusError{code: status}
		default:
			return res, nil
		}

		if !f.retry.ShouldRetry(lastErr, attempt) {
			break
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return last, err
		}
	}

	if last.response != nil && method == http.MethodGet {
		return last, nil
	}
	return last, fmt.Errorf("%s %s: %w", method, rawURL, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, method, rawURL string, opts monitor.FetchOptions) (attemptResult, error) {
	var (
		result   attemptResult
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, opts, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, method, rawURL, &fetchErr); err != nil {
		return attemptResult{}, err
	}
	if result.response == nil {
		return attemptResult{}, errors.New("colly returned no response")
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = f.cfg.MaxBodyBytes
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	opts monitor.FetchOptions,
	start time.Time,
	result *attemptResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if opts.IfNoneMatch != "" {
			r.Headers.Set("If-None-Match", opts.IfNoneMatch)
		}
		if opts.IfModifiedSince != "" {
			r.Headers.Set("If-Modified-Since", opts.IfModifiedSince)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.response = r
		result.duration = time.Since(start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode > 0 {
			result.response = r
			result.duration = time.Since(start)
		}
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, rawURL string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(rawURL)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func headerClone(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport(control func(network, address string, c syscall.RawConn) error) *http.Transport {
	proxy := http.ProxyFromEnvironment
	if control != nil {
		proxy = nil
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   control,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
