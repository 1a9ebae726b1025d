// Package fetcher implements the rate-limited HTTP fetch layer using gocolly.
//
// One Fetcher instance is one rate-limit lane: callers that must share an
// inter-request delay share the instance. Parallelizing fetches across
// instances would defeat the limiter's purpose of respecting upstream load.
package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/metrics"
)

// Transient HTTP statuses retried before surfacing a FetchError.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config controls fetch behavior.
type Config struct {
	// BaseURL is the fixed upstream host; host-relative URLs resolve against it.
	BaseURL   string
	UserAgent string
	// RateLimitMin/Max bound the randomized inter-request delay in seconds.
	RateLimitMin float64
	RateLimitMax float64
	Timeout      time.Duration
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
	// BackoffFactor seeds the exponential retry backoff.
	BackoffFactor time.Duration
	Logger        *zap.Logger
}

// FetchError wraps the terminal failure for one URL. It never escapes as a
// panic; callers receive it as an ordinary error and skip the item.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Fetcher issues rate-limited GET requests against one upstream host.
// It is not safe for concurrent use; the pipeline runs it from a single
// goroutine.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
	lastRequest   time.Time
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// colly v2.1.0's Async option sets async mode regardless of its argument;
	// synchronous is the collector default, so no option is passed.
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Fetch retrieves the page body for rawURL, applying the inter-request delay
// first and retrying transient failures with exponential backoff. The last
// request time advances only after the whole attempt cycle finishes, so the
// next caller's delay is measured from this request's completion.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	url := f.resolve(rawURL)

	if err := f.rateLimit(ctx); err != nil {
		return "", &FetchError{URL: url, Cause: err}
	}
	defer func() { f.lastRequest = time.Now() }()

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, status, err := f.doRequest(ctx, url)
		if err == nil {
			metrics.ObserveFetch(status)
			f.logger.Debug("fetched page",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("bytes", len(body)),
			)
			return body, nil
		}
		lastErr = err
		if status > 0 {
			metrics.ObserveFetch(status)
		}

		if !f.shouldRetry(status, err) || attempt >= f.cfg.MaxRetries {
			break
		}
		metrics.ObserveFetchRetry()
		wait := f.cfg.BackoffFactor << attempt
		f.logger.Warn("transient fetch failure, retrying",
			zap.String("url", url),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	f.logger.Error("fetch failed", zap.String("url", url), zap.Error(lastErr))
	return "", &FetchError{URL: url, Cause: lastErr}
}

// resolve turns a host-relative URL into an absolute one.
func (f *Fetcher) resolve(rawURL string) string {
	if strings.HasPrefix(rawURL, "http") {
		return rawURL
	}
	base := strings.TrimSuffix(f.cfg.BaseURL, "/")
	if !strings.HasPrefix(rawURL, "/") {
		rawURL = "/" + rawURL
	}
	return base + rawURL
}

// rateLimit sleeps until uniform(min, max) seconds have passed since the
// previous request through this instance.
func (f *Fetcher) rateLimit(ctx context.Context) error {
	if f.cfg.RateLimitMax <= 0 {
		return nil
	}
	delay := f.cfg.RateLimitMin +
		rand.Float64()*(f.cfg.RateLimitMax-f.cfg.RateLimitMin)
	elapsed := time.Since(f.lastRequest)
	wait := time.Duration(delay*float64(time.Second)) - elapsed
	if wait <= 0 {
		return nil
	}
	f.logger.Debug("rate limiting", zap.Duration("sleep", wait))
	metrics.ObserveRateLimitDelay(wait)
	return sleep(ctx, wait)
}

// doRequest executes one GET via a cloned collector. status is zero for
// connection-level failures where no response arrived.
func (f *Fetcher) doRequest(ctx context.Context, url string) (string, int, error) {
	var (
		body     string
		status   int
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return "", status, fmt.Errorf("request failed: %w", fetchErr)
		}
		if err != nil {
			return "", status, fmt.Errorf("visit failed: %w", err)
		}
		return body, status, nil
	}
}

func (f *Fetcher) shouldRetry(status int, err error) bool {
	if retryStatuses[status] {
		return true
	}
	// Connection and timeout errors arrive without a status.
	return status == 0 && err != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
