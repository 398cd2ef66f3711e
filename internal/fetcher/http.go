package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dazubi/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.Policy
	// RatePerSecond caps request starts; zero disables the limiter.
	RatePerSecond float64
	// MaxBodyBytes bounds how much of a response is read. Default 64 MiB.
	MaxBodyBytes int64
	// SkipRows is dropped from the top of every workbook sheet. Zero means
	// DefaultSkipRows; a negative value keeps every row.
	SkipRows int
}

// AdaptiveLimiter wraps a rate.Limiter that slows down on 429 responses.
// On 429 it halves the rate (down to a quarter of the configured rate); each
// success raises it by 20% again, never above the configured rate.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with bounded retry.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dazubi/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	switch {
	case opts.SkipRows == 0:
		opts.SkipRows = DefaultSkipRows
	case opts.SkipRows < 0:
		opts.SkipRows = 0
	}
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
	if opts.RatePerSecond > 0 {
		f.limiter = NewAdaptiveLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return f
}

// Fetch GETs rawURL, retrying on any failure according to the retry policy.
// Each failed attempt is logged with the error type and, when a response
// arrived, its status and content headers. When all attempts fail the
// result is a *FetchExhausted wrapping the last error.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	var last *Response
	policy := f.opts.Retry
	policy.OnFailure = func(attempt int, err error) {
		fields := []zap.Field{
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.String("error_type", fmt.Sprintf("%T", eris.Cause(err))),
			zap.Error(err),
		}
		if last != nil {
			fields = append(fields,
				zap.Int("status", last.StatusCode),
				zap.String("content_type", last.Header.Get("Content-Type")),
				zap.String("content_length", last.Header.Get("Content-Length")),
			)
		}
		zap.L().Warn("fetch attempt failed", fields...)
		if f.opts.Retry.OnFailure != nil {
			f.opts.Retry.OnFailure(attempt, err)
		}
	}

	res := resilience.Run(ctx, policy, func(ctx context.Context, _ int) (*Response, error) {
		last = nil
		resp, err := f.do(ctx, rawURL)
		last = resp
		return resp, err
	})
	if res.OK() {
		return res.Value, nil
	}

	ex := &FetchExhausted{URL: rawURL, Attempts: res.Attempts, Err: res.Err}
	if last != nil {
		ex.StatusCode = last.StatusCode
		ex.ContentType = last.Header.Get("Content-Type")
		ex.ContentLength = last.Header.Get("Content-Length")
	}
	return nil, ex
}

// do performs one attempt. A non-2xx response is returned together with a
// *StatusError so the caller can report its headers.
func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "http get")
	}
	defer resp.Body.Close() //nolint:errcheck

	out := &Response{URL: rawURL, StatusCode: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode == http.StatusTooManyRequests && f.limiter != nil {
		f.limiter.OnRateLimit()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return out, eris.Wrap(err, "read body")
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return out, eris.Wrapf(ErrBodyTooLarge, "more than %d bytes", f.opts.MaxBodyBytes)
	}
	out.Body = body
	if f.limiter != nil {
		f.limiter.OnSuccess()
	}
	return out, nil
}

// FetchWorkbook fetches a spreadsheet export and decodes all of its sheets.
// A body that cannot be decoded is not retried: the download itself worked.
func (f *HTTPFetcher) FetchWorkbook(ctx context.Context, rawURL string) (*Workbook, error) {
	resp, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	wb, err := ParseWorkbook(resp.Body, f.opts.SkipRows)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode workbook from %s (content-type %q)", rawURL, resp.ContentType())
	}
	return wb, nil
}
