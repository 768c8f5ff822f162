// Package collyfetcher implements monitor.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmonitor/internal/metrics"
	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Attempt results reported to metrics.
const (
	resultOK        = "ok"
	resultTransient = "transient"
	resultPermanent = "permanent"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// Headers are sent with every request in addition to the User-Agent.
	Headers http.Header
}

// Waiter delays a request before it is sent, e.g. a per-host rate limiter.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         *RetryPolicy
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// DefaultHeaders mirrors what a desktop browser sends on a top-level navigation.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Upgrade-Insecure-Requests": {"1"},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
	}
}

// New builds a Fetcher. A nil retry policy disables retries; a nil limiter never waits.
func New(cfg Config, retry *RetryPolicy, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		retry:         retry,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch retrieves rawURL, retrying transient failures per the retry policy.
// Failures are returned as *monitor.FetchError unless ctx itself ended.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (monitor.FetchResponse, error) {
	start := time.Now()
	defer func() { metrics.ObserveFetch(rawURL, time.Since(start)) }()

	var lastErr error
	for attempt := 0; attempt < f.retry.MaxAttempts(); attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}
		resp, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetchAttempt(rawURL, resultOK)
			resp.Attempts = attempt + 1
			resp.Duration = time.Since(start)
			return resp, nil
		}
		if ctx.Err() != nil {
			return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt) {
			metrics.ObserveFetchAttempt(rawURL, resultPermanent)
			break
		}
		metrics.ObserveFetchAttempt(rawURL, resultTransient)
		delay := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, delay); err != nil {
			return monitor.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	return monitor.FetchResponse{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (monitor.FetchResponse, error) {
	var (
		result   monitor.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, rawURL, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return monitor.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.DetectCharset = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	result *monitor.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := rawURL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		contentType := headers.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(r.Body)
		}
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = monitor.NewStatusError(rawURL, r.StatusCode)
			return
		}
		if !isTextual(contentType) {
			*fetchErr = &monitor.FetchError{
				URL:    rawURL,
				Reason: "unsupported content type " + mediaType(contentType),
			}
			return
		}
		*result = monitor.FetchResponse{
			URL:         finalURL,
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = monitor.NewStatusError(rawURL, r.StatusCode)
			return
		}
		*fetchErr = classifyTransportError(rawURL, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return classifyTransportError(rawURL, err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classifyTransportError maps a failure with no HTTP status to a FetchError.
// Network-level failures are transient; request construction and certificate
// problems will not fix themselves and are permanent.
func classifyTransportError(rawURL string, err error) *monitor.FetchError {
	fe := &monitor.FetchError{URL: rawURL, Err: err}
	if err == nil {
		fe.Reason = "empty response"
		return fe
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		fe.Reason = "certificate verification failed"
		return fe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		fe.Transient = true
		fe.Reason = "timeout"
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fe.Transient = true
		fe.Reason = "timeout"
		return fe
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		fe.Transient = true
		return fe
	}
	return fe
}

func isTextual(contentType string) bool {
	mt := mediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/xhtml+xml", mt == "application/xml", strings.HasSuffix(mt, "+xml"):
		return true
	default:
		return false
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
	}
}
