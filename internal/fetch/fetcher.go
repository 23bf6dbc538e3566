package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// browserHeaders is the static profile sent with every request. The
// announcements site rejects obvious bots. Accept-Encoding is left to the
// transport so decompression stays automatic.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Config controls collector behavior.
type Config struct {
	UserAgent          string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Backoff            *notices.Backoff
}

// Fetcher implements notices.Fetcher using the Colly collector.
type Fetcher struct {
	baseCollector *colly.Collector
	backoff       *notices.Backoff
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.IgnoreRobotsTxt = true
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // the university site serves an incomplete chain
		},
	})
	base.SetRequestTimeout(timeout)

	backoff := cfg.Backoff
	if backoff == nil {
		backoff = notices.NewBackoff(3, time.Second, 8*time.Second)
	}

	return &Fetcher{
		baseCollector: base,
		backoff:       backoff,
		logger:        logger,
	}
}

// Fetch retrieves the page, retrying transient failures within the backoff
// budget. Permanent failures (4xx other than 408/429) return immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (notices.Document, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		doc, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if IsPermanent(err) || !f.backoff.ShouldRetry(err, attempt) {
			break
		}
		delay := f.backoff.Delay(attempt)
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.IncFetchRetries()
		if err := f.backoff.Sleep(ctx, delay); err != nil {
			return notices.Document{}, err
		}
	}
	return notices.Document{}, lastErr
}

type fetchResult struct {
	doc notices.Document
	err error
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (notices.Document, error) {
	if err := ctx.Err(); err != nil {
		return notices.Document{}, err
	}

	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var delivered bool
	send := func(res fetchResult) {
		if !delivered {
			delivered = true
			resultCh <- res
		}
	}

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{doc: notices.Document{
			URL:       r.Request.URL.String(),
			Body:      append([]byte(nil), r.Body...),
			FetchedAt: time.Now().UTC(),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown collector error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: classify(rawURL, status, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		// Visit surfaces pre-request failures (bad URL and friends); the
		// HTTP-level outcome arrives through the callbacks.
		select {
		case res := <-resultCh:
			return notices.Document{}, res.err
		default:
			return notices.Document{}, classify(rawURL, 0, err)
		}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return notices.Document{}, err
		}
		return res.doc, res.err
	default:
		return notices.Document{}, classify(rawURL, 0, errors.New("fetch produced no result"))
	}
}
