// Package fetcher retrieves pages over HTTP and extracts the title, meta
// description and visible body text the monitor fingerprints.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"driftwatch/internal/config"
	"driftwatch/internal/models"
)

// Fetcher returns the current snapshot of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.PageSnapshot, error)
}

// HTTPFetcher fetches pages directly. A shared token bucket caps the request
// rate so a pass never floods the monitored sites.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
	log       *zap.Logger
}

// New creates an HTTPFetcher from cfg. Per-request deadlines come from the
// caller's context.
func New(cfg config.FetcherConfig, log *zap.Logger) *HTTPFetcher {
	maxRedirects := cfg.MaxRedirects
	return &HTTPFetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		log:       log.Named("fetcher"),
	}
}

// Fetch downloads url and extracts its snapshot. Transport errors, timeouts
// and non-2xx statuses wrap models.ErrFetchFailure; unparseable or non-HTML
// content wraps models.ErrDecodeFailure.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (models.PageSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return models.PageSnapshot{}, fmt.Errorf("%w: rate limiter: %v", models.ErrFetchFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.PageSnapshot{}, fmt.Errorf("%w: build request: %v", models.ErrFetchFailure, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return models.PageSnapshot{}, fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return models.PageSnapshot{}, fmt.Errorf("%w: %s returned HTTP %d", models.ErrFetchFailure, url, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return models.PageSnapshot{}, fmt.Errorf("%w: unsupported content type %q", models.ErrDecodeFailure, ct)
		}
	}

	body := io.Reader(resp.Body)
	if f.maxBody > 0 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return models.PageSnapshot{}, fmt.Errorf("%w: read body: %v", models.ErrFetchFailure, err)
		}
		if int64(len(raw)) > f.maxBody {
			return models.PageSnapshot{}, fmt.Errorf("%w: page exceeds %d bytes", models.ErrDecodeFailure, f.maxBody)
		}
		body = bytes.NewReader(raw)
	}
	snapshot, err := Extract(body)
	if err != nil {
		if errors.Is(err, models.ErrDecodeFailure) {
			return models.PageSnapshot{}, err
		}
		// A failed read mid-body is a transport problem, not bad content.
		return models.PageSnapshot{}, fmt.Errorf("%w: read body: %v", models.ErrFetchFailure, err)
	}

	f.log.Debug("page fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.Int("body_chars", len(snapshot.Body)))
	return snapshot, nil
}

// Extract parses an HTML document into a snapshot. Scripts, styles and other
// non-content elements are dropped and whitespace in the body text collapses
// to single spaces.
func Extract(r io.Reader) (models.PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.PageSnapshot{}, err
		}
		return models.PageSnapshot{}, fmt.Errorf("%w: parse html: %v", models.ErrDecodeFailure, err)
	}

	title := collapse(doc.Find("head title").First().Text())
	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}

	description, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	if strings.TrimSpace(description) == "" {
		description, _ = doc.Find(`meta[property="og:description"]`).First().Attr("content")
	}

	body := doc.Find("body")
	body.Find("script, style, noscript, template, iframe, svg").Remove()

	return models.PageSnapshot{
		Title:       title,
		Description: collapse(description),
		Body:        collapse(body.Text()),
	}, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
