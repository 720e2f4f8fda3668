package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/validator"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/resilience"
)

const maxResponseBytes = 32 << 20

// HTTPClient talks to the public Clearinghouse API. Every GET goes through
// the retry policy with a per-attempt timeout.
type HTTPClient struct {
	base      *url.URL
	token     string
	userAgent string
	timeout   time.Duration
	maxBody   int64
	http      *http.Client
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	docs caseDocuments
}

// caseDocuments memoizes the document listing of the most recent case, since
// the API lists documents per case while callers ask per docket.
type caseDocuments struct {
	caseID   string
	byDocket map[string][]clearinghouse.Document
	all      []clearinghouse.Document
}

type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) HTTPOption {
	return func(c *HTTPClient) { c.retry.Sleep = sleep }
}

func WithJitter(jitter func(base time.Duration) time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.retry.Jitter = jitter }
}

func WithClientMetrics(m *metrics.Metrics) HTTPOption {
	return func(c *HTTPClient) { c.metrics = m }
}

// WithMaxResponseBytes bounds the size of a single response body.
func WithMaxResponseBytes(n int64) HTTPOption {
	return func(c *HTTPClient) { c.maxBody = n }
}

// NewHTTPClient validates cfg and returns a client. The token is normalized
// with NormalizeToken and must not be empty.
func NewHTTPClient(cfg config.APIConfig, opts ...HTTPOption) (*HTTPClient, error) {
	token := NormalizeToken(cfg.Token)
	if token == "" {
		return nil, errors.New("a Clearinghouse API token is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	c := &HTTPClient{
		base:      base,
		token:     token,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		maxBody:   maxResponseBytes,
		http:      &http.Client{},
		retry: resilience.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BackoffBase,
			MaxDelay:   cfg.MaxBackoff,
		},
		logger: slog.Default().With("component", "clearinghouse-api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	c.retry.OnRetry = func(_ int, err error, _ time.Duration) {
		reason := "network"
		if code := apperrors.StatusCode(err); code != 0 {
			reason = strconv.Itoa(code)
		}
		c.metrics.APIRetriesTotal.WithLabelValues(reason).Inc()
	}
	return c, nil
}

func (c *HTTPClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// resolve turns a "next" link into an absolute URL. Relative links are taken
// against the base URL's host.
func (c *HTTPClient) resolve(next string) (string, error) {
	ref, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(ref).String(), nil
}

// get performs one logical GET with retries and returns the response body.
func (c *HTTPClient) get(ctx context.Context, resource, target string) ([]byte, error) {
	var body []byte
	err := resilience.Retry(ctx, "GET "+resource, c.retry, func() error {
		start := time.Now()
		err := resilience.WithTimeout(ctx, c.timeout, "GET "+resource, func(ctx context.Context) error {
			b, err := c.do(ctx, target)
			body = b
			return err
		})
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperrors.Wrap(apperrors.ErrTransient, err, "GET %s timed out", target)
		}
		c.metrics.APIRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
		c.metrics.APIRequestsTotal.WithLabelValues(resource, outcome(err)).Inc()
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsRetryable(err):
		return "retryable"
	default:
		return "error"
	}
}

func (c *HTTPClient) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPermanent, err, "building request for %s", target)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrTransient, err, "GET %s", target)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, apperrors.FromStatus(resp.StatusCode,
			fmt.Sprintf("GET %s returned %d", target, resp.StatusCode),
			parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrTransient, err, "reading body of %s", target)
	}
	if int64(len(body)) > c.maxBody {
		return nil, apperrors.Newf(apperrors.ErrPermanent, 0,
			"response from %s too large: exceeds %d bytes", target, c.maxBody)
	}
	return body, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Unusable values
// yield zero, which leaves the computed backoff in place.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

type page struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

// paginate yields every item across the "next"-linked pages starting at
// first. The sequence stops after the first error.
func (c *HTTPClient) paginate(ctx context.Context, resource, first string) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		target := first
		for target != "" {
			body, err := c.get(ctx, resource, target)
			if err != nil {
				yield(nil, err)
				return
			}
			var p page
			if err := json.Unmarshal(body, &p); err != nil {
				yield(nil, apperrors.Wrap(apperrors.ErrPermanent, err, "decoding %s page %s", resource, target))
				return
			}
			c.logger.Debug("fetched page", "resource", resource, "url", target, "results", len(p.Results))
			for _, item := range p.Results {
				if !yield(item, nil) {
					return
				}
			}
			target = ""
			if p.Next != nil && *p.Next != "" {
				next, err := c.resolve(*p.Next)
				if err != nil {
					yield(nil, apperrors.Wrap(apperrors.ErrPermanent, err, "invalid next link %q", *p.Next))
					return
				}
				target = next
			}
		}
	}
}

func (c *HTTPClient) ListCases(ctx context.Context, since *time.Time) iter.Seq2[clearinghouse.Case, error] {
	query := url.Values{}
	query.Set("ordering", "last_checked_date")
	if since != nil {
		query.Set("last_checked_date__gte", since.UTC().Format(time.RFC3339))
	}
	first := c.endpoint("/cases/", query)
	return func(yield func(clearinghouse.Case, error) bool) {
		for raw, err := range c.paginate(ctx, "cases", first) {
			if err != nil {
				yield(clearinghouse.Case{}, err)
				return
			}
			if !yield(decodeAPICase(raw)) {
				return
			}
		}
	}
}

func (c *HTTPClient) ListDockets(ctx context.Context, caseID string) ([]clearinghouse.Docket, error) {
	target := c.endpoint("/cases/"+url.PathEscape(caseID)+"/dockets/", nil)
	var dockets []clearinghouse.Docket
	for raw, err := range c.paginate(ctx, "dockets", target) {
		if err != nil {
			return nil, err
		}
		d, err := decodeAPIDocket(raw, caseID)
		if err != nil {
			return nil, err
		}
		dockets = append(dockets, d)
	}
	return dockets, nil
}

func (c *HTTPClient) ListDocuments(ctx context.Context, caseID, docketID string) ([]clearinghouse.Document, error) {
	docs, err := c.caseDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return docs.byDocket[docketID], nil
}

func (c *HTTPClient) caseDocuments(ctx context.Context, caseID string) (caseDocuments, error) {
	c.mu.Lock()
	cached := c.docs
	c.mu.Unlock()
	if cached.caseID == caseID && cached.byDocket != nil {
		return cached, nil
	}

	target := c.endpoint("/cases/"+url.PathEscape(caseID)+"/documents/", nil)
	docs := caseDocuments{caseID: caseID, byDocket: make(map[string][]clearinghouse.Document)}
	for raw, err := range c.paginate(ctx, "documents", target) {
		if err != nil {
			return caseDocuments{}, err
		}
		doc, err := decodeAPIDocument(raw, caseID)
		if err != nil {
			return caseDocuments{}, err
		}
		docs.all = append(docs.all, doc)
		if doc.DocketExternalID == "" {
			c.logger.Warn("skipping document without docket reference",
				"case_id", caseID,
				"document_id", doc.ExternalID,
			)
			continue
		}
		if err := validator.ValidateDocument(validator.NewCollector(clearinghouse.ResourceDocument, doc.ExternalID), &doc); err != nil {
			return caseDocuments{}, invalid(err)
		}
		docs.byDocket[doc.DocketExternalID] = append(docs.byDocket[doc.DocketExternalID], doc)
	}

	c.mu.Lock()
	c.docs = docs
	c.mu.Unlock()
	return docs, nil
}

// GetDocument returns the document with its text downloaded from text_url
// when the API advertises one.
func (c *HTTPClient) GetDocument(ctx context.Context, caseID, documentID string) (*clearinghouse.Document, error) {
	docs, err := c.caseDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs.all {
		if doc.ExternalID != documentID {
			continue
		}
		if doc.TextURL != "" && doc.Text == nil {
			target, err := c.resolve(doc.TextURL)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrPermanent, err, "invalid text_url %q", doc.TextURL)
			}
			body, err := c.get(ctx, "document_text", target)
			if err != nil {
				return nil, fmt.Errorf("fetching text of document %s: %w", documentID, err)
			}
			text := string(body)
			doc.Text = &text
			doc.HasText = text != ""
		}
		return &doc, nil
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "document %s not found in case %s", documentID, caseID)
}
