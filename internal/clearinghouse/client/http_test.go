package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/validator"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestHTTPClient(t *testing.T, srv *httptest.Server, rec *sleepRecorder, m *metrics.Metrics) *HTTPClient {
	t.Helper()
	cfg := config.APIConfig{
		BaseURL:     srv.URL + "/api/v2p1",
		Token:       "Token secret-token",
		UserAgent:   "clearinghouse-ingest-test",
		Timeout:     5 * time.Second,
		MaxRetries:  4,
		BackoffBase: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
	c, err := NewHTTPClient(cfg,
		WithHTTPClient(srv.Client()),
		WithSleep(rec.sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
		WithClientMetrics(m),
	)
	require.NoError(t, err)
	return c
}

func TestHTTPClientHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[{"id":1,"name":"Doe v. State","last_checked_date":"2024-01-01T00:00:00Z"}],"next":null}`)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	m := metrics.NewUnregistered()
	c := newTestHTTPClient(t, srv, rec, m)

	cases := collectCases(t, c, nil)
	require.Len(t, cases, 1)
	assert.Equal(t, "1", cases[0].ExternalID)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.APIRetriesTotal.WithLabelValues("429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("cases", "ok")))
}

func TestHTTPClientSendsAuthAndFilters(t *testing.T) {
	var gotAuth, gotAgent, gotSince, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotSince = r.URL.Query().Get("last_checked_date__gte")
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"results":[],"next":null}`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	since := time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("EST", -5*3600))
	assert.Empty(t, collectCases(t, c, &since))

	assert.Equal(t, "Token secret-token", gotAuth)
	assert.Equal(t, "clearinghouse-ingest-test", gotAgent)
	assert.Equal(t, "2024-02-03T09:05:06Z", gotSince)
	assert.Equal(t, "/api/v2p1/cases/", gotPath)
}

func TestHTTPClientFollowsNextLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{"results":[{"id":"d1"}],"next":"/api/v2p1/cases/9/dockets/?page=2"}`)
		case "2":
			fmt.Fprint(w, `{"results":[{"id":"d2","is_main_docket":true}],"next":null}`)
		}
	}))
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	dockets, err := c.ListDockets(context.Background(), "9")
	require.NoError(t, err)
	require.Len(t, dockets, 2)
	assert.Equal(t, "d2", dockets[1].ExternalID)
	assert.Equal(t, "9", dockets[1].CaseExternalID)
	require.NotNil(t, dockets[1].IsMain)
	assert.True(t, *dockets[1].IsMain)
}

func TestHTTPClientPermanentStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := newTestHTTPClient(t, srv, rec, metrics.NewUnregistered())
	_, err := c.ListDockets(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPermanent)
	assert.Equal(t, http.StatusForbidden, apperrors.StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays)
}

func TestHTTPClientExhaustsRetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := newTestHTTPClient(t, srv, rec, metrics.NewUnregistered())
	_, err := c.ListDockets(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
	}, rec.delays)
}

func TestHTTPClientMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	_, err := c.ListDockets(context.Background(), "1")
	assert.ErrorIs(t, err, apperrors.ErrPermanent)
}

func TestHTTPClientRejectsOversizedBody(t *testing.T) {
	const body = `{"results":[],"next":null}`
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	WithMaxResponseBytes(int64(len(body)))(c)
	dockets, err := c.ListDockets(context.Background(), "1")
	require.NoError(t, err, "a body of exactly the limit is accepted")
	assert.Empty(t, dockets)

	WithMaxResponseBytes(int64(len(body)) - 1)(c)
	_, err = c.ListDockets(context.Background(), "1")
	assert.ErrorIs(t, err, apperrors.ErrPermanent)
	assert.ErrorContains(t, err, "too large")
	assert.Equal(t, int32(2), calls.Load(), "oversized responses are not retried")
}

func TestHTTPClientInvalidCaseIsYieldedPerCase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[
			{"id":1,"name":"","last_checked_date":"2024-01-01"},
			{"id":2,"name":"Ok v. Fine","last_checked_date":"2024-01-02"}
		],"next":null}`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	var ids []string
	var errs []error
	for rec, err := range c.ListCases(context.Background(), nil) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, rec.ExternalID)
	}
	require.Len(t, errs, 1)
	var verr *validator.ValidationError
	assert.True(t, errors.As(errs[0], &verr))
	assert.ErrorIs(t, errs[0], apperrors.ErrPermanent)
	assert.Equal(t, []string{"2"}, ids)
}

func TestHTTPClientGroupsDocumentsByDocket(t *testing.T) {
	var listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2p1/cases/5/documents/", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		fmt.Fprint(w, `{"results":[
			{"id":10,"docket_id":100,"title":"Complaint","date":"2023-05-01","text_url":"/texts/10.txt"},
			{"id":11,"docket_id":101,"clearinghouse_link":"https://clearinghouse.net/doc/11"},
			{"id":12,"title":"Loose"}
		],"next":null}`)
	})
	mux.HandleFunc("/texts/10.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "The court orders relief.")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestHTTPClient(t, srv, &sleepRecorder{}, metrics.NewUnregistered())
	ctx := context.Background()

	first, err := c.ListDocuments(ctx, "5", "100")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "Complaint", first[0].Title)
	require.NotNil(t, first[0].Date)

	second, err := c.ListDocuments(ctx, "5", "101")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "Untitled", second[0].Title)
	assert.Equal(t, "https://clearinghouse.net/doc/11", second[0].ExternalURL)
	assert.Equal(t, int32(1), listCalls.Load())

	doc, err := c.GetDocument(ctx, "5", "10")
	require.NoError(t, err)
	require.NotNil(t, doc.Text)
	assert.Equal(t, "The court orders relief.", *doc.Text)
	assert.True(t, doc.HasText)

	_, err = c.GetDocument(ctx, "5", "999")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNewHTTPClientRequiresToken(t *testing.T) {
	for _, token := range []string{"", "   ", "  Token  ", "token", "Token\t"} {
		_, err := NewHTTPClient(config.APIConfig{BaseURL: "https://example.org", Token: token})
		assert.Error(t, err, "token %q", token)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Second, parseRetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("-1", now))
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "abc123", NormalizeToken("abc123"))
	assert.Equal(t, "abc123", NormalizeToken("Token abc123"))
	assert.Equal(t, "abc123", NormalizeToken("  token abc123  "))
	assert.Equal(t, "", NormalizeToken("   "))
	assert.Equal(t, "tokenabc", NormalizeToken("tokenabc"))
	assert.Equal(t, "", NormalizeToken("Token"))
	assert.Equal(t, "", NormalizeToken("  TOKEN  "))
	assert.Equal(t, "abc", NormalizeToken("Token\tabc"))
	assert.Equal(t, "abc", NormalizeToken("Token \n abc"))
}
