package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/notices"
	"github.com/ftmlabs/bknmu-notifier/internal/pipeline"
)

func newTestServer(ledger *fakeLedger, status *fakeStatus, cache *fakeCache, cfg Config) *Server {
	if ledger == nil {
		ledger = newFakeLedger()
	}
	// Box the fakes only when present so the server sees a nil interface,
	// not a typed nil pointer.
	var st statusSource
	if status != nil {
		st = status
	}
	var cs cacheSizer
	if cache != nil {
		cs = cache
	}
	return NewServer(ledger, st, cs, cfg, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsLedgerHealth(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	server := newTestServer(ledger, nil, nil, Config{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ledger.setCountErr(errors.New("connection refused"))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "unavailable")
}

func TestListNoticesReturnsRecent(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.records = []notices.DeliveryRecord{
		{ExternalID: "n1", Title: "સૂચના", TitleTranslated: "Notice one"},
		{ExternalID: "n2", Title: "Notice two"},
	}
	server := newTestServer(ledger, nil, nil, Config{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{defaultListLimit}, ledger.limits())

	var payload struct {
		Notices []notices.DeliveryRecord `json:"notices"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 2, payload.Count)
	require.Equal(t, "Notice one", payload.Notices[0].TitleTranslated)
}

func TestListNoticesClampsLimit(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	server := newTestServer(ledger, nil, nil, Config{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notices?limit=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{maxListLimit}, ledger.limits())
}

func TestListNoticesRejectsBadLimit(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, Config{})
	for _, limit := range []string{"abc", "0", "-5"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notices?limit="+limit, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", limit)
	}
}

func TestListNoticesEmptyIsAnArray(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notices", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"notices":[]`)
}

func TestStats(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.count = 42
	report := notices.CycleReport{CycleID: "cycle-9", Dispatched: 3}
	status := &fakeStatus{status: pipeline.Status{Stage: notices.StageIdle, LastReport: &report}}
	cache := &fakeCache{size: 7}
	server := newTestServer(ledger, status, cache, Config{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, int64(42), payload.DeliveredTotal)
	require.Equal(t, int64(7), payload.TranslationCacheEntries)
	require.Equal(t, notices.StageIdle, payload.Stage)
	require.NotNil(t, payload.LastCycle)
	require.Equal(t, 3, payload.LastCycle.Dispatched)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	report := notices.CycleReport{CycleID: "cycle-4", Parsed: 20, Known: 20}
	status := &fakeStatus{status: pipeline.Status{Stage: notices.StageFetching, LastReport: &report}}
	server := newTestServer(nil, status, nil, Config{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload pipeline.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, notices.StageFetching, payload.Stage)
	require.Equal(t, "cycle-4", payload.LastReport.CycleID)
}

func TestAPIKeyGuardsAPITreeOnly(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, &fakeStatus{}, nil, Config{APIKey: "sesame"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "sesame")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats?api_key=sesame", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type fakeLedger struct {
	mu       sync.Mutex
	records  []notices.DeliveryRecord
	count    int64
	countErr error
	listed   []int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{}
}

func (l *fakeLedger) IsKnown(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (l *fakeLedger) MarkDelivered(_ context.Context, _ notices.DeliveryRecord) error {
	return nil
}

func (l *fakeLedger) RecentDeliveries(_ context.Context, limit int) ([]notices.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listed = append(l.listed, limit)
	recs := append([]notices.DeliveryRecord(nil), l.records...)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (l *fakeLedger) DeliveredCount(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.countErr != nil {
		return 0, l.countErr
	}
	return l.count, nil
}

func (l *fakeLedger) PurgeOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (l *fakeLedger) setCountErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.countErr = err
}

func (l *fakeLedger) limits() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.listed...)
}

type fakeStatus struct {
	status pipeline.Status
}

func (f *fakeStatus) Status() pipeline.Status {
	return f.status
}

type fakeCache struct {
	size int64
}

func (c *fakeCache) Size(_ context.Context) (int64, error) {
	return c.size, nil
}
