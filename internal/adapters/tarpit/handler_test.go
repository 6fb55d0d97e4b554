package tarpit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// stubStore records operations in call order.
type stubStore struct {
	mu      sync.Mutex
	ops     []string
	hops    map[string]int64
	hopsErr error
}

func newStubStore() *stubStore {
	return &stubStore{hops: make(map[string]int64)}
}

func (s *stubStore) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *stubStore) opsSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *stubStore) IsBlocked(context.Context, string) (bool, error) { return false, nil }

func (s *stubStore) AddBlock(_ context.Context, src, _ string, _ time.Duration) error {
	s.record("add_block:" + src)
	return nil
}

func (s *stubStore) FlagTarpit(_ context.Context, src string, _ time.Duration) error {
	s.record("flag:" + src)
	return nil
}

func (s *stubStore) IncrHops(_ context.Context, src string, _ time.Duration) (int64, error) {
	if s.hopsErr != nil {
		return 0, s.hopsErr
	}
	s.mu.Lock()
	s.hops[src]++
	n := s.hops[src]
	s.mu.Unlock()
	s.record("incr_hops")
	return n, nil
}

func (s *stubStore) RecordRequest(context.Context, string, time.Time, time.Duration) (int64, float64, error) {
	return 0, -1, nil
}

func (s *stubStore) Ping(context.Context) error { return nil }
func (s *stubStore) Close() error               { return nil }

type stubEnforcer struct {
	mu        sync.Mutex
	decisions []*domain.Decision
}

func (e *stubEnforcer) Enforce(_ context.Context, dec *domain.Decision, _ *domain.RequestMetadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions = append(e.decisions, dec)
	return nil
}

func (e *stubEnforcer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.decisions)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func newTestHandler(store *stubStore, enforcer *stubEnforcer, cfg Config) *Handler {
	gen := NewGenerator(newFakeModel(), "test-seed")
	return NewHandler(store, gen, enforcer, nil, cfg, domain.NewDefenseMetrics())
}

func tarpitRequest(path string) *http.Request {
	r := httptest.NewRequest("GET", path, nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "curl/8.0")
	return r
}

func TestHandler_ServesSlowHTML(t *testing.T) {
	store := newStubStore()
	h := newTestHandler(store, &stubEnforcer{}, fastConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Contains(t, store.opsSeen(), "flag:203.0.113.7")
	assert.Equal(t, int64(1), store.hops["203.0.113.7"])
}

func TestHandler_HopOverflowBlocks(t *testing.T) {
	store := newStubStore()
	enforcer := &stubEnforcer{}
	cfg := fastConfig()
	cfg.MaxHops = 2
	h := newTestHandler(store, enforcer, cfg)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d within budget streams", i+1)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access Denied.", rec.Body.String())
	require.Equal(t, 1, enforcer.count())
	dec := enforcer.decisions[0]
	assert.Equal(t, domain.TriggerHopLimit, dec.Trigger)
	assert.Equal(t, domain.ClassificationMalicious, dec.Classification)
	assert.Equal(t, "203.0.113.7", dec.SourceIP)
}

func TestHandler_HopErrorStillStreams(t *testing.T) {
	store := newStubStore()
	store.hopsErr = assertAnError{}
	h := newTestHandler(store, &stubEnforcer{}, fastConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))

	assert.Equal(t, http.StatusOK, rec.Code, "hop accounting errors fail open")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "hop store down" }

func TestHandler_FlagBeforeEscalation(t *testing.T) {
	store := newStubStore()
	received := make(chan []string, 1)
	escalation := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- store.opsSeen()
	}))
	defer escalation.Close()

	cfg := fastConfig()
	cfg.EscalateURL = escalation.URL
	h := newTestHandler(store, &stubEnforcer{}, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))

	var ops []string
	select {
	case ops = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("escalation endpoint never received metadata")
	}

	// The flag write is synchronous and precedes the escalation post, so it
	// is already recorded when the post arrives.
	require.Contains(t, ops, "flag:203.0.113.7")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(newStubStore(), &stubEnforcer{}, fastConfig())

	r := httptest.NewRequest("POST", "/anti-scrape-tarpit/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_DisabledHopLimit(t *testing.T) {
	store := newStubStore()
	cfg := fastConfig()
	cfg.MaxHops = 0
	h := newTestHandler(store, &stubEnforcer{}, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, tarpitRequest("/anti-scrape-tarpit/x"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, store.opsSeen(), "incr_hops")
}
