package edge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

type stubBlockReader struct {
	blocked map[string]bool
	err     error
	calls   int
}

func (s *stubBlockReader) IsBlocked(_ context.Context, src string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.blocked[src], nil
}

type captureHandler struct {
	called bool
	path   string
	query  string
	reason string
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.reason = r.Header.Get(TarpitReasonHeader)
	w.WriteHeader(http.StatusOK)
}

func newTestFilter(store *stubBlockReader) (*Filter, *captureHandler, http.Handler) {
	filter := New(store, DefaultConfig(), domain.NewDefenseMetrics())
	next := &captureHandler{}
	return filter, next, filter.Wrap(next)
}

func browserRequest(path string) *http.Request {
	r := httptest.NewRequest("GET", path, nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/126.0")
	r.Header.Set("Accept-Language", "en-US")
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return r
}

func TestFilter_PassThrough(t *testing.T) {
	store := &stubBlockReader{}
	_, next, handler := newTestFilter(store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("/index.html"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.Equal(t, "/index.html", next.path)
	assert.Empty(t, next.reason)
}

func TestFilter_BlocklistedSource(t *testing.T) {
	store := &stubBlockReader{blocked: map[string]bool{"203.0.113.7": true}}
	_, next, handler := newTestFilter(store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("/index.html"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access Denied.", rec.Body.String())
	assert.False(t, next.called, "blocked requests short-circuit before later steps")
}

func TestFilter_BadAgentBlocked(t *testing.T) {
	store := &stubBlockReader{}
	_, next, handler := newTestFilter(store)

	r := browserRequest("/")
	r.Header.Set("User-Agent", "GPTBot/1.0")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access Denied.", rec.Body.String())
	assert.False(t, next.called, "bad agents are blocked, not tarpitted")
}

func TestFilter_BadAgentTakesPrecedenceOverHeuristics(t *testing.T) {
	store := &stubBlockReader{}
	_, next, handler := newTestFilter(store)

	// curl also trips the generic-accept heuristic; the substring hit wins.
	r := httptest.NewRequest("GET", "/x", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Accept", "*/*")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, next.called)
}

func TestFilter_TarpitRewrite(t *testing.T) {
	store := &stubBlockReader{}
	cfg := DefaultConfig()
	cfg.BadAgents = nil // so curl falls through to the heuristics
	filter := New(store, cfg, domain.NewDefenseMetrics())
	next := &captureHandler{}
	handler := filter.Wrap(next)

	r := httptest.NewRequest("GET", "/x?page=2", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Accept", "*/*")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.True(t, next.called)
	assert.Equal(t, "/anti-scrape-tarpit/x", next.path)
	assert.Equal(t, "page=2", next.query, "query preserved across rewrite")
	assert.Contains(t, next.reason, "missing_accept_language")
	assert.Contains(t, next.reason, "generic_accept")
}

func TestFilter_EmptyUARewritesNotBlocks(t *testing.T) {
	store := &stubBlockReader{}
	_, next, handler := newTestFilter(store)

	r := httptest.NewRequest("GET", "/x", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("Accept-Language", "en-US")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.True(t, next.called)
	assert.Equal(t, "/anti-scrape-tarpit/x", next.path)
	assert.Contains(t, next.reason, "empty_ua")
}

func TestFilter_HeuristicsToggleable(t *testing.T) {
	store := &stubBlockReader{}
	cfg := DefaultConfig()
	cfg.CheckEmptyUA = false
	cfg.CheckMissingAcceptLang = false
	cfg.CheckGenericAccept = false
	filter := New(store, cfg, domain.NewDefenseMetrics())
	next := &captureHandler{}
	handler := filter.Wrap(next)

	r := httptest.NewRequest("GET", "/x", nil)
	r.RemoteAddr = "203.0.113.7:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.True(t, next.called)
	assert.Equal(t, "/x", next.path, "disabled heuristics never rewrite")
}

func TestFilter_FailOpenOnStateError(t *testing.T) {
	store := &stubBlockReader{err: errors.New("connection refused")}
	_, next, handler := newTestFilter(store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("/index.html"))

	assert.Equal(t, http.StatusOK, rec.Code, "state errors must not 500 the hot path")
	assert.True(t, next.called)
}

func TestFilter_ExemptPathsBypass(t *testing.T) {
	store := &stubBlockReader{blocked: map[string]bool{"203.0.113.7": true}}
	cfg := DefaultConfig()
	cfg.ExemptPaths = []string{"/escalate"}
	filter := New(store, cfg, domain.NewDefenseMetrics())
	next := &captureHandler{}
	handler := filter.Wrap(next)

	// Internal posts carry none of the browser headers; they must never be
	// classified or blocked.
	r := httptest.NewRequest("POST", "/escalate", nil)
	r.RemoteAddr = "203.0.113.7:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.True(t, next.called)
	assert.Equal(t, "/escalate", next.path)
	assert.Equal(t, 0, store.calls)
}

func TestFilter_NoDoubleRewriteUnderMount(t *testing.T) {
	store := &stubBlockReader{}
	cfg := DefaultConfig()
	cfg.BadAgents = nil
	filter := New(store, cfg, domain.NewDefenseMetrics())
	next := &captureHandler{}
	handler := filter.Wrap(next)

	r := httptest.NewRequest("GET", "/anti-scrape-tarpit/x", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Accept", "*/*")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.True(t, next.called)
	assert.Equal(t, "/anti-scrape-tarpit/x", next.path, "mounted paths are not rewritten again")
}

func TestFilter_BlockedEvenUnderMount(t *testing.T) {
	store := &stubBlockReader{blocked: map[string]bool{"203.0.113.7": true}}
	_, next, handler := newTestFilter(store)

	r := tarpitPathRequest()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, next.called)
}

func tarpitPathRequest() *http.Request {
	r := httptest.NewRequest("GET", "/anti-scrape-tarpit/x", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Accept-Language", "en-US")
	return r
}

func TestFilter_MissingSourcePassesThrough(t *testing.T) {
	store := &stubBlockReader{}
	_, next, handler := newTestFilter(store)

	r := browserRequest("/index.html")
	r.RemoteAddr = ""

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.True(t, next.called)
	assert.Equal(t, 0, store.calls, "no lookup without a source")
}
