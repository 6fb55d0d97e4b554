package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

type blockRecord struct {
	src    string
	reason string
	ttl    time.Duration
}

type stubStore struct {
	mu       sync.Mutex
	blocks   []blockRecord
	blockErr error
}

func (s *stubStore) IsBlocked(context.Context, string) (bool, error) { return false, nil }

func (s *stubStore) AddBlock(_ context.Context, src, reason string, ttl time.Duration) error {
	if s.blockErr != nil {
		return s.blockErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, blockRecord{src: src, reason: reason, ttl: ttl})
	return nil
}

func (s *stubStore) FlagTarpit(context.Context, string, time.Duration) error { return nil }
func (s *stubStore) IncrHops(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}
func (s *stubStore) RecordRequest(context.Context, string, time.Time, time.Duration) (int64, float64, error) {
	return 0, -1, nil
}
func (s *stubStore) Ping(context.Context) error { return nil }
func (s *stubStore) Close() error               { return nil }

type recordingAlerter struct {
	mu     sync.Mutex
	events []*domain.BlockEvent
	err    error
}

func (a *recordingAlerter) Name() string { return "recording" }

func (a *recordingAlerter) Send(_ context.Context, ev *domain.BlockEvent) error {
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func maliciousDecision(kind string) *domain.Decision {
	return &domain.Decision{
		SourceIP:       "203.0.113.7",
		Score:          0.9,
		Classification: domain.ClassificationMalicious,
		Trigger:        domain.Trigger(kind),
		Timestamp:      time.Now().UTC(),
		Reasons:        []domain.Reason{{Kind: kind, Detail: "test"}},
	}
}

func newService(store *stubStore, alerter *recordingAlerter, cfg Config) *Service {
	var alerters []ports.AlertSender
	if alerter != nil {
		alerters = append(alerters, alerter)
	}
	return NewService(store, nil, alerters, domain.NewSeverityOrder(nil), cfg, domain.NewDefenseMetrics())
}

func TestService_EnforceBlocksAndAlerts(t *testing.T) {
	store := &stubStore{}
	alerter := &recordingAlerter{}
	svc := newService(store, alerter, DefaultConfig())

	dec := maliciousDecision(domain.ReasonHeuristic)
	meta := &domain.RequestMetadata{SourceIP: "203.0.113.7", UserAgent: "curl/8.0", Path: "/x"}

	require.NoError(t, svc.Enforce(context.Background(), dec, meta))

	require.Len(t, store.blocks, 1)
	assert.Equal(t, "203.0.113.7", store.blocks[0].src)
	assert.Equal(t, 24*time.Hour, store.blocks[0].ttl)
	assert.Contains(t, store.blocks[0].reason, "heuristic")

	require.Len(t, alerter.events, 1)
	ev := alerter.events[0]
	assert.Equal(t, "ip_blocked", ev.Event)
	assert.Equal(t, "curl/8.0", ev.UserAgent)
}

func TestService_BlockFailurePropagates(t *testing.T) {
	store := &stubStore{blockErr: errors.New("redis down")}
	alerter := &recordingAlerter{}
	svc := newService(store, alerter, DefaultConfig())

	err := svc.Enforce(context.Background(), maliciousDecision(domain.ReasonHeuristic), nil)

	assert.Error(t, err)
	assert.Empty(t, alerter.events, "no alert for a block that did not land")
}

func TestService_SeverityFilterSuppressesAlert(t *testing.T) {
	store := &stubStore{}
	alerter := &recordingAlerter{}
	cfg := DefaultConfig()
	cfg.MinSeverity = domain.ReasonLLM
	svc := newService(store, alerter, cfg)

	require.NoError(t, svc.Enforce(context.Background(), maliciousDecision(domain.ReasonHeuristic), nil))

	assert.Len(t, store.blocks, 1, "block happens regardless of alert severity")
	assert.Empty(t, alerter.events, "alert suppressed below min severity")

	require.NoError(t, svc.Enforce(context.Background(), maliciousDecision(domain.ReasonHopLimit), nil))
	assert.Len(t, alerter.events, 1, "hop_limit outranks llm and alerts")
}

func TestService_MissingSourceRejected(t *testing.T) {
	svc := newService(&stubStore{}, nil, DefaultConfig())

	err := svc.Enforce(context.Background(), &domain.Decision{}, nil)
	assert.ErrorIs(t, err, domain.ErrDecision)
}

func TestService_AlertErrorDoesNotFailEnforce(t *testing.T) {
	store := &stubStore{}
	alerter := &recordingAlerter{err: errors.New("smtp down")}
	svc := newService(store, alerter, DefaultConfig())

	assert.NoError(t, svc.Enforce(context.Background(), maliciousDecision(domain.ReasonHopLimit), nil))
	assert.Len(t, store.blocks, 1)
}

func TestService_WebhookAccepted(t *testing.T) {
	svc := newService(&stubStore{}, nil, DefaultConfig())

	payload, _ := json.Marshal(webhookPayload{
		Decision: maliciousDecision(domain.ReasonHopLimit),
		Metadata: &domain.RequestMetadata{SourceIP: "203.0.113.7"},
	})
	r := httptest.NewRequest("POST", "/analyze", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
}

func TestService_WebhookBadPayload(t *testing.T) {
	svc := newService(&stubStore{}, nil, DefaultConfig())

	r := httptest.NewRequest("POST", "/analyze", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestService_WebhookStoreErrorIs500(t *testing.T) {
	store := &stubStore{blockErr: errors.New("redis down")}
	svc := newService(store, nil, DefaultConfig())

	payload, _ := json.Marshal(webhookPayload{Decision: maliciousDecision(domain.ReasonHopLimit)})
	r := httptest.NewRequest("POST", "/analyze", strings.NewReader(string(payload)))
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookAlerter_Payload(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(server.URL)
	ev := domain.NewBlockEvent(maliciousDecision(domain.ReasonHeuristic), &domain.RequestMetadata{UserAgent: "curl"})
	require.NoError(t, alerter.Send(context.Background(), ev))

	assert.Equal(t, "ip_blocked", received["event"])
	assert.Equal(t, "203.0.113.7", received["src"])
	assert.NotNil(t, received["reasons"])
	assert.NotNil(t, received["score"])
	assert.NotNil(t, received["ts"])
}

func TestSlackAlerter_Payload(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	alerter := NewSlackAlerter(server.URL)
	ev := domain.NewBlockEvent(maliciousDecision(domain.ReasonHeuristic), nil)
	require.NoError(t, alerter.Send(context.Background(), ev))

	assert.Contains(t, received["text"], "203.0.113.7")
}

func TestCommunityReporter_Categories(t *testing.T) {
	assert.Equal(t, categoryPortScan, categoriesFor(maliciousDecision(domain.ReasonHeuristic), "heuristic: known bad user agent (masscan)"))
	assert.Equal(t, categoryHoneypot, categoriesFor(maliciousDecision(domain.ReasonHopLimit), "tarpit hop limit exceeded"))
	assert.Equal(t, categoryWebScraping, categoriesFor(maliciousDecision(domain.ReasonLLM), "llm: classified as scraper bot"))
	assert.Equal(t, categoryBruteForce, categoriesFor(maliciousDecision(domain.ReasonModel), "model: classifier probability 0.9"))
}

func TestCommunityReporter_Report(t *testing.T) {
	var form map[string][]string
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		gotKey = r.Header.Get("Key")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	reporter := NewCommunityReporter(server.URL, "api-key", time.Second)
	err := reporter.Report(context.Background(), maliciousDecision(domain.ReasonHopLimit),
		&domain.RequestMetadata{UserAgent: "curl", Path: "/x"})

	require.NoError(t, err)
	assert.Equal(t, "api-key", gotKey)
	assert.Equal(t, []string{"203.0.113.7"}, form["ip"])
	assert.NotEmpty(t, form["categories"])
	assert.Contains(t, form["comment"][0], "curl")
}
