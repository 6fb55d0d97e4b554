package output

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/xoelrdgz/webtrap/internal/ports"
)

// HealthHandler is the public liveness endpoint. It discloses nothing about
// internal state: a flat healthy answer, always.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}

// ReadyStatus is the readiness probe's answer, served on the internal
// metrics listener only.
type ReadyStatus struct {
	Ready        bool   `json:"ready"`
	StateStore   bool   `json:"state_store_connected"`
	MarkovStore  bool   `json:"markov_store_connected"`
	UptimeSec    float64 `json:"uptime_seconds"`
	Reason       string `json:"reason,omitempty"`
}

// ReadyChecker pings backing stores, caching the verdict briefly so probe
// storms do not become Redis storms.
type ReadyChecker struct {
	store  ports.StateStore
	markov ports.MarkovSource
	start  time.Time

	mu        sync.Mutex
	last      ReadyStatus
	lastCheck time.Time
	interval  time.Duration
}

func NewReadyChecker(store ports.StateStore, markov ports.MarkovSource) *ReadyChecker {
	return &ReadyChecker{
		store:    store,
		markov:   markov,
		start:    time.Now(),
		interval: 5 * time.Second,
	}
}

func (c *ReadyChecker) check(ctx context.Context) ReadyStatus {
	c.mu.Lock()
	if time.Since(c.lastCheck) < c.interval {
		cached := c.last
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	status := ReadyStatus{
		Ready:       true,
		StateStore:  true,
		MarkovStore: true,
		UptimeSec:   time.Since(c.start).Seconds(),
	}
	if err := c.store.Ping(ctx); err != nil {
		status.Ready = false
		status.StateStore = false
		status.Reason = "state store unreachable"
	}
	if c.markov != nil {
		if err := c.markov.Ping(ctx); err != nil {
			status.MarkovStore = false
			if status.Reason == "" {
				status.Reason = "markov store unreachable"
			}
		}
	} else {
		status.MarkovStore = false
	}

	c.mu.Lock()
	c.last = status
	c.lastCheck = time.Now()
	c.mu.Unlock()
	return status
}

func (c *ReadyChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := c.check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
