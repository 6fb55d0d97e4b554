// Package output provides the observability surface: Prometheus metrics and
// the readiness probe, served on their own listener away from client
// traffic.
package output

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// PrometheusMetrics exports the shared counter set for scraping. Every
// series reads straight from the DefenseMetrics atomics, so components keep
// a single counting surface and the exporter stays passive.
type PrometheusMetrics struct {
	collectors []prometheus.Collector

	server *http.Server
	mu     sync.Mutex
}

func NewPrometheusMetrics(namespace string, metrics *domain.DefenseMetrics) *PrometheusMetrics {
	counter := func(name, help string, read func(domain.MetricsSnapshot) int64) prometheus.Collector {
		return promauto.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(read(metrics.GetSnapshot()))
		})
	}

	return &PrometheusMetrics{collectors: []prometheus.Collector{
		counter("edge_requests_total", "Requests seen by the edge filter",
			func(s domain.MetricsSnapshot) int64 { return s.RequestsSeen }),
		counter("edge_blocked_total", "Requests denied by the edge filter",
			func(s domain.MetricsSnapshot) int64 { return s.RequestsBlocked }),
		counter("edge_tarpit_rewrites_total", "Requests rewritten into the tarpit",
			func(s domain.MetricsSnapshot) int64 { return s.TarpitRewrites }),
		counter("tarpit_hits_total", "Pages served by the tarpit",
			func(s domain.MetricsSnapshot) int64 { return s.TarpitHits }),
		counter("tarpit_hop_limit_blocks_total", "Blocks requested after hop-limit overflow",
			func(s domain.MetricsSnapshot) int64 { return s.HopLimitBlocks }),
		counter("escalations_total", "Escalation decisions produced",
			func(s domain.MetricsSnapshot) int64 { return s.Escalations }),
		counter("escalations_malicious_total", "Escalation decisions classified malicious",
			func(s domain.MetricsSnapshot) int64 { return s.Malicious }),
		counter("blocklist_adds_total", "Blocklist entries written by the enforcement service",
			func(s domain.MetricsSnapshot) int64 { return s.BlocksAdded }),
		counter("alerts_sent_total", "Alerts dispatched successfully",
			func(s domain.MetricsSnapshot) int64 { return s.AlertsSent }),
		counter("enforcement_dispatch_dropped_total", "Enforcement hand-offs dropped after retry exhaustion or queue overflow",
			func(s domain.MetricsSnapshot) int64 { return s.DispatchDropped }),
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime",
		}, func() float64 {
			return time.Since(metrics.StartTime).Seconds()
		}),
	}}
}

type MetricsConfig struct {
	Addr      string
	Path      string
	ReadyPath string
}

// StartServer exposes /metrics and the readiness probe on the metrics
// listener.
func (p *PrometheusMetrics) StartServer(cfg MetricsConfig, ready http.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.ReadyPath == "" {
		cfg.ReadyPath = "/ready"
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	if ready != nil {
		mux.Handle(cfg.ReadyPath, ready)
	}

	p.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", cfg.Addr).Msg("Metrics server failed")
		}
	}()
	log.Debug().Str("addr", cfg.Addr).Msg("Metrics server started")
	return nil
}

func (p *PrometheusMetrics) StopServer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.server.Shutdown(ctx)
	p.server = nil
}
