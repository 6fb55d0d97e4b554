// Package enforce is the side-effecting end of the pipeline and the single
// writer of the blocklist. A malicious decision flows through it in order:
// blocklist insertion, optional community report, alert fan-out.
package enforce

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// Config tunes block duration and alert filtering.
type Config struct {
	BlockTTL time.Duration

	// MinSeverity names the least severe reason kind that still alerts.
	// Decisions whose highest-severity reason ranks below it are blocked and
	// reported but not alerted.
	MinSeverity string
}

func DefaultConfig() Config {
	return Config{
		BlockTTL:    24 * time.Hour,
		MinSeverity: domain.ReasonHeuristic,
	}
}

// Service applies enforcement decisions. It is both the in-process Enforcer
// used by the tarpit's hop-overflow path and the handler behind the
// enforcement webhook.
type Service struct {
	store    ports.StateStore
	reporter *CommunityReporter
	alerters []ports.AlertSender
	severity domain.SeverityOrder
	cfg      Config
	metrics  *domain.DefenseMetrics
}

func NewService(store ports.StateStore, reporter *CommunityReporter, alerters []ports.AlertSender, severity domain.SeverityOrder, cfg Config, metrics *domain.DefenseMetrics) *Service {
	return &Service{
		store:    store,
		reporter: reporter,
		alerters: alerters,
		severity: severity,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Enforce blocks the source, then reports and alerts. The blocklist write is
// the only step whose failure propagates: reporting and alerting degrade to
// log entries, but a block that did not land must surface so the caller can
// retry.
func (s *Service) Enforce(ctx context.Context, dec *domain.Decision, meta *domain.RequestMetadata) error {
	if dec == nil || dec.SourceIP == "" {
		log.Warn().Msg("Enforcement request without source IP, skipping")
		return domain.ErrDecision
	}

	if err := s.store.AddBlock(ctx, dec.SourceIP, dec.ReasonSummary(), s.cfg.BlockTTL); err != nil {
		log.Error().Err(err).Str("ip", dec.SourceIP).Msg("Blocklist write failed")
		return err
	}
	s.metrics.IncBlocksAdded()
	log.Warn().
		Str("ip", dec.SourceIP).
		Dur("ttl", s.cfg.BlockTTL).
		Str("trigger", string(dec.Trigger)).
		Msg("Source blocked")

	if s.reporter != nil {
		if err := s.reporter.Report(ctx, dec, meta); err != nil {
			log.Error().Err(err).Str("ip", dec.SourceIP).Msg("Community report failed")
		}
	}

	s.alert(ctx, dec, meta)
	return nil
}

func (s *Service) alert(ctx context.Context, dec *domain.Decision, meta *domain.RequestMetadata) {
	if len(s.alerters) == 0 {
		return
	}
	if rank, min := s.severity.MaxRank(dec), s.severity.Rank(s.cfg.MinSeverity); rank < min {
		log.Debug().
			Str("ip", dec.SourceIP).
			Int("severity", rank).
			Int("min_severity", min).
			Msg("Alert suppressed below severity threshold")
		return
	}

	ev := domain.NewBlockEvent(dec, meta)
	for _, alerter := range s.alerters {
		if err := alerter.Send(ctx, ev); err != nil {
			log.Error().Err(err).Str("channel", alerter.Name()).Str("ip", dec.SourceIP).Msg("Alert dispatch failed")
			continue
		}
		s.metrics.IncAlertsSent()
	}
}

// webhookPayload is the enforcement webhook body: the decision plus the
// metadata that produced it.
type webhookPayload struct {
	Decision *domain.Decision        `json:"decision"`
	Metadata *domain.RequestMetadata `json:"metadata"`
}

// ServeHTTP accepts enforcement requests over HTTP. A landed block answers
// 202; a failed blocklist write answers 500 so the caller's retry policy
// kicks in.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Decision == nil {
		http.Error(w, `{"error":"invalid enforcement payload"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := s.Enforce(r.Context(), payload.Decision, payload.Metadata); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}
