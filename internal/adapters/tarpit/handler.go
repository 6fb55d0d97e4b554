package tarpit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/adapters/edge"
	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
	"github.com/xoelrdgz/webtrap/pkg/scrub"
)

const metadataOrigin = "tarpit"

// Config tunes hop accounting, pacing and the escalation hand-off.
type Config struct {
	// MaxHops is the per-source page budget inside HopWindow; 0 disables the
	// limit. Exceeding it blocks the source.
	MaxHops   int64
	HopWindow time.Duration

	// FlagTTL marks a source as a recent tarpit visitor.
	FlagTTL time.Duration

	MinDelay time.Duration
	MaxDelay time.Duration

	// EscalateURL receives request metadata, fire and forget.
	EscalateURL     string
	EscalateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHops:         250,
		HopWindow:       24 * time.Hour,
		FlagTTL:         5 * time.Minute,
		MinDelay:        600 * time.Millisecond,
		MaxDelay:        1200 * time.Millisecond,
		EscalateTimeout: 5 * time.Second,
	}
}

// Handler serves everything under the tarpit mount. Per hit: count the hop,
// flag the visitor, hand metadata to the escalation engine, then stream a
// generated page slowly. Hop overflow short-circuits into an enforcement
// call and a plain 403.
type Handler struct {
	store    ports.StateStore
	gen      *Generator
	enforcer ports.Enforcer
	hits     *HitLog
	client   *http.Client
	cfg      Config
	metrics  *domain.DefenseMetrics
}

func NewHandler(store ports.StateStore, gen *Generator, enforcer ports.Enforcer, hits *HitLog, cfg Config, metrics *domain.DefenseMetrics) *Handler {
	return &Handler{
		store:    store,
		gen:      gen,
		enforcer: enforcer,
		hits:     hits,
		client:   &http.Client{Timeout: cfg.EscalateTimeout},
		cfg:      cfg,
		metrics:  metrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.IncTarpitHits()

	src := edge.SourceIP(r)
	meta := domain.NewRequestMetadata(r, src, metadataOrigin)
	reasons := r.Header.Get(edge.TarpitReasonHeader)

	log.Info().
		Str("ip", src).
		Str("path", scrub.Path(r.URL.Path)).
		Str("ua", scrub.Header(meta.UserAgent)).
		Msg("Tarpit hit")

	// Hop accounting first: the increment must be observed before any
	// decision to block on overflow.
	if h.cfg.MaxHops > 0 && src != "" {
		hops, err := h.store.IncrHops(r.Context(), src, h.cfg.HopWindow)
		if err != nil {
			log.Error().Err(err).Str("ip", src).Msg("Hop counter increment failed")
		} else if hops > h.cfg.MaxHops {
			h.blockOverflow(r.Context(), w, src, hops, meta)
			return
		}
	}

	if err := h.hits.Record(meta, reasons); err != nil {
		log.Error().Err(err).Msg("Failed to record tarpit hit")
	}

	// The visit flag is set before the escalation post goes out, so the
	// engine always observes a flagged source.
	if src != "" {
		if err := h.store.FlagTarpit(r.Context(), src, h.cfg.FlagTTL); err != nil {
			log.Error().Err(err).Str("ip", src).Msg("Failed to flag tarpit visitor")
		}
	}
	h.escalate(meta)

	page, err := h.gen.Page(r.Context(), r.URL.Path)
	if err != nil {
		log.Error().Err(err).Str("path", scrub.Path(r.URL.Path)).Msg("Page generation failed, serving fallback")
		page = fallbackBody
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	streamSlow(r, w, page, h.cfg.MinDelay, h.cfg.MaxDelay)
}

// blockOverflow asks the enforcement service to block the source. The
// blocklist write stays with the enforcement service; the tarpit never
// touches blocklist keys itself.
func (h *Handler) blockOverflow(ctx context.Context, w http.ResponseWriter, src string, hops int64, meta *domain.RequestMetadata) {
	h.metrics.IncHopLimitBlocks()

	dec := domain.HopLimitDecision(src, hops, h.cfg.MaxHops, h.cfg.HopWindow)
	log.Warn().
		Str("ip", src).
		Int64("hops", hops).
		Int64("max_hops", h.cfg.MaxHops).
		Msg("Tarpit hop limit exceeded, requesting block")

	if err := h.enforcer.Enforce(ctx, dec, meta); err != nil {
		log.Error().Err(err).Str("ip", src).Msg("Hop overflow enforcement failed")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("Access Denied."))
}

// escalate posts the request metadata to the escalation engine in the
// background. Failures are logged, never retried; the stream must not wait.
func (h *Handler) escalate(meta *domain.RequestMetadata) {
	if h.cfg.EscalateURL == "" {
		return
	}
	go func() {
		payload, err := json.Marshal(meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode escalation metadata")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EscalateTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.EscalateURL, bytes.NewReader(payload))
		if err != nil {
			log.Error().Err(err).Msg("Failed to build escalation request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			log.Error().Err(err).Str("ip", meta.SourceIP).Msg("Escalation post failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Warn().Int("status", resp.StatusCode).Str("ip", meta.SourceIP).Msg("Escalation post rejected")
		}
	}()
}
