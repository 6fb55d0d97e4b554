// Package edge implements the first-touch request filter: blocklist lookup,
// bad-agent rejection and header heuristics, with an internal path rewrite
// into the tarpit for requests that merely look automated.
package edge

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/pkg/scrub"
	"github.com/xoelrdgz/webtrap/pkg/uamatch"
)

const (
	// TarpitReasonHeader carries the triggered heuristics, semicolon
	// separated, into the tarpit handler.
	TarpitReasonHeader = "X-Tarpit-Reason"

	denyBody = "Access Denied."

	heuristicEmptyUA       = "empty_ua"
	heuristicNoAcceptLang  = "missing_accept_language"
	heuristicGenericAccept = "generic_accept"
)

// Config toggles the individual checks and names the tarpit mount point.
type Config struct {
	// BadAgents are substrings that cause an outright 403 when found in the
	// User-Agent, case-insensitively.
	BadAgents []string

	CheckEmptyUA           bool
	CheckMissingAcceptLang bool
	CheckGenericAccept     bool

	// RewritePath is the tarpit mount point; must end with "/".
	RewritePath string

	// ExemptPaths bypass the filter entirely (exact match). Internal
	// control endpoints live here so component-to-component posts are never
	// classified as bot traffic.
	ExemptPaths []string
}

func DefaultConfig() Config {
	return Config{
		BadAgents: []string{
			"GPTBot", "CCBot", "Bytespider", "ClaudeBot", "Google-Extended",
			"python-requests", "scrapy", "curl", "wget",
			"masscan", "zgrab", "nmap", "sqlmap",
		},
		CheckEmptyUA:           true,
		CheckMissingAcceptLang: true,
		CheckGenericAccept:     true,
		RewritePath:            "/anti-scrape-tarpit/",
	}
}

// blockReader is the slice of the state store the filter needs. Kept narrow
// so tests can fail lookups without a Redis instance.
type blockReader interface {
	IsBlocked(ctx context.Context, src string) (bool, error)
}

// Filter is the per-request classifier wrapped around the router. The checks
// run in strict order: blocklist, bad-agent match, header heuristics. State
// errors on the lookup fail open; the heuristics are pure and cannot fail.
type Filter struct {
	store   blockReader
	agents  *uamatch.Matcher
	exempt  map[string]bool
	cfg     Config
	metrics *domain.DefenseMetrics
}

func New(store blockReader, cfg Config, metrics *domain.DefenseMetrics) *Filter {
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}
	return &Filter{
		store:   store,
		agents:  uamatch.New(cfg.BadAgents),
		exempt:  exempt,
		cfg:     cfg,
		metrics: metrics,
	}
}

// Wrap returns the filter as middleware in front of next. Tarpit rewrites
// re-enter next with the mutated path, so next must be the router that has
// the tarpit mounted.
func (f *Filter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		f.metrics.IncRequestsSeen()

		src := SourceIP(r)
		if src == "" {
			log.Warn().Str("remote", r.RemoteAddr).Msg("Could not extract source IP, passing through")
			next.ServeHTTP(w, r)
			return
		}

		if blocked, err := f.store.IsBlocked(r.Context(), src); err != nil {
			log.Error().Err(err).Str("ip", src).Msg("Blocklist lookup failed, failing open")
		} else if blocked {
			f.deny(w)
			return
		}

		if pattern, ok := f.agents.FindFirst(r.UserAgent()); ok {
			log.Info().
				Str("ip", src).
				Str("ua", scrub.Header(r.UserAgent())).
				Str("pattern", pattern).
				Msg("Blocked bad agent")
			f.deny(w)
			return
		}

		// Requests already under the tarpit mount are past classification;
		// rewriting them again would stack the prefix.
		mount := strings.TrimSuffix(f.cfg.RewritePath, "/")
		inTarpit := r.URL.Path == mount || strings.HasPrefix(r.URL.Path, f.cfg.RewritePath)

		if reasons := f.heuristics(r); len(reasons) > 0 && !inTarpit {
			f.rewrite(w, r, next, src, reasons)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (f *Filter) heuristics(r *http.Request) []string {
	var reasons []string
	if f.cfg.CheckEmptyUA && strings.TrimSpace(r.UserAgent()) == "" {
		reasons = append(reasons, heuristicEmptyUA)
	}
	if f.cfg.CheckMissingAcceptLang && r.Header.Get("Accept-Language") == "" {
		reasons = append(reasons, heuristicNoAcceptLang)
	}
	if f.cfg.CheckGenericAccept && r.Header.Get("Accept") == "*/*" {
		reasons = append(reasons, heuristicGenericAccept)
	}
	return reasons
}

// rewrite sends the request back through the router under the tarpit mount,
// original path and query preserved.
func (f *Filter) rewrite(w http.ResponseWriter, r *http.Request, next http.Handler, src string, reasons []string) {
	f.metrics.IncTarpitRewrites()

	mount := strings.TrimSuffix(f.cfg.RewritePath, "/")
	reason := strings.Join(reasons, ";")

	log.Info().
		Str("ip", src).
		Str("path", scrub.Path(r.URL.Path)).
		Str("reason", reason).
		Msg("Rewriting request into tarpit")

	r2 := r.Clone(r.Context())
	r2.URL.Path = mount + r.URL.Path
	r2.Header.Set(TarpitReasonHeader, reason)

	next.ServeHTTP(w, r2)
}

func (f *Filter) deny(w http.ResponseWriter) {
	f.metrics.IncRequestsBlocked()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(denyBody))
}
