package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
	"github.com/xoelrdgz/webtrap/pkg/ttlcache"
)

// ReputationConfig drives the optional external IP reputation lookup.
type ReputationConfig struct {
	URL    string
	APIKey string

	// Bonus is added to the score when the reputation service considers the
	// source malicious.
	Bonus float64

	// MinMalicious is the service-reported confidence at or above which the
	// source counts as malicious.
	MinMalicious float64

	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		Bonus:        0.3,
		MinMalicious: 50,
		Timeout:      10 * time.Second,
		CacheSize:    4096,
		CacheTTL:     15 * time.Minute,
	}
}

type repVerdict struct {
	malicious bool
	score     float64
}

// ReputationStep queries the configured reputation API with a short timeout.
// Verdicts are cached per IP so a scraping burst costs one upstream call,
// not one per page. Lookup failures skip the step.
type ReputationStep struct {
	client *http.Client
	cfg    ReputationConfig
	cache  *ttlcache.Cache[string, repVerdict]
}

func NewReputationStep(cfg ReputationConfig) *ReputationStep {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ReputationStep{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		cache:  ttlcache.New[string, repVerdict](cfg.CacheSize, cfg.CacheTTL),
	}
}

func (s *ReputationStep) Name() string { return "reputation" }

func (s *ReputationStep) Run(ctx context.Context, meta *domain.RequestMetadata, _ float64) ports.StepResult {
	verdict, ok := s.cache.Get(meta.SourceIP)
	if !ok {
		var err error
		verdict, err = s.lookup(ctx, meta.SourceIP)
		if err != nil {
			log.Warn().Err(err).Str("ip", meta.SourceIP).Msg("IP reputation lookup failed, step skipped")
			return ports.StepResult{Reasons: []domain.Reason{{
				Kind:   domain.ReasonReputation,
				Detail: "reputation lookup failed",
			}}}
		}
		s.cache.Set(meta.SourceIP, verdict)
	}

	if !verdict.malicious {
		return ports.StepResult{}
	}
	return ports.StepResult{
		Delta: s.cfg.Bonus,
		Reasons: []domain.Reason{{
			Kind:   domain.ReasonReputation,
			Detail: fmt.Sprintf("reputation score %.0f at or above threshold %.0f", verdict.score, s.cfg.MinMalicious),
		}},
	}
}

type reputationResponse struct {
	AbuseConfidenceScore *float64 `json:"abuseConfidenceScore"`
	Score                *float64 `json:"score"`
}

func (s *ReputationStep) lookup(ctx context.Context, ip string) (repVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return repVerdict{}, fmt.Errorf("%w: reputation url: %v", domain.ErrUpstream, err)
	}
	q := u.Query()
	q.Set("ipAddress", ip)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return repVerdict{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return repVerdict{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return repVerdict{}, fmt.Errorf("%w: reputation service returned %d", domain.ErrUpstream, resp.StatusCode)
	}

	var body reputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return repVerdict{}, fmt.Errorf("%w: decode reputation response: %v", domain.ErrUpstream, err)
	}

	score := 0.0
	switch {
	case body.AbuseConfidenceScore != nil:
		score = *body.AbuseConfidenceScore
	case body.Score != nil:
		score = *body.Score
	}
	return repVerdict{malicious: score >= s.cfg.MinMalicious, score: score}, nil
}
