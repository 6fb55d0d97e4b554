package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// CaptchaConfig is the verification-challenge trigger hook. Only the trigger
// is implemented here; serving the challenge belongs to the deployment.
type CaptchaConfig struct {
	Enabled         bool
	ThresholdLow    float64
	ThresholdHigh   float64
	VerificationURL string
}

// EngineConfig carries the decision thresholds.
type EngineConfig struct {
	// ThresholdLow: final scores below it classify benign.
	ThresholdLow float64
	// ThresholdHigh: final scores at or above it classify malicious.
	ThresholdHigh float64

	Captcha CaptchaConfig
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ThresholdLow:  0.2,
		ThresholdHigh: 0.5,
	}
}

// Dispatch receives malicious decisions for asynchronous enforcement
// hand-off. Implemented by the app-level dispatcher.
type Dispatch interface {
	Submit(dec *domain.Decision, meta *domain.RequestMetadata) bool
}

// Engine runs the ordered scoring pipeline and applies the decision rule.
// Steps disabled by configuration are omitted from the list at construction;
// the engine itself has no notion of optional stages.
type Engine struct {
	steps    []ports.ScoreStep
	cfg      EngineConfig
	severity domain.SeverityOrder
	dispatch Dispatch
	metrics  *domain.DefenseMetrics
}

func NewEngine(steps []ports.ScoreStep, cfg EngineConfig, severity domain.SeverityOrder, dispatch Dispatch, metrics *domain.DefenseMetrics) *Engine {
	return &Engine{
		steps:    steps,
		cfg:      cfg,
		severity: severity,
		dispatch: dispatch,
		metrics:  metrics,
	}
}

// Evaluate scores one request and returns the decision. Malicious decisions
// are also submitted for enforcement before returning.
func (e *Engine) Evaluate(ctx context.Context, meta *domain.RequestMetadata) *domain.Decision {
	e.metrics.IncEscalations()

	dec := &domain.Decision{
		SourceIP:  meta.SourceIP,
		Timestamp: time.Now().UTC(),
	}

	score := 0.0
	terminal := false
	for _, step := range e.steps {
		res := step.Run(ctx, meta, score)
		dec.Reasons = append(dec.Reasons, res.Reasons...)
		if res.Terminal {
			dec.Classification = res.Classification
			dec.Trigger = res.Trigger
			if res.Classification == domain.ClassificationMalicious {
				score = 1.0
			}
			terminal = true
			break
		}
		score = clamp01(score + res.Delta)
	}
	dec.Score = score

	if !terminal {
		switch {
		case score < e.cfg.ThresholdLow:
			dec.Classification = domain.ClassificationBenign
		case score >= e.cfg.ThresholdHigh:
			dec.Classification = domain.ClassificationMalicious
			dec.Trigger = e.inferTrigger(dec)
		default:
			dec.Classification = domain.ClassificationSuspicious
			if c := e.cfg.Captcha; c.Enabled && score >= c.ThresholdLow && score < c.ThresholdHigh {
				dec.ChallengeURL = c.VerificationURL
			}
		}
	}

	log.Info().
		Str("ip", meta.SourceIP).
		Float64("score", dec.Score).
		Str("classification", string(dec.Classification)).
		Str("trigger", string(dec.Trigger)).
		Int("reasons", len(dec.Reasons)).
		Msg("Escalation decision")

	if dec.Classification == domain.ClassificationMalicious {
		e.metrics.IncMalicious()
		if e.dispatch != nil && !e.dispatch.Submit(dec, meta) {
			log.Error().Str("ip", dec.SourceIP).Msg("Enforcement dispatch queue rejected decision")
		}
	}
	return dec
}

// inferTrigger names the stage that pushed a threshold verdict over the
// line: the highest-severity reason present. Frequency alone maps to the
// heuristic trigger, since frequency is not a trigger kind of its own.
func (e *Engine) inferTrigger(dec *domain.Decision) domain.Trigger {
	best := domain.TriggerHeuristic
	bestRank := -1
	for _, r := range dec.Reasons {
		if r.Kind == domain.ReasonFrequency {
			continue
		}
		if rank := e.severity.Rank(r.Kind); rank > bestRank {
			bestRank = rank
			best = domain.Trigger(r.Kind)
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
