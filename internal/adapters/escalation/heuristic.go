package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
	"github.com/xoelrdgz/webtrap/pkg/uamatch"
)

// HeuristicWeights are the rule contributions. The known-bad weight is the
// dominant one; the rest nudge borderline traffic over or under the
// thresholds.
type HeuristicWeights struct {
	KnownBadUA     float64
	EmptyUA        float64
	DisallowedPath float64
	RapidRepeat    float64

	// RapidRepeatGap is the inter-request gap, in seconds, below which the
	// rapid-repeat weight applies.
	RapidRepeatGap float64
}

func DefaultHeuristicWeights() HeuristicWeights {
	return HeuristicWeights{
		KnownBadUA:     0.5,
		EmptyUA:        0.3,
		DisallowedPath: 0.4,
		RapidRepeat:    0.2,
		RapidRepeatGap: 0.3,
	}
}

// HeuristicStep applies the configured substring lists and rule weights.
// A known-benign crawler match terminates the pipeline as benign before any
// cost is spent on the heavier steps.
type HeuristicStep struct {
	bad     *uamatch.Matcher
	benign  *uamatch.Matcher
	robots  *RobotsRules
	weights HeuristicWeights
}

func NewHeuristicStep(bad, benign *uamatch.Matcher, robots *RobotsRules, weights HeuristicWeights) *HeuristicStep {
	return &HeuristicStep{bad: bad, benign: benign, robots: robots, weights: weights}
}

func (s *HeuristicStep) Name() string { return "heuristic" }

func (s *HeuristicStep) Run(_ context.Context, meta *domain.RequestMetadata, _ float64) ports.StepResult {
	ua := meta.UserAgent

	if pattern, ok := s.benign.FindFirst(ua); ok {
		return ports.StepResult{
			Terminal:       true,
			Classification: domain.ClassificationBenign,
			Trigger:        domain.TriggerHeuristic,
			Reasons: []domain.Reason{{
				Kind:   domain.ReasonHeuristic,
				Detail: fmt.Sprintf("known benign crawler (%s)", pattern),
			}},
		}
	}

	var (
		delta   float64
		reasons []domain.Reason
	)
	add := func(weight float64, detail string) {
		delta += weight
		reasons = append(reasons, domain.Reason{Kind: domain.ReasonHeuristic, Detail: detail})
	}

	if pattern, ok := s.bad.FindFirst(ua); ok {
		add(s.weights.KnownBadUA, fmt.Sprintf("known bad user agent (%s)", pattern))
	}
	if strings.TrimSpace(ua) == "" {
		add(s.weights.EmptyUA, "empty user agent")
	}
	if s.robots.Disallowed(meta.Path) {
		add(s.weights.DisallowedPath, "request into robots.txt disallowed path")
	}
	if f := meta.Frequency; f != nil && f.SinceLast >= 0 && f.SinceLast < s.weights.RapidRepeatGap {
		add(s.weights.RapidRepeat, fmt.Sprintf("rapid repeat (%.2fs since previous request)", f.SinceLast))
	}

	return ports.StepResult{Delta: delta, Reasons: reasons}
}
