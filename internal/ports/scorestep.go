package ports

import (
	"context"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// StepResult is one scoring step's contribution to a decision.
type StepResult struct {
	// Delta is added to the running score and clamped into [0,1].
	Delta float64

	// Reasons emitted by this step, appended to the decision.
	Reasons []domain.Reason

	// Terminal short-circuits the pipeline: the engine stops iterating and
	// takes Classification and Trigger from this result.
	Terminal       bool
	Classification domain.Classification
	Trigger        domain.Trigger
}

// ScoreStep is one stage of the escalation scoring pipeline. The engine
// iterates a fixed ordered list built at construction; steps disabled by
// configuration are simply absent from the list.
//
// Contract:
//   - MUST be safe for concurrent Run calls
//   - MUST bound any outbound I/O with the provided context
//   - MUST NOT modify the metadata except for attaching the shared
//     frequency sample (frequency step only)
//   - failures against optional services degrade to a skipped step with a
//     reason, never an error that aborts the pipeline
type ScoreStep interface {
	// Run evaluates the request. partial is the score accumulated by earlier
	// steps, letting band-gated steps (LLM) decide whether to engage.
	Run(ctx context.Context, meta *domain.RequestMetadata, partial float64) StepResult

	// Name returns the step identifier for logging and metrics.
	Name() string
}
