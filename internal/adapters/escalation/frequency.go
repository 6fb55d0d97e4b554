package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// FrequencyStep records the request in the source's sliding window and
// contributes a saturating score min(1, count/saturation). It runs first and
// attaches the sample to the metadata for the steps behind it.
type FrequencyStep struct {
	store      ports.StateStore
	window     time.Duration
	saturation int64
}

func NewFrequencyStep(store ports.StateStore, window time.Duration, saturation int64) *FrequencyStep {
	if saturation <= 0 {
		saturation = 60
	}
	return &FrequencyStep{store: store, window: window, saturation: saturation}
}

func (s *FrequencyStep) Name() string { return "frequency" }

func (s *FrequencyStep) Run(ctx context.Context, meta *domain.RequestMetadata, _ float64) ports.StepResult {
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	count, sinceLast, err := s.store.RecordRequest(ctx, meta.SourceIP, ts, s.window)
	if err != nil {
		log.Warn().Err(err).Str("ip", meta.SourceIP).Msg("Frequency tracking unavailable, step skipped")
		return ports.StepResult{Reasons: []domain.Reason{{
			Kind:   domain.ReasonFrequency,
			Detail: "frequency tracking unavailable",
		}}}
	}

	meta.Frequency = &domain.FreqSample{Count: count, SinceLast: sinceLast}

	delta := float64(count) / float64(s.saturation)
	if delta > 1 {
		delta = 1
	}

	var reasons []domain.Reason
	if delta > 0 {
		reasons = append(reasons, domain.Reason{
			Kind:   domain.ReasonFrequency,
			Detail: fmt.Sprintf("%d requests in %s window", count, s.window),
		})
	}
	return ports.StepResult{Delta: delta, Reasons: reasons}
}
