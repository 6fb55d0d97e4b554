package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// Model is the persisted classifier artifact: a logistic model exported by
// the offline training pipeline as matched feature/weight lists plus a bias.
type Model struct {
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

// LoadModel reads and validates the artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if len(m.Features) == 0 || len(m.Features) != len(m.Weights) {
		return nil, fmt.Errorf("model artifact %s: %d features vs %d weights", path, len(m.Features), len(m.Weights))
	}
	return &m, nil
}

// Predict returns the positive-class probability for the feature vector.
// Features the model does not know are ignored; features it expects but the
// vector lacks contribute zero.
func (m *Model) Predict(features map[string]float64) float64 {
	z := m.Bias
	for i, name := range m.Features {
		z += m.Weights[i] * features[name]
	}
	return 1 / (1 + math.Exp(-z))
}

// ClassifierStep feeds the extracted feature vector through the loaded model
// and contributes the weighted positive-class probability. A missing model
// turns the step into a no-op that notes itself in the reasons.
type ClassifierStep struct {
	model     *Model
	weight    float64
	extractor *FeatureExtractor
}

func NewClassifierStep(model *Model, weight float64, extractor *FeatureExtractor) *ClassifierStep {
	if weight <= 0 {
		weight = 0.6
	}
	return &ClassifierStep{model: model, weight: weight, extractor: extractor}
}

func (s *ClassifierStep) Name() string { return "classifier" }

func (s *ClassifierStep) Run(_ context.Context, meta *domain.RequestMetadata, _ float64) ports.StepResult {
	if s.model == nil {
		return ports.StepResult{Reasons: []domain.Reason{{
			Kind:   domain.ReasonModel,
			Detail: "classifier unavailable, step skipped",
		}}}
	}

	features := s.extractor.extract(meta)
	probability := s.model.Predict(features)

	log.Debug().
		Str("ip", meta.SourceIP).
		Float64("probability", probability).
		Msg("Classifier inference")

	return ports.StepResult{
		Delta: s.weight * probability,
		Reasons: []domain.Reason{{
			Kind:   domain.ReasonModel,
			Detail: fmt.Sprintf("classifier probability %.3f", probability),
		}},
	}
}
