package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// LLMConfig drives the optional language-model classification step.
type LLMConfig struct {
	URL     string
	Model   string
	Token   string
	Timeout time.Duration

	// BandLow/BandHigh bound the partial-score band in which the step runs;
	// clearly benign or clearly malicious traffic never pays the call.
	BandLow  float64
	BandHigh float64
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Timeout:  45 * time.Second,
		BandLow:  0.2,
		BandHigh: 0.5,
	}
}

// LLMStep asks a configured completion endpoint to classify borderline
// requests. A confident answer terminates the pipeline; anything else is a
// skipped step.
type LLMStep struct {
	client *http.Client
	cfg    LLMConfig
}

func NewLLMStep(cfg LLMConfig) *LLMStep {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &LLMStep{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (s *LLMStep) Name() string { return "llm" }

const llmPromptFormat = `Classify the following request as MALICIOUS_BOT, BENIGN_CRAWLER, or HUMAN. Respond ONLY with the classification.
Request: IP=%s, UA=%s, Path=%s, Referer=%s`

type llmRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type llmResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Content string `json:"content"`
}

func (s *LLMStep) Run(ctx context.Context, meta *domain.RequestMetadata, partial float64) ports.StepResult {
	if partial < s.cfg.BandLow || partial >= s.cfg.BandHigh {
		return ports.StepResult{}
	}

	answer, err := s.classify(ctx, meta)
	if err != nil {
		log.Warn().Err(err).Str("ip", meta.SourceIP).Msg("LLM classification failed, step skipped")
		return ports.StepResult{Reasons: []domain.Reason{{
			Kind:   domain.ReasonLLM,
			Detail: "llm classification unavailable",
		}}}
	}

	switch {
	case strings.Contains(answer, "MALICIOUS_BOT"):
		return ports.StepResult{
			Terminal:       true,
			Classification: domain.ClassificationMalicious,
			Trigger:        domain.TriggerLLM,
			Reasons: []domain.Reason{{
				Kind:   domain.ReasonLLM,
				Detail: "llm classified request as malicious bot",
			}},
		}
	case strings.Contains(answer, "HUMAN"), strings.Contains(answer, "BENIGN_CRAWLER"):
		return ports.StepResult{
			Terminal:       true,
			Classification: domain.ClassificationBenign,
			Trigger:        domain.TriggerLLM,
			Reasons: []domain.Reason{{
				Kind:   domain.ReasonLLM,
				Detail: "llm classified request as benign",
			}},
		}
	default:
		log.Warn().Str("ip", meta.SourceIP).Str("answer", answer).Msg("Unexpected LLM classification")
		return ports.StepResult{Reasons: []domain.Reason{{
			Kind:   domain.ReasonLLM,
			Detail: "llm answer inconclusive",
		}}}
	}
}

func (s *LLMStep) classify(ctx context.Context, meta *domain.RequestMetadata) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(llmPromptFormat, meta.SourceIP, meta.UserAgent, meta.Path, meta.Referer)
	payload, err := json.Marshal(llmRequest{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: llm endpoint returned %d", domain.ErrUpstream, resp.StatusCode)
	}

	var body llmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode llm response: %v", domain.ErrUpstream, err)
	}
	answer := body.Content
	if len(body.Choices) > 0 {
		answer = body.Choices[0].Text
	}
	return strings.ToUpper(strings.TrimSpace(answer)), nil
}
