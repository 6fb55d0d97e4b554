package domain

import (
	"fmt"
	"time"
)

type Classification string

const (
	ClassificationBenign     Classification = "benign"
	ClassificationSuspicious Classification = "suspicious"
	ClassificationMalicious  Classification = "malicious"
)

// Trigger identifies which stage of the pipeline forced a decision.
type Trigger string

const (
	TriggerHeuristic  Trigger = "heuristic"
	TriggerModel      Trigger = "model"
	TriggerReputation Trigger = "reputation"
	TriggerLLM        Trigger = "llm"
	TriggerHopLimit   Trigger = "hop_limit"
)

// Reason kinds. Every reason a scoring step emits carries one of these so the
// enforcement service can rank them for alert filtering.
const (
	ReasonFrequency  = "frequency"
	ReasonHeuristic  = "heuristic"
	ReasonModel      = "model"
	ReasonReputation = "reputation"
	ReasonLLM        = "llm"
	ReasonHopLimit   = "hop_limit"
)

type Reason struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (r Reason) String() string {
	return r.Kind + ": " + r.Detail
}

// Decision is the outcome of scoring one request.
type Decision struct {
	SourceIP       string         `json:"ip"`
	Score          float64        `json:"score"`
	Reasons        []Reason       `json:"reasons"`
	Classification Classification `json:"classification"`
	Trigger        Trigger        `json:"trigger,omitempty"`
	ChallengeURL   string         `json:"challenge_url,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// HopLimitDecision builds the decision recorded when a source exceeds the
// tarpit hop budget. The hop path skips scoring entirely, so the decision is
// synthesized at full score.
func HopLimitDecision(sourceIP string, hops, maxHops int64, window time.Duration) *Decision {
	return &Decision{
		SourceIP:       sourceIP,
		Score:          1.0,
		Classification: ClassificationMalicious,
		Trigger:        TriggerHopLimit,
		Timestamp:      time.Now().UTC(),
		Reasons: []Reason{{
			Kind:   ReasonHopLimit,
			Detail: fmt.Sprintf("tarpit hop limit exceeded (%d hits, max %d in %s)", hops, maxHops, window),
		}},
	}
}

// ReasonSummary flattens the reasons into one string for block records.
func (d *Decision) ReasonSummary() string {
	if len(d.Reasons) == 0 {
		return string(d.Classification)
	}
	s := d.Reasons[0].String()
	for _, r := range d.Reasons[1:] {
		s += "; " + r.String()
	}
	return s
}

// BlockEvent is the alert payload fanned out when a source is blocked.
type BlockEvent struct {
	Event     string    `json:"event"`
	SourceIP  string    `json:"src"`
	Reasons   []Reason  `json:"reasons"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"ts"`
	UserAgent string    `json:"user_agent,omitempty"`
	Path      string    `json:"path,omitempty"`
}

func NewBlockEvent(dec *Decision, meta *RequestMetadata) *BlockEvent {
	ev := &BlockEvent{
		Event:     "ip_blocked",
		SourceIP:  dec.SourceIP,
		Reasons:   dec.Reasons,
		Score:     dec.Score,
		Timestamp: time.Now().UTC(),
	}
	if meta != nil {
		ev.UserAgent = meta.UserAgent
		ev.Path = meta.Path
	}
	return ev
}
