package domain

import (
	"sync/atomic"
	"time"
)

// DefenseMetrics is the process-wide counter set shared by all components.
// Prometheus gauges read from it via the output adapter.
type DefenseMetrics struct {
	requestsSeen    atomic.Int64
	requestsBlocked atomic.Int64
	tarpitRewrites  atomic.Int64
	tarpitHits      atomic.Int64
	hopLimitBlocks  atomic.Int64
	escalations     atomic.Int64
	malicious       atomic.Int64
	blocksAdded     atomic.Int64
	alertsSent      atomic.Int64
	dispatchDropped atomic.Int64

	StartTime time.Time
}

type MetricsSnapshot struct {
	RequestsSeen    int64
	RequestsBlocked int64
	TarpitRewrites  int64
	TarpitHits      int64
	HopLimitBlocks  int64
	Escalations     int64
	Malicious       int64
	BlocksAdded     int64
	AlertsSent      int64
	DispatchDropped int64
	Uptime          time.Duration
}

func NewDefenseMetrics() *DefenseMetrics {
	return &DefenseMetrics{StartTime: time.Now()}
}

func (m *DefenseMetrics) IncRequestsSeen()    { m.requestsSeen.Add(1) }
func (m *DefenseMetrics) IncRequestsBlocked() { m.requestsBlocked.Add(1) }
func (m *DefenseMetrics) IncTarpitRewrites()  { m.tarpitRewrites.Add(1) }
func (m *DefenseMetrics) IncTarpitHits()      { m.tarpitHits.Add(1) }
func (m *DefenseMetrics) IncHopLimitBlocks()  { m.hopLimitBlocks.Add(1) }
func (m *DefenseMetrics) IncEscalations()     { m.escalations.Add(1) }
func (m *DefenseMetrics) IncMalicious()       { m.malicious.Add(1) }
func (m *DefenseMetrics) IncBlocksAdded()     { m.blocksAdded.Add(1) }
func (m *DefenseMetrics) IncAlertsSent()      { m.alertsSent.Add(1) }
func (m *DefenseMetrics) IncDispatchDropped() { m.dispatchDropped.Add(1) }

func (m *DefenseMetrics) RequestsSeen() int64    { return m.requestsSeen.Load() }
func (m *DefenseMetrics) TarpitHits() int64      { return m.tarpitHits.Load() }
func (m *DefenseMetrics) DispatchDropped() int64 { return m.dispatchDropped.Load() }

func (m *DefenseMetrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestsSeen:    m.requestsSeen.Load(),
		RequestsBlocked: m.requestsBlocked.Load(),
		TarpitRewrites:  m.tarpitRewrites.Load(),
		TarpitHits:      m.tarpitHits.Load(),
		HopLimitBlocks:  m.hopLimitBlocks.Load(),
		Escalations:     m.escalations.Load(),
		Malicious:       m.malicious.Load(),
		BlocksAdded:     m.blocksAdded.Load(),
		AlertsSent:      m.alertsSent.Load(),
		DispatchDropped: m.dispatchDropped.Load(),
		Uptime:          time.Since(m.StartTime),
	}
}
