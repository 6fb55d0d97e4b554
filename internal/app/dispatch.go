// Package app wires configuration, the component runtime and the HTTP
// servers, and owns the background dispatch pool for enforcement hand-offs.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
)

// DispatcherConfig bounds the enforcement hand-off queue and its retry
// policy.
type DispatcherConfig struct {
	Workers   int
	QueueSize int

	// Attempts caps delivery tries per decision; Backoffs lists the pauses
	// between them.
	Attempts    int
	Backoffs    []time.Duration
	CallTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		QueueSize:   1024,
		Attempts:    3,
		Backoffs:    []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		CallTimeout: 10 * time.Second,
	}
}

type enforcementJob struct {
	decision *domain.Decision
	metadata *domain.RequestMetadata
}

// Dispatcher delivers malicious decisions to the enforcement service from a
// bounded queue so the scoring path never blocks on enforcement I/O. A full
// queue or exhausted retries drop the job with a counter bump; enforcement
// is best effort past the synchronous decision.
//
// Thread Safety: Submit is safe from any goroutine.
type Dispatcher struct {
	target  ports.Enforcer
	jobs    chan enforcementJob
	cfg     DispatcherConfig
	metrics *domain.DefenseMetrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
	running  bool
	mu       sync.RWMutex
}

func NewDispatcher(target ports.Enforcer, cfg DispatcherConfig, metrics *domain.DefenseMetrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Dispatcher{
		target:   target,
		jobs:     make(chan enforcementJob, cfg.QueueSize),
		cfg:      cfg,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	log.Info().Int("workers", d.cfg.Workers).Int("queue", d.cfg.QueueSize).Msg("Enforcement dispatcher started")
}

// Submit enqueues a decision without blocking. Returns false when the pool
// is stopped or the queue is full; the caller only logs, the decision itself
// already went back to the escalation caller.
func (d *Dispatcher) Submit(dec *domain.Decision, meta *domain.RequestMetadata) bool {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if !running {
		return false
	}

	select {
	case d.jobs <- enforcementJob{decision: dec, metadata: meta}:
		return true
	default:
		d.metrics.IncDispatchDropped()
		log.Warn().Str("ip", dec.SourceIP).Msg("Enforcement queue full, decision dropped")
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			d.deliver(ctx, job, id)
		}
	}
}

// deliver retries with the configured backoff schedule, then gives up loudly.
func (d *Dispatcher) deliver(ctx context.Context, job enforcementJob, worker int) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		if attempt > 0 {
			pause := d.cfg.Backoffs[min(attempt-1, len(d.cfg.Backoffs)-1)]
			select {
			case <-time.After(pause):
			case <-d.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		lastErr = d.target.Enforce(callCtx, job.decision, job.metadata)
		cancel()
		if lastErr == nil {
			return
		}
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("worker", worker).
			Str("ip", job.decision.SourceIP).
			Msg("Enforcement delivery failed")
	}

	d.metrics.IncDispatchDropped()
	log.Error().
		Err(lastErr).
		Str("ip", job.decision.SourceIP).
		Int("attempts", d.cfg.Attempts).
		Msg("Enforcement delivery abandoned after retries")
}

func (d *Dispatcher) QueueLength() int {
	return len(d.jobs)
}

// Stop drains nothing: pending jobs are abandoned, matching the bounded
// best-effort contract.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()

		close(d.stopChan)
		d.wg.Wait()
		log.Info().Msg("Enforcement dispatcher stopped")
	})
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
