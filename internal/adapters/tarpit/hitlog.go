package tarpit

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// HitLog appends one JSON line per tarpit hit to a size-rotated file. The
// archive feeds the offline corpus and model trainers, which are outside
// this process.
type HitLog struct {
	mu  sync.Mutex
	enc *json.Encoder
	out *lumberjack.Logger
}

type HitLogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

type hitRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	SourceIP  string            `json:"ip"`
	UserAgent string            `json:"user_agent,omitempty"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Referer   string            `json:"referer,omitempty"`
	Reasons   string            `json:"tarpit_reasons,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// NewHitLog returns nil when no path is configured; callers treat a nil log
// as disabled.
func NewHitLog(cfg HitLogConfig) *HitLog {
	if cfg.Path == "" {
		return nil
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	return &HitLog{enc: json.NewEncoder(out), out: out}
}

func (h *HitLog) Record(meta *domain.RequestMetadata, reasons string) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(hitRecord{
		Timestamp: meta.Timestamp,
		SourceIP:  meta.SourceIP,
		UserAgent: meta.UserAgent,
		Method:    meta.Method,
		Path:      meta.Path,
		Referer:   meta.Referer,
		Reasons:   reasons,
		Headers:   meta.Headers,
	})
}

func (h *HitLog) Close() error {
	if h == nil {
		return nil
	}
	return h.out.Close()
}
