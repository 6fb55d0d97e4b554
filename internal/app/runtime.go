package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/adapters/edge"
	"github.com/xoelrdgz/webtrap/internal/adapters/enforce"
	"github.com/xoelrdgz/webtrap/internal/adapters/escalation"
	"github.com/xoelrdgz/webtrap/internal/adapters/state"
	"github.com/xoelrdgz/webtrap/internal/adapters/tarpit"
	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/internal/ports"
	"github.com/xoelrdgz/webtrap/internal/secrets"
	"github.com/xoelrdgz/webtrap/pkg/uamatch"
)

// Runtime is the explicit composition root: every component receives its
// collaborators here, at startup, and nothing reaches for ambient globals
// beyond the shared store client it is handed.
type Runtime struct {
	Cfg     *Config
	Metrics *domain.DefenseMetrics

	Store  ports.StateStore
	Markov ports.MarkovSource

	Filter      *edge.Filter
	Tarpit      *tarpit.Handler
	HitLog      *tarpit.HitLog
	Escalation  *escalation.Handler
	Enforcement *enforce.Service
	Dispatcher  *Dispatcher
}

// NewRuntime builds the full pipeline. Startup is fail-fast: an unreachable
// state store or a missing required model artifact is fatal; optional
// collaborators degrade with a warning.
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	metrics := domain.NewDefenseMetrics()
	sec := secrets.NewStore(cfg.Secrets.Dir)

	store := state.New(state.Config{
		Addr:        cfg.Redis.Addr,
		Password:    sec.LoadOptional(cfg.Redis.PasswordFile),
		DBFlags:     cfg.Redis.DBFlags,
		DBBlocklist: cfg.Redis.DBBlocklist,
		DBFrequency: cfg.Redis.DBFrequency,
		DBHops:      cfg.Redis.DBHops,
		OpTimeout:   cfg.RedisOpTimeout(),
	})
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("state store unreachable at startup: %w", err)
	}

	var markov ports.MarkovSource
	if cfg.Markov.Enabled {
		model, err := tarpit.OpenPostgres(ctx, tarpit.MarkovConfig{
			Host:     cfg.Markov.Host,
			Port:     cfg.Markov.Port,
			Database: cfg.Markov.Database,
			User:     cfg.Markov.User,
			Password: sec.LoadOptional(cfg.Markov.PasswordFile),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Markov store unavailable, tarpit serves fallback pages")
		} else {
			markov = model
		}
	}

	// Enforcement first: both the tarpit and the dispatcher point at it.
	enforcement, err := buildEnforcement(cfg, sec, store, metrics)
	if err != nil {
		return nil, err
	}

	// The escalation engine hands malicious verdicts to the dispatcher,
	// which posts to the enforcement webhook when one is configured and
	// short-circuits in-process otherwise.
	var target ports.Enforcer = enforcement
	if cfg.Escalation.WebhookURL != "" {
		target = enforce.NewClient(cfg.Escalation.WebhookURL, secondsToDuration(cfg.Escalation.WebhookTimeoutSec))
	}
	dispatcher := NewDispatcher(target, DispatcherConfig{
		Workers:     cfg.Escalation.DispatchWorkers,
		QueueSize:   cfg.Escalation.DispatchQueueSize,
		Attempts:    3,
		Backoffs:    []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		CallTimeout: secondsToDuration(cfg.Escalation.WebhookTimeoutSec),
	}, metrics)

	engine, err := buildEngine(cfg, sec, store, dispatcher, metrics)
	if err != nil {
		return nil, err
	}

	hitLog := tarpit.NewHitLog(tarpit.HitLogConfig{
		Path:       cfg.Tarpit.HitLogPath,
		MaxSizeMB:  cfg.Tarpit.HitLogMaxSizeMB,
		MaxBackups: cfg.Tarpit.HitLogMaxBackups,
	})

	generator := tarpit.NewGenerator(markov, cfg.Tarpit.SystemSeed)
	tarpitHandler := tarpit.NewHandler(store, generator, enforcement, hitLog, tarpit.Config{
		MaxHops:         cfg.Tarpit.MaxHops,
		HopWindow:       time.Duration(cfg.Tarpit.HopWindowSeconds) * time.Second,
		FlagTTL:         time.Duration(cfg.Tarpit.FlagTTLSeconds) * time.Second,
		MinDelay:        secondsToDuration(cfg.Tarpit.MinDelaySec),
		MaxDelay:        secondsToDuration(cfg.Tarpit.MaxDelaySec),
		EscalateURL:     escalateURL(cfg),
		EscalateTimeout: 5 * time.Second,
	}, metrics)

	filter := edge.New(store, edge.Config{
		BadAgents:              cfg.Edge.BadAgents,
		CheckEmptyUA:           cfg.Edge.CheckEmptyUA,
		CheckMissingAcceptLang: cfg.Edge.CheckMissingAcceptLang,
		CheckGenericAccept:     cfg.Edge.CheckGenericAccept,
		RewritePath:            cfg.Tarpit.RewritePath,
		ExemptPaths:            []string{"/health", "/escalate", "/analyze"},
	}, metrics)

	return &Runtime{
		Cfg:         cfg,
		Metrics:     metrics,
		Store:       store,
		Markov:      markov,
		Filter:      filter,
		Tarpit:      tarpitHandler,
		HitLog:      hitLog,
		Escalation:  escalation.NewHandler(engine),
		Enforcement: enforcement,
		Dispatcher:  dispatcher,
	}, nil
}

// escalateURL points the tarpit's hand-off at this process's own escalation
// endpoint, derived from server.listen; an empty listen address disables the
// hand-off.
func escalateURL(cfg *Config) string {
	listen := cfg.Server.Listen
	if listen == "" {
		return ""
	}
	host := listen
	if host[0] == ':' {
		host = "127.0.0.1" + host
	}
	return "http://" + host + "/escalate"
}

func buildEngine(cfg *Config, sec *secrets.Store, store ports.StateStore, dispatcher *Dispatcher, metrics *domain.DefenseMetrics) (*escalation.Engine, error) {
	bad := uamatch.New(cfg.Escalation.KnownBadUAs)
	benign := uamatch.New(cfg.Escalation.KnownBenignUAs)
	robots := escalation.LoadRobotsRules(cfg.Escalation.RobotsTxtPath)

	var model *escalation.Model
	if cfg.Escalation.ModelPath != "" {
		var err error
		model, err = escalation.LoadModel(cfg.Escalation.ModelPath)
		if err != nil {
			if cfg.Escalation.ModelRequired {
				return nil, fmt.Errorf("required classifier artifact: %w", err)
			}
			log.Warn().Err(err).Str("path", cfg.Escalation.ModelPath).Msg("Classifier artifact unavailable, scoring without it")
		}
	} else if cfg.Escalation.ModelRequired {
		return nil, fmt.Errorf("required classifier artifact: no path configured")
	}

	window := time.Duration(cfg.Escalation.FrequencyWindowSec) * time.Second

	steps := []ports.ScoreStep{
		escalation.NewFrequencyStep(store, window, cfg.Escalation.FrequencySaturation),
		escalation.NewHeuristicStep(bad, benign, robots, escalation.DefaultHeuristicWeights()),
		escalation.NewClassifierStep(model, cfg.Escalation.ModelWeight, escalation.NewFeatureExtractor(bad, benign, robots)),
	}
	if cfg.Escalation.ReputationEnabled {
		rep := escalation.DefaultReputationConfig()
		rep.URL = cfg.Escalation.ReputationURL
		rep.APIKey = sec.LoadOptional(cfg.Escalation.ReputationAPIKeyFile)
		rep.Bonus = cfg.Escalation.ReputationBonus
		rep.MinMalicious = cfg.Escalation.ReputationMinMalicious
		rep.Timeout = secondsToDuration(cfg.Escalation.ReputationTimeoutSec)
		steps = append(steps, escalation.NewReputationStep(rep))
	}
	if cfg.Escalation.LLMEnabled {
		steps = append(steps, escalation.NewLLMStep(escalation.LLMConfig{
			URL:      cfg.Escalation.LLMURL,
			Model:    cfg.Escalation.LLMModel,
			Token:    sec.LoadOptional(cfg.Escalation.LLMTokenFile),
			Timeout:  secondsToDuration(cfg.Escalation.LLMTimeoutSec),
			BandLow:  cfg.Escalation.ThresholdLow,
			BandHigh: cfg.Escalation.ThresholdHigh,
		}))
	}

	severity := domain.NewSeverityOrder(cfg.Enforce.SeverityOrder)
	return escalation.NewEngine(steps, escalation.EngineConfig{
		ThresholdLow:  cfg.Escalation.ThresholdLow,
		ThresholdHigh: cfg.Escalation.ThresholdHigh,
		Captcha: escalation.CaptchaConfig{
			Enabled:         cfg.Escalation.CaptchaEnabled,
			ThresholdLow:    cfg.Escalation.CaptchaThresholdLow,
			ThresholdHigh:   cfg.Escalation.CaptchaThresholdHigh,
			VerificationURL: cfg.Escalation.CaptchaVerificationURL,
		},
	}, severity, dispatcher, metrics), nil
}

func buildEnforcement(cfg *Config, sec *secrets.Store, store ports.StateStore, metrics *domain.DefenseMetrics) (*enforce.Service, error) {
	var reporter *enforce.CommunityReporter
	if cfg.Enforce.CommunityEnabled {
		key := sec.LoadOptional(cfg.Enforce.CommunityAPIKeyFile)
		if key == "" {
			log.Warn().Msg("Community reporting enabled without an API key, reports may be rejected")
		}
		reporter = enforce.NewCommunityReporter(cfg.Enforce.CommunityURL, key, secondsToDuration(cfg.Enforce.CommunityTimeoutSec))
	}

	var alerters []ports.AlertSender
	switch cfg.Enforce.AlertMethod {
	case "webhook":
		alerters = append(alerters, enforce.NewWebhookAlerter(cfg.Enforce.AlertWebhookURL))
	case "slack":
		alerters = append(alerters, enforce.NewSlackAlerter(cfg.Enforce.AlertSlackWebhookURL))
	case "smtp":
		smtpAlerter, err := enforce.NewSMTPAlerter(enforce.SMTPConfig{
			Host:     cfg.Enforce.SMTPHost,
			Port:     cfg.Enforce.SMTPPort,
			User:     cfg.Enforce.SMTPUser,
			Password: sec.LoadOptional(cfg.Enforce.SMTPPasswordFile),
			StartTLS: cfg.Enforce.SMTPStartTLS,
			From:     cfg.Enforce.EmailFrom,
			To:       cfg.Enforce.EmailTo,
		})
		if err != nil {
			return nil, err
		}
		alerters = append(alerters, smtpAlerter)
	}

	severity := domain.NewSeverityOrder(cfg.Enforce.SeverityOrder)
	return enforce.NewService(store, reporter, alerters, severity, enforce.Config{
		BlockTTL:    time.Duration(cfg.Blocklist.TTLSeconds) * time.Second,
		MinSeverity: cfg.Enforce.AlertMinSeverity,
	}, metrics), nil
}

// Start launches the background dispatcher.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Dispatcher.Start(ctx)
}

// Close releases resources in reverse dependency order.
func (rt *Runtime) Close() {
	rt.Dispatcher.Stop()
	if err := rt.HitLog.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing tarpit hit log")
	}
	if rt.Markov != nil {
		if err := rt.Markov.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing markov store")
		}
	}
	if err := rt.Store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing state store")
	}
}
