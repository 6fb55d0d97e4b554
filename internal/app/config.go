package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration blob, loaded once at startup. Hot reload
// is deliberately absent: the pipeline's shared-state discipline assumes a
// fixed topology per process lifetime.
type Config struct {
	Server struct {
		Listen        string
		MetricsListen string
	}
	Logging struct {
		Level string
	}
	Secrets struct {
		Dir string
	}
	Redis struct {
		Addr         string
		PasswordFile string
		DBFlags      int
		DBBlocklist  int
		DBFrequency  int
		DBHops       int
		TimeoutSec   float64
	}
	Markov struct {
		Enabled      bool
		Host         string
		Port         int
		Database     string
		User         string
		PasswordFile string
	}
	Edge struct {
		BadAgents              []string
		CheckEmptyUA           bool
		CheckMissingAcceptLang bool
		CheckGenericAccept     bool
	}
	Tarpit struct {
		RewritePath      string
		SystemSeed       string
		MinDelaySec      float64
		MaxDelaySec      float64
		MaxHops          int64
		HopWindowSeconds int64
		FlagTTLSeconds   int64
		HitLogPath       string
		HitLogMaxSizeMB  int
		HitLogMaxBackups int
	}
	Blocklist struct {
		TTLSeconds int64
	}
	Escalation struct {
		FrequencyWindowSec  int64
		FrequencySaturation int64
		KnownBadUAs         []string
		KnownBenignUAs      []string
		ThresholdLow        float64
		ThresholdHigh       float64
		RobotsTxtPath       string

		ModelPath     string
		ModelWeight   float64
		ModelRequired bool

		ReputationEnabled      bool
		ReputationURL          string
		ReputationAPIKeyFile   string
		ReputationTimeoutSec   float64
		ReputationBonus        float64
		ReputationMinMalicious float64

		LLMEnabled    bool
		LLMURL        string
		LLMModel      string
		LLMTokenFile  string
		LLMTimeoutSec float64

		CaptchaEnabled         bool
		CaptchaThresholdLow    float64
		CaptchaThresholdHigh   float64
		CaptchaVerificationURL string

		WebhookURL        string
		WebhookTimeoutSec float64
		DispatchWorkers   int
		DispatchQueueSize int
	}
	Enforce struct {
		CommunityEnabled    bool
		CommunityURL        string
		CommunityAPIKeyFile string
		CommunityTimeoutSec float64

		AlertMethod      string
		AlertMinSeverity string
		SeverityOrder    []string

		AlertWebhookURL      string
		AlertSlackWebhookURL string

		SMTPHost         string
		SMTPPort         int
		SMTPUser         string
		SMTPPasswordFile string
		SMTPStartTLS     bool
		EmailTo          []string
		EmailFrom        string
	}
}

// SetDefaults registers every known key with its default so a bare
// deployment starts with the documented behavior.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_listen", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("secrets.dir", "/run/secrets")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password_file", "redis_password.txt")
	v.SetDefault("redis.db_flags", 1)
	v.SetDefault("redis.db_blocklist", 2)
	v.SetDefault("redis.db_frequency", 3)
	v.SetDefault("redis.db_hops", 4)
	v.SetDefault("redis.timeout_sec", 1.0)

	v.SetDefault("markov.enabled", true)
	v.SetDefault("markov.host", "localhost")
	v.SetDefault("markov.port", 5432)
	v.SetDefault("markov.database", "markovdb")
	v.SetDefault("markov.user", "markovuser")
	v.SetDefault("markov.password_file", "pg_password.txt")

	v.SetDefault("edge.bad_agents", []string{
		"GPTBot", "CCBot", "Bytespider", "ClaudeBot", "Google-Extended",
		"python-requests", "scrapy", "curl", "wget",
		"masscan", "zgrab", "nmap", "sqlmap",
	})
	v.SetDefault("edge.check_empty_ua", true)
	v.SetDefault("edge.check_missing_accept_language", true)
	v.SetDefault("edge.check_generic_accept", true)

	v.SetDefault("tarpit.rewrite_path", "/anti-scrape-tarpit/")
	v.SetDefault("tarpit.system_seed", "")
	v.SetDefault("tarpit.min_delay_sec", 0.6)
	v.SetDefault("tarpit.max_delay_sec", 1.2)
	v.SetDefault("tarpit.max_hops", 250)
	v.SetDefault("tarpit.hop_window_seconds", 86400)
	v.SetDefault("tarpit.flag_ttl_seconds", 300)
	v.SetDefault("tarpit.hit_log.path", "")
	v.SetDefault("tarpit.hit_log.max_size_mb", 50)
	v.SetDefault("tarpit.hit_log.max_backups", 5)

	v.SetDefault("blocklist.ttl_seconds", 86400)

	v.SetDefault("escalation.frequency_window_sec", 300)
	v.SetDefault("escalation.frequency_saturation", 60)
	v.SetDefault("escalation.known_bad_uas", []string{
		"python-requests", "curl", "wget", "scrapy", "java/",
		"ahrefsbot", "semrushbot", "mj12bot", "dotbot", "petalbot",
		"bytespider", "gptbot", "ccbot", "claude-web", "google-extended",
		"dataprovider", "purebot", "scan", "masscan", "zgrab", "nmap",
	})
	v.SetDefault("escalation.known_benign_uas", []string{
		"googlebot", "bingbot", "slurp", "duckduckbot",
		"baiduspider", "yandexbot", "googlebot-image",
	})
	v.SetDefault("escalation.threshold_low", 0.2)
	v.SetDefault("escalation.threshold_high", 0.5)
	v.SetDefault("escalation.robots_txt_path", "")
	v.SetDefault("escalation.model.path", "")
	v.SetDefault("escalation.model.weight", 0.6)
	v.SetDefault("escalation.model.required", false)
	v.SetDefault("escalation.reputation.enabled", false)
	v.SetDefault("escalation.reputation.url", "")
	v.SetDefault("escalation.reputation.api_key_file", "ip_reputation_api_key.txt")
	v.SetDefault("escalation.reputation.timeout_sec", 10.0)
	v.SetDefault("escalation.reputation.bonus", 0.3)
	v.SetDefault("escalation.reputation.min_malicious", 50.0)
	v.SetDefault("escalation.llm.enabled", false)
	v.SetDefault("escalation.llm.url", "")
	v.SetDefault("escalation.llm.model", "")
	v.SetDefault("escalation.llm.token_file", "external_api_key.txt")
	v.SetDefault("escalation.llm.timeout_sec", 45.0)
	v.SetDefault("escalation.captcha.enabled", false)
	v.SetDefault("escalation.captcha.threshold_low", 0.2)
	v.SetDefault("escalation.captcha.threshold_high", 0.5)
	v.SetDefault("escalation.captcha.verification_url", "")
	v.SetDefault("escalation.webhook.url", "")
	v.SetDefault("escalation.webhook.timeout_sec", 10.0)
	v.SetDefault("escalation.webhook.workers", 4)
	v.SetDefault("escalation.webhook.queue_size", 1024)

	v.SetDefault("enforce.community.enabled", false)
	v.SetDefault("enforce.community.url", "")
	v.SetDefault("enforce.community.api_key_file", "community_blocklist_api_key.txt")
	v.SetDefault("enforce.community.timeout_sec", 10.0)
	v.SetDefault("enforce.alert.method", "none")
	v.SetDefault("enforce.alert.min_severity", "heuristic")
	v.SetDefault("enforce.alert.severity_order", []string{
		"frequency", "heuristic", "model", "reputation", "llm", "hop_limit",
	})
	v.SetDefault("enforce.alert.webhook_url", "")
	v.SetDefault("enforce.alert.slack_webhook_url", "")
	v.SetDefault("enforce.alert.smtp.host", "")
	v.SetDefault("enforce.alert.smtp.port", 587)
	v.SetDefault("enforce.alert.smtp.user", "")
	v.SetDefault("enforce.alert.smtp.password_file", "smtp_password.txt")
	v.SetDefault("enforce.alert.smtp.starttls", true)
	v.SetDefault("enforce.alert.email_to", []string{})
	v.SetDefault("enforce.alert.email_from", "")
}

// envAliases maps keys to the flat environment names the deployment tooling
// has always used, alongside viper's own WEBTRAP_ prefixed forms.
var envAliases = map[string]string{
	"tarpit.system_seed":                  "SYSTEM_SEED",
	"tarpit.rewrite_path":                 "TARPIT_REWRITE_PATH",
	"tarpit.min_delay_sec":                "TAR_PIT_MIN_DELAY_SEC",
	"tarpit.max_delay_sec":                "TAR_PIT_MAX_DELAY_SEC",
	"tarpit.max_hops":                     "TAR_PIT_MAX_HOPS",
	"tarpit.hop_window_seconds":           "TAR_PIT_HOP_WINDOW_SECONDS",
	"tarpit.flag_ttl_seconds":             "TAR_PIT_FLAG_TTL",
	"blocklist.ttl_seconds":               "BLOCKLIST_TTL_SECONDS",
	"redis.addr":                          "REDIS_ADDR",
	"redis.password_file":                 "REDIS_PASSWORD_FILENAME",
	"secrets.dir":                         "APP_SECRETS_DIRECTORY",
	"markov.host":                         "PG_HOST",
	"markov.port":                         "PG_PORT",
	"markov.database":                     "PG_DBNAME",
	"markov.user":                         "PG_USER",
	"markov.password_file":                "PG_PASSWORD_FILENAME",
	"escalation.known_bad_uas":            "KNOWN_BAD_UAS",
	"escalation.known_benign_uas":         "KNOWN_BENIGN_CRAWLERS_UAS",
	"escalation.model.path":               "MODEL_ARTIFACT_PATH",
	"escalation.reputation.enabled":       "ENABLE_IP_REPUTATION",
	"escalation.reputation.url":           "IP_REPUTATION_API_URL",
	"escalation.reputation.bonus":         "IP_REPUTATION_MALICIOUS_SCORE_BONUS",
	"escalation.reputation.min_malicious": "IP_REPUTATION_MIN_MALICIOUS_THRESHOLD",
	"escalation.llm.enabled":              "ENABLE_LLM_CLASSIFICATION",
	"escalation.llm.url":                  "LOCAL_LLM_API_URL",
	"escalation.llm.model":                "LOCAL_LLM_MODEL",
	"escalation.llm.timeout_sec":          "LOCAL_LLM_TIMEOUT",
	"escalation.captcha.enabled":          "ENABLE_CAPTCHA_TRIGGER",
	"escalation.captcha.threshold_low":    "CAPTCHA_SCORE_THRESHOLD_LOW",
	"escalation.captcha.threshold_high":   "CAPTCHA_SCORE_THRESHOLD_HIGH",
	"escalation.captcha.verification_url": "CAPTCHA_VERIFICATION_URL",
	"escalation.webhook.url":              "ESCALATION_WEBHOOK_URL",
	"enforce.community.enabled":           "ENABLE_COMMUNITY_REPORTING",
	"enforce.community.url":               "COMMUNITY_BLOCKLIST_REPORT_URL",
	"enforce.community.timeout_sec":       "COMMUNITY_BLOCKLIST_REPORT_TIMEOUT",
	"enforce.alert.method":                "ALERT_METHOD",
	"enforce.alert.min_severity":          "ALERT_MIN_REASON_SEVERITY",
	"enforce.alert.webhook_url":           "ALERT_GENERIC_WEBHOOK_URL",
	"enforce.alert.slack_webhook_url":     "ALERT_SLACK_WEBHOOK_URL",
	"enforce.alert.smtp.host":             "ALERT_SMTP_HOST",
	"enforce.alert.smtp.port":             "ALERT_SMTP_PORT",
	"enforce.alert.smtp.user":             "ALERT_SMTP_USER",
	"enforce.alert.smtp.starttls":         "ALERT_SMTP_USE_TLS",
	"enforce.alert.email_to":              "ALERT_EMAIL_TO",
	"enforce.alert.email_from":            "ALERT_EMAIL_FROM",
}

// BindEnv wires the alias table plus automatic WEBTRAP_* lookup.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("WEBTRAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, env)
	}
}

// Load reads the typed config out of viper and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Server.Listen = v.GetString("server.listen")
	cfg.Server.MetricsListen = v.GetString("server.metrics_listen")
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Secrets.Dir = v.GetString("secrets.dir")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.PasswordFile = v.GetString("redis.password_file")
	cfg.Redis.DBFlags = v.GetInt("redis.db_flags")
	cfg.Redis.DBBlocklist = v.GetInt("redis.db_blocklist")
	cfg.Redis.DBFrequency = v.GetInt("redis.db_frequency")
	cfg.Redis.DBHops = v.GetInt("redis.db_hops")
	cfg.Redis.TimeoutSec = v.GetFloat64("redis.timeout_sec")

	cfg.Markov.Enabled = v.GetBool("markov.enabled")
	cfg.Markov.Host = v.GetString("markov.host")
	cfg.Markov.Port = v.GetInt("markov.port")
	cfg.Markov.Database = v.GetString("markov.database")
	cfg.Markov.User = v.GetString("markov.user")
	cfg.Markov.PasswordFile = v.GetString("markov.password_file")

	cfg.Edge.BadAgents = getList(v, "edge.bad_agents")
	cfg.Edge.CheckEmptyUA = v.GetBool("edge.check_empty_ua")
	cfg.Edge.CheckMissingAcceptLang = v.GetBool("edge.check_missing_accept_language")
	cfg.Edge.CheckGenericAccept = v.GetBool("edge.check_generic_accept")

	cfg.Tarpit.RewritePath = v.GetString("tarpit.rewrite_path")
	cfg.Tarpit.SystemSeed = v.GetString("tarpit.system_seed")
	cfg.Tarpit.MinDelaySec = v.GetFloat64("tarpit.min_delay_sec")
	cfg.Tarpit.MaxDelaySec = v.GetFloat64("tarpit.max_delay_sec")
	cfg.Tarpit.MaxHops = v.GetInt64("tarpit.max_hops")
	cfg.Tarpit.HopWindowSeconds = v.GetInt64("tarpit.hop_window_seconds")
	cfg.Tarpit.FlagTTLSeconds = v.GetInt64("tarpit.flag_ttl_seconds")
	cfg.Tarpit.HitLogPath = v.GetString("tarpit.hit_log.path")
	cfg.Tarpit.HitLogMaxSizeMB = v.GetInt("tarpit.hit_log.max_size_mb")
	cfg.Tarpit.HitLogMaxBackups = v.GetInt("tarpit.hit_log.max_backups")

	cfg.Blocklist.TTLSeconds = v.GetInt64("blocklist.ttl_seconds")

	cfg.Escalation.FrequencyWindowSec = v.GetInt64("escalation.frequency_window_sec")
	cfg.Escalation.FrequencySaturation = v.GetInt64("escalation.frequency_saturation")
	cfg.Escalation.KnownBadUAs = getList(v, "escalation.known_bad_uas")
	cfg.Escalation.KnownBenignUAs = getList(v, "escalation.known_benign_uas")
	cfg.Escalation.ThresholdLow = v.GetFloat64("escalation.threshold_low")
	cfg.Escalation.ThresholdHigh = v.GetFloat64("escalation.threshold_high")
	cfg.Escalation.RobotsTxtPath = v.GetString("escalation.robots_txt_path")
	cfg.Escalation.ModelPath = v.GetString("escalation.model.path")
	cfg.Escalation.ModelWeight = v.GetFloat64("escalation.model.weight")
	cfg.Escalation.ModelRequired = v.GetBool("escalation.model.required")
	cfg.Escalation.ReputationEnabled = v.GetBool("escalation.reputation.enabled")
	cfg.Escalation.ReputationURL = v.GetString("escalation.reputation.url")
	cfg.Escalation.ReputationAPIKeyFile = v.GetString("escalation.reputation.api_key_file")
	cfg.Escalation.ReputationTimeoutSec = v.GetFloat64("escalation.reputation.timeout_sec")
	cfg.Escalation.ReputationBonus = v.GetFloat64("escalation.reputation.bonus")
	cfg.Escalation.ReputationMinMalicious = v.GetFloat64("escalation.reputation.min_malicious")
	cfg.Escalation.LLMEnabled = v.GetBool("escalation.llm.enabled")
	cfg.Escalation.LLMURL = v.GetString("escalation.llm.url")
	cfg.Escalation.LLMModel = v.GetString("escalation.llm.model")
	cfg.Escalation.LLMTokenFile = v.GetString("escalation.llm.token_file")
	cfg.Escalation.LLMTimeoutSec = v.GetFloat64("escalation.llm.timeout_sec")
	cfg.Escalation.CaptchaEnabled = v.GetBool("escalation.captcha.enabled")
	cfg.Escalation.CaptchaThresholdLow = v.GetFloat64("escalation.captcha.threshold_low")
	cfg.Escalation.CaptchaThresholdHigh = v.GetFloat64("escalation.captcha.threshold_high")
	cfg.Escalation.CaptchaVerificationURL = v.GetString("escalation.captcha.verification_url")
	cfg.Escalation.WebhookURL = v.GetString("escalation.webhook.url")
	cfg.Escalation.WebhookTimeoutSec = v.GetFloat64("escalation.webhook.timeout_sec")
	cfg.Escalation.DispatchWorkers = v.GetInt("escalation.webhook.workers")
	cfg.Escalation.DispatchQueueSize = v.GetInt("escalation.webhook.queue_size")

	cfg.Enforce.CommunityEnabled = v.GetBool("enforce.community.enabled")
	cfg.Enforce.CommunityURL = v.GetString("enforce.community.url")
	cfg.Enforce.CommunityAPIKeyFile = v.GetString("enforce.community.api_key_file")
	cfg.Enforce.CommunityTimeoutSec = v.GetFloat64("enforce.community.timeout_sec")
	cfg.Enforce.AlertMethod = strings.ToLower(v.GetString("enforce.alert.method"))
	cfg.Enforce.AlertMinSeverity = v.GetString("enforce.alert.min_severity")
	cfg.Enforce.SeverityOrder = getList(v, "enforce.alert.severity_order")
	cfg.Enforce.AlertWebhookURL = v.GetString("enforce.alert.webhook_url")
	cfg.Enforce.AlertSlackWebhookURL = v.GetString("enforce.alert.slack_webhook_url")
	cfg.Enforce.SMTPHost = v.GetString("enforce.alert.smtp.host")
	cfg.Enforce.SMTPPort = v.GetInt("enforce.alert.smtp.port")
	cfg.Enforce.SMTPUser = v.GetString("enforce.alert.smtp.user")
	cfg.Enforce.SMTPPasswordFile = v.GetString("enforce.alert.smtp.password_file")
	cfg.Enforce.SMTPStartTLS = v.GetBool("enforce.alert.smtp.starttls")
	cfg.Enforce.EmailTo = getList(v, "enforce.alert.email_to")
	cfg.Enforce.EmailFrom = v.GetString("enforce.alert.email_from")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getList accepts both YAML lists and the comma-separated strings the flat
// environment aliases deliver.
func getList(v *viper.Viper, key string) []string {
	values := v.GetStringSlice(key)
	if joined := strings.Join(values, " "); strings.Contains(joined, ",") {
		values = strings.Split(joined, ",")
	}
	out := values[:0]
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ConfigValidationError reports a single rejected option.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s - %s", e.Field, e.Reason)
}

func (c *Config) Validate() error {
	if c.Tarpit.SystemSeed == "" {
		return &ConfigValidationError{Field: "tarpit.system_seed", Reason: "must be set (SYSTEM_SEED)"}
	}
	if !strings.HasSuffix(c.Tarpit.RewritePath, "/") || !strings.HasPrefix(c.Tarpit.RewritePath, "/") {
		return &ConfigValidationError{Field: "tarpit.rewrite_path", Reason: "must start and end with '/'"}
	}
	if c.Tarpit.MinDelaySec < 0 || c.Tarpit.MaxDelaySec < c.Tarpit.MinDelaySec {
		return &ConfigValidationError{Field: "tarpit.max_delay_sec", Reason: "delay bounds must satisfy 0 <= min <= max"}
	}
	if c.Blocklist.TTLSeconds <= 0 {
		return &ConfigValidationError{Field: "blocklist.ttl_seconds", Reason: "must be positive"}
	}
	if c.Escalation.ThresholdLow < 0 || c.Escalation.ThresholdHigh > 1 ||
		c.Escalation.ThresholdLow >= c.Escalation.ThresholdHigh {
		return &ConfigValidationError{Field: "escalation.threshold_low", Reason: "thresholds must satisfy 0 <= low < high <= 1"}
	}
	if c.Escalation.ModelRequired && c.Escalation.ModelPath == "" {
		return &ConfigValidationError{Field: "escalation.model.path", Reason: "required but not set"}
	}
	if c.Escalation.ReputationEnabled && c.Escalation.ReputationURL == "" {
		return &ConfigValidationError{Field: "escalation.reputation.url", Reason: "reputation enabled without a URL"}
	}
	if c.Escalation.LLMEnabled && c.Escalation.LLMURL == "" {
		return &ConfigValidationError{Field: "escalation.llm.url", Reason: "llm classification enabled without a URL"}
	}
	switch c.Enforce.AlertMethod {
	case "none", "webhook", "slack", "smtp":
	default:
		return &ConfigValidationError{Field: "enforce.alert.method", Reason: "must be one of none, webhook, slack, smtp"}
	}
	if c.Enforce.AlertMethod == "webhook" && c.Enforce.AlertWebhookURL == "" {
		return &ConfigValidationError{Field: "enforce.alert.webhook_url", Reason: "webhook alerting enabled without a URL"}
	}
	if c.Enforce.AlertMethod == "slack" && c.Enforce.AlertSlackWebhookURL == "" {
		return &ConfigValidationError{Field: "enforce.alert.slack_webhook_url", Reason: "slack alerting enabled without a URL"}
	}
	if c.Enforce.AlertMethod == "smtp" {
		if c.Enforce.SMTPHost == "" || c.Enforce.EmailFrom == "" || len(c.Enforce.EmailTo) == 0 {
			return &ConfigValidationError{Field: "enforce.alert.smtp", Reason: "smtp alerting requires host, email_from and email_to"}
		}
	}
	if c.Enforce.CommunityEnabled && c.Enforce.CommunityURL == "" {
		return &ConfigValidationError{Field: "enforce.community.url", Reason: "community reporting enabled without a URL"}
	}
	return nil
}

func (c *Config) RedisOpTimeout() time.Duration {
	return secondsToDuration(c.Redis.TimeoutSec)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
