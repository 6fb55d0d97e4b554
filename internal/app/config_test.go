package app

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("tarpit.system_seed", "unit-test-seed")
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(testViper(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "/anti-scrape-tarpit/", cfg.Tarpit.RewritePath)
	assert.Equal(t, int64(250), cfg.Tarpit.MaxHops)
	assert.Equal(t, int64(86400), cfg.Tarpit.HopWindowSeconds)
	assert.Equal(t, int64(86400), cfg.Blocklist.TTLSeconds)
	assert.Equal(t, 0.6, cfg.Tarpit.MinDelaySec)
	assert.Equal(t, 1.2, cfg.Tarpit.MaxDelaySec)
	assert.Equal(t, int64(300), cfg.Escalation.FrequencyWindowSec)
	assert.Equal(t, 0.2, cfg.Escalation.ThresholdLow)
	assert.Equal(t, 0.5, cfg.Escalation.ThresholdHigh)
	assert.Equal(t, "none", cfg.Enforce.AlertMethod)
	assert.Contains(t, cfg.Edge.BadAgents, "GPTBot")
	assert.Contains(t, cfg.Escalation.KnownBenignUAs, "googlebot")
	assert.Equal(t, []string{"frequency", "heuristic", "model", "reputation", "llm", "hop_limit"}, cfg.Enforce.SeverityOrder)
}

func TestLoad_MissingSeedFatal(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system_seed")
}

func TestLoad_BadRewritePath(t *testing.T) {
	v := testViper(t)
	v.Set("tarpit.rewrite_path", "/tarpit")

	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoad_BadDelayBounds(t *testing.T) {
	v := testViper(t)
	v.Set("tarpit.min_delay_sec", 2.0)
	v.Set("tarpit.max_delay_sec", 1.0)

	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoad_BadAlertMethod(t *testing.T) {
	v := testViper(t)
	v.Set("enforce.alert.method", "carrier-pigeon")

	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoad_SMTPRequiresAddresses(t *testing.T) {
	v := testViper(t)
	v.Set("enforce.alert.method", "smtp")
	v.Set("enforce.alert.smtp.host", "mail.example.com")

	_, err := Load(v)
	assert.Error(t, err, "smtp without from/to must be rejected")

	v.Set("enforce.alert.email_from", "defense@example.com")
	v.Set("enforce.alert.email_to", []string{"ops@example.com"})
	_, err = Load(v)
	assert.NoError(t, err)
}

func TestLoad_ModelRequiredWithoutPath(t *testing.T) {
	v := testViper(t)
	v.Set("escalation.model.required", true)

	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoad_CommaSeparatedLists(t *testing.T) {
	v := testViper(t)
	v.Set("escalation.known_bad_uas", "curl, wget ,scrapy")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"curl", "wget", "scrapy"}, cfg.Escalation.KnownBadUAs)
}

func TestLoad_ThresholdOrdering(t *testing.T) {
	v := testViper(t)
	v.Set("escalation.threshold_low", 0.7)
	v.Set("escalation.threshold_high", 0.5)

	_, err := Load(v)
	assert.Error(t, err)
}
