package doctor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkByName(report *Report, name string) *CheckResult {
	for i := range report.Checks {
		if report.Checks[i].Name == name {
			return &report.Checks[i]
		}
	}
	return nil
}

func TestRun_HealthyConfig(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PUBLIC_KEY", strings.Repeat("ab", 32))
	t.Setenv("BOT_TOKEN", "bot-token")
	t.Setenv("ENABLE_ALERTS", "true")
	t.Setenv("ALERT_CHANNEL_ID", "ops-alerts")

	report := Run(context.Background(), Options{SkipUpstream: true})

	for _, name := range []string{"data_dir_writable", "public_key", "bot_token", "alert_channel", "settings_db", "agent_registry"} {
		c := checkByName(report, name)
		require.NotNil(t, c, name)
		assert.Equal(t, "pass", c.Status, name)
	}

	// Derived settings key warns until explicitly configured.
	c := checkByName(report, "settings_key")
	require.NotNil(t, c)
	assert.Equal(t, "warn", c.Status)
	assert.Equal(t, "warn", report.Status)
}

func TestRun_MissingPublicKeyFails(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PUBLIC_KEY", "")

	report := Run(context.Background(), Options{SkipUpstream: true})

	c := checkByName(report, "public_key")
	require.NotNil(t, c)
	assert.Equal(t, "fail", c.Status)
	assert.Equal(t, "fail", report.Status)
	assert.Greater(t, report.Summary.Fail, 0)
}

func TestRun_AlertsEnabledWithoutChannelFails(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PUBLIC_KEY", strings.Repeat("ab", 32))
	t.Setenv("ENABLE_ALERTS", "true")
	t.Setenv("ALERT_CHANNEL_ID", "")

	report := Run(context.Background(), Options{SkipUpstream: true})
	// Alerts without a channel are rejected at config load already.
	c := checkByName(report, "config_load")
	if c == nil {
		c = checkByName(report, "alert_channel")
	}
	require.NotNil(t, c)
	assert.Equal(t, "fail", c.Status)
}
