package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWith(t *testing.T, overrides map[string]any) (*Config, error) {
	t.Helper()
	viper.Reset()
	viper.AutomaticEnv()
	viper.SetDefault(KeyWorkflowAPIBase, DefaultWorkflowAPIBase)
	viper.SetDefault(KeyWorkflowRef, DefaultWorkflowRef)
	viper.SetDefault(KeyTraceCapacity, DefaultTraceCapacity)
	viper.Set(KeyDataDir, t.TempDir())
	for k, v := range overrides {
		viper.Set(k, v)
	}
	t.Cleanup(viper.Reset)
	return Load()
}

func TestLoad_FlagsDefaultDisabled(t *testing.T) {
	cfg, err := loadWith(t, nil)
	require.NoError(t, err)

	assert.False(t, cfg.EnableAlerts)
	assert.False(t, cfg.EnableDebugCmd)
	assert.False(t, cfg.AllowSecretWrites)
	assert.Empty(t, cfg.AdminUserIDs)
	assert.Empty(t, cfg.AdminRoleIDs)
	assert.Equal(t, DefaultTraceCapacity, cfg.TraceCapacity)
	assert.Equal(t, DefaultWorkflowRef, cfg.WorkflowRef)
}

func TestLoad_AdminListsSplitAndTrim(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{
		KeyAdminUserIDs: "U1, U2 ,,U3",
		KeyAdminRoleIDs: "R9",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"U1", "U2", "U3"}, cfg.AdminUserIDs)
	assert.Equal(t, []string{"R9"}, cfg.AdminRoleIDs)
}

func TestLoad_DerivedSettingsKey(t *testing.T) {
	cfg, err := loadWith(t, nil)
	require.NoError(t, err)

	assert.True(t, cfg.UsingDefaultSettingsKey())
	assert.Len(t, cfg.SettingsKey, 64)
}

func TestLoad_ExplicitSettingsKey(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{
		KeySettingsKey: "0123456789abcdef0123456789abcdef", // 32 raw bytes
	})
	require.NoError(t, err)
	assert.False(t, cfg.UsingDefaultSettingsKey())
}

func TestLoad_RejectsBadSettingsKey(t *testing.T) {
	_, err := loadWith(t, map[string]any{KeySettingsKey: "short"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings_key")
}

func TestLoad_AlertsRequireChannel(t *testing.T) {
	_, err := loadWith(t, map[string]any{KeyEnableAlerts: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert_channel_id")

	cfg, err := loadWith(t, map[string]any{
		KeyEnableAlerts:   true,
		KeyAlertChannelID: "C1",
	})
	require.NoError(t, err)
	assert.True(t, cfg.EnableAlerts)
}

func TestLoad_TrimsTrailingSlashes(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{
		KeyWorkflowAPIBase: "https://ci.example.com/",
		KeyChatAPIBase:     "https://chat.example.com/api/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://ci.example.com", cfg.WorkflowAPIBase)
	assert.Equal(t, "https://chat.example.com/api", cfg.ChatAPIBase)
}
