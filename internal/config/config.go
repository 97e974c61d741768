// Package config holds operator-level configuration for the bot process.
//
// Everything is read once at startup into an immutable Config that is passed
// explicitly into component constructors; handlers never consult the
// environment themselves. Feature flags default to disabled, so a bare
// process verifies and routes commands but neither alerts nor exposes the
// debug command until the operator opts in.
//
// Each viper key maps to an env var of the same name uppercased (e.g.
// "enable_alerts" → ENABLE_ALERTS) and to a field in opsbot.config.yaml.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyPublicKey         = "public_key"
	KeyBotToken          = "bot_token"
	KeyChatAPIBase       = "chat_api_base"
	KeyEnableDebugCmd    = "enable_debug_cmd"
	KeyEnableAlerts      = "enable_alerts"
	KeyAlertChannelID    = "alert_channel_id"
	KeyAllowSecretWrites = "allow_secret_writes"
	KeyAdminUserIDs      = "admin_user_ids"
	KeyAdminRoleIDs      = "admin_role_ids"
	KeyWorkflowAPIBase   = "workflow_api_base"
	KeyWorkflowToken     = "workflow_token"
	KeyWorkflowRepo      = "workflow_repo"
	KeyWorkflowRef       = "workflow_ref"
	KeyDataDir           = "data_dir"
	KeySettingsKey       = "settings_key"
	KeyTraceCapacity     = "trace_capacity"
)

// Defaults that involve no secrets.
const (
	DefaultWorkflowAPIBase = "https://api.github.com"
	DefaultWorkflowRef     = "main"
	DefaultTraceCapacity   = 50
)

// Config is the resolved, immutable process configuration.
type Config struct {
	PublicKey      string // hex ed25519 public key for interaction signatures
	BotToken       string // chat API bot token
	ChatAPIBase    string
	AlertChannelID string

	EnableDebugCmd    bool
	EnableAlerts      bool
	AllowSecretWrites bool
	AdminUserIDs      []string
	AdminRoleIDs      []string

	WorkflowAPIBase string
	WorkflowToken   string
	WorkflowRepo    string // "owner/name"
	WorkflowRef     string

	DataDir       string
	SettingsKey   string // 32 bytes or 64 hex chars, encrypts the settings store
	TraceCapacity int

	usingDefaultSettingsKey bool
}

// UsingDefaultSettingsKey reports whether the settings encryption key was
// derived rather than explicitly set. Commands warn when this is the case.
func (c *Config) UsingDefaultSettingsKey() bool {
	return c.usingDefaultSettingsKey
}

// SettingsDBPath returns the path of the settings SQLite database.
func (c *Config) SettingsDBPath() string {
	return filepath.Join(c.DataDir, "settings.db")
}

// EnsureDataDir creates the data directory if missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.AutomaticEnv()
	viper.SetDefault(KeyWorkflowAPIBase, DefaultWorkflowAPIBase)
	viper.SetDefault(KeyWorkflowRef, DefaultWorkflowRef)
	viper.SetDefault(KeyTraceCapacity, DefaultTraceCapacity)
}

// Load reads configuration from viper (env vars, optional config file,
// defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		PublicKey:         viper.GetString(KeyPublicKey),
		BotToken:          viper.GetString(KeyBotToken),
		ChatAPIBase:       strings.TrimRight(viper.GetString(KeyChatAPIBase), "/"),
		AlertChannelID:    viper.GetString(KeyAlertChannelID),
		EnableDebugCmd:    viper.GetBool(KeyEnableDebugCmd),
		EnableAlerts:      viper.GetBool(KeyEnableAlerts),
		AllowSecretWrites: viper.GetBool(KeyAllowSecretWrites),
		AdminUserIDs:      splitList(viper.GetString(KeyAdminUserIDs)),
		AdminRoleIDs:      splitList(viper.GetString(KeyAdminRoleIDs)),
		WorkflowAPIBase:   strings.TrimRight(viper.GetString(KeyWorkflowAPIBase), "/"),
		WorkflowToken:     viper.GetString(KeyWorkflowToken),
		WorkflowRepo:      viper.GetString(KeyWorkflowRepo),
		WorkflowRef:       viper.GetString(KeyWorkflowRef),
		DataDir:           resolveDataDir(),
		SettingsKey:       viper.GetString(KeySettingsKey),
		TraceCapacity:     viper.GetInt(KeyTraceCapacity),
	}

	if cfg.SettingsKey == "" {
		cfg.SettingsKey = deriveDefaultKey(cfg.DataDir, "settings-encryption")
		cfg.usingDefaultSettingsKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsbot"
	}
	return filepath.Join(home, ".opsbot")
}

// deriveDefaultKey produces a deterministic per-machine fallback so the bot
// runs out of the box while still encrypting settings at rest. Not a
// substitute for an explicitly set key in production.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("opsbot:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if err := validateSettingsKey(c.SettingsKey); err != nil {
		return err
	}
	if c.TraceCapacity <= 0 {
		return fmt.Errorf("trace_capacity must be positive")
	}
	if c.EnableAlerts && c.AlertChannelID == "" {
		return fmt.Errorf("enable_alerts requires alert_channel_id")
	}
	return nil
}

// validateSettingsKey accepts 32 raw bytes or 64 hex characters.
func validateSettingsKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && isHexString(key) {
		if _, err := hex.DecodeString(key); err != nil {
			return fmt.Errorf("settings_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("settings_key must be exactly 32 bytes or 64 hex characters (got %d); set SETTINGS_KEY", n)
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
