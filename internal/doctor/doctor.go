// Package doctor provides health checks for bot configuration and runtime.
// Used by `opsbot doctor`.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gcolon75/Project-Valine-sub002/internal/config"
	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/registry"
	"github.com/gcolon75/Project-Valine-sub002/internal/settings"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks to run.
type Options struct {
	SkipUpstream bool // skip workflow API connectivity (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check environment variables and the config file",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkPublicKey(cfg))
		report.Checks = append(report.Checks, checkBotToken(cfg))
		report.Checks = append(report.Checks, checkSettingsKey(cfg))
		report.Checks = append(report.Checks, checkSettingsDB(cfg))
		report.Checks = append(report.Checks, checkAlertChannel(cfg))
		if !opts.SkipUpstream {
			report.Checks = append(report.Checks, checkWorkflowAPI(ctx, cfg))
		}
	}
	report.Checks = append(report.Checks, checkRegistry())

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkPublicKey(cfg *config.Config) CheckResult {
	if cfg.PublicKey == "" {
		return CheckResult{
			Name: "public_key", Category: "config", Status: "fail",
			Message: "No interaction public key configured",
			Fix:     "Set PUBLIC_KEY to the platform's hex ed25519 key",
		}
	}
	if _, err := interaction.NewVerifier(cfg.PublicKey); err != nil {
		return CheckResult{
			Name: "public_key", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	return CheckResult{
		Name: "public_key", Category: "config", Status: "pass",
		Message: "Valid ed25519 public key",
	}
}

func checkBotToken(cfg *config.Config) CheckResult {
	if cfg.BotToken == "" {
		return CheckResult{
			Name: "bot_token", Category: "config", Status: "warn",
			Message: "No bot token — follow-up and alert posts will fail",
			Fix:     "Set BOT_TOKEN",
		}
	}
	return CheckResult{
		Name: "bot_token", Category: "config", Status: "pass", Message: "Configured",
	}
}

func checkSettingsKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSettingsKey() {
		return CheckResult{
			Name: "settings_key", Category: "config", Status: "warn",
			Message: "Using generated default", Fix: "Set SETTINGS_KEY for production",
		}
	}
	return CheckResult{
		Name: "settings_key", Category: "config", Status: "pass", Message: "Configured",
	}
}

func checkSettingsDB(cfg *config.Config) CheckResult {
	store, err := settings.NewStore(cfg.SettingsDBPath(), cfg.SettingsKey, cfg.AllowSecretWrites)
	if err != nil {
		return CheckResult{
			Name: "settings_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = store.Close()
	return CheckResult{
		Name: "settings_db", Category: "config", Status: "pass",
		Message: cfg.SettingsDBPath(),
	}
}

func checkAlertChannel(cfg *config.Config) CheckResult {
	if !cfg.EnableAlerts {
		return CheckResult{
			Name: "alert_channel", Category: "config", Status: "warn",
			Message: "Alerts disabled", Fix: "Set ENABLE_ALERTS=true and ALERT_CHANNEL_ID",
		}
	}
	if cfg.AlertChannelID == "" {
		return CheckResult{
			Name: "alert_channel", Category: "config", Status: "fail",
			Message: "Alerts enabled without ALERT_CHANNEL_ID",
		}
	}
	return CheckResult{
		Name: "alert_channel", Category: "config", Status: "pass",
		Message: cfg.AlertChannelID,
	}
}

func checkWorkflowAPI(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg.WorkflowToken == "" {
		return CheckResult{
			Name: "workflow_api", Category: "upstream", Status: "warn",
			Message: "No workflow API token — dispatch calls will be rejected",
			Fix:     "Set WORKFLOW_TOKEN",
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.WorkflowAPIBase, nil)
	if err != nil {
		return CheckResult{
			Name: "workflow_api", Category: "upstream", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Name: "workflow_api", Category: "upstream", Status: "fail",
			Message: fmt.Sprintf("%s unreachable — %v", cfg.WorkflowAPIBase, err),
		}
	}
	resp.Body.Close()
	return CheckResult{
		Name: "workflow_api", Category: "upstream", Status: "pass",
		Message: fmt.Sprintf("%s (HTTP %d)", cfg.WorkflowAPIBase, resp.StatusCode),
	}
}

func checkRegistry() CheckResult {
	reg, err := registry.Load()
	if err != nil {
		return CheckResult{
			Name: "agent_registry", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	return CheckResult{
		Name: "agent_registry", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%d agents", reg.Count()),
	}
}
