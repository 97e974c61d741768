package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gcolon75/Project-Valine-sub002/internal/alert"
	"github.com/gcolon75/Project-Valine-sub002/internal/chat"
	"github.com/gcolon75/Project-Valine-sub002/internal/commands"
	"github.com/gcolon75/Project-Valine-sub002/internal/config"
	"github.com/gcolon75/Project-Valine-sub002/internal/digest"
	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/redact"
	"github.com/gcolon75/Project-Valine-sub002/internal/registry"
	"github.com/gcolon75/Project-Valine-sub002/internal/router"
	"github.com/gcolon75/Project-Valine-sub002/internal/server"
	"github.com/gcolon75/Project-Valine-sub002/internal/settings"
	tracestore "github.com/gcolon75/Project-Valine-sub002/internal/trace"
	"github.com/gcolon75/Project-Valine-sub002/internal/workflow"
)

var (
	servePort   int
	serveDigest bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the interactions server with scheduled digests",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().BoolVar(&serveDigest, "digest", true, "Post scheduled status digests to the alert channel")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	verifier, err := interaction.NewVerifier(cfg.PublicKey)
	if err != nil {
		return fmt.Errorf("interaction public key: %w", err)
	}

	redactor := redact.New(nil)
	appLogger := logging.New(os.Stderr, logLevel, redactor)

	settingsStore, err := settings.NewStore(cfg.SettingsDBPath(), cfg.SettingsKey, cfg.AllowSecretWrites)
	if err != nil {
		return fmt.Errorf("initializing settings: %w", err)
	}
	defer settingsStore.Close()
	if cfg.UsingDefaultSettingsKey() {
		log.Warn().Msg("SETTINGS_KEY not set — using a derived default; set it for production")
	}

	chatClient := chat.NewClient(cfg.ChatAPIBase, cfg.BotToken)
	workflowClient := workflow.NewClient(cfg.WorkflowAPIBase, cfg.WorkflowToken, cfg.WorkflowRepo, appLogger)
	dispatcher := workflow.NewDispatcher(workflowClient, cfg.WorkflowRef, appLogger)

	traces := tracestore.NewStore(cfg.TraceCapacity, redactor)
	alerts := alert.NewManager(cfg.EnableAlerts, cfg.AlertChannelID, chatClient, appLogger)

	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("loading agent registry: %w", err)
	}

	table := commands.Table(commands.Deps{
		Config:     *cfg,
		Workflows:  workflowClient,
		Dispatcher: dispatcher,
		Traces:     traces,
		Registry:   reg,
		Settings:   settingsStore,
		Logger:     appLogger,
	})
	auth := router.Authorizer{AdminUserIDs: cfg.AdminUserIDs, AdminRoleIDs: cfg.AdminRoleIDs}
	dispatch := router.New(table, auth, traces, alerts, chatClient, appLogger)

	var scheduler *digest.Scheduler
	if serveDigest && cfg.EnableAlerts {
		scheduler = digest.NewScheduler(workflowClient, commands.DigestWorkflows, chatClient, cfg.AlertChannelID, appLogger)
		if err := scheduler.RegisterSchedules(); err != nil {
			return fmt.Errorf("registering digest schedules: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := server.NewServer(verifier, dispatch, appLogger, server.WithVersion(resolvedVersion()))

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cronEntries := 0
	if scheduler != nil {
		cronEntries = scheduler.Entries()
	}
	log.Info().
		Str("addr", addr).
		Int("commands", len(table)).
		Int("cron_entries", cronEntries).
		Bool("alerts", cfg.EnableAlerts).
		Bool("debug_cmd", cfg.EnableDebugCmd).
		Msg("opsbot_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Let in-flight deferred commands post their follow-ups.
	dispatch.Wait()
	log.Info().Msg("server_stopped")
	return nil
}
