package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/medtriage/internal/daemon"
	"github.com/harunnryd/medtriage/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage HTTP server",
	Long:  `Starts MedTriage as a long-running service: loads the knowledge base, serves /ask and /health, and refreshes the knowledge base on its cron schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		noRefresh, _ := cmd.Flags().GetBool("no-refresh")
		if noRefresh {
			cfg.Knowledge.RefreshSchedule = ""
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		modelsComp := components.NewModelsComponent(cfg)
		retrievalComp := components.NewRetrievalComponent(cfg, modelsComp)
		orchComp := components.NewOrchestratorComponent(cfg, modelsComp, retrievalComp)
		refresherComp := components.NewKnowledgeRefresherComponent(cfg, modelsComp, retrievalComp)
		httpComp := components.NewHTTPServerComponent(daemonMgr, cfg, orchComp)

		daemonMgr.AddComponent(modelsComp)
		daemonMgr.AddComponent(retrievalComp)
		daemonMgr.AddComponent(orchComp)
		daemonMgr.AddComponent(refresherComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("MedTriage starting up...", "port", cfg.Server.Port)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("MedTriage stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("MedTriage stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-refresh", false, "Disable the scheduled knowledge base refresh")
}
