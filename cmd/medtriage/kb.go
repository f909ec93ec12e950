package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/daemon/components"
	"github.com/harunnryd/medtriage/internal/knowledge"
	"github.com/harunnryd/medtriage/internal/model"

	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the MedlinePlus knowledge base",
	Long:  `Fetch the MedlinePlus topic feed, build the vector index and metadata table, and search them.`,
}

var kbFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the MedlinePlus feed into the topics CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher, err := knowledge.NewFetcherFromConfig(cfg.Knowledge)
		if err != nil {
			return err
		}
		topics, err := fetcher.Fetch(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("fetch topics: %w", err)
		}

		csvPath := kbCSVPath()
		if err := knowledge.WriteCSV(csvPath, topics); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d topics to %s\n", len(topics), csvPath)
		return nil
	},
}

var kbBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed the topics CSV into the index and metadata table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		builder, err := newKnowledgeBuilder(ctx)
		if err != nil {
			return err
		}
		stats, err := builder.Build(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Indexed %d documents (dim %d) in %s\n", stats.Documents, stats.Dim, stats.Duration.Round(time.Millisecond))
		return nil
	},
}

var kbWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Fetch and rebuild on the refresh schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		schedule, _ := cmd.Flags().GetString("schedule")
		if strings.TrimSpace(schedule) == "" {
			schedule = cfg.Knowledge.RefreshSchedule
		}
		if strings.TrimSpace(schedule) == "" {
			schedule = config.DefaultKnowledgeRefreshSchedule
		}
		runNow, _ := cmd.Flags().GetBool("now")

		fetcher, err := knowledge.NewFetcherFromConfig(cfg.Knowledge)
		if err != nil {
			return err
		}
		builder, err := newKnowledgeBuilder(ctx)
		if err != nil {
			return err
		}

		refresher := knowledge.NewRefresher(fetcher, builder, kbCSVPath(), schedule, nil)
		if runNow {
			if err := refresher.Refresh(ctx); err != nil {
				slog.Error("Initial knowledge refresh failed", "error", err)
			}
		}
		if err := refresher.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		slog.Info("Stopping knowledge refresher...", "reason", ctx.Err())

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return refresher.Stop(stopCtx)
	},
}

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")

		ctx := context.Background()
		stack, err := buildLocalStack(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stack.Close(ctx)

		docs, err := stack.retrieval.GetService().Query(ctx, strings.Join(args, " "), k)
		if err != nil {
			return err
		}

		out, err := f.FormatDocuments(docs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func kbCSVPath() string {
	if cfg == nil || cfg.Knowledge.CSVPath == "" {
		return config.DefaultKnowledgeCSVPath
	}
	return cfg.Knowledge.CSVPath
}

// newKnowledgeBuilder embeds through the configured embedding model.
func newKnowledgeBuilder(ctx context.Context) (*knowledge.Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	buildCfg, err := knowledge.NewBuildConfig(cfg)
	if err != nil {
		return nil, err
	}

	models := components.NewModelsComponent(cfg)
	if err := models.Init(ctx); err != nil {
		return nil, err
	}
	embedModel := cfg.Models.Embedding
	if embedModel == "" {
		embedModel = config.DefaultModelEmbedding
	}
	return knowledge.NewBuilder(buildCfg, model.RouterEmbedder(models.GetRouter(), embedModel)), nil
}

func init() {
	kbWatchCmd.Flags().String("schedule", "", "Cron schedule (default knowledge.refresh_schedule)")
	kbWatchCmd.Flags().Bool("now", false, "Run one refresh before waiting for the schedule")
	kbSearchCmd.Flags().Int("k", config.DefaultRetrievalK, "Number of documents to return")
	kbSearchCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")

	kbCmd.AddCommand(kbFetchCmd)
	kbCmd.AddCommand(kbBuildCmd)
	kbCmd.AddCommand(kbWatchCmd)
	kbCmd.AddCommand(kbSearchCmd)
	rootCmd.AddCommand(kbCmd)
}
