package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/harunnryd/medtriage/internal/config"
	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/ingress"
	"github.com/harunnryd/medtriage/internal/logger"
	"github.com/harunnryd/medtriage/internal/orchestrator"
	"github.com/harunnryd/medtriage/internal/triage"

	"github.com/spf13/cobra"
)

type askOptions struct {
	Images      []string
	History     string
	Mode        string
	K           int
	NoFunctions bool
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Triage one symptom description from the terminal",
	Long:  `Runs a single conversation turn in-process and prints the reply or medical report.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}

		opts := askOptions{}
		opts.Images, _ = cmd.Flags().GetStringArray("image")
		opts.History, _ = cmd.Flags().GetString("history")
		opts.Mode, _ = cmd.Flags().GetString("mode")
		opts.K, _ = cmd.Flags().GetInt("k")
		opts.NoFunctions, _ = cmd.Flags().GetBool("no-functions")

		req, err := buildAskRequest(strings.Join(args, " "), opts)
		if err != nil {
			return fmt.Errorf("invalid request: %s", triageErrors.Detail(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.WithTraceID(ctx, req.ID)

		stack, err := buildLocalStack(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer stack.Close(context.Background())

		maxItems := config.IntOrDefault(cfg.Orchestrator.MaxItems, config.DefaultOrchestratorMaxItems)
		resp, err := ingress.NewIngress(stack.orchestrator.GetOrchestrator(), maxItems).Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("triage failed (%d): %s", triageErrors.HTTPStatus(err), triageErrors.Detail(err))
		}

		out, err := f.FormatResponse(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

// buildAskRequest applies the same field rules as the HTTP form.
func buildAskRequest(message string, opts askOptions) (*ingress.AskRequest, error) {
	req := ingress.NewAskRequest(message)

	history, err := parseHistoryArg(opts.History)
	if err != nil {
		return nil, err
	}
	req.History = history

	if opts.Mode != "" {
		req.Mode = orchestrator.Mode(opts.Mode)
	}
	if opts.K != 0 {
		req.K = opts.K
	}
	req.UseFunctions = !opts.NoFunctions

	for _, path := range opts.Images {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, triageErrors.WrapWithCategory(err, fmt.Sprintf("read image %s", path), triageErrors.ErrImageProcessing)
		}
		req.Images = append(req.Images, ingress.EncodeImage(data, imageMIME(path, data)))
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// parseHistoryArg accepts inline JSON or @path to a JSON file.
func parseHistoryArg(raw string) ([]triage.ChatMessage, error) {
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, triageErrors.InvalidHistory(fmt.Sprintf("read history file: %v", err))
		}
		raw = string(data)
	}
	return ingress.ParseHistory(raw)
}

func imageMIME(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(byExt, "image/") {
		return byExt
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return ingress.DefaultImageMIME
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringArray("image", nil, "Image file to attach (repeatable)")
	askCmd.Flags().String("history", "", "Prior turns as a JSON array, or @file")
	askCmd.Flags().String("mode", string(orchestrator.ModeAPI), "Backend mode: api or local")
	askCmd.Flags().Int("k", ingress.DefaultK, "Number of knowledge base documents to retrieve")
	askCmd.Flags().Bool("no-functions", false, "Offer only the final response tool to the model")
	askCmd.Flags().StringP("output", "o", "table", "Output format: table, json, yaml")
}
