package main

import (
	"fmt"
	"io"
	"os"

	"github.com/harunnryd/medtriage/internal/config"
	"github.com/harunnryd/medtriage/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "medtriage",
	Short: "MedTriage symptom triage assistant",
	Long:  `MedTriage answers patient symptom descriptions with retrieval-grounded, tool-assisted triage reports.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logCloser, err = logger.SetupWithFile(cfg.Server.LogLevel, cfg.Server.LogFile)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.medtriage/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server.log_file", config.DefaultServerLogFile, "also write JSON logs to this file")
	rootCmd.PersistentFlags().Int("server.port", config.DefaultServerPort, "server port")
}
