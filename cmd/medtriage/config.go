package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/medtriage/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed templates/config.yaml
var embeddedDefaultConfig []byte

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Inspect and initialize the MedTriage configuration file.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the resolved configuration with secrets masked",
	Long:  `Prints the configuration after defaults, the config file, .env, MEDTRIAGE_ variables and flags are applied. API keys are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loadedCfg := cfg
		if loadedCfg == nil {
			var err error
			if loadedCfg, err = config.Load(cmd); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}

		format, _ := cmd.Flags().GetString("output")
		return writeConfig(cmd.OutOrStdout(), redactConfigSecrets(loadedCfg), format)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long:  `Creates $HOME/.medtriage/config.yaml (or --path) from the built-in template. An existing file is left alone unless --force is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")

		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			path = filepath.Join(home, ".medtriage", "config.yaml")
		}

		created, err := writeDefaultConfig(path, force)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !created {
			fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
			return nil
		}

		fmt.Fprintf(out, "✓ Initialized config at %s\n", path)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "1. Set GROQ_API_KEY (or OPENAI_API_KEY / ANTHROPIC_API_KEY / GEMINI_API_KEY)")
		fmt.Fprintln(out, "2. Run 'medtriage kb fetch' and 'medtriage kb build' to create the knowledge base")
		fmt.Fprintln(out, "3. Run 'medtriage serve' to start the API")
		return nil
	},
}

func writeDefaultConfig(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	body := strings.TrimSpace(string(embeddedDefaultConfig)) + "\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return false, fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return true, nil
}

func writeConfig(w io.Writer, c *config.Config, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	default:
		return fmt.Errorf("invalid output format: %s (supported: yaml, json)", format)
	}
}

// redactConfigSecrets returns a copy with registry API keys masked.
func redactConfigSecrets(in *config.Config) *config.Config {
	if in == nil {
		return nil
	}

	out := *in
	out.Models.Registry = make([]config.ModelRegistry, len(in.Models.Registry))
	for i, entry := range in.Models.Registry {
		entry.APIKey = maskSecret(entry.APIKey)
		out.Models.Registry[i] = entry
	}
	return &out
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "****"
	default:
		return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
	}
}

func init() {
	configViewCmd.Flags().StringP("output", "o", "yaml", "Output format: yaml, json")
	configInitCmd.Flags().String("path", "", "Where to write the config (default $HOME/.medtriage/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
