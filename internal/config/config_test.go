package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	clearProviderEnv(t)

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Expected default port %d, got %d", DefaultServerPort, cfg.Server.Port)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Models.Embedding != DefaultModelEmbedding {
		t.Errorf("Expected default embedding model %s, got %s", DefaultModelEmbedding, cfg.Models.Embedding)
	}
	if cfg.Orchestrator.MaxTurns != 3 {
		t.Errorf("Expected default max turns 3, got %d", cfg.Orchestrator.MaxTurns)
	}
	if cfg.Orchestrator.ContextBudget != 8000 {
		t.Errorf("Expected default context budget 8000, got %d", cfg.Orchestrator.ContextBudget)
	}
	if cfg.Orchestrator.Temperature != DefaultOrchestratorTemperature {
		t.Errorf("Expected default temperature %v, got %v", DefaultOrchestratorTemperature, cfg.Orchestrator.Temperature)
	}
	if cfg.Tools.Timeout != DefaultToolsTimeout {
		t.Errorf("Expected default tool timeout %s, got %s", DefaultToolsTimeout, cfg.Tools.Timeout)
	}
	if cfg.Retrieval.DefaultK != DefaultRetrievalK {
		t.Errorf("Expected default k %d, got %d", DefaultRetrievalK, cfg.Retrieval.DefaultK)
	}
	if len(cfg.Server.CORSOrigins) != len(DefaultCORSOrigins) {
		t.Errorf("Expected %d cors origins, got %v", len(DefaultCORSOrigins), cfg.Server.CORSOrigins)
	}
	if len(cfg.Models.Registry) != 3 {
		t.Fatalf("Expected 3 registry entries, got %d", len(cfg.Models.Registry))
	}
	if cfg.Models.Registry[0].Provider != "groq" {
		t.Errorf("Expected groq provider for default model, got %s", cfg.Models.Registry[0].Provider)
	}
	if cfg.Orchestrator.RequestTimeout != DefaultOrchestratorRequestTimeout {
		t.Errorf("Expected default request timeout %s, got %s", DefaultOrchestratorRequestTimeout, cfg.Orchestrator.RequestTimeout)
	}
	if cfg.Orchestrator.SystemPrompt == "" || cfg.Orchestrator.LocalPrompt == "" {
		t.Error("Expected default prompts to be set")
	}
}

func TestLoad_InjectsGroqKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Models.Registry[0].APIKey != "gsk_test" {
		t.Errorf("Expected groq key to be injected, got %q", cfg.Models.Registry[0].APIKey)
	}
	if cfg.Models.Registry[1].APIKey != "" {
		t.Errorf("Expected ollama entry to stay keyless, got %q", cfg.Models.Registry[1].APIKey)
	}
}

func TestLoad_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "from-process")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GROQ_API_KEY=from-dotenv\nMEDTRIAGE_RETRIEVAL_DEFAULT_K=7\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MEDTRIAGE_RETRIEVAL_DEFAULT_K") })

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Models.Registry[0].APIKey != "from-process" {
		t.Errorf("Expected process env to win, got %q", cfg.Models.Registry[0].APIKey)
	}
	if cfg.Retrieval.DefaultK != 7 {
		t.Errorf("Expected k from .env prefix var, got %d", cfg.Retrieval.DefaultK)
	}
}

func TestLoad_EnvPrefixMapsSnakeCaseKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	clearProviderEnv(t)
	t.Setenv("MEDTRIAGE_SERVER_LOG_LEVEL", "debug")
	t.Setenv("MEDTRIAGE_ORCHESTRATOR_MAX_TURNS", "5")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Orchestrator.MaxTurns != 5 {
		t.Errorf("Expected max turns 5, got %d", cfg.Orchestrator.MaxTurns)
	}
}

func TestLoad_ConfigFileAndFlags(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 9100\nretrieval:\n  index_path: ~/kb/medline.index\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("server.log_level", DefaultServerLogLevel, "")
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatalf("set config flag: %v", err)
	}
	if err := cmd.Flags().Set("server.log_level", "warn"); err != nil {
		t.Fatalf("set log level flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected log level from flag, got %s", cfg.Server.LogLevel)
	}
	if want := filepath.Join(home, "kb", "medline.index"); cfg.Retrieval.IndexPath != want {
		t.Errorf("Expected expanded index path %s, got %s", want, cfg.Retrieval.IndexPath)
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", DefaultToolsTimeout)
	if err != nil || d != 3*time.Second {
		t.Errorf("DurationOrDefault() = %v, %v; want 3s", d, err)
	}
	if _, err := DurationOrDefault("soon", ""); err == nil {
		t.Error("Expected parse error")
	}
	if _, err := DurationOrDefault("-1s", ""); err == nil {
		t.Error("Expected negative duration error")
	}
	if _, err := DurationOrDefault("", ""); err == nil {
		t.Error("Expected empty duration error")
	}
}

func TestUpstreamModel(t *testing.T) {
	if got := (ModelRegistry{Name: "local", Model: "gpt-neo"}).UpstreamModel(); got != "gpt-neo" {
		t.Errorf("UpstreamModel() = %s, want gpt-neo", got)
	}
	if got := (ModelRegistry{Name: "llama"}).UpstreamModel(); got != "llama" {
		t.Errorf("UpstreamModel() = %s, want llama", got)
	}
}
