package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

const EnvPrefix = "MEDTRIAGE_"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Models       ModelsConfig       `koanf:"models"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Tools        ToolsConfig        `koanf:"tools"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Knowledge    KnowledgeConfig    `koanf:"knowledge"`
	Daemon       DaemonConfig       `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int      `koanf:"port"`
	LogLevel        string   `koanf:"log_level"`
	LogFile         string   `koanf:"log_file"`
	ReadTimeout     string   `koanf:"read_timeout"`
	WriteTimeout    string   `koanf:"write_timeout"`
	IdleTimeout     string   `koanf:"idle_timeout"`
	ShutdownTimeout string   `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Local               string          `koanf:"local"`
	Embedding           string          `koanf:"embedding"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	Model          string `koanf:"model"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	Command        string `koanf:"command"`
	RequestTimeout string `koanf:"request_timeout"`
}

// UpstreamModel is the provider-side model id; it defaults to the registry name.
func (m ModelRegistry) UpstreamModel() string {
	if strings.TrimSpace(m.Model) != "" {
		return strings.TrimSpace(m.Model)
	}
	return m.Name
}

type OrchestratorConfig struct {
	MaxTurns       int     `koanf:"max_turns"`
	ContextBudget  int     `koanf:"context_budget"`
	Temperature    float64 `koanf:"temperature"`
	ModelTimeout   string  `koanf:"model_timeout"`
	RequestTimeout string  `koanf:"request_timeout"`
	RetryMax       int     `koanf:"retry_max"`
	RetryBackoff   string  `koanf:"retry_backoff"`
	MaxItems       int     `koanf:"max_items"`
	LocalMaxTokens int     `koanf:"local_max_tokens"`
	SystemPrompt   string  `koanf:"system_prompt"`
	LocalPrompt    string  `koanf:"local_prompt"`
}

type ToolsConfig struct {
	Timeout  string `koanf:"timeout"`
	PoolSize int    `koanf:"pool_size"`
}

type RetrievalConfig struct {
	IndexPath    string `koanf:"index_path"`
	MetadataPath string `koanf:"metadata_path"`
	DefaultK     int    `koanf:"default_k"`
	Workers      int    `koanf:"workers"`
}

type KnowledgeConfig struct {
	FeedURLTemplate string `koanf:"feed_url_template"`
	CSVPath         string `koanf:"csv_path"`
	RefreshSchedule string `koanf:"refresh_schedule"`
	HTTPTimeout     string `koanf:"http_timeout"`
	LockTimeout     string `koanf:"lock_timeout"`
	LockRetry       string `koanf:"lock_retry"`
	EmbedChars      int    `koanf:"embed_chars"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
}

const (
	DefaultServerPort                 = 8000
	DefaultServerLogLevel             = "info"
	DefaultServerLogFile              = ""
	DefaultServerReadTimeout          = "30s"
	DefaultServerWriteTimeout         = "90s"
	DefaultServerIdleTimeout          = "60s"
	DefaultServerShutdownTimeout      = "5s"
	DefaultServerMaxUploadBytes       = 20 * 1024 * 1024
	DefaultModelDefault               = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultModelLocal                 = "gpt-neo-125m"
	DefaultModelEmbedding             = "all-minilm"
	DefaultModelFallback              = ""
	DefaultModelMaxFallbackAttempts   = 2
	DefaultOpenAIBaseURL              = "https://api.openai.com/v1"
	DefaultGroqBaseURL                = "https://api.groq.com/openai/v1"
	DefaultOllamaBaseURL              = "http://localhost:11434/v1"
	DefaultOllamaAPIKey               = "ollama"
	DefaultModelRequestTimeout        = "60s"
	DefaultOrchestratorMaxTurns       = 3
	DefaultOrchestratorContextBudget  = 2000 * 4
	DefaultOrchestratorTemperature    = 0.3
	DefaultOrchestratorModelTimeout   = "30s"
	DefaultOrchestratorRequestTimeout = "75s"
	DefaultOrchestratorRetryMax       = 2
	DefaultOrchestratorRetryBackoff   = "200ms"
	DefaultOrchestratorMaxItems       = 3
	DefaultOrchestratorLocalMaxTokens = 120
	DefaultToolsTimeout               = "3s"
	DefaultToolsPoolSize              = 8
	DefaultRetrievalIndexPath         = "data/knowledge_base/medline.index"
	DefaultRetrievalMetadataPath      = "data/knowledge_base/medline_meta.db"
	DefaultRetrievalK                 = 5
	DefaultRetrievalWorkers           = 4
	DefaultKnowledgeFeedURLTemplate   = "https://medlineplus.gov/xml/mplus_topics_%s.xml"
	DefaultKnowledgeCSVPath           = "data/knowledge_base/medlineplus.csv"
	DefaultKnowledgeRefreshSchedule   = "0 3 * * *"
	DefaultKnowledgeHTTPTimeout       = "120s"
	DefaultKnowledgeLockTimeout       = "30s"
	DefaultKnowledgeLockRetry         = "100ms"
	DefaultKnowledgeEmbedChars        = 500
	DefaultDaemonShutdownTimeout      = "30s"
	DefaultDaemonHealthCheckInterval  = "30s"
	DefaultDaemonStartupShutdownTime  = "10s"
)

var DefaultCORSOrigins = []string{"http://localhost:3000", "*"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                   DefaultServerPort,
		"server.log_level":              DefaultServerLogLevel,
		"server.log_file":               DefaultServerLogFile,
		"server.read_timeout":           DefaultServerReadTimeout,
		"server.write_timeout":          DefaultServerWriteTimeout,
		"server.idle_timeout":           DefaultServerIdleTimeout,
		"server.shutdown_timeout":       DefaultServerShutdownTimeout,
		"server.max_upload_bytes":       DefaultServerMaxUploadBytes,
		"server.cors_origins":           DefaultCORSOrigins,
		"models.default":                DefaultModelDefault,
		"models.local":                  DefaultModelLocal,
		"models.embedding":              DefaultModelEmbedding,
		"models.fallback":               DefaultModelFallback,
		"models.max_fallback_attempts":  DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "groq", BaseURL: DefaultGroqBaseURL},
			{Name: DefaultModelLocal, Provider: "ollama", Model: "gpt-neo", BaseURL: DefaultOllamaBaseURL},
			{Name: DefaultModelEmbedding, Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},
		"orchestrator.max_turns":          DefaultOrchestratorMaxTurns,
		"orchestrator.context_budget":     DefaultOrchestratorContextBudget,
		"orchestrator.temperature":        DefaultOrchestratorTemperature,
		"orchestrator.model_timeout":      DefaultOrchestratorModelTimeout,
		"orchestrator.request_timeout":    DefaultOrchestratorRequestTimeout,
		"orchestrator.retry_max":          DefaultOrchestratorRetryMax,
		"orchestrator.retry_backoff":      DefaultOrchestratorRetryBackoff,
		"orchestrator.max_items":          DefaultOrchestratorMaxItems,
		"orchestrator.local_max_tokens":   DefaultOrchestratorLocalMaxTokens,
		"orchestrator.system_prompt":      DefaultSystemPrompt,
		"orchestrator.local_prompt":       DefaultLocalPrompt,
		"tools.timeout":                   DefaultToolsTimeout,
		"tools.pool_size":                 DefaultToolsPoolSize,
		"retrieval.index_path":            DefaultRetrievalIndexPath,
		"retrieval.metadata_path":         DefaultRetrievalMetadataPath,
		"retrieval.default_k":             DefaultRetrievalK,
		"retrieval.workers":               DefaultRetrievalWorkers,
		"knowledge.feed_url_template":     DefaultKnowledgeFeedURLTemplate,
		"knowledge.csv_path":              DefaultKnowledgeCSVPath,
		"knowledge.refresh_schedule":      DefaultKnowledgeRefreshSchedule,
		"knowledge.http_timeout":          DefaultKnowledgeHTTPTimeout,
		"knowledge.lock_timeout":          DefaultKnowledgeLockTimeout,
		"knowledge.lock_retry":            DefaultKnowledgeLockRetry,
		"knowledge.embed_chars":           DefaultKnowledgeEmbedChars,
		"daemon.shutdown_timeout":         DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":    DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout": DefaultDaemonStartupShutdownTime,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".medtriage", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// .env values only fill variables the process does not already define
	loadDotEnv(".env")

	// Environment Variables
	k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectAPIKeys(&cfg)

	return &cfg, nil
}

func loadDotEnv(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Dotenv file not loaded", "path", path, "error", err)
		}
		return
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

// Post-Process: Inject standard Env Vars if missing
func injectAPIKeys(cfg *Config) {
	keys := map[string]string{
		"groq":      "GROQ_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
	}
	for i, m := range cfg.Models.Registry {
		envName, ok := keys[m.Provider]
		if !ok || m.APIKey != "" {
			continue
		}
		if key := os.Getenv(envName); key != "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	fields := []*string{
		&cfg.Server.LogFile,
		&cfg.Retrieval.IndexPath,
		&cfg.Retrieval.MetadataPath,
		&cfg.Knowledge.CSVPath,
	}
	for _, field := range fields {
		expanded, err := ExpandPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}

	return nil
}
