package knowledge

import (
	"fmt"

	"github.com/harunnryd/medtriage/internal/config"
)

// NewBuildConfig resolves the build settings from the knowledge and
// retrieval sections.
func NewBuildConfig(cfg *config.Config) (BuildConfig, error) {
	if cfg == nil {
		return BuildConfig{}, fmt.Errorf("config is nil")
	}

	lockTimeout, err := config.DurationOrDefault(cfg.Knowledge.LockTimeout, config.DefaultKnowledgeLockTimeout)
	if err != nil {
		return BuildConfig{}, fmt.Errorf("parse knowledge.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.Knowledge.LockRetry, config.DefaultKnowledgeLockRetry)
	if err != nil {
		return BuildConfig{}, fmt.Errorf("parse knowledge.lock_retry: %w", err)
	}

	return BuildConfig{
		CSVPath:      orDefault(cfg.Knowledge.CSVPath, config.DefaultKnowledgeCSVPath),
		IndexPath:    orDefault(cfg.Retrieval.IndexPath, config.DefaultRetrievalIndexPath),
		MetadataPath: orDefault(cfg.Retrieval.MetadataPath, config.DefaultRetrievalMetadataPath),
		EmbedChars:   config.IntOrDefault(cfg.Knowledge.EmbedChars, config.DefaultKnowledgeEmbedChars),
		Workers:      config.IntOrDefault(cfg.Retrieval.Workers, config.DefaultRetrievalWorkers),
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
	}, nil
}

// NewFetcherFromConfig builds the MedlinePlus fetcher.
func NewFetcherFromConfig(cfg config.KnowledgeConfig) (*Fetcher, error) {
	timeout, err := config.DurationOrDefault(cfg.HTTPTimeout, config.DefaultKnowledgeHTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse knowledge.http_timeout: %w", err)
	}
	return NewFetcher(orDefault(cfg.FeedURLTemplate, config.DefaultKnowledgeFeedURLTemplate), timeout), nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
