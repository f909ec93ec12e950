package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/harunnryd/medtriage/internal/concurrency"
	"github.com/harunnryd/medtriage/internal/logger"
)

var (
	ErrArtifactMissing      = errors.New("knowledge artifact missing")
	ErrArtifactInconsistent = errors.New("knowledge artifacts inconsistent")
)

// Embedder turns text into a vector in the same space as the index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// RetrievedDocument is a search result joined with its metadata.
type RetrievedDocument struct {
	ID        string  `json:"id" yaml:"id"`
	Title     string  `json:"title" yaml:"title"`
	Source    string  `json:"source" yaml:"source"`
	SourceURL string  `json:"source_url" yaml:"source_url"`
	Text      string  `json:"text" yaml:"text"`
	Distance  float32 `json:"distance" yaml:"distance"`
}

type ServiceConfig struct {
	IndexPath    string
	MetadataPath string
	Workers      int
}

// Service answers similarity queries over the loaded knowledge base.
type Service struct {
	cfg      ServiceConfig
	embedder Embedder
	pool     *concurrency.Pool

	mu      sync.RWMutex
	current *snapshot
}

// snapshot is one loaded index/metadata pair. Queries pin it so a reload
// only closes the metadata store after they finish.
type snapshot struct {
	index *FlatIndex
	meta  *MetadataStore
	refs  sync.WaitGroup
}

// retire waits for pinned queries and closes the metadata store.
func (snap *snapshot) retire() error {
	snap.refs.Wait()
	return snap.meta.Close()
}

func (s *Service) acquire() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil {
		s.current.refs.Add(1)
	}
	return s.current
}

func NewService(cfg ServiceConfig, embedder Embedder) *Service {
	return &Service{
		cfg:      cfg,
		embedder: embedder,
		pool:     concurrency.NewPool(cfg.Workers),
	}
}

// Load opens the index file and metadata database together and swaps them in.
// A previously loaded pair stays active when loading fails.
func (s *Service) Load(ctx context.Context) error {
	for _, path := range []string{s.cfg.IndexPath, s.cfg.MetadataPath} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
			}
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	index, err := LoadFlatIndex(s.cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	meta, err := OpenMetadataReader(ctx, s.cfg.MetadataPath)
	if err != nil {
		return err
	}

	rows, err := meta.Count(ctx)
	if err != nil {
		_ = meta.Close()
		return fmt.Errorf("count metadata: %w", err)
	}
	if rows != index.NTotal() {
		_ = meta.Close()
		return fmt.Errorf("%w: index has %d vectors, metadata has %d rows", ErrArtifactInconsistent, index.NTotal(), rows)
	}

	s.mu.Lock()
	prev := s.current
	s.current = &snapshot{index: index, meta: meta}
	s.mu.Unlock()

	if prev != nil {
		concurrency.SafeGo(func() {
			if err := prev.retire(); err != nil {
				slog.Warn("Closing previous metadata store failed", "error", err)
			}
		}, nil)
	}

	slog.Info("Knowledge base loaded", "vectors", index.NTotal(), "dim", index.Dim())
	return nil
}

func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.index.NTotal()
}

// Query embeds text and returns up to k documents, nearest first.
func (s *Service) Query(ctx context.Context, text string, k int) ([]RetrievedDocument, error) {
	snap := s.acquire()
	if snap == nil {
		return []RetrievedDocument{}, nil
	}
	defer snap.refs.Done()

	index, meta := snap.index, snap.meta
	if index.NTotal() == 0 || k <= 0 {
		return []RetrievedDocument{}, nil
	}
	if s.embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := concurrency.Run(ctx, s.pool, func(ctx context.Context) ([]Hit, error) {
		return index.Search(vec, k)
	})
	if err != nil {
		return nil, err
	}

	ordinals := make([]int, 0, len(hits))
	for _, h := range hits {
		if h.Ordinal < 0 || h.Ordinal >= index.NTotal() {
			continue
		}
		ordinals = append(ordinals, h.Ordinal)
	}

	rows, err := meta.Lookup(ctx, ordinals)
	if err != nil {
		return nil, fmt.Errorf("lookup metadata: %w", err)
	}

	docs := make([]RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.Ordinal]
		if !ok {
			logger.FromContext(ctx).Warn("Skipping hit without metadata", "ordinal", h.Ordinal)
			continue
		}
		docs = append(docs, RetrievedDocument{
			ID:        row.OriginalID,
			Title:     row.Title,
			Source:    row.Source,
			SourceURL: row.SourceURL,
			Text:      row.Text,
			Distance:  h.Distance,
		})
	}

	return docs, nil
}

// Close unloads the knowledge base, waiting for in-flight queries.
func (s *Service) Close() error {
	s.mu.Lock()
	snap := s.current
	s.current = nil
	s.mu.Unlock()

	if snap == nil {
		return nil
	}
	return snap.retire()
}
