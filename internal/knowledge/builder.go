package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/medtriage/internal/retrieval"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

type BuildConfig struct {
	CSVPath      string
	IndexPath    string
	MetadataPath string
	EmbedChars   int
	Workers      int
	LockTimeout  time.Duration
	LockRetry    time.Duration
}

type BuildStats struct {
	Documents int
	Dim       int
	Duration  time.Duration
}

// Builder turns the topic CSV into the flat index and its metadata table.
type Builder struct {
	cfg      BuildConfig
	embedder retrieval.Embedder
}

func NewBuilder(cfg BuildConfig, embedder retrieval.Embedder) *Builder {
	if cfg.EmbedChars <= 0 {
		cfg.EmbedChars = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 100 * time.Millisecond
	}
	return &Builder{cfg: cfg, embedder: embedder}
}

// EmbedText is what gets embedded for a topic: the title and the first
// limit characters of its description.
func EmbedText(t Topic, limit int) string {
	desc := []rune(t.Description)
	if len(desc) > limit {
		desc = desc[:limit]
	}
	return t.Title + " " + string(desc)
}

// DisplayText is what the model sees for a topic.
func DisplayText(t Topic) string {
	return fmt.Sprintf("Disease/Topic: %s\nDescription: %s\nSource: %s", t.Title, t.Description, t.SourceURL)
}

// Build embeds every CSV row and writes both artifacts. Only one build runs at
// a time per index path, across processes.
func (b *Builder) Build(ctx context.Context) (BuildStats, error) {
	start := time.Now()

	unlock, err := b.lock(ctx)
	if err != nil {
		return BuildStats{}, err
	}
	defer unlock()

	topics, err := ReadCSV(b.cfg.CSVPath)
	if err != nil {
		return BuildStats{}, fmt.Errorf("read csv: %w", err)
	}
	if len(topics) == 0 {
		return BuildStats{}, fmt.Errorf("csv %s has no topics", b.cfg.CSVPath)
	}
	slog.Info("Embedding topics", "count", len(topics), "workers", b.cfg.Workers)

	vectors := make([][]float32, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, t := range topics {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, EmbedText(t, b.cfg.EmbedChars))
			if err != nil {
				return fmt.Errorf("embed topic %s: %w", t.ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildStats{}, err
	}

	index := retrieval.NewFlatIndex()
	docs := make([]retrieval.Document, 0, len(topics))
	for i, t := range topics {
		ord, err := index.Add(vectors[i])
		if err != nil {
			return BuildStats{}, fmt.Errorf("index topic %s: %w", t.ID, err)
		}
		source := t.SourceURL
		if strings.TrimSpace(source) == "" {
			source = t.SourceName
		}
		docs = append(docs, retrieval.Document{
			Ordinal:    ord,
			OriginalID: t.ID,
			Title:      t.Title,
			Source:     source,
			SourceURL:  t.SourceURL,
			Text:       DisplayText(t),
		})
	}

	if err := b.writeMetadata(ctx, docs); err != nil {
		return BuildStats{}, err
	}
	if err := index.Save(b.cfg.IndexPath); err != nil {
		return BuildStats{}, fmt.Errorf("save index: %w", err)
	}

	stats := BuildStats{Documents: index.NTotal(), Dim: index.Dim(), Duration: time.Since(start)}
	slog.Info("Knowledge base built", "documents", stats.Documents, "dim", stats.Dim, "duration", stats.Duration)
	return stats, nil
}

// writeMetadata fills a fresh database beside the target, seals it and renames
// it into place, so readers never see a half-written table.
func (b *Builder) writeMetadata(ctx context.Context, docs []retrieval.Document) error {
	if err := os.MkdirAll(filepath.Dir(b.cfg.MetadataPath), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	tmp := b.cfg.MetadataPath + ".tmp-" + ulid.Make().String()
	defer removeSQLiteFiles(tmp)

	store, err := retrieval.OpenMetadataStore(ctx, tmp)
	if err != nil {
		return err
	}
	if err := store.InsertDocuments(ctx, docs); err != nil {
		_ = store.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := store.Seal(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("seal metadata: %w", err)
	}
	if err := store.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, b.cfg.MetadataPath); err != nil {
		return fmt.Errorf("install metadata: %w", err)
	}
	return nil
}

func (b *Builder) lock(ctx context.Context) (func(), error) {
	lockPath := b.cfg.IndexPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lockCtx := ctx
	if b.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, b.cfg.LockTimeout)
		defer cancel()
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(lockCtx, b.cfg.LockRetry)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s is being rebuilt by another process: %w", b.cfg.IndexPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("knowledge base %s is being rebuilt by another process", b.cfg.IndexPath)
	}

	slog.Debug("Build lock acquired", "path", lockPath)
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Error("Failed to release build lock", "path", lockPath, "error", err)
		}
	}, nil
}

func removeSQLiteFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}
