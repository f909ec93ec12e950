package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TopicSource yields the current topic list.
type TopicSource interface {
	Fetch(ctx context.Context, now time.Time) ([]Topic, error)
}

// Refresher runs the fetch, CSV and build steps, then hands the new artifacts
// to onBuilt. With a schedule it repeats on a cron spec.
type Refresher struct {
	source   TopicSource
	builder  *Builder
	csvPath  string
	schedule string
	onBuilt  func(ctx context.Context) error
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun time.Time
	lastErr error
}

func NewRefresher(source TopicSource, builder *Builder, csvPath, schedule string, onBuilt func(ctx context.Context) error) *Refresher {
	return &Refresher{
		source:   source,
		builder:  builder,
		csvPath:  csvPath,
		schedule: schedule,
		onBuilt:  onBuilt,
		now:      time.Now,
	}
}

// Refresh performs one full fetch and rebuild.
func (r *Refresher) Refresh(ctx context.Context) error {
	err := r.refresh(ctx)

	r.mu.Lock()
	r.lastRun = r.now()
	r.lastErr = err
	r.mu.Unlock()

	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	topics, err := r.source.Fetch(ctx, r.now())
	if err != nil {
		return fmt.Errorf("fetch topics: %w", err)
	}
	if len(topics) == 0 {
		return fmt.Errorf("fetch topics: feed had no English topics")
	}

	if err := WriteCSV(r.csvPath, topics); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	slog.Info("Topic CSV written", "path", r.csvPath, "records", len(topics))

	if _, err := r.builder.Build(ctx); err != nil {
		return err
	}

	if r.onBuilt != nil {
		if err := r.onBuilt(ctx); err != nil {
			return fmt.Errorf("activate new knowledge base: %w", err)
		}
	}
	return nil
}

// Start schedules Refresh. Runs never overlap; a tick that arrives while a
// refresh is still going is skipped.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.Refresh(r.ctx); err != nil {
			slog.Error("Knowledge refresh failed", "error", err)
			return
		}
		slog.Info("Knowledge refresh completed")
	}); err != nil {
		r.cancel()
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.cron = c
	slog.Info("Knowledge refresher started", "schedule", r.schedule)
	return nil
}

// Stop cancels any running refresh and waits for it to return or for ctx.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cron != nil
}

// LastRun reports when Refresh last finished and how.
func (r *Refresher) LastRun() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErr
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
