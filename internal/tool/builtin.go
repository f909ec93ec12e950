package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/medtriage/internal/retrieval"
)

// KnowledgeSearcher is the retrieval surface the search tool needs.
type KnowledgeSearcher interface {
	Query(ctx context.Context, text string, k int) ([]retrieval.RetrievedDocument, error)
}

// BuiltinOptions carries runtime dependencies needed by built-in tool factories.
type BuiltinOptions struct {
	Knowledge     KnowledgeSearcher
	DefaultK      int
	SnippetLength int
	Now           func() time.Time
}

const (
	DefaultBuiltinK             = 3
	DefaultBuiltinSnippetLength = 400
)

type BuiltinFactory func(options BuiltinOptions) (Tool, error)

var builtinCatalog = struct {
	mu        sync.RWMutex
	factories map[string]BuiltinFactory
}{
	factories: map[string]BuiltinFactory{},
}

// RegisterBuiltin registers a built-in tool factory under a tool name.
// Intended to be called in init() from built-in tool files.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		panic("tool: built-in name cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("tool: built-in factory cannot be nil (%s)", normalized))
	}

	builtinCatalog.mu.Lock()
	defer builtinCatalog.mu.Unlock()

	if _, exists := builtinCatalog.factories[normalized]; exists {
		panic(fmt.Sprintf("tool: built-in already registered: %s", normalized))
	}
	builtinCatalog.factories[normalized] = factory
}

// BuiltinNames returns all registered built-in names in deterministic order.
func BuiltinNames() []string {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(builtinCatalog.factories))
	for name := range builtinCatalog.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsBuiltinName(name string) bool {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()
	_, ok := builtinCatalog.factories[NormalizeToolName(name)]
	return ok
}

// NewBuiltinRegistry instantiates every built-in and registers it.
func NewBuiltinRegistry(options BuiltinOptions) (*Registry, error) {
	if options.DefaultK <= 0 {
		options.DefaultK = DefaultBuiltinK
	}
	if options.SnippetLength <= 0 {
		options.SnippetLength = DefaultBuiltinSnippetLength
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	builtinCatalog.mu.RLock()
	factories := make(map[string]BuiltinFactory, len(builtinCatalog.factories))
	for name, factory := range builtinCatalog.factories {
		factories[name] = factory
	}
	builtinCatalog.mu.RUnlock()

	registry := NewRegistry()
	for _, name := range BuiltinNames() {
		factory, ok := factories[name]
		if !ok {
			continue
		}

		t, err := factory(options)
		if err != nil {
			return nil, fmt.Errorf("instantiate built-in %q: %w", name, err)
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
