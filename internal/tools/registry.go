package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/relaydesk/copilot/internal/docstore"
)

// Registry resolves tool definitions. Statically registered definitions are
// the fallback; declaratively configured ones, loaded from the doc store
// through a short-TTL read-through cache, take precedence at dispatch time.
type Registry struct {
	store    docstore.Store
	logger   *slog.Logger
	cacheTTL time.Duration

	mu         sync.RWMutex
	static     map[string]*Definition
	handlers   map[string]HandlerFunc
	configured map[string]*Definition
	loadedAt   time.Time
}

// NewRegistry creates a Registry. store may be nil, in which case only
// static definitions exist; cacheTTL bounds how stale configured
// definitions may get.
func NewRegistry(store docstore.Store, logger *slog.Logger, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Registry{
		store:    store,
		logger:   logger.With("component", "tools"),
		cacheTTL: cacheTTL,
		static:   make(map[string]*Definition),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a static definition. Registration is idempotent per id with
// last-write-wins semantics; overwriting logs a warning.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("tools: definition must have an id")
	}
	if def.Exec.Kind == ExecStatic && def.Exec.Run == nil {
		return fmt.Errorf("tools: static definition %q has no handler", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.static[def.ID]; exists {
		r.logger.Warn("tool already registered, overwriting", "tool_id", def.ID)
	}
	r.static[def.ID] = def
	return nil
}

// RegisterHandler names an in-process handler that declarative definitions
// with kind "custom" can reference.
func (r *Registry) RegisterHandler(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		r.logger.Warn("handler already registered, overwriting", "handler", name)
	}
	r.handlers[name] = fn
}

// Handler looks up a named custom handler.
func (r *Registry) Handler(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Get resolves a definition by id, preferring a configured definition over
// a static one sharing the id.
func (r *Registry) Get(ctx context.Context, id string) (*Definition, bool) {
	configured := r.loadConfigured(ctx)
	if def, ok := configured[id]; ok {
		return def, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.static[id]
	return def, ok
}

// List returns the merged catalog sorted by id, configured definitions
// shadowing static ones.
func (r *Registry) List(ctx context.Context) []*Definition {
	merged := make(map[string]*Definition)
	r.mu.RLock()
	for id, def := range r.static {
		merged[id] = def
	}
	r.mu.RUnlock()
	for id, def := range r.loadConfigured(ctx) {
		merged[id] = def
	}
	out := make([]*Definition, 0, len(merged))
	for _, def := range merged {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InvalidateCache forces the next Get/List to reload configured
// definitions from the doc store.
func (r *Registry) InvalidateCache() {
	r.mu.Lock()
	r.configured = nil
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

// loadConfigured returns the configured-definition cache, reloading it from
// the doc store when stale. Undecodable documents are skipped with a
// warning so one bad definition cannot take the catalog down.
func (r *Registry) loadConfigured(ctx context.Context) map[string]*Definition {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	if r.configured != nil && time.Since(r.loadedAt) < r.cacheTTL {
		cached := r.configured
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	docs, err := r.store.Find(ctx, ToolsCollection, nil, nil)
	if err != nil {
		r.logger.Warn("loading configured tools failed, serving last known catalog", "error", err)
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.configured
	}

	loaded := make(map[string]*Definition, len(docs))
	for _, doc := range docs {
		def, err := DecodeDefinition(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable tool definition", "id", doc["_id"], "error", err)
			continue
		}
		loaded[def.ID] = def
	}

	r.mu.Lock()
	r.configured = loaded
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return loaded
}

// DecodeDefinition converts a doc-store document into a Definition.
// Definitions of kind "static" cannot come from data and are rejected.
func DecodeDefinition(doc docstore.Document) (*Definition, error) {
	var def Definition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Squash:  true,
		Result:  &def,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode tool definition: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("tool definition has no id")
	}
	switch def.Exec.Kind {
	case ExecSimple:
		if def.Exec.Simple == nil {
			return nil, fmt.Errorf("tool %q: simple spec missing", def.ID)
		}
	case ExecPipeline:
		if len(def.Exec.Pipeline) == 0 {
			return nil, fmt.Errorf("tool %q: pipeline spec empty", def.ID)
		}
	case ExecCustom:
		if def.Exec.Handler == "" {
			return nil, fmt.Errorf("tool %q: custom spec names no handler", def.ID)
		}
	case ExecStatic:
		return nil, fmt.Errorf("tool %q: static definitions cannot be configured", def.ID)
	default:
		return nil, fmt.Errorf("tool %q: unknown exec kind %q", def.ID, def.Exec.Kind)
	}
	return &def, nil
}
