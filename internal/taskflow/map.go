package taskflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/relaydesk/copilot/internal/docstore"
)

// MapsCollection is the doc-store collection map definitions live in.
const MapsCollection = "copilot_maps"

// Map is a read-only declarative workflow. The state machine never mutates
// maps; it only instantiates task lists from them.
type Map struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Keywords    []string  `json:"keywords,omitempty" yaml:"keywords"`
	Steps       []MapStep `json:"steps" yaml:"steps"`
}

// MapStep names the tool one step expects plus how to present and chain it:
// OutputKey stores the step's result for later reference, Prompt is the
// templated instruction for the round after the step completes, When gates
// the step against accumulated outputs.
type MapStep struct {
	Name      string         `json:"name,omitempty" yaml:"name"`
	Tool      string         `json:"tool" yaml:"tool"`
	Action    string         `json:"action,omitempty" yaml:"action"`
	OutputKey string         `json:"outputKey,omitempty" yaml:"outputKey"`
	Prompt    string         `json:"prompt,omitempty" yaml:"prompt"`
	When      *StepCondition `json:"when,omitempty" yaml:"when"`
}

// StepCondition gates a map step. Path resolves against the session's
// output bag; Op defaults to "not_empty" when Value is nil and "eq"
// otherwise.
type StepCondition struct {
	Path  string `json:"path" yaml:"path"`
	Op    string `json:"op,omitempty" yaml:"op"`
	Value any    `json:"value,omitempty" yaml:"value"`
}

func (s MapStep) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Action != "" {
		return s.Action
	}
	return s.Tool
}

// DecodeMap converts a doc-store document into a Map.
func DecodeMap(doc docstore.Document) (*Map, error) {
	var m Map
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &m,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("map has no id")
	}
	if len(m.Steps) == 0 {
		return nil, fmt.Errorf("map %q has no steps", m.ID)
	}
	for i, step := range m.Steps {
		if step.Tool == "" {
			return nil, fmt.Errorf("map %q: step %d names no tool", m.ID, i+1)
		}
	}
	return &m, nil
}

// MapSource is a short-TTL read-through cache over the map collection.
type MapSource struct {
	store    docstore.Store
	logger   *slog.Logger
	cacheTTL time.Duration

	mu       sync.RWMutex
	cached   []*Map
	loadedAt time.Time
}

// NewMapSource creates a MapSource over store.
func NewMapSource(store docstore.Store, logger *slog.Logger, cacheTTL time.Duration) *MapSource {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &MapSource{
		store:    store,
		logger:   logger.With("component", "maps"),
		cacheTTL: cacheTTL,
	}
}

// All returns every known map sorted by id. Undecodable documents are
// skipped with a warning.
func (s *MapSource) All(ctx context.Context) []*Map {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.loadedAt) < s.cacheTTL {
		cached := s.cached
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	docs, err := s.store.Find(ctx, MapsCollection, nil, nil)
	if err != nil {
		s.logger.Warn("loading maps failed, serving last known set", "error", err)
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.cached
	}
	loaded := make([]*Map, 0, len(docs))
	for _, doc := range docs {
		m, err := DecodeMap(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable map", "id", doc["_id"], "error", err)
			continue
		}
		loaded = append(loaded, m)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })

	s.mu.Lock()
	s.cached = loaded
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return loaded
}

// FindByQuery matches a map by id, name, or keyword, case-insensitively.
// Exact id/name matches win over keyword and substring matches.
func (s *MapSource) FindByQuery(ctx context.Context, query string) *Map {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	maps := s.All(ctx)
	for _, m := range maps {
		if strings.ToLower(m.ID) == q || strings.ToLower(m.Name) == q {
			return m
		}
	}
	for _, m := range maps {
		for _, kw := range m.Keywords {
			if strings.ToLower(kw) == q {
				return m
			}
		}
	}
	for _, m := range maps {
		if strings.Contains(strings.ToLower(m.Name), q) {
			return m
		}
	}
	return nil
}

// FindByToolID returns the first map containing a step that names toolID,
// plus that step's 1-based position. Used by the legacy fallback when a
// tool result arrives with no active task list.
func (s *MapSource) FindByToolID(ctx context.Context, toolID string) (*Map, int) {
	for _, m := range s.All(ctx) {
		for i, step := range m.Steps {
			if step.Tool == toolID {
				return m, i + 1
			}
		}
	}
	return nil, 0
}

// Invalidate forces the next read to reload from the doc store.
func (s *MapSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}
