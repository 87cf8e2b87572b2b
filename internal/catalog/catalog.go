// Package catalog loads declarative tool bundles (TOML) and map
// definitions (YAML) from a directory into the document store, where the
// registry and map source read them back through their TTL caches. A
// malformed file is warned about and skipped, never fatal: one bad bundle
// cannot take the catalog down.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

// Loader scans <dir>/tools/*.toml and <dir>/maps/*.yaml and upserts their
// contents into the copilot_tools / copilot_maps collections.
type Loader struct {
	dir    string
	store  docstore.Store
	logger *slog.Logger
}

// NewLoader creates a Loader over the given catalog directory.
func NewLoader(dir string, store docstore.Store, logger *slog.Logger) *Loader {
	return &Loader{
		dir:    dir,
		store:  store,
		logger: logger.With("component", "catalog"),
	}
}

// toolBundle is the shape of one tools/*.toml file.
type toolBundle struct {
	Tools []tools.Definition `toml:"tools"`
}

// Load walks both catalog subdirectories. Missing subdirectories are fine;
// only an unreadable directory is an error.
func (l *Loader) Load(ctx context.Context) error {
	if err := l.loadTools(ctx); err != nil {
		return err
	}
	return l.loadMaps(ctx)
}

func (l *Loader) loadTools(ctx context.Context) error {
	files, err := listFiles(filepath.Join(l.dir, "tools"), ".toml")
	if err != nil {
		return fmt.Errorf("catalog: scan tools: %w", err)
	}
	var loaded int
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable tool bundle", "file", path, "error", err)
			continue
		}
		var bundle toolBundle
		if err := toml.Unmarshal(data, &bundle); err != nil {
			l.logger.Warn("skipping malformed tool bundle", "file", path, "error", err)
			continue
		}
		for i := range bundle.Tools {
			def := &bundle.Tools[i]
			doc, err := toDocument(def)
			if err != nil {
				l.logger.Warn("skipping unencodable tool definition", "file", path, "id", def.ID, "error", err)
				continue
			}
			// Round-trip through the registry decoder so a definition the
			// registry would reject never reaches the store.
			if _, err := tools.DecodeDefinition(doc); err != nil {
				l.logger.Warn("skipping invalid tool definition", "file", path, "id", def.ID, "error", err)
				continue
			}
			if err := l.upsert(ctx, tools.ToolsCollection, def.ID, doc); err != nil {
				return fmt.Errorf("catalog: store tool %q: %w", def.ID, err)
			}
			loaded++
		}
	}
	if loaded > 0 {
		l.logger.Info("loaded tool definitions", "count", loaded)
	}
	return nil
}

func (l *Loader) loadMaps(ctx context.Context) error {
	files, err := listFiles(filepath.Join(l.dir, "maps"), ".yaml")
	if err != nil {
		return fmt.Errorf("catalog: scan maps: %w", err)
	}
	var loaded int
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable map", "file", path, "error", err)
			continue
		}
		var m taskflow.Map
		if err := yaml.Unmarshal(data, &m); err != nil {
			l.logger.Warn("skipping malformed map", "file", path, "error", err)
			continue
		}
		doc, err := toDocument(&m)
		if err != nil {
			l.logger.Warn("skipping unencodable map", "file", path, "id", m.ID, "error", err)
			continue
		}
		if _, err := taskflow.DecodeMap(doc); err != nil {
			l.logger.Warn("skipping invalid map", "file", path, "id", m.ID, "error", err)
			continue
		}
		if err := l.upsert(ctx, taskflow.MapsCollection, m.ID, doc); err != nil {
			return fmt.Errorf("catalog: store map %q: %w", m.ID, err)
		}
		loaded++
	}
	if loaded > 0 {
		l.logger.Info("loaded map definitions", "count", loaded)
	}
	return nil
}

// upsert replaces the document sharing the definition's id, inserting when
// none exists yet. Catalog reloads are therefore idempotent.
func (l *Loader) upsert(ctx context.Context, collection, id string, doc docstore.Document) error {
	doc["_id"] = id
	n, err := l.store.Update(ctx, collection, docstore.Document{"_id": id}, doc)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = l.store.Insert(ctx, collection, doc)
	}
	return err
}

// toDocument converts a typed definition into the doc-store shape via its
// JSON form, the same representation the registry decodes back out.
func toDocument(v any) (docstore.Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// listFiles returns files under dir with the given extension, sorted by
// name. A missing dir yields no files.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out, nil
}
