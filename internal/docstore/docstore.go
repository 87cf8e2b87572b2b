// Package docstore defines the narrow document-store surface the tool
// executor is allowed to touch: find/findOne/count/aggregate/insert/update/
// delete against named collections. Implementations share the in-process
// filter, update, and pipeline semantics defined in this package.
package docstore

import (
	"context"
	"errors"
)

// Document is a JSON-shaped record. The "_id" field holds the document id.
type Document = map[string]any

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("docstore: no document matched")

// FindOptions tune a Find call. A zero Limit means no limit.
type FindOptions struct {
	Sort  Document // field → 1 (ascending) or -1 (descending)
	Skip  int
	Limit int
}

// Store is the document-store collaborator.
type Store interface {
	Find(ctx context.Context, collection string, filter Document, opts *FindOptions) ([]Document, error)
	FindOne(ctx context.Context, collection string, filter Document) (Document, error)
	Count(ctx context.Context, collection string, filter Document) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error)
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Update(ctx context.Context, collection string, filter Document, update Document) (int64, error)
	Delete(ctx context.Context, collection string, filter Document) (int64, error)
	Close() error
}

// Clone deep-copies a document so callers can mutate results freely.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
