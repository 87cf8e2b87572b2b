package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/reason"
	"github.com/relaydesk/copilot/internal/refpath"
)

// dangerousOperators are store operators that smuggle code into a query.
// Declarative definitions are data, so these are rejected outright after
// parameter substitution.
var dangerousOperators = []string{"$where", "$function", "$accumulator"}

// Executor interprets execution specs against the doc store. It owns the
// conversion of every fault into a StructuredError so callers only ever see
// the taxonomy.
type Executor struct {
	store    docstore.Store
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor backed by store, resolving custom
// handlers through reg.
func NewExecutor(store docstore.Store, reg *Registry, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: reg,
		logger:   logger.With("component", "executor"),
	}
}

// Execute validates params against the definition's contract and runs its
// exec spec. A panicking handler is caught and surfaced as a tool execution
// error rather than taking the process down.
func (e *Executor) Execute(ctx context.Context, def *Definition, params map[string]any, ec ExecContext) (res *Result) {
	if params == nil {
		params = map[string]any{}
	}
	rctx := &reason.Context{Module: def.Module, Operation: def.ID}

	if msg := validateParams(def.Params, params); msg != "" {
		serr := reason.NewWithContext(reason.BlockedValidationFailed, rctx)
		serr.Message = msg
		return Failure(serr)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool_id", def.ID, "panic", r)
			serr := reason.NewWithContext(reason.ErrorToolExecution, rctx)
			serr.Message = fmt.Sprintf("panic: %v", r)
			res = Failure(serr)
		}
	}()

	data, err := e.run(ctx, def, params, ec)
	if err != nil {
		return Failure(e.classify(err, def))
	}
	if full, ok := data.(*Result); ok {
		// Handlers return a prebuilt Result when they want to attach a
		// UI suggestion alongside the data.
		return full
	}
	return Success(data)
}

func (e *Executor) run(ctx context.Context, def *Definition, params map[string]any, ec ExecContext) (any, error) {
	bag := execBag(params, ec)
	switch def.Exec.Kind {
	case ExecSimple:
		return e.runStoreOp(ctx, def.Exec.Simple, bag)
	case ExecPipeline:
		return e.runPipeline(ctx, def.Exec.Pipeline, bag, ec)
	case ExecCustom:
		fn, ok := e.registry.Handler(def.Exec.Handler)
		if !ok {
			return nil, fmt.Errorf("custom handler %q not registered", def.Exec.Handler)
		}
		return fn(ctx, params, ec)
	case ExecStatic:
		if def.Exec.Run == nil {
			return nil, fmt.Errorf("static tool %q has no handler", def.ID)
		}
		return def.Exec.Run(ctx, params, ec)
	default:
		return nil, fmt.Errorf("unknown exec kind %q", def.Exec.Kind)
	}
}

// runStoreOp substitutes bag references into the op's arguments, screens
// for dangerous operators, and dispatches to the store.
func (e *Executor) runStoreOp(ctx context.Context, op *StoreOp, bag map[string]any) (any, error) {
	if op == nil {
		return nil, fmt.Errorf("store op missing")
	}
	if op.Collection == "" {
		return nil, fmt.Errorf("store op has no collection")
	}

	filter := substituteDoc(op.Filter, bag)
	if err := screenDangerous(filter); err != nil {
		return nil, err
	}

	switch op.Op {
	case "find":
		return e.store.Find(ctx, op.Collection, filter, &docstore.FindOptions{Sort: op.Sort, Limit: op.Limit})
	case "findOne":
		doc, err := e.store.FindOne(ctx, op.Collection, filter)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, notFoundError(op.Collection, filter)
			}
			return nil, err
		}
		return doc, nil
	case "count":
		n, err := e.store.Count(ctx, op.Collection, filter)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "aggregate":
		stages := make([]docstore.Document, len(op.Pipeline))
		for i, stage := range op.Pipeline {
			stages[i] = substituteDoc(stage, bag)
			if err := screenDangerous(stages[i]); err != nil {
				return nil, err
			}
		}
		return e.store.Aggregate(ctx, op.Collection, stages)
	case "insert":
		doc := substituteDoc(op.Document, bag)
		if err := screenDangerous(doc); err != nil {
			return nil, err
		}
		id, err := e.store.Insert(ctx, op.Collection, doc)
		if err != nil {
			return nil, err
		}
		out := docstore.Clone(doc)
		out["_id"] = id
		return out, nil
	case "update":
		update := substituteDoc(op.Update, bag)
		if err := screenDangerous(update); err != nil {
			return nil, err
		}
		n, err := e.store.Update(ctx, op.Collection, filter, update)
		if err != nil {
			return nil, err
		}
		return map[string]any{"matchedCount": n}, nil
	case "delete":
		n, err := e.store.Delete(ctx, op.Collection, filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deletedCount": n}, nil
	default:
		return nil, fmt.Errorf("unknown store op %q", op.Op)
	}
}

// classify converts a raw fault into the taxonomy. StructuredErrors pass
// through; anything the inference cannot place lands on tool execution
// rather than unknown, since the fault provably came from a tool run.
func (e *Executor) classify(err error, def *Definition) *reason.StructuredError {
	var serr *reason.StructuredError
	if errors.As(err, &serr) {
		return serr
	}
	rctx := &reason.Context{Module: def.Module, Operation: def.ID}
	se := reason.FromRaw("", err.Error(), rctx)
	if se.Reason == reason.ErrorUnknown {
		se = reason.NewWithContext(reason.ErrorToolExecution, rctx)
		se.Message = err.Error()
	}
	return se
}

// notFoundError maps a findOne miss to the module-specific empty code,
// carrying the friendliest filter value as the entity name.
func notFoundError(collection string, filter docstore.Document) *reason.StructuredError {
	rctx := &reason.Context{Module: collection, EntityName: entityNameFromFilter(filter)}
	return reason.FromRaw("NOT_FOUND", fmt.Sprintf("no document matched in %q", collection), rctx)
}

func entityNameFromFilter(filter docstore.Document) string {
	for _, key := range []string{"name", "title", "email", "_id"} {
		if s, ok := filter[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// execBag is the root namespace template references resolve against.
func execBag(params map[string]any, ec ExecContext) map[string]any {
	return map[string]any{
		"params": params,
		"context": map[string]any{
			"userId":    ec.UserID,
			"sessionId": ec.SessionID,
			"requestId": ec.RequestID,
			"module":    ec.Module,
			"page":      ec.Page,
		},
	}
}

func substituteDoc(doc map[string]any, bag map[string]any) docstore.Document {
	if doc == nil {
		return nil
	}
	out, _ := refpath.SubstituteValue(doc, bag).(map[string]any)
	return out
}

// screenDangerous rejects operators that execute code server side. The
// check runs after substitution so parameters cannot smuggle one in.
func screenDangerous(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			for _, op := range dangerousOperators {
				if strings.EqualFold(k, op) {
					serr := reason.New(reason.BlockedDangerousOperator)
					serr.Message = fmt.Sprintf("operator %q is not allowed", k)
					return serr
				}
			}
			if err := screenDangerous(val); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range t {
			if err := screenDangerous(val); err != nil {
				return err
			}
		}
	}
	return nil
}
