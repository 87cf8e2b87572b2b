package taskflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/refpath"
)

// SelectMapTool is the id of the builtin tool whose successful result
// carries a chosen map and starts a task list.
const SelectMapTool = "select_map"

// Outcome is one (tool id, result) pair handed to the engine. Data is the
// success payload; Err is the user-facing error text on failure.
type Outcome struct {
	ToolID string
	OK     bool
	Data   any
	Err    string
}

// Directive is the engine's answer for one batch: the instruction to hand
// the model as the next user turn, whether the model must stop calling
// tools, and a snapshot of the task list for response metadata.
type Directive struct {
	Message  string
	Terminal bool
	TaskList *TaskList
}

// Engine drives the per-session map execution state machine.
type Engine struct {
	sessions SessionStore
	maps     *MapSource
	logger   *slog.Logger
}

// NewEngine creates an Engine over the given session store and map source.
func NewEngine(sessions SessionStore, maps *MapSource, logger *slog.Logger) *Engine {
	return &Engine{
		sessions: sessions,
		maps:     maps,
		logger:   logger.With("component", "taskflow"),
	}
}

// Snapshot returns the session's current task list, or nil when none.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*TaskList, error) {
	state, ok, err := e.sessions.Get(ctx, sessionID)
	if err != nil || !ok {
		return nil, err
	}
	return state.List, nil
}

// Advance feeds one batch of tool outcomes, in order, into the session's
// state machine. The first outcome that means something for the map drives
// the returned directive; the rest of the batch does not advance state. A
// nil directive means the batch triggered no map activity.
func (e *Engine) Advance(ctx context.Context, sessionID string, outcomes []Outcome) (*Directive, error) {
	state, ok, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		state = &SessionState{Outputs: map[string]any{}}
	}
	if state.Outputs == nil {
		state.Outputs = map[string]any{}
	}

	for _, oc := range outcomes {
		running := state.List != nil && state.List.Status == StatusRunning

		if !oc.OK {
			if !running {
				continue
			}
			// A failure freezes the list; no further steps activate.
			state.List.FailCurrent(oc.Err)
			if err := e.sessions.Put(ctx, sessionID, state); err != nil {
				return nil, err
			}
			return e.failureDirective(state.List), nil
		}

		if oc.ToolID == SelectMapTool {
			if d := e.startMap(ctx, sessionID, state, oc.Data); d != nil {
				return d, nil
			}
			continue
		}

		if running && state.List.Current() != nil && state.List.Current().Tool == oc.ToolID {
			return e.advanceStep(ctx, sessionID, state, oc)
		}

		if !running {
			if d := e.legacyDirective(ctx, oc.ToolID); d != nil {
				return d, nil
			}
		}
	}
	return nil, nil
}

// startMap instantiates and starts a task list from a map-selection result.
// Results that do not carry a decodable, non-empty map are ignored.
func (e *Engine) startMap(ctx context.Context, sessionID string, state *SessionState, data any) *Directive {
	m := decodeSelectedMap(data)
	if m == nil {
		return nil
	}
	list := NewTaskList(m)
	list.Start()
	state.List = list
	state.Map = m
	state.Outputs = map[string]any{}

	e.settleSkips(state)
	if list.Status == StatusCompleted {
		return e.completeList(ctx, sessionID, state)
	}
	if err := e.sessions.Put(ctx, sessionID, state); err != nil {
		e.logger.Warn("storing session state failed", "session_id", sessionID, "error", err)
		return nil
	}

	step := list.Current()
	msg := fmt.Sprintf(
		"Started workflow %q with %d steps. Step %d: %s. Call tool %q now and emit no prose.",
		m.Name, list.TotalSteps, step.Step, step.Name, step.Tool)
	return &Directive{Message: msg, TaskList: list.Clone()}
}

// advanceStep records the step's output, completes it, and produces either
// the terminal summarize directive or the next step's instruction.
func (e *Engine) advanceStep(ctx context.Context, sessionID string, state *SessionState, oc Outcome) (*Directive, error) {
	idx := state.List.CurrentStep - 1
	if state.Map != nil && idx < len(state.Map.Steps) {
		if key := state.Map.Steps[idx].OutputKey; key != "" {
			state.Outputs[key] = oc.Data
		}
	}
	state.Outputs["_lastResult"] = oc.Data
	state.List.CompleteCurrent(summarize(oc.Data))

	e.settleSkips(state)
	if state.List.Status == StatusCompleted {
		return e.completeList(ctx, sessionID, state), nil
	}

	if err := e.sessions.Put(ctx, sessionID, state); err != nil {
		return nil, err
	}
	return &Directive{Message: e.nextStepMessage(state), TaskList: state.List.Clone()}, nil
}

// settleSkips completes steps whose condition does not hold against the
// output bag, stopping at the first step that should actually run. Skipping
// the tail leaves the list completed; callers check for that.
func (e *Engine) settleSkips(state *SessionState) {
	if state.Map == nil {
		return
	}
	for state.List.Status == StatusRunning {
		idx := state.List.CurrentStep - 1
		if idx < 0 || idx >= len(state.Map.Steps) {
			return
		}
		when := state.Map.Steps[idx].When
		if when == nil || conditionHolds(when, state.Outputs) {
			return
		}
		state.List.CompleteCurrent("skipped")
	}
}

// completeList destroys the session entry and returns the terminal
// directive. The snapshot keeps the completed list for the response.
func (e *Engine) completeList(ctx context.Context, sessionID string, state *SessionState) *Directive {
	snapshot := state.List.Clone()
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		e.logger.Warn("deleting session state failed", "session_id", sessionID, "error", err)
	}
	state.List = nil
	state.Map = nil
	state.Outputs = map[string]any{}
	msg := fmt.Sprintf(
		"Workflow %q is complete (all %d steps done). Summarize the results for the user in a concise table and do not call any more tools.",
		snapshot.MapName, snapshot.TotalSteps)
	return &Directive{Message: msg, Terminal: true, TaskList: snapshot}
}

func (e *Engine) failureDirective(list *TaskList) *Directive {
	failed := list.Steps[list.CurrentStep-1]
	msg := fmt.Sprintf(
		"Step %d (%s) of workflow %q failed: %s. The workflow has stopped. Explain the failure to the user and do not call any more tools.",
		failed.Step, failed.Name, list.MapName, failed.Error)
	return &Directive{Message: msg, Terminal: true, TaskList: list.Clone()}
}

// nextStepMessage renders the freshly activated step's prompt template
// against the output bag, or synthesizes a generic advance message.
func (e *Engine) nextStepMessage(state *SessionState) string {
	list := state.List
	step := list.Current()
	idx := list.CurrentStep - 1
	if state.Map != nil && idx < len(state.Map.Steps) {
		if prompt := state.Map.Steps[idx].Prompt; prompt != "" {
			return refpath.Substitute(prompt, state.Outputs)
		}
	}
	return fmt.Sprintf(
		"Step %d of %d done. Proceed with step %d: %s. Call tool %q now and emit no prose.",
		step.Step-1, list.TotalSteps, step.Step, step.Name, step.Tool)
}

// legacyDirective is the stateless fallback for a tool result with no
// active list: find any map containing that tool and announce what would
// come next, without tracking anything.
func (e *Engine) legacyDirective(ctx context.Context, toolID string) *Directive {
	m, pos := e.maps.FindByToolID(ctx, toolID)
	if m == nil {
		return nil
	}
	if pos >= len(m.Steps) {
		return &Directive{
			Message: fmt.Sprintf(
				"That was the last step of workflow %q. Summarize the results and do not call any more tools.", m.Name),
			Terminal: true,
		}
	}
	next := m.Steps[pos]
	return &Directive{
		Message: fmt.Sprintf(
			"Workflow %q continues. Next step: %s. Call tool %q now and emit no prose.",
			m.Name, next.label(), next.Tool),
	}
}

// decodeSelectedMap digs the chosen map out of a selection result. The
// payload is either the map document itself or an envelope with a "map"
// field.
func decodeSelectedMap(data any) *Map {
	doc, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := doc["map"].(map[string]any); ok {
		doc = inner
	}
	m, err := DecodeMap(doc)
	if err != nil {
		return nil
	}
	return m
}

func conditionHolds(c *StepCondition, outputs map[string]any) bool {
	val, resolved := refpath.Resolve(c.Path, outputs)
	op := c.Op
	if op == "" {
		if c.Value == nil {
			op = "not_empty"
		} else {
			op = "eq"
		}
	}
	switch op {
	case "exists":
		return resolved
	case "empty":
		return !resolved || valueEmpty(val)
	case "not_empty":
		return resolved && !valueEmpty(val)
	case "eq":
		return resolved && docstore.Equal(val, c.Value)
	case "ne":
		return !resolved || !docstore.Equal(val, c.Value)
	case "gt":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n > 0
	case "lt":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n < 0
	default:
		return false
	}
}

func valueEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []map[string]any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func summarize(data any) string {
	switch t := data.(type) {
	case nil:
		return "done"
	case string:
		return truncate(t, 200)
	case []any:
		return fmt.Sprintf("%d records", len(t))
	case []docstore.Document:
		return fmt.Sprintf("%d records", len(t))
	default:
		return truncate(refpath.Render(data), 200)
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
