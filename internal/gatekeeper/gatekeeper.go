// Package gatekeeper fronts every tool invocation with the checks that hold
// regardless of caller: the tool must exist and be enabled, the caller must
// hold its permission, and destructive tools need an explicit confirmation.
// Every attempt leaves an audit entry, allowed or denied.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/copilot/internal/audit"
	"github.com/relaydesk/copilot/internal/reason"
	"github.com/relaydesk/copilot/internal/security"
	"github.com/relaydesk/copilot/internal/tools"
)

// Call is one requested tool invocation. Confirmed marks a call the user
// has explicitly approved after a confirmation deferral.
type Call struct {
	ToolID    string         `json:"toolId"`
	Params    map[string]any `json:"params,omitempty"`
	Confirmed bool           `json:"confirmed,omitempty"`
}

// Identity is the authenticated caller plus the request scope the call
// runs under.
type Identity struct {
	UserID    string
	Role      string
	SessionID string
	RequestID string
	Module    string
	Page      map[string]any
}

// Gatekeeper is the single dispatch path for tool execution.
type Gatekeeper struct {
	registry *tools.Registry
	executor *tools.Executor
	audit    *audit.Writer
	logger   *slog.Logger
}

// New creates a Gatekeeper. aud may be nil in tests.
func New(reg *tools.Registry, exec *tools.Executor, aud *audit.Writer, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		registry: reg,
		executor: exec,
		audit:    aud,
		logger:   logger.With("component", "gatekeeper"),
	}
}

// Dispatch resolves, gates, and executes one call. It never returns nil:
// every outcome, including denials, is a Result carrying either data or a
// structured error.
func (g *Gatekeeper) Dispatch(ctx context.Context, call Call, id Identity) *tools.Result {
	def, ok := g.registry.Get(ctx, call.ToolID)
	if !ok {
		serr := reason.New(reason.BlockedToolNotFound)
		serr.Message = fmt.Sprintf("tool %q is not registered", call.ToolID)
		return g.deny(call, id, nil, serr)
	}
	if def.Disabled {
		serr := reason.New(reason.BlockedToolDisabled)
		serr.Message = fmt.Sprintf("tool %q is disabled", def.ID)
		return g.deny(call, id, def, serr)
	}
	if !security.HasPermission(id.Role, def.Permission) {
		serr := reason.NewWithContext(reason.BlockedPermissionDenied, &reason.Context{Operation: def.ID})
		serr.Message = fmt.Sprintf("role %q lacks permission %q", id.Role, def.Permission)
		return g.deny(call, id, def, serr)
	}
	if def.RequiresConfirmation && !call.Confirmed {
		serr := reason.New(reason.BlockedConfirmationRequired)
		serr.Message = fmt.Sprintf("tool %q requires confirmation", def.ID)
		return g.deny(call, id, def, serr)
	}

	start := time.Now()
	res := g.executor.Execute(ctx, def, call.Params, execContext(id, def))
	g.record(call, id, def, res, time.Since(start))

	if !res.OK {
		g.logger.Warn("tool dispatch failed",
			"tool_id", call.ToolID, "user_id", id.UserID, "reason", res.Err.Reason)
	}
	return res
}

// deny audits a blocked attempt and wraps the error. Denials always record
// success=false.
func (g *Gatekeeper) deny(call Call, id Identity, def *tools.Definition, serr *reason.StructuredError) *tools.Result {
	res := tools.Failure(serr)
	g.record(call, id, def, res, 0)
	g.logger.Warn("tool dispatch blocked",
		"tool_id", call.ToolID, "user_id", id.UserID, "reason", serr.Reason)
	return res
}

func (g *Gatekeeper) record(call Call, id Identity, def *tools.Definition, res *tools.Result, took time.Duration) {
	if g.audit == nil {
		return
	}
	e := audit.Entry{
		UserID:     id.UserID,
		ToolID:     call.ToolID,
		Params:     call.Params,
		Success:    res.OK,
		DurationMs: took.Milliseconds(),
		SessionID:  id.SessionID,
		RequestID:  id.RequestID,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
		e.ReasonCode = string(res.Err.Reason)
	}
	if def != nil {
		e.Module = def.Module
		if def.Exec.Kind == tools.ExecSimple && def.Exec.Simple != nil {
			e.Collection = def.Exec.Simple.Collection
			e.Operation = def.Exec.Simple.Op
		}
	}
	g.audit.Record(e)
}

func execContext(id Identity, def *tools.Definition) tools.ExecContext {
	module := def.Module
	if module == "" {
		module = id.Module
	}
	return tools.ExecContext{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		RequestID: id.RequestID,
		Module:    module,
		Page:      id.Page,
	}
}
