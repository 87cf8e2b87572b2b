// Package tools holds the capability catalog: tool definitions, the
// registry resolving configured definitions over static ones, and the
// executor that turns a definition plus parameters into a Result.
package tools

import (
	"context"

	"github.com/relaydesk/copilot/internal/reason"
)

// ToolsCollection is the doc-store collection declarative definitions live in.
const ToolsCollection = "copilot_tools"

// ExecKind tags the execution-spec union.
type ExecKind string

const (
	ExecSimple   ExecKind = "simple"
	ExecPipeline ExecKind = "pipeline"
	ExecCustom   ExecKind = "custom"
	ExecStatic   ExecKind = "static"
)

// HandlerFunc is an in-process tool implementation. Errors are converted to
// StructuredError at the executor boundary; a *reason.StructuredError error
// passes through unchanged.
type HandlerFunc func(ctx context.Context, params map[string]any, ec ExecContext) (any, error)

// ExecContext carries the caller identity and page context into execution.
type ExecContext struct {
	UserID    string
	SessionID string
	RequestID string
	Module    string
	Page      map[string]any
}

// ParamSpec validates a single parameter.
type ParamSpec struct {
	Type        string   `json:"type" toml:"type"`
	Description string   `json:"description,omitempty" toml:"description"`
	Enum        []string `json:"enum,omitempty" toml:"enum"`
}

// Parameters is a tool's validation contract.
type Parameters struct {
	Properties map[string]ParamSpec `json:"properties,omitempty" toml:"properties"`
	Required   []string             `json:"required,omitempty" toml:"required"`
}

// StoreOp describes one document-store operation with templated arguments.
// Template placeholders reference the execution bag: {{params.x}} for call
// parameters and, inside pipelines, {{<step>.field}} for prior outputs.
type StoreOp struct {
	Op         string           `json:"op" toml:"op"`
	Collection string           `json:"collection" toml:"collection"`
	Filter     map[string]any   `json:"filter,omitempty" toml:"filter"`
	Document   map[string]any   `json:"document,omitempty" toml:"document"`
	Update     map[string]any   `json:"update,omitempty" toml:"update"`
	Pipeline   []map[string]any `json:"pipeline,omitempty" toml:"pipeline"`
	Sort       map[string]any   `json:"sort,omitempty" toml:"sort"`
	Limit      int              `json:"limit,omitempty" toml:"limit"`
}

// Condition gates a pipeline step. Path resolves against the execution bag;
// Op defaults to "not_empty" when Value is nil and "eq" otherwise.
type Condition struct {
	Path  string `json:"path" toml:"path"`
	Op    string `json:"op,omitempty" toml:"op"`
	Value any    `json:"value,omitempty" toml:"value"`
}

// PipelineStep is one typed step in a pipeline spec. Kind selects which
// fields apply: query/mutate/aggregate use the embedded StoreOp, template
// renders Template, transform reshapes a prior output, branch halts the
// pipeline when its condition fails, return ends it with Value.
type PipelineStep struct {
	Name    string `json:"name,omitempty" toml:"name"`
	Kind    string `json:"kind" toml:"kind"`
	StoreOp
	// template
	Template string `json:"template,omitempty" toml:"template"`
	// transform
	Source  string `json:"source,omitempty" toml:"source"`
	Extract string `json:"extract,omitempty" toml:"extract"`
	Field   string `json:"field,omitempty" toml:"field"`
	// branch / step gate
	If *Condition `json:"if,omitempty" toml:"if"`
	// return / branch fallback
	Value any `json:"value,omitempty" toml:"value"`
}

// ExecSpec is the tagged execution union. Exactly one arm is populated,
// selected by Kind. Run is only ever set on statically registered
// definitions and never serializes.
type ExecSpec struct {
	Kind     ExecKind       `json:"kind" toml:"kind"`
	Simple   *StoreOp       `json:"simple,omitempty" toml:"simple"`
	Pipeline []PipelineStep `json:"pipeline,omitempty" toml:"pipeline"`
	Handler  string         `json:"handler,omitempty" toml:"handler"`
	Run      HandlerFunc    `json:"-" toml:"-"`
}

// Definition is a capability descriptor. Disabled uses inverted polarity so
// the zero value of a freshly decoded definition is enabled.
type Definition struct {
	ID                   string     `json:"id" toml:"id"`
	Name                 string     `json:"name" toml:"name"`
	Description          string     `json:"description" toml:"description"`
	Category             string     `json:"category,omitempty" toml:"category"`
	Module               string     `json:"module,omitempty" toml:"module"`
	Permission           string     `json:"permission,omitempty" toml:"permission"`
	Disabled             bool       `json:"disabled,omitempty" toml:"disabled"`
	RequiresConfirmation bool       `json:"requiresConfirmation,omitempty" toml:"requires_confirmation"`
	Params               Parameters `json:"params,omitempty" toml:"params"`
	Exec                 ExecSpec   `json:"exec" toml:"exec"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	OK           bool                    `json:"ok"`
	Data         any                     `json:"data,omitempty"`
	Err          *reason.StructuredError `json:"error,omitempty"`
	UISuggestion map[string]any          `json:"uiSuggestion,omitempty"`
}

// Success wraps data in a successful Result.
func Success(data any) *Result {
	return &Result{OK: true, Data: data}
}

// Failure wraps a structured error in a failed Result.
func Failure(err *reason.StructuredError) *Result {
	return &Result{OK: false, Err: err}
}
