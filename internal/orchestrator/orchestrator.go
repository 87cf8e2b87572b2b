// Package orchestrator runs the bounded conversation loop: prompt the
// model, run the tool calls it emits through the gatekeeper, feed the
// results to the task engine, and go around again until the model stops
// asking, the active map finishes, or the round budget runs out.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/copilot/internal/convlog"
	"github.com/relaydesk/copilot/internal/gatekeeper"
	"github.com/relaydesk/copilot/internal/llm"
	"github.com/relaydesk/copilot/internal/metrics"
	"github.com/relaydesk/copilot/internal/reason"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

// maxRounds caps the additional model rounds after the first completion.
// It is the only guard against a runaway tool-call chain and is therefore
// a constant, not configuration.
const maxRounds = 5

const answerDirective = "Answer the user's request using the tool results above. Do not call any more tools."

// PageContext is where in the application the user was when they asked.
type PageContext struct {
	Module   string `json:"module,omitempty"`
	PageType string `json:"pageType,omitempty"`
	Pathname string `json:"pathname,omitempty"`
	EntityID string `json:"entityId,omitempty"`
}

// Request is one inbound chat turn. UserID and Role come from the verified
// token, never from the body.
type Request struct {
	Message   string        `json:"message"`
	History   []llm.Message `json:"history,omitempty"`
	Context   *PageContext  `json:"context,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`

	UserID string `json:"-"`
	Role   string `json:"-"`
}

// ConfirmRequest carries previously deferred tool calls the user has
// explicitly approved.
type ConfirmRequest struct {
	Calls     []ToolCallDirective `json:"toolCalls"`
	Context   *PageContext        `json:"context,omitempty"`
	SessionID string              `json:"sessionId"`

	UserID string `json:"-"`
	Role   string `json:"-"`
}

// ToolOutcome pairs a dispatched tool id with its result.
type ToolOutcome struct {
	ToolID string        `json:"toolId"`
	Result *tools.Result `json:"result"`
}

// Response is the chat reply plus everything the client needs to render
// it: executed tool results, an opaque UI suggestion, predicted next
// actions, calls deferred for confirmation, and the live task list.
type Response struct {
	Content          string              `json:"content"`
	ToolResults      []ToolOutcome       `json:"toolResults,omitempty"`
	UISpec           any                 `json:"uiSpec,omitempty"`
	PredictedActions []PredictedAction   `json:"predictedActions,omitempty"`
	PendingToolCalls []ToolCallDirective `json:"pendingToolCalls,omitempty"`
	SessionID        string              `json:"sessionId"`
	TaskList         *taskflow.TaskList  `json:"taskList,omitempty"`
}

// Options holds the model knobs the loop passes through on every call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Orchestrator owns one conversation round trip end to end.
type Orchestrator struct {
	provider llm.Provider
	registry *tools.Registry
	gate     *gatekeeper.Gatekeeper
	engine   *taskflow.Engine
	conv     *convlog.Log
	opts     Options
	logger   *slog.Logger
}

// New creates an Orchestrator. conv may be nil; conversation logging is
// best-effort everywhere.
func New(provider llm.Provider, reg *tools.Registry, gate *gatekeeper.Gatekeeper, engine *taskflow.Engine, conv *convlog.Log, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		registry: reg,
		gate:     gate,
		engine:   engine,
		conv:     conv,
		opts:     opts,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Chat handles one user message: up to 1+maxRounds model calls with tool
// execution in between. It returns an error only for programmer mistakes;
// model and tool failures come back inside the Response.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	id := o.identity(req.UserID, req.Role, req.SessionID, req.Context)

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: o.systemPrompt(ctx, req.Context)})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	completion, err := o.complete(ctx, messages)
	if err != nil {
		// No state has been touched yet; the explanation is the answer.
		metrics.ChatRequests.WithLabelValues("llm_error").Inc()
		return &Response{Content: reason.Text(llmFailure(err)), SessionID: req.SessionID}, nil
	}

	var (
		results   []ToolOutcome
		pending   []ToolCallDirective
		ranTools  []convlog.ToolCall
		taskList  *taskflow.TaskList
		rounds    = 1
		finalText = completion
	)

	for round := 0; round < maxRounds; round++ {
		calls := parseToolCalls(completion)
		if len(calls) == 0 {
			break
		}

		var (
			roundResults []ToolOutcome
			outcomes     []taskflow.Outcome
		)
		for _, call := range calls {
			if def, ok := o.registry.Get(ctx, call.ToolID); ok && def.RequiresConfirmation {
				pending = append(pending, call)
				continue
			}
			res := o.gate.Dispatch(ctx, gatekeeper.Call{ToolID: call.ToolID, Params: call.Params}, id)
			roundResults = append(roundResults, ToolOutcome{ToolID: call.ToolID, Result: res})
			ranTools = append(ranTools, convlog.ToolCall{ToolID: call.ToolID, Success: res.OK})
			outcomes = append(outcomes, engineOutcome(call.ToolID, res))
			metrics.ToolExecutions.WithLabelValues(call.ToolID, toolOutcomeLabel(res)).Inc()
		}
		results = append(results, roundResults...)

		if len(roundResults) == 0 {
			// Everything this round was deferred for confirmation.
			break
		}

		directive, err := o.engine.Advance(ctx, req.SessionID, outcomes)
		if err != nil {
			o.logger.Warn("task engine advance failed", "session", req.SessionID, "error", err)
		}
		next := answerDirective
		terminal := false
		if directive != nil {
			next = directive.Message
			terminal = directive.Terminal
			if directive.TaskList != nil {
				taskList = directive.TaskList
			}
		}

		// The next round sees only the latest directive and this round's
		// outputs, never the accumulated history.
		messages = []llm.Message{
			{Role: "system", Content: o.systemPrompt(ctx, req.Context)},
			{Role: "user", Content: nextTurn(next, roundResults)},
		}
		completion, err = o.complete(ctx, messages)
		if err != nil {
			metrics.ChatRequests.WithLabelValues("llm_error").Inc()
			resp := &Response{
				Content:          reason.Text(llmFailure(err)),
				ToolResults:      results,
				PendingToolCalls: pending,
				SessionID:        req.SessionID,
				TaskList:         taskList,
			}
			o.persist(ctx, req, resp.Content, ranTools)
			return resp, nil
		}
		rounds++
		finalText = completion

		if terminal {
			// The map finished; the completion we just got is the summary.
			break
		}
	}

	resp := &Response{
		Content:          stripDirectives(finalText),
		ToolResults:      results,
		PredictedActions: parsePredictedActions(finalText),
		PendingToolCalls: pending,
		SessionID:        req.SessionID,
		TaskList:         taskList,
	}
	resp.UISpec = chooseUISpec(parseUIForm(finalText), results)
	if resp.TaskList == nil {
		if list, err := o.engine.Snapshot(ctx, req.SessionID); err == nil {
			resp.TaskList = list
		}
	}

	metrics.ChatRequests.WithLabelValues("ok").Inc()
	metrics.ChatRounds.Observe(float64(rounds))
	o.persist(ctx, req, resp.Content, ranTools)
	return resp, nil
}

// Confirm executes approved calls through the same gatekeeper path the loop
// uses. Results feed the task engine, so a confirmed call belonging to an
// active map advances that map.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*Response, error) {
	id := o.identity(req.UserID, req.Role, req.SessionID, req.Context)

	var (
		results  []ToolOutcome
		outcomes []taskflow.Outcome
		ranTools []convlog.ToolCall
		lines    []string
	)
	for _, call := range req.Calls {
		res := o.gate.Dispatch(ctx, gatekeeper.Call{ToolID: call.ToolID, Params: call.Params, Confirmed: true}, id)
		results = append(results, ToolOutcome{ToolID: call.ToolID, Result: res})
		ranTools = append(ranTools, convlog.ToolCall{ToolID: call.ToolID, Success: res.OK})
		outcomes = append(outcomes, engineOutcome(call.ToolID, res))
		metrics.ToolExecutions.WithLabelValues(call.ToolID, toolOutcomeLabel(res)).Inc()
		if res.OK {
			lines = append(lines, fmt.Sprintf("Done: %s.", call.ToolID))
		} else {
			lines = append(lines, reason.Text(res.Err))
		}
	}

	resp := &Response{
		Content:     strings.Join(lines, "\n"),
		ToolResults: results,
		SessionID:   req.SessionID,
	}
	directive, err := o.engine.Advance(ctx, req.SessionID, outcomes)
	if err != nil {
		o.logger.Warn("task engine advance failed", "session", req.SessionID, "error", err)
	}
	if directive != nil && directive.TaskList != nil {
		resp.TaskList = directive.TaskList
	} else if list, err := o.engine.Snapshot(ctx, req.SessionID); err == nil {
		resp.TaskList = list
	}
	resp.UISpec = chooseUISpec(nil, results)

	if o.conv != nil {
		o.conv.LogEvent(ctx, convlog.Event{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: ranTools,
			Module:    moduleOf(req.Context),
		})
	}
	return resp, nil
}

// complete wraps one provider call with latency metrics.
func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message) (string, error) {
	start := time.Now()
	text, err := o.provider.Complete(ctx, llm.Request{
		Messages:    messages,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	})
	metrics.LLMRequestSeconds.WithLabelValues(o.provider.Name()).Observe(time.Since(start).Seconds())
	return text, err
}

// systemPrompt describes the assistant's role, the directive syntax, and
// the currently available tools plus the user's page context.
func (o *Orchestrator) systemPrompt(ctx context.Context, pc *PageContext) string {
	var b strings.Builder
	b.WriteString("You are the copilot embedded in a business management application. ")
	b.WriteString("You help the user work with clients, projects, contracts, and invoices by calling tools.\n\n")
	b.WriteString("To call a tool, emit a fenced block:\n\n")
	b.WriteString("```tool_call\n{\"toolId\": \"<id>\", \"params\": {}}\n```\n\n")
	b.WriteString("You may emit several tool_call blocks; they run in order. ")
	b.WriteString("To suggest a form for the user, emit a ```ui_form block containing {\"formId\": ...}. ")
	b.WriteString("To suggest likely next actions, emit a ```predicted_actions block containing a JSON array. ")
	b.WriteString("Outside directive blocks, write plain prose for the user.\n\nAvailable tools:\n")
	for _, def := range o.registry.List(ctx) {
		if def.Disabled {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", def.ID, def.Description)
		if len(def.Params.Required) > 0 {
			fmt.Fprintf(&b, " (required params: %s)", strings.Join(def.Params.Required, ", "))
		}
		if def.RequiresConfirmation {
			b.WriteString(" [asks the user for confirmation]")
		}
		b.WriteString("\n")
	}
	if pc != nil && pc.Module != "" {
		fmt.Fprintf(&b, "\nThe user is currently in the %s module", pc.Module)
		if pc.PageType != "" {
			fmt.Fprintf(&b, " on a %s page", pc.PageType)
		}
		if pc.EntityID != "" {
			fmt.Fprintf(&b, " for entity %s", pc.EntityID)
		}
		b.WriteString(".\n")
	}
	return b.String()
}

func (o *Orchestrator) identity(userID, role, sessionID string, pc *PageContext) gatekeeper.Identity {
	id := gatekeeper.Identity{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		RequestID: uuid.NewString(),
		Module:    moduleOf(pc),
	}
	if pc != nil {
		id.Page = map[string]any{
			"pageType": pc.PageType,
			"pathname": pc.Pathname,
			"entityId": pc.EntityID,
		}
	}
	return id
}

// persist writes the user and assistant turns to the conversation log.
// Failures never surface; the log itself only warns.
func (o *Orchestrator) persist(ctx context.Context, req Request, content string, ranTools []convlog.ToolCall) {
	if o.conv == nil {
		return
	}
	module := moduleOf(req.Context)
	o.conv.LogEvent(ctx, convlog.Event{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Role:      "user",
		Content:   req.Message,
		Module:    module,
	})
	o.conv.LogEvent(ctx, convlog.Event{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Role:      "assistant",
		Content:   content,
		ToolCalls: ranTools,
		Module:    module,
	})
}

// nextTurn renders this round's outputs plus the directive as the next
// user message.
func nextTurn(directive string, results []ToolOutcome) string {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, r := range results {
		body, err := json.Marshal(r)
		if err != nil {
			body = []byte(fmt.Sprintf(`{"toolId":%q,"ok":false}`, r.ToolID))
		}
		b.Write(body)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(directive)
	return b.String()
}

// chooseUISpec prefers an explicit ui_form directive, else the newest
// successful tool result carrying a suggestion.
func chooseUISpec(form *UIForm, results []ToolOutcome) any {
	if form != nil {
		return form
	}
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i].Result
		if r.OK && r.UISuggestion != nil {
			return r.UISuggestion
		}
	}
	return nil
}

func engineOutcome(toolID string, res *tools.Result) taskflow.Outcome {
	oc := taskflow.Outcome{ToolID: toolID, OK: res.OK, Data: res.Data}
	if res.Err != nil {
		oc.Err = reason.Text(res.Err)
	}
	return oc
}

func toolOutcomeLabel(res *tools.Result) string {
	switch {
	case res.OK:
		return "ok"
	case res.Err != nil && strings.HasPrefix(string(res.Err.Reason), "BLOCKED_"):
		return "blocked"
	default:
		return "error"
	}
}

// llmFailure converts a provider transport error into the taxonomy.
func llmFailure(err error) *reason.StructuredError {
	code := reason.ErrorLLMUnavailable
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		code = reason.ErrorLLMTimeout
	}
	serr := reason.New(code)
	serr.Message = err.Error()
	return serr
}

func moduleOf(pc *PageContext) string {
	if pc == nil {
		return ""
	}
	return pc.Module
}
