package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/gatekeeper"
	"github.com/relaydesk/copilot/internal/llm"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider replays a script of completions; once the script runs out
// it returns loop forever. Requests are recorded for assertions.
type stubProvider struct {
	script   []string
	loop     string
	err      error
	calls    int
	requests []llm.Request
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		return next, nil
	}
	return s.loop, nil
}

type chatFixture struct {
	orch   *Orchestrator
	stub   *stubProvider
	engine *taskflow.Engine
	runs   map[string]int
}

func toolCallBlock(toolID, params string) string {
	return "```tool_call\n{\"toolId\": \"" + toolID + "\", \"params\": " + params + "}\n```"
}

func newChatFixture(t *testing.T, stub *stubProvider) *chatFixture {
	t.Helper()
	ctx := context.Background()
	logger := noopLogger()
	store := docstore.NewMemory()

	for _, doc := range []docstore.Document{
		{
			"id":   "client-onboarding",
			"name": "Client onboarding",
			"steps": []any{
				map[string]any{"name": "Create client", "tool": "create_client", "outputKey": "client"},
				map[string]any{"name": "Create project", "tool": "create_project"},
			},
		},
		{
			"id":   "risky-run",
			"name": "Risky run",
			"steps": []any{
				map[string]any{"name": "Explode", "tool": "broken_tool"},
			},
		},
		{
			"id":   "record-cleanup",
			"name": "Record cleanup",
			"steps": []any{
				map[string]any{"name": "Archive client", "tool": "archive_client"},
				map[string]any{"name": "Create project", "tool": "create_project"},
			},
		},
	} {
		if _, err := store.Insert(ctx, taskflow.MapsCollection, doc); err != nil {
			t.Fatalf("seed map: %v", err)
		}
	}

	reg := tools.NewRegistry(store, logger, time.Minute)
	exec := tools.NewExecutor(store, reg, logger)
	gate := gatekeeper.New(reg, exec, nil, logger)
	sessions := taskflow.NewMemorySessions()
	maps := taskflow.NewMapSource(store, logger, time.Minute)
	engine := taskflow.NewEngine(sessions, maps, logger)

	f := &chatFixture{stub: stub, engine: engine, runs: map[string]int{}}

	static := func(id string, confirm bool, run func() (any, error)) *tools.Definition {
		return &tools.Definition{
			ID:                   id,
			Name:                 id,
			Description:          "test tool " + id,
			RequiresConfirmation: confirm,
			Exec: tools.ExecSpec{
				Kind: tools.ExecStatic,
				Run: func(ctx context.Context, params map[string]any, ec tools.ExecContext) (any, error) {
					f.runs[id]++
					return run()
				},
			},
		}
	}

	defs := []*tools.Definition{
		static("list_clients", false, func() (any, error) {
			return []docstore.Document{{"name": "Acme"}, {"name": "Globex"}}, nil
		}),
		static("create_client", false, func() (any, error) {
			return map[string]any{"_id": "c1", "name": "Acme"}, nil
		}),
		static("create_project", false, func() (any, error) {
			return map[string]any{"_id": "p1"}, nil
		}),
		static("archive_client", true, func() (any, error) {
			return "archived", nil
		}),
		static("broken_tool", false, func() (any, error) {
			return nil, errors.New("database exploded")
		}),
		static("ui_tool", false, func() (any, error) {
			res := tools.Success(map[string]any{"count": 2})
			res.UISuggestion = map[string]any{"formId": "client-list"}
			return res, nil
		}),
	}
	selectMap := &tools.Definition{
		ID:          taskflow.SelectMapTool,
		Name:        "Select workflow",
		Description: "finds the workflow matching a query",
		Exec: tools.ExecSpec{
			Kind: tools.ExecStatic,
			Run: func(ctx context.Context, params map[string]any, ec tools.ExecContext) (any, error) {
				f.runs[taskflow.SelectMapTool]++
				query, _ := params["query"].(string)
				return store.FindOne(ctx, taskflow.MapsCollection, docstore.Document{"id": query})
			},
		},
	}
	for _, def := range append(defs, selectMap) {
		if err := reg.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.ID, err)
		}
	}

	f.orch = New(stub, reg, gate, engine, nil, Options{Temperature: 0.2, MaxTokens: 900}, logger)
	return f
}

func TestChatPlainAnswer(t *testing.T) {
	stub := &stubProvider{script: []string{"Hello! How can I help?"}}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{
		Message: "hi",
		History: []llm.Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
		UserID: "u1",
		Role:   "admin",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if resp.Content != "Hello! How can I help?" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if stub.calls != 1 {
		t.Errorf("expected 1 model call, got %d", stub.calls)
	}
	if len(resp.ToolResults) != 0 || resp.TaskList != nil {
		t.Errorf("plain answer should carry no tool results or task list: %+v", resp)
	}
	if resp.SessionID == "" {
		t.Error("session id not assigned")
	}

	first := stub.requests[0]
	if first.Messages[0].Role != "system" {
		t.Fatalf("first message should be the system prompt, got %s", first.Messages[0].Role)
	}
	if !strings.Contains(first.Messages[0].Content, "tool_call") ||
		!strings.Contains(first.Messages[0].Content, "list_clients") {
		t.Error("system prompt missing directive syntax or tool listing")
	}
	// system + two history turns + the new user message
	if len(first.Messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(first.Messages))
	}
	if first.Temperature != 0.2 || first.MaxTokens != 900 {
		t.Errorf("model knobs not forwarded: %+v", first)
	}
}

func TestChatToolRoundTrip(t *testing.T) {
	stub := &stubProvider{script: []string{
		"Let me check.\n\n" + toolCallBlock("list_clients", "{}"),
		"You have 2 clients: Acme and Globex.",
	}}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "how many clients?", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if stub.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", stub.calls)
	}
	if f.runs["list_clients"] != 1 {
		t.Errorf("tool ran %d times, want 1", f.runs["list_clients"])
	}
	if resp.Content != "You have 2 clients: Acme and Globex." {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolResults) != 1 || !resp.ToolResults[0].Result.OK {
		t.Fatalf("unexpected tool results: %+v", resp.ToolResults)
	}

	// Round two gets only the system prompt plus one user turn carrying the
	// latest results and directive, never the accumulated history.
	second := stub.requests[1]
	if len(second.Messages) != 2 {
		t.Fatalf("expected 2 messages in round two, got %d", len(second.Messages))
	}
	turn := second.Messages[1].Content
	if !strings.Contains(turn, "Tool results:") || !strings.Contains(turn, `"toolId":"list_clients"`) {
		t.Errorf("tool results missing from next turn: %q", turn)
	}
	if !strings.Contains(turn, answerDirective) {
		t.Errorf("generic directive missing from next turn: %q", turn)
	}
	if strings.Contains(turn, "how many clients?") {
		t.Errorf("prior history resent into round two: %q", turn)
	}
}

func TestChatRoundBudgetExhausted(t *testing.T) {
	stub := &stubProvider{loop: toolCallBlock("list_clients", "{}")}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "go", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if stub.calls != 1+maxRounds {
		t.Errorf("expected exactly %d model calls, got %d", 1+maxRounds, stub.calls)
	}
	if f.runs["list_clients"] != maxRounds {
		t.Errorf("tool ran %d times, want %d", f.runs["list_clients"], maxRounds)
	}
	if len(resp.ToolResults) != maxRounds {
		t.Errorf("expected %d tool results, got %d", maxRounds, len(resp.ToolResults))
	}
}

func TestChatModelFailure(t *testing.T) {
	stub := &stubProvider{err: errors.New("http request: connection refused")}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "hi", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat should not error: %v", err)
	}
	if !strings.Contains(resp.Content, "The assistant service is temporarily unavailable.") {
		t.Errorf("unavailability explanation missing: %q", resp.Content)
	}
	if len(resp.ToolResults) != 0 {
		t.Errorf("no tools should have run: %+v", resp.ToolResults)
	}

	stub = &stubProvider{err: errors.New("http request: timeout awaiting response")}
	f = newChatFixture(t, stub)
	resp, err = f.orch.Chat(context.Background(), Request{Message: "hi", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat should not error: %v", err)
	}
	if !strings.Contains(resp.Content, "The assistant took too long to respond.") {
		t.Errorf("timeout explanation missing: %q", resp.Content)
	}
}

func TestChatToleratesMalformedBlocks(t *testing.T) {
	stub := &stubProvider{script: []string{
		toolCallBlock("list_clients", "{}") + "\n```tool_call\n{\"toolId\": broken}\n```",
		"Done.",
	}}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "list", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if f.runs["list_clients"] != 1 {
		t.Errorf("well-formed call should run once, ran %d times", f.runs["list_clients"])
	}
	if len(resp.ToolResults) != 1 {
		t.Errorf("expected 1 tool result, got %d", len(resp.ToolResults))
	}
}

func TestChatDefersConfirmationTools(t *testing.T) {
	stub := &stubProvider{script: []string{
		"I need your approval to archive Acme.\n\n" + toolCallBlock("archive_client", `{"id": "c1"}`),
	}}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "archive acme", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if stub.calls != 1 {
		t.Errorf("deferred round should end the loop, got %d model calls", stub.calls)
	}
	if f.runs["archive_client"] != 0 {
		t.Errorf("confirmation tool ran %d times without approval", f.runs["archive_client"])
	}
	if len(resp.PendingToolCalls) != 1 || resp.PendingToolCalls[0].ToolID != "archive_client" {
		t.Fatalf("unexpected pending calls: %+v", resp.PendingToolCalls)
	}
	if resp.PendingToolCalls[0].Params["id"] != "c1" {
		t.Errorf("pending params lost: %+v", resp.PendingToolCalls[0].Params)
	}
	if resp.Content != "I need your approval to archive Acme." {
		t.Errorf("unexpected content: %q", resp.Content)
	}
}

func TestChatRunsMapToCompletion(t *testing.T) {
	stub := &stubProvider{script: []string{
		"Starting onboarding.\n" + toolCallBlock(taskflow.SelectMapTool, `{"query": "client-onboarding"}`),
		toolCallBlock("create_client", `{"name": "Acme"}`),
		toolCallBlock("create_project", "{}"),
		"All done! Created Acme and its kickoff project.",
	}}
	f := newChatFixture(t, stub)
	ctx := context.Background()

	resp, err := f.orch.Chat(ctx, Request{Message: "onboard acme", UserID: "u1", Role: "admin", SessionID: "sess-map"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if stub.calls != 4 {
		t.Fatalf("expected 4 model calls, got %d", stub.calls)
	}
	if resp.Content != "All done! Created Acme and its kickoff project." {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolResults) != 3 {
		t.Errorf("expected 3 tool results, got %d", len(resp.ToolResults))
	}
	if resp.TaskList == nil || resp.TaskList.Status != taskflow.StatusCompleted {
		t.Fatalf("expected a completed task list, got %+v", resp.TaskList)
	}
	if pct := resp.TaskList.CompletionPercent(); pct != 100 {
		t.Errorf("completion percent = %d, want 100", pct)
	}

	// Directives the model saw, round by round.
	if turn := stub.requests[1].Messages[1].Content; !strings.Contains(turn, "Started workflow") {
		t.Errorf("round 2 missing start directive: %q", turn)
	}
	if turn := stub.requests[2].Messages[1].Content; !strings.Contains(turn, "Step 1 of 2 done") {
		t.Errorf("round 3 missing advance directive: %q", turn)
	}
	if turn := stub.requests[3].Messages[1].Content; !strings.Contains(turn, "is complete") ||
		!strings.Contains(turn, "do not call any more tools") {
		t.Errorf("round 4 missing terminal directive: %q", turn)
	}

	// Completion destroys the session's execution context.
	list, err := f.engine.Snapshot(ctx, "sess-map")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if list != nil {
		t.Errorf("session entry survived completion: %+v", list)
	}
}

func TestChatMapFailureStopsLoop(t *testing.T) {
	stub := &stubProvider{script: []string{
		toolCallBlock(taskflow.SelectMapTool, `{"query": "risky-run"}`),
		toolCallBlock("broken_tool", "{}"),
		"I'm sorry, the run failed.",
	}}
	f := newChatFixture(t, stub)
	ctx := context.Background()

	resp, err := f.orch.Chat(ctx, Request{Message: "run it", UserID: "u1", Role: "admin", SessionID: "sess-fail"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if stub.calls != 3 {
		t.Fatalf("expected 3 model calls, got %d", stub.calls)
	}
	if resp.Content != "I'm sorry, the run failed." {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.TaskList == nil || resp.TaskList.Status != taskflow.StatusFailed {
		t.Fatalf("expected a failed task list, got %+v", resp.TaskList)
	}
	if turn := stub.requests[2].Messages[1].Content; !strings.Contains(turn, "failed") ||
		!strings.Contains(turn, "has stopped") {
		t.Errorf("failure directive missing: %q", turn)
	}

	// The failed list stays inspectable.
	list, err := f.engine.Snapshot(ctx, "sess-fail")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if list == nil || list.Status != taskflow.StatusFailed {
		t.Errorf("failed list not kept: %+v", list)
	}
}

func TestChatUISuggestionPreference(t *testing.T) {
	// No explicit form: the tool result's suggestion wins.
	stub := &stubProvider{script: []string{toolCallBlock("ui_tool", "{}"), "Done."}}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Chat(context.Background(), Request{Message: "show", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	spec, ok := resp.UISpec.(map[string]any)
	if !ok || spec["formId"] != "client-list" {
		t.Errorf("expected the tool's suggestion, got %+v", resp.UISpec)
	}

	// An explicit ui_form directive beats tool suggestions.
	stub = &stubProvider{script: []string{
		toolCallBlock("ui_tool", "{}"),
		"Done.\n```ui_form\n{\"formId\": \"invoice-new\"}\n```",
	}}
	f = newChatFixture(t, stub)
	resp, err = f.orch.Chat(context.Background(), Request{Message: "show", UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	form, ok := resp.UISpec.(*UIForm)
	if !ok || form.FormID != "invoice-new" {
		t.Errorf("explicit form should win, got %+v", resp.UISpec)
	}
	if resp.Content != "Done." {
		t.Errorf("form block not stripped: %q", resp.Content)
	}
}

func TestConfirmAdvancesActiveMap(t *testing.T) {
	stub := &stubProvider{}
	f := newChatFixture(t, stub)
	ctx := context.Background()

	// Start the cleanup map as the loop would have.
	mapDoc := docstore.Document{
		"id":   "record-cleanup",
		"name": "Record cleanup",
		"steps": []any{
			map[string]any{"name": "Archive client", "tool": "archive_client"},
			map[string]any{"name": "Create project", "tool": "create_project"},
		},
	}
	if _, err := f.engine.Advance(ctx, "sess-confirm", []taskflow.Outcome{
		{ToolID: taskflow.SelectMapTool, OK: true, Data: mapDoc},
	}); err != nil {
		t.Fatalf("start map: %v", err)
	}

	resp, err := f.orch.Confirm(ctx, ConfirmRequest{
		Calls:     []ToolCallDirective{{ToolID: "archive_client", Params: map[string]any{"id": "c1"}}},
		SessionID: "sess-confirm",
		UserID:    "u1",
		Role:      "admin",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if stub.calls != 0 {
		t.Errorf("confirm must not call the model, got %d calls", stub.calls)
	}
	if f.runs["archive_client"] != 1 {
		t.Errorf("confirmed tool ran %d times, want 1", f.runs["archive_client"])
	}
	if !strings.Contains(resp.Content, "Done: archive_client.") {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolResults) != 1 || !resp.ToolResults[0].Result.OK {
		t.Fatalf("unexpected results: %+v", resp.ToolResults)
	}
	// The confirmed call advanced its map.
	if resp.TaskList == nil || resp.TaskList.CurrentStep != 2 {
		t.Errorf("map did not advance: %+v", resp.TaskList)
	}
}

func TestConfirmReportsFailure(t *testing.T) {
	stub := &stubProvider{}
	f := newChatFixture(t, stub)

	resp, err := f.orch.Confirm(context.Background(), ConfirmRequest{
		Calls:     []ToolCallDirective{{ToolID: "broken_tool", Params: map[string]any{}}},
		SessionID: "sess-broken",
		UserID:    "u1",
		Role:      "admin",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(resp.ToolResults) != 1 || resp.ToolResults[0].Result.OK {
		t.Fatalf("expected a failed result: %+v", resp.ToolResults)
	}
	if !strings.Contains(resp.Content, "The data store could not complete the query.") {
		t.Errorf("failure explanation missing: %q", resp.Content)
	}
}
