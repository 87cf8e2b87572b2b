package orchestrator

import (
	"strings"
	"testing"
)

func TestParseToolCallsInSourceOrder(t *testing.T) {
	completion := "Let me look that up.\n\n" +
		"```tool_call\n{\"toolId\": \"list_clients\", \"params\": {\"status\": \"active\"}}\n```\n\n" +
		"And their invoices:\n\n" +
		"```tool_call\n{\"toolId\": \"list_invoices\"}\n```\n"

	calls := parseToolCalls(completion)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ToolID != "list_clients" || calls[1].ToolID != "list_invoices" {
		t.Errorf("order not preserved: %+v", calls)
	}
	if calls[0].Params["status"] != "active" {
		t.Errorf("params not decoded: %+v", calls[0].Params)
	}
	if calls[1].Params == nil {
		t.Error("missing params should default to an empty map")
	}
}

func TestParseToolCallsSkipsMalformed(t *testing.T) {
	completion := "```tool_call\n{\"toolId\": \"good_tool\", \"params\": {}}\n```\n" +
		"```tool_call\n{\"toolId\": \"broken_tool\", \"params\": {no quotes}}\n```\n"

	calls := parseToolCalls(completion)
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", len(calls))
	}
	if calls[0].ToolID != "good_tool" {
		t.Errorf("wrong call survived: %+v", calls[0])
	}
}

func TestParseToolCallsRejectsEmptyToolID(t *testing.T) {
	completion := "```tool_call\n{\"params\": {\"x\": 1}}\n```"
	if calls := parseToolCalls(completion); len(calls) != 0 {
		t.Errorf("call without toolId extracted: %+v", calls)
	}
	if calls := parseToolCalls("no directives here"); len(calls) != 0 {
		t.Errorf("calls found in plain prose: %+v", calls)
	}
}

func TestParseUIForm(t *testing.T) {
	completion := "Here's the form.\n" +
		"```ui_form\n{\"formId\": \"client-edit\", \"mode\": \"edit\", \"title\": \"Edit client\", \"initialValues\": {\"name\": \"Acme\"}}\n```"

	form := parseUIForm(completion)
	if form == nil {
		t.Fatal("expected a form")
	}
	if form.FormID != "client-edit" || form.Mode != "edit" {
		t.Errorf("unexpected form: %+v", form)
	}
	if form.InitialValues["name"] != "Acme" {
		t.Errorf("initial values not decoded: %+v", form.InitialValues)
	}

	if parseUIForm("no form") != nil {
		t.Error("form found in plain prose")
	}

	// Malformed first block, valid second: the valid one wins.
	completion = "```ui_form\n{broken\n```\n```ui_form\n{\"formId\": \"invoice-new\"}\n```"
	form = parseUIForm(completion)
	if form == nil || form.FormID != "invoice-new" {
		t.Errorf("expected the valid block, got %+v", form)
	}
}

func TestParsePredictedActions(t *testing.T) {
	completion := "```predicted_actions\n" +
		`[{"type": "prompt", "label": "Show overdue invoices", "prompt": "show overdue invoices", "confidence": 0.8},
		  {"type": "tool", "label": "Create project", "toolId": "create_project", "requiresConfirmation": true}]` +
		"\n```"

	actions := parsePredictedActions(completion)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Label != "Show overdue invoices" || actions[0].Confidence != 0.8 {
		t.Errorf("unexpected first action: %+v", actions[0])
	}
	if actions[1].ToolID != "create_project" || !actions[1].RequiresConfirmation {
		t.Errorf("unexpected second action: %+v", actions[1])
	}

	if actions := parsePredictedActions("```predicted_actions\nnot json\n```"); len(actions) != 0 {
		t.Errorf("actions decoded from junk: %+v", actions)
	}
}

func TestStripDirectives(t *testing.T) {
	completion := "I found 3 active clients.\n\n" +
		"```tool_call\n{\"toolId\": \"list_clients\", \"params\": {}}\n```\n\n" +
		"Here they are.\n\n" +
		"```ui_form\n{\"formId\": \"client-list\"}\n```\n\n" +
		"```predicted_actions\n[{\"type\": \"prompt\", \"label\": \"x\"}]\n```\n"

	got := stripDirectives(completion)
	if strings.Contains(got, "```") {
		t.Errorf("fences left behind: %q", got)
	}
	if !strings.Contains(got, "I found 3 active clients.") || !strings.Contains(got, "Here they are.") {
		t.Errorf("prose lost: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", got)
	}

	// Malformed blocks are stripped too; the user never sees directive syntax.
	got = stripDirectives("Before.\n```tool_call\n{broken json\n```\nAfter.")
	if strings.Contains(got, "broken") {
		t.Errorf("malformed block leaked into prose: %q", got)
	}
	if !strings.Contains(got, "Before.") || !strings.Contains(got, "After.") {
		t.Errorf("prose lost around malformed block: %q", got)
	}

	// Code fences with other labels survive.
	got = stripDirectives("Use:\n```sql\nSELECT 1\n```")
	if !strings.Contains(got, "SELECT 1") {
		t.Errorf("unrelated fenced block stripped: %q", got)
	}
}
