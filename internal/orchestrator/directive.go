package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCallDirective is one fenced tool_call block: the model asking for a
// tool run.
type ToolCallDirective struct {
	ToolID string         `json:"toolId"`
	Params map[string]any `json:"params"`
}

// UIForm tells the client which form to render. The engine never interprets
// it beyond extraction.
type UIForm struct {
	FormID        string         `json:"formId"`
	Mode          string         `json:"mode,omitempty"`
	Title         string         `json:"title,omitempty"`
	InitialValues map[string]any `json:"initialValues,omitempty"`
}

// PredictedAction is a follow-up the model expects the user to want next.
type PredictedAction struct {
	Type                 string         `json:"type"`
	Label                string         `json:"label"`
	Prompt               string         `json:"prompt,omitempty"`
	ToolID               string         `json:"toolId,omitempty"`
	Params               map[string]any `json:"params,omitempty"`
	Confidence           float64        `json:"confidence,omitempty"`
	RequiresConfirmation bool           `json:"requiresConfirmation,omitempty"`
}

// Compiled once; completions are parsed on every round.
var (
	reToolCall  = regexp.MustCompile("(?s)```tool_call\\s+(.*?)```")
	reUIForm    = regexp.MustCompile("(?s)```ui_form\\s+(.*?)```")
	rePredicted = regexp.MustCompile("(?s)```predicted_actions\\s+(.*?)```")
	reDirective = regexp.MustCompile("(?s)```(?:tool_call|ui_form|predicted_actions)\\s.*?```")
	reBlankRun  = regexp.MustCompile(`\n{3,}`)
)

// parseToolCalls extracts every well-formed tool_call block in source
// order. A malformed block is skipped without poisoning the rest of the
// completion.
func parseToolCalls(text string) []ToolCallDirective {
	var calls []ToolCallDirective
	for _, m := range reToolCall.FindAllStringSubmatch(text, -1) {
		var d ToolCallDirective
		if err := json.Unmarshal([]byte(m[1]), &d); err != nil || d.ToolID == "" {
			continue
		}
		if d.Params == nil {
			d.Params = map[string]any{}
		}
		calls = append(calls, d)
	}
	return calls
}

// parseUIForm returns the first well-formed ui_form block, or nil.
func parseUIForm(text string) *UIForm {
	for _, m := range reUIForm.FindAllStringSubmatch(text, -1) {
		var f UIForm
		if err := json.Unmarshal([]byte(m[1]), &f); err != nil || f.FormID == "" {
			continue
		}
		return &f
	}
	return nil
}

// parsePredictedActions collects the entries of every well-formed
// predicted_actions block.
func parsePredictedActions(text string) []PredictedAction {
	var actions []PredictedAction
	for _, m := range rePredicted.FindAllStringSubmatch(text, -1) {
		var batch []PredictedAction
		if err := json.Unmarshal([]byte(m[1]), &batch); err != nil {
			continue
		}
		actions = append(actions, batch...)
	}
	return actions
}

// stripDirectives removes every directive block, well-formed or not,
// leaving the prose the user should see.
func stripDirectives(text string) string {
	out := reDirective.ReplaceAllString(text, "")
	out = reBlankRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
