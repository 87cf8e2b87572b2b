// Package builtin registers the statically implemented tools every
// deployment carries: workflow selection and page-context echo. They are
// the fallback arm of the catalog; a declarative definition sharing an id
// would shadow them.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaydesk/copilot/internal/reason"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

// Register installs the builtin static tools into reg.
func Register(reg *tools.Registry, maps *taskflow.MapSource) error {
	defs := []*tools.Definition{
		{
			ID:          taskflow.SelectMapTool,
			Name:        "Select workflow",
			Description: "Finds the multi-step workflow matching the user's request. Call it when the user asks for a procedure that spans several operations.",
			Category:    "workflows",
			Permission:  "maps.run",
			Params: tools.Parameters{
				Properties: map[string]tools.ParamSpec{
					"query": {Type: "string", Description: "Workflow name or keyword from the user's request."},
				},
				Required: []string{"query"},
			},
			Exec: tools.ExecSpec{Kind: tools.ExecStatic, Run: selectMap(maps)},
		},
		{
			ID:          "get_current_context",
			Name:        "Current page context",
			Description: "Returns the module, page, and entity the user is currently looking at.",
			Category:    "context",
			Exec:        tools.ExecSpec{Kind: tools.ExecStatic, Run: currentContext},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("builtin: %w", err)
		}
	}
	return nil
}

// selectMap looks a workflow up by name or keyword and returns its document
// under the "map" key, the envelope the task engine starts a list from.
func selectMap(maps *taskflow.MapSource) tools.HandlerFunc {
	return func(ctx context.Context, params map[string]any, _ tools.ExecContext) (any, error) {
		query, _ := params["query"].(string)
		m := maps.FindByQuery(ctx, query)
		if m == nil {
			serr := reason.New(reason.EmptyResults)
			serr.Message = fmt.Sprintf("no workflow matches %q", query)
			return nil, serr
		}
		doc, err := toDocument(m)
		if err != nil {
			return nil, err
		}
		return map[string]any{"map": doc, "name": m.Name, "steps": len(m.Steps)}, nil
	}
}

// currentContext echoes the request's page context back to the model.
func currentContext(_ context.Context, _ map[string]any, ec tools.ExecContext) (any, error) {
	out := map[string]any{"module": ec.Module}
	for k, v := range ec.Page {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func toDocument(v any) (map[string]any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
