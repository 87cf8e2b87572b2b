package tools

import (
	"context"
	"fmt"

	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/refpath"
)

// runPipeline executes steps in order against a shared data bag. Each step's
// output lands in the bag under its name and under "_last"; the pipeline's
// result is the output of the last step that ran.
func (e *Executor) runPipeline(ctx context.Context, steps []PipelineStep, bag map[string]any, ec ExecContext) (any, error) {
	var last any
	for i, step := range steps {
		if step.Kind == "branch" {
			if step.If == nil {
				return nil, fmt.Errorf("pipeline step %d: branch has no condition", i)
			}
			if !evalCondition(step.If, bag) {
				return refpath.SubstituteValue(step.Value, bag), nil
			}
			continue
		}
		if step.If != nil && !evalCondition(step.If, bag) {
			continue
		}

		var (
			out any
			err error
		)
		switch step.Kind {
		case "query", "mutate", "aggregate":
			op := step.StoreOp
			out, err = e.runStoreOp(ctx, &op, bag)
		case "template":
			out = refpath.Substitute(step.Template, bag)
		case "transform":
			out, err = transform(step, bag)
		case "return":
			return refpath.SubstituteValue(step.Value, bag), nil
		default:
			err = fmt.Errorf("unknown step kind %q", step.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline step %d (%s): %w", i, stepLabel(step), err)
		}

		if step.Name != "" {
			bag[step.Name] = out
		}
		bag["_last"] = out
		last = out
	}
	return last, nil
}

// transform reshapes a prior step's output. Source is a bag path; Extract
// selects the reshaping: "first" takes element 0, "length" the element
// count, "pluck" collects Field from every element, "field" reads Field
// from an object.
func transform(step PipelineStep, bag map[string]any) (any, error) {
	src, ok := refpath.Resolve(step.Source, bag)
	if !ok {
		return nil, fmt.Errorf("transform source %q did not resolve", step.Source)
	}
	switch step.Extract {
	case "first":
		arr, ok := toAnySlice(src)
		if !ok {
			return nil, fmt.Errorf("transform %q: source is not an array", step.Extract)
		}
		if len(arr) == 0 {
			return nil, nil
		}
		return arr[0], nil
	case "length":
		arr, ok := toAnySlice(src)
		if !ok {
			return nil, fmt.Errorf("transform %q: source is not an array", step.Extract)
		}
		return len(arr), nil
	case "pluck":
		arr, ok := toAnySlice(src)
		if !ok {
			return nil, fmt.Errorf("transform %q: source is not an array", step.Extract)
		}
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			if m, ok := el.(map[string]any); ok {
				out = append(out, m[step.Field])
			}
		}
		return out, nil
	case "field":
		m, ok := src.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transform %q: source is not an object", step.Extract)
		}
		return m[step.Field], nil
	default:
		return nil, fmt.Errorf("unknown transform %q", step.Extract)
	}
}

// evalCondition resolves the condition's path against the bag and applies
// its operator. An unresolvable path only satisfies "empty".
func evalCondition(c *Condition, bag map[string]any) bool {
	val, resolved := refpath.Resolve(c.Path, bag)
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
		return !resolved || isEmpty(val)
	case "not_empty":
		return resolved && !isEmpty(val)
	case "eq":
		return resolved && docstore.Equal(val, c.Value)
	case "ne":
		return !resolved || !docstore.Equal(val, c.Value)
	case "gt":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n > 0
	case "gte":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n >= 0
	case "lt":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n < 0
	case "lte":
		n, ok := docstore.Compare(val, c.Value)
		return resolved && ok && n <= 0
	default:
		return false
	}
}

func isEmpty(v any) bool {
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

func toAnySlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

func stepLabel(step PipelineStep) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Kind
}
