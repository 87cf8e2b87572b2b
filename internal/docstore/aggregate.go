package docstore

import (
	"fmt"
	"strings"
)

// RunPipeline executes an aggregation pipeline over docs. Supported stages:
// $match, $sort, $skip, $limit, $group, $project, $count. Each stage
// document holds exactly one stage key; unknown stages fail the pipeline.
func RunPipeline(docs []Document, pipeline []Document) ([]Document, error) {
	cur := docs
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("stage %d: expected exactly one stage key, got %d", i, len(stage))
		}
		var err error
		for name, arg := range stage {
			switch name {
			case "$match":
				filter, ok := arg.(Document)
				if !ok {
					return nil, fmt.Errorf("stage %d: $match takes a document", i)
				}
				cur = Apply(cur, filter, nil)
			case "$sort":
				keys, ok := arg.(Document)
				if !ok {
					return nil, fmt.Errorf("stage %d: $sort takes a document", i)
				}
				sorted := append([]Document(nil), cur...)
				sortDocs(sorted, keys)
				cur = sorted
			case "$skip":
				n, ok := toFloat(arg)
				if !ok {
					return nil, fmt.Errorf("stage %d: $skip takes a number", i)
				}
				if int(n) >= len(cur) {
					cur = nil
				} else {
					cur = cur[int(n):]
				}
			case "$limit":
				n, ok := toFloat(arg)
				if !ok {
					return nil, fmt.Errorf("stage %d: $limit takes a number", i)
				}
				if int(n) < len(cur) {
					cur = cur[:int(n)]
				}
			case "$group":
				spec, ok := arg.(Document)
				if !ok {
					return nil, fmt.Errorf("stage %d: $group takes a document", i)
				}
				cur, err = groupDocs(cur, spec)
				if err != nil {
					return nil, fmt.Errorf("stage %d: %w", i, err)
				}
			case "$project":
				spec, ok := arg.(Document)
				if !ok {
					return nil, fmt.Errorf("stage %d: $project takes a document", i)
				}
				cur = projectDocs(cur, spec)
			case "$count":
				field, ok := arg.(string)
				if !ok || field == "" {
					return nil, fmt.Errorf("stage %d: $count takes a field name", i)
				}
				cur = []Document{{field: len(cur)}}
			default:
				return nil, fmt.Errorf("stage %d: unsupported stage %q", i, name)
			}
		}
	}
	return cur, nil
}

type accumulator struct {
	sum   float64
	min   float64
	max   float64
	first any
	count int
}

func groupDocs(docs []Document, spec Document) ([]Document, error) {
	idExpr, hasID := spec["_id"]
	if !hasID {
		return nil, fmt.Errorf("$group requires _id")
	}

	type bucket struct {
		id     any
		accums map[string]*accumulator
	}
	order := make([]string, 0)
	buckets := make(map[string]*bucket)

	for _, doc := range docs {
		id := evalExpr(idExpr, doc)
		key := fmt.Sprintf("%v", id)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{id: id, accums: make(map[string]*accumulator)}
			buckets[key] = b
			order = append(order, key)
		}
		for field, accSpec := range spec {
			if field == "_id" {
				continue
			}
			accDoc, ok := accSpec.(Document)
			if !ok || len(accDoc) != 1 {
				return nil, fmt.Errorf("accumulator %q must be a single-operator document", field)
			}
			acc := b.accums[field]
			if acc == nil {
				acc = &accumulator{}
				b.accums[field] = acc
			}
			for op, operand := range accDoc {
				val := evalExpr(operand, doc)
				f, isNum := toFloat(val)
				switch op {
				case "$sum", "$avg":
					if isNum {
						acc.sum += f
						acc.count++
					}
				case "$min":
					if isNum && (acc.count == 0 || f < acc.min) {
						acc.min = f
					}
					if isNum {
						acc.count++
					}
				case "$max":
					if isNum && (acc.count == 0 || f > acc.max) {
						acc.max = f
					}
					if isNum {
						acc.count++
					}
				case "$first":
					if acc.count == 0 {
						acc.first = val
					}
					acc.count++
				default:
					return nil, fmt.Errorf("unsupported accumulator %q", op)
				}
			}
		}
	}

	out := make([]Document, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		doc := Document{"_id": b.id}
		for field, accSpec := range spec {
			if field == "_id" {
				continue
			}
			accDoc := accSpec.(Document)
			acc := b.accums[field]
			for op := range accDoc {
				switch op {
				case "$sum":
					doc[field] = acc.sum
				case "$avg":
					if acc.count > 0 {
						doc[field] = acc.sum / float64(acc.count)
					} else {
						doc[field] = float64(0)
					}
				case "$min":
					doc[field] = acc.min
				case "$max":
					doc[field] = acc.max
				case "$first":
					doc[field] = acc.first
				}
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

func projectDocs(docs []Document, spec Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		proj := Document{}
		if id, ok := doc["_id"]; ok {
			if excl, isNum := toFloat(spec["_id"]); !isNum || excl != 0 {
				proj["_id"] = id
			}
		}
		for field, expr := range spec {
			if field == "_id" {
				continue
			}
			switch t := expr.(type) {
			case string:
				proj[field] = evalExpr(t, doc)
			default:
				if f, ok := toFloat(expr); ok && f != 0 {
					if v, present := fieldValue(doc, field); present {
						proj[field] = v
					}
				} else if b, ok := expr.(bool); ok && b {
					if v, present := fieldValue(doc, field); present {
						proj[field] = v
					}
				}
			}
		}
		out[i] = proj
	}
	return out
}

// evalExpr evaluates a group/project expression against a document:
// "$field" reads a (possibly dotted) field, anything else is a literal.
func evalExpr(expr any, doc Document) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := fieldValue(doc, strings.TrimPrefix(s, "$"))
		return v
	}
	return expr
}
