package docstore

import (
	"sort"
	"strings"
)

// Match reports whether doc satisfies filter. Filter values are either
// literals (equality, with membership semantics for array fields) or
// operator documents using $eq/$ne/$gt/$gte/$lt/$lte/$in/$exists. Field
// names may be dotted paths. A nil or empty filter matches everything.
func Match(doc, filter Document) bool {
	for field, cond := range filter {
		val, present := fieldValue(doc, field)
		if ops, ok := cond.(Document); ok && isOperatorDoc(ops) {
			if !matchOps(val, present, ops) {
				return false
			}
			continue
		}
		if !present || !Equal(val, cond) {
			return false
		}
	}
	return true
}

// Apply filters docs and applies sort/skip/limit from opts, preserving the
// input order between equal sort keys.
func Apply(docs []Document, filter Document, opts *FindOptions) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if Match(doc, filter) {
			out = append(out, doc)
		}
	}
	if opts == nil {
		return out
	}
	if len(opts.Sort) > 0 {
		sortDocs(out, opts.Sort)
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(out) {
			return nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// ApplyUpdate returns the document after applying update to doc. An update
// document carrying $set/$inc/$unset applies those operators; anything else
// replaces every field except _id.
func ApplyUpdate(doc, update Document) Document {
	out := Clone(doc)
	hasOp := false
	for k := range update {
		if strings.HasPrefix(k, "$") {
			hasOp = true
			break
		}
	}
	if !hasOp {
		id := out["_id"]
		out = Clone(update)
		if id != nil {
			out["_id"] = id
		}
		return out
	}
	if set, ok := update["$set"].(Document); ok {
		for k, v := range set {
			out[k] = cloneValue(v)
		}
	}
	if inc, ok := update["$inc"].(Document); ok {
		for k, v := range inc {
			cur, _ := toFloat(out[k])
			delta, _ := toFloat(v)
			out[k] = cur + delta
		}
	}
	if unset, ok := update["$unset"].(Document); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	return out
}

func isOperatorDoc(d Document) bool {
	for k := range d {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOps(val any, present bool, ops Document) bool {
	for op, arg := range ops {
		switch op {
		case "$eq":
			if !present || !Equal(val, arg) {
				return false
			}
		case "$ne":
			if present && Equal(val, arg) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false
			}
			cmp, ok := Compare(val, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				if cmp <= 0 {
					return false
				}
			case "$gte":
				if cmp < 0 {
					return false
				}
			case "$lt":
				if cmp >= 0 {
					return false
				}
			case "$lte":
				if cmp > 0 {
					return false
				}
			}
		case "$in":
			list, ok := arg.([]any)
			if !ok || !present {
				return false
			}
			found := false
			for _, item := range list {
				if Equal(val, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		default:
			// Unknown operators never match; the executor screens
			// dangerous ones before filters reach the store.
			return false
		}
	}
	return true
}

// Equal compares scalars loosely (ints and floats unify) and treats an
// array field as matching when any element equals the literal.
func Equal(val, want any) bool {
	if arr, ok := val.([]any); ok {
		if warr, ok := want.([]any); ok {
			if len(arr) != len(warr) {
				return false
			}
			for i := range arr {
				if !Equal(arr[i], warr[i]) {
					return false
				}
			}
			return true
		}
		for _, item := range arr {
			if Equal(item, want) {
				return true
			}
		}
		return false
	}
	if cmp, ok := Compare(val, want); ok {
		return cmp == 0
	}
	return val == want
}

// Compare orders two values when they are mutually comparable: numbers with
// numbers, strings with strings, bools with bools.
func Compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case bb:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// fieldValue walks a dotted path through nested documents.
func fieldValue(doc Document, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(Document)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func sortDocs(docs []Document, keys Document) {
	fields := make([]string, 0, len(keys))
	for field := range keys {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			dir := 1
			if d, ok := toFloat(keys[field]); ok && d < 0 {
				dir = -1
			}
			av, _ := fieldValue(docs[i], field)
			bv, _ := fieldValue(docs[j], field)
			cmp, ok := Compare(av, bv)
			if !ok || cmp == 0 {
				continue
			}
			return cmp*dir < 0
		}
		return false
	})
}
