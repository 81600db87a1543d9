package docstore

import "strings"

// ApplyMutations applies mutations to a source map in place and reports
// whether the mutations decided the document should be deleted instead.
// Backends without native scripting use it in their read-modify-write path.
func ApplyMutations(source map[string]any, muts []Mutation) (deleted bool) {
	for _, mut := range muts {
		switch m := mut.(type) {
		case IncrementFields:
			for field, delta := range m.Fields {
				cur, _ := toFloat(GetPath(source, field))
				SetPath(source, field, cur+float64(delta))
			}
		case SetFields:
			for field, value := range m.Fields {
				SetPath(source, field, value)
			}
		case MergeDoc:
			mergeDoc(source, m.Doc)
		case RemoveReference:
			removeReference(source, m.Type, m.ID)
		case RemoveNamespace:
			if removeNamespace(source, m.Namespace) && m.DeleteIfLast {
				deleted = true
			}
		}
	}
	return deleted
}

func mergeDoc(source, doc map[string]any) {
	for k, v := range doc {
		sub, ok := v.(map[string]any)
		if !ok {
			source[k] = v
			continue
		}
		cur, ok := source[k].(map[string]any)
		if !ok {
			source[k] = sub
			continue
		}
		for sk, sv := range sub {
			cur[sk] = sv
		}
	}
}

func removeReference(source map[string]any, typ, id string) {
	refs, ok := source["references"].([]any)
	if !ok {
		return
	}
	kept := make([]any, 0, len(refs))
	for _, r := range refs {
		m, _ := r.(map[string]any)
		if m != nil {
			rt, _ := m["type"].(string)
			rid, _ := m["id"].(string)
			if rt == typ && rid == id {
				continue
			}
		}
		kept = append(kept, r)
	}
	source["references"] = kept
}

// removeNamespace reports whether the document is left without any
// namespace membership.
func removeNamespace(source map[string]any, namespace string) (lastOwner bool) {
	if ns, ok := source["namespace"].(string); ok && ns == namespace {
		return true
	}
	raw, ok := source["namespaces"]
	if !ok {
		return false
	}
	items, ok := raw.([]any)
	if !ok {
		return false
	}
	kept := make([]any, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s == namespace {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == len(items) {
		return false
	}
	if len(kept) == 0 {
		return true
	}
	source["namespaces"] = kept
	return false
}

// GetPath reads a dotted path from a source map.
func GetPath(source map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = source
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// SetPath writes a dotted path into a source map, creating intermediate
// maps as needed.
func SetPath(source map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := source
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
