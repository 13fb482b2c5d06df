package docstore

import (
	"fmt"
	"reflect"
	"sort"
)

// matches reports whether doc satisfies the id and filter predicates of q.
// Filter values must already be normalized.
func matches(q Query, doc Document) bool {
	if q.ID != "" && doc.ID != q.ID {
		return false
	}
	for _, f := range q.Filters {
		v, ok := doc.Fields[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// containsAll reports whether every expected field is present in doc with an
// equal value.
func containsAll(doc, expected Fields) bool {
	for k, want := range expected {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func normalizeFilters(filters []Filter) ([]Filter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	raw := make(Fields, len(filters))
	for _, f := range filters {
		raw[f.Field] = f.Value
	}
	norm, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, Filter{Field: f.Field, Value: norm[f.Field]})
	}
	return out, nil
}

// sortDocuments orders docs by q.OrderBy. Documents missing the field sort
// last; ties fall back to the id so results are stable.
func sortDocuments(docs []Document, q Query) {
	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy == "" {
			return docs[i].ID < docs[j].ID
		}
		a, aok := docs[i].Fields[q.OrderBy]
		b, bok := docs[j].Fields[q.OrderBy]
		switch {
		case !aok && !bok:
			return docs[i].ID < docs[j].ID
		case !aok:
			return false
		case !bok:
			return true
		}
		c := compareValues(a, b)
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
