// Package flatten turns nested JSON records into single-level rows.
//
// Nested object keys are joined with an underscore, so {"a": {"b": 1}} becomes
// {"a_b": 1}. A list whose elements are all objects is expanded by index
// ({"a": [{"x": 1}]} becomes {"a_0_x": 1}); any other list is joined into one
// comma separated string, and an empty list becomes null.
//
// Elements of a joined list keep their JSON spelling: true, false, null and
// number literals exactly as sent (1.50 stays 1.50), nested containers as
// compact JSON. This deliberately differs from language-specific renderings
// such as True, None or 1.5, so a joined cell reads like the API response.
package flatten

import (
	"strconv"
	"strings"

	"github.com/Sternrassler/kobo-export/pkg/jsonvalue"
	"github.com/rs/zerolog/log"
)

const (
	// Separator joins key path segments.
	Separator = "_"

	// ListSeparator joins the elements of a scalar list.
	ListSeparator = ", "

	// ValueKey holds a top-level value that is not an object.
	ValueKey = "value"
)

// Flatten returns the flat form of v. Every leaf of v appears in the result
// under its key path. Key collisions are resolved last-writer-wins.
func Flatten(v jsonvalue.Value) *Record {
	if v.Kind() != jsonvalue.KindObject {
		out := NewRecord()
		out.Set(ValueKey, leaf(v))
		return out
	}
	return flattenObject("", v.Members())
}

// FlattenAll flattens every record, keeping order.
func FlattenAll(records []jsonvalue.Value) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		out = append(out, Flatten(r))
	}
	return out
}

func flattenObject(prefix string, members []jsonvalue.Member) *Record {
	out := NewRecord()
	for _, m := range members {
		merge(out, flattenValue(joinPath(prefix, m.Key), m.Value))
	}
	return out
}

func flattenValue(path string, v jsonvalue.Value) *Record {
	switch v.Kind() {
	case jsonvalue.KindObject:
		return flattenObject(path, v.Members())
	case jsonvalue.KindArray:
		items := v.Items()
		if allObjects(items) {
			out := NewRecord()
			for i, item := range items {
				merge(out, flattenObject(joinPath(path, strconv.Itoa(i)), item.Members()))
			}
			return out
		}
		out := NewRecord()
		out.Set(path, leaf(v))
		return out
	default:
		out := NewRecord()
		out.Set(path, v)
		return out
	}
}

// leaf collapses v into a scalar: an empty list becomes null and any other
// list is joined into one string.
func leaf(v jsonvalue.Value) jsonvalue.Value {
	if v.Kind() != jsonvalue.KindArray {
		return v
	}
	items := v.Items()
	if len(items) == 0 {
		return jsonvalue.Null()
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.Text()
	}
	return jsonvalue.String(strings.Join(parts, ListSeparator))
}

func allObjects(items []jsonvalue.Value) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Kind() != jsonvalue.KindObject {
			return false
		}
	}
	return true
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

func merge(dst, src *Record) {
	for _, k := range dst.Merge(src) {
		log.Debug().Str("key", k).Msg("Flattened key collision, keeping last value")
	}
}
