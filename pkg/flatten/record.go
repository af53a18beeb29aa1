package flatten

import (
	"github.com/Sternrassler/kobo-export/pkg/jsonvalue"
)

// Record is a single-level mapping from key path to scalar value.
// Keys are kept in first-insertion order.
type Record struct {
	keys   []string
	values map[string]jsonvalue.Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]jsonvalue.Value)}
}

// Set stores v under key. An existing key is overwritten in place and keeps
// its original position. It reports whether an existing value was replaced.
func (r *Record) Set(key string, v jsonvalue.Value) (replaced bool) {
	if _, ok := r.values[key]; ok {
		r.values[key] = v
		return true
	}
	r.keys = append(r.keys, key)
	r.values[key] = v
	return false
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (jsonvalue.Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (r *Record) Keys() []string {
	return r.keys
}

// Len returns the number of keys.
func (r *Record) Len() int {
	return len(r.keys)
}

// Merge copies every entry of other into r in other's key order, with the
// entries of other winning on collision. It returns the keys that collided.
func (r *Record) Merge(other *Record) (collisions []string) {
	if other == nil {
		return nil
	}
	for _, k := range other.keys {
		if r.Set(k, other.values[k]) {
			collisions = append(collisions, k)
		}
	}
	return collisions
}
