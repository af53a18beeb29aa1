// Package jsonvalue provides an order-preserving JSON value model.
//
// A Value is a tagged union over the six JSON kinds. Object members keep the
// order in which they appeared in the source document and numbers keep their
// literal text, so a decoded record can be walked deterministically and
// re-encoded without losing precision.
package jsonvalue

import (
	"encoding/json"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindNull is the JSON null literal. The zero Value is null.
	KindNull Kind = iota
	// KindBool is true or false.
	KindBool
	// KindNumber is a JSON number, stored as its literal text.
	KindNumber
	// KindString is a JSON string.
	KindString
	// KindArray is an ordered sequence of values.
	KindArray
	// KindObject is an ordered sequence of key/value members.
	KindObject
)

// String returns the lower-case JSON name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value.
type Value struct {
	kind    Kind
	boolean bool
	text    string // number literal or string contents
	items   []Value
	members []Member
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number returns a number value from its literal text.
func Number(n json.Number) Value { return Value{kind: KindNumber, text: string(n)} }

// Int returns a number value for an integer.
func Int(n int64) Value { return Number(json.Number(strconv.FormatInt(n, 10))) }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Array returns an array value holding items in order.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Object returns an object value holding members in order.
func Object(members ...Member) Value {
	if members == nil {
		members = []Member{}
	}
	return Value{kind: KindObject, members: members}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether v is null, a bool, a number or a string.
func (v Value) IsScalar() bool { return v.kind != KindArray && v.kind != KindObject }

// AsBool returns the boolean held by v. ok is false for other kinds.
func (v Value) AsBool() (b bool, ok bool) { return v.boolean, v.kind == KindBool }

// AsNumber returns the number literal held by v. ok is false for other kinds.
func (v Value) AsNumber() (json.Number, bool) { return json.Number(v.text), v.kind == KindNumber }

// AsString returns the string held by v. ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.text, v.kind == KindString }

// Items returns the elements of an array, or nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Members returns the members of an object, or nil for other kinds.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Len returns the number of array items or object members. Scalars have length 0.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Get returns the value of the last member named key. Objects only.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for i := len(v.members) - 1; i >= 0; i-- {
		if v.members[i].Key == key {
			return v.members[i].Value, true
		}
	}
	return Value{}, false
}

// Text renders a scalar the way it reads in a spreadsheet cell or a joined
// list: strings verbatim, numbers by literal, booleans as true/false and null
// as "null". Containers are rendered as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindNull:
		return "null"
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Equal reports whether v and o are structurally identical, including member order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == o.boolean
	case KindNumber, KindString:
		return v.text == o.text
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != o.members[i].Key || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
