package state

import (
	"sort"
	"strconv"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Node is a generic value materialized from the embedded page state.
// Object nodes keep their keys in source order. The zero Node is Null.
type Node struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	items  []Node
	keys   []string
	fields map[string]Node
}

// Kind returns the variant tag.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether n holds no value.
func (n Node) IsNull() bool { return n.kind == Null }

// IsObject reports whether n is a mapping.
func (n Node) IsObject() bool { return n.kind == Object }

// IsArray reports whether n is an array.
func (n Node) IsArray() bool { return n.kind == Array }

// Get returns the value under key, or a Null node when n is not an object
// or has no such key.
func (n Node) Get(key string) Node {
	if n.kind != Object {
		return Node{}
	}
	return n.fields[key]
}

// Lookup is Get with a presence flag.
func (n Node) Lookup(key string) (Node, bool) {
	if n.kind != Object {
		return Node{}, false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Keys returns object keys in source order.
func (n Node) Keys() []string {
	if n.kind != Object {
		return nil
	}
	return n.keys
}

// Items returns array elements, or nil when n is not an array.
func (n Node) Items() []Node {
	if n.kind != Array {
		return nil
	}
	return n.items
}

// Str returns the string value when n is a string.
func (n Node) Str() (string, bool) {
	return n.str, n.kind == String
}

// Num returns the numeric value when n is a number.
func (n Node) Num() (float64, bool) {
	return n.num, n.kind == Number
}

// Text renders scalars as strings: strings as-is, numbers without exponent.
func (n Node) Text() (string, bool) {
	switch n.kind {
	case String:
		return n.str, true
	case Number:
		return strconv.FormatFloat(n.num, 'f', -1, 64), true
	default:
		return "", false
	}
}

// NewObject builds an object node; keys keeps insertion order.
func NewObject(keys []string, fields map[string]Node) Node {
	return Node{kind: Object, keys: keys, fields: fields}
}

// FromValue converts plain Go values (as produced by encoding/json) into a
// Node. Map keys are sorted since Go maps carry no order.
func FromValue(v any) Node {
	switch t := v.(type) {
	case nil:
		return Node{}
	case bool:
		return Node{kind: Bool, b: t}
	case string:
		return Node{kind: String, str: t}
	case int:
		return Node{kind: Number, num: float64(t)}
	case int64:
		return Node{kind: Number, num: float64(t)}
	case float64:
		return Node{kind: Number, num: t}
	case []any:
		items := make([]Node, len(t))
		for i, item := range t {
			items[i] = FromValue(item)
		}
		return Node{kind: Array, items: items}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(map[string]Node, len(t))
		for _, k := range keys {
			fields[k] = FromValue(t[k])
		}
		return NewObject(keys, fields)
	default:
		return Node{}
	}
}
