// Package tree holds the typed key/value tree that normalized event payloads are stored as.
package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	Null Kind = iota
	String
	Number
	Bool
	List
	Map
)

// Value is an immutable-by-convention JSON-like tree node.
// The zero Value is Null.
type Value struct {
	kind Kind
	str  string // String, Number (literal text)
	b    bool
	list []Value
	m    map[string]Value
}

func Str(s string) Value          { return Value{kind: String, str: s} }
func Boolean(b bool) Value        { return Value{kind: Bool, b: b} }
func Num(n json.Number) Value     { return Value{kind: Number, str: n.String()} }
func ListOf(items ...Value) Value { return Value{kind: List, list: items} }

// MapOf wraps m. The map is not copied.
func MapOf(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

// Field returns the direct child key of a Map.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Map {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// Keys returns the sorted keys of a Map.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns the elements of a List.
func (v Value) Items() []Value { return v.list }

// With returns a copy of the Map with key set. Non-map values become a single-key map.
func (v Value) With(key string, child Value) Value {
	next := make(map[string]Value, len(v.m)+1)
	for k, c := range v.m {
		next[k] = c
	}
	next[key] = child
	return MapOf(next)
}

// Lookup walks a dotted path ("userIdentity.sessionContext.mfaAuthenticated").
// Only maps are traversed; a missing segment or a non-map intermediate returns false.
func (v Value) Lookup(path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Field(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// LookupString resolves path and renders the leaf as text. Missing paths yield "".
func (v Value) LookupString(path string) string {
	leaf, ok := v.Lookup(path)
	if !ok {
		return ""
	}
	return leaf.Text()
}

// Text renders the value for comparison: strings as-is, numbers as their literal,
// booleans as true/false, null as "", containers as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case String, Number:
		return v.str
	case Bool:
		if v.b {
			return "true"
		}
		return "false"
	case Null:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Interface converts the tree into plain Go values (map[string]any, []any, string,
// json.Number, bool, nil) for expression engines.
func (v Value) Interface() any {
	switch v.kind {
	case String:
		return v.str
	case Number:
		return json.Number(v.str)
	case Bool:
		return v.b
	case List:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case Map:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// Plain is Interface with numbers resolved to int64 when integral, float64 otherwise.
// Expression engines compare numbers by Go type, not by literal.
func (v Value) Plain() any {
	switch v.kind {
	case Number:
		n := json.Number(v.str)
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return v.str
	case List:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Plain()
		}
		return out
	case Map:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Plain()
		}
		return out
	}
	return v.Interface()
}

// FromInterface converts decoded JSON-ish Go values into a tree.
// Unknown scalar types are rendered with fmt.
func FromInterface(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case string:
		return Str(t)
	case json.Number:
		return Num(t)
	case float64:
		return Num(json.Number(fmt.Sprint(t)))
	case int:
		return Num(json.Number(fmt.Sprint(t)))
	case int64:
		return Num(json.Number(fmt.Sprint(t)))
	case bool:
		return Boolean(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return ListOf(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromInterface(item)
		}
		return MapOf(m)
	}
	return Str(fmt.Sprint(x))
}

// Parse decodes JSON into a tree, keeping numbers as their literal text.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	if dec.More() {
		return Value{}, fmt.Errorf("trailing data after JSON value")
	}
	return FromInterface(raw), nil
}

// MarshalJSON encodes the tree. Map keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(v.str)
	case Number:
		return []byte(v.str), nil
	case Bool:
		return json.Marshal(v.b)
	case List:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		child, err := v.m[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(child)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes into the tree.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Transform rebuilds the tree bottom-up. fn receives every map after its children were
// transformed, together with the key path leading to it, and returns the replacement.
func (v Value) Transform(fn func(path []string, m map[string]Value) Value) Value {
	return v.transform(nil, fn)
}

func (v Value) transform(path []string, fn func([]string, map[string]Value) Value) Value {
	switch v.kind {
	case List:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.transform(path, fn)
		}
		return ListOf(items...)
	case Map:
		m := make(map[string]Value, len(v.m))
		for k, child := range v.m {
			m[k] = child.transform(append(path[:len(path):len(path)], k), fn)
		}
		return fn(path, m)
	}
	return v
}
