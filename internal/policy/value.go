// Package policy implements the composable rule DSL and scope-indexed
// policy engine of spec.md §4.6: a ConditionTree evaluated against a typed
// context map, policies resolved by scope, and an enforcement pipeline that
// composes with the content filter collaborator. Grounded on the teacher's
// internal/risk rule-checking style generalized from a fixed set of limit
// checks to an arbitrary condition tree.
package policy

import (
	"fmt"
	"strings"
)

// Kind is the typed value domain a context field may hold (spec.md §4.6).
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindStringList
	KindNumberList
	KindMap
)

// Value is a single typed entry in a context map.
type Value struct {
	Kind   Kind
	Str    string
	Num    float64
	Bool   bool
	Strs   []string
	Nums   []float64
	MapVal map[string]Value
}

func String(s string) Value   { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value  { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func StringList(s []string) Value { return Value{Kind: KindStringList, Strs: s} }
func NumberList(n []float64) Value { return Value{Kind: KindNumberList, Nums: n} }
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, MapVal: m} }

// Context is the typed field->value map rules evaluate against.
type Context map[string]Value

func (c Context) stringField(name string) (string, bool) {
	v, ok := c[name]
	if !ok {
		return "", false
	}
	if v.Kind == KindString {
		return v.Str, true
	}
	return "", false
}

func (c Context) String() string {
	var b strings.Builder
	for k, v := range c {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	return b.String()
}
