package policy

import (
	"regexp"
	"strings"

	"github.com/agentfabric/rrsc/internal/ports"
)

// Op is the closed set of Leaf comparison operators (spec.md §3).
type Op string

const (
	OpEquals      Op = "equals"
	OpNotEquals   Op = "not_equals"
	OpGreaterThan Op = "greater_than"
	OpLessThan    Op = "less_than"
	OpGreaterOrEq Op = "greater_or_equal"
	OpLessOrEq    Op = "less_or_equal"
	OpContains    Op = "contains"
	OpHasPrefix   Op = "has_prefix"
	OpHasSuffix   Op = "has_suffix"
	OpIn          Op = "in"
	OpNotIn       Op = "not_in"
	OpRegex       Op = "regex"
	OpExists      Op = "exists"
	OpNotExists   Op = "not_exists"
)

// NodeKind tags the ConditionTree's tagged-variant (spec.md §9: "model as
// a tagged-variant tree, not class hierarchy").
type NodeKind int

const (
	NodeLeaf NodeKind = iota
	NodeAnd
	NodeOr
	NodeNot
)

// ConditionTree is Leaf(field, op, value) | And([…]) | Or([…]) | Not(node).
type ConditionTree struct {
	Kind     NodeKind
	Field    string
	Op       Op
	Value    Value
	Children []*ConditionTree // And/Or operands, or the single Not operand
}

func Leaf(field string, op Op, value Value) *ConditionTree {
	return &ConditionTree{Kind: NodeLeaf, Field: field, Op: op, Value: value}
}

func And(nodes ...*ConditionTree) *ConditionTree {
	return &ConditionTree{Kind: NodeAnd, Children: nodes}
}

func Or(nodes ...*ConditionTree) *ConditionTree {
	return &ConditionTree{Kind: NodeOr, Children: nodes}
}

func Not(node *ConditionTree) *ConditionTree {
	return &ConditionTree{Kind: NodeNot, Children: []*ConditionTree{node}}
}

// Evaluate walks the tree against ctx. It never returns an error for
// missing fields or type mismatches (spec.md §4.6: both evaluate to
// false) — only an invalid regex or unknown operator/type combination
// raises RuleEvaluationFailed (spec.md §4.6 "Failure semantics").
func (n *ConditionTree) Evaluate(ctx Context) (bool, error) {
	switch n.Kind {
	case NodeLeaf:
		return evalLeaf(n, ctx)
	case NodeAnd:
		for _, child := range n.Children {
			ok, err := child.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case NodeOr:
		for _, child := range n.Children {
			ok, err := child.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NodeNot:
		if len(n.Children) != 1 {
			return false, ports.Newf(ports.KindInternal, "evaluate_rule", "not node requires exactly one child")
		}
		ok, err := n.Children[0].Evaluate(ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, ports.Newf(ports.KindInternal, "evaluate_rule", "unknown node kind %d", n.Kind)
	}
}

func evalLeaf(n *ConditionTree, ctx Context) (bool, error) {
	v, present := ctx[n.Field]

	if n.Op == OpExists {
		return present, nil
	}
	if n.Op == OpNotExists {
		return !present, nil
	}
	if !present {
		return false, nil
	}

	switch n.Op {
	case OpEquals:
		return valuesEqual(v, n.Value), nil
	case OpNotEquals:
		return !valuesEqual(v, n.Value), nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEq, OpLessOrEq:
		return evalOrdering(n.Op, v, n.Value), nil
	case OpContains:
		return evalContains(v, n.Value), nil
	case OpHasPrefix:
		return evalAffix(v, n.Value, true), nil
	case OpHasSuffix:
		return evalAffix(v, n.Value, false), nil
	case OpIn:
		return evalMembership(v, n.Value, true), nil
	case OpNotIn:
		return evalMembership(v, n.Value, false), nil
	case OpRegex:
		return evalRegex(v, n.Value)
	default:
		return false, ports.Newf(ports.KindInternal, "evaluate_rule", "unknown operator %q", n.Op)
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		return a.Num == b.Num
	case KindBool:
		return a.Bool == b.Bool
	default:
		return false // lists/maps: equality is type-mismatched by construction, false not error
	}
}

func evalOrdering(op Op, a, b Value) bool {
	if a.Kind != KindNumber || b.Kind != KindNumber {
		return false
	}
	switch op {
	case OpGreaterThan:
		return a.Num > b.Num
	case OpLessThan:
		return a.Num < b.Num
	case OpGreaterOrEq:
		return a.Num >= b.Num
	case OpLessOrEq:
		return a.Num <= b.Num
	default:
		return false
	}
}

// evalContains checks field (a list or string) contains the leaf value.
func evalContains(field, needle Value) bool {
	switch field.Kind {
	case KindStringList:
		if needle.Kind != KindString {
			return false
		}
		for _, s := range field.Strs {
			if s == needle.Str {
				return true
			}
		}
		return false
	case KindNumberList:
		if needle.Kind != KindNumber {
			return false
		}
		for _, num := range field.Nums {
			if num == needle.Num {
				return true
			}
		}
		return false
	case KindString:
		if needle.Kind != KindString {
			return false
		}
		return strings.Contains(field.Str, needle.Str)
	default:
		return false
	}
}

func evalAffix(field, affix Value, prefix bool) bool {
	if field.Kind != KindString || affix.Kind != KindString {
		return false
	}
	if prefix {
		return strings.HasPrefix(field.Str, affix.Str)
	}
	return strings.HasSuffix(field.Str, affix.Str)
}

// evalMembership checks whether field equals any member of a list leaf value.
func evalMembership(field, list Value, wantIn bool) bool {
	var found bool
	switch list.Kind {
	case KindStringList:
		if field.Kind == KindString {
			for _, s := range list.Strs {
				if s == field.Str {
					found = true
					break
				}
			}
		}
	case KindNumberList:
		if field.Kind == KindNumber {
			for _, n := range list.Nums {
				if n == field.Num {
					found = true
					break
				}
			}
		}
	default:
		return false
	}
	if wantIn {
		return found
	}
	return !found
}

func evalRegex(field, pattern Value) (bool, error) {
	if field.Kind != KindString || pattern.Kind != KindString {
		return false, nil
	}
	re, err := regexp.Compile(pattern.Str)
	if err != nil {
		return false, ports.New(ports.KindInternal, "evaluate_rule", err).WithTarget(pattern.Str)
	}
	return re.MatchString(field.Str), nil
}
