// internal/rules/evaluate.go
package rules

import (
	"regexp"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Constraint tree evaluation.
 *
 *   And([]) = true, And(c...) = every child true, stops at the first false
 *   Or([])  = false, Or(c...) = any child true, stops at the first true
 *   Not(c)  = !c
 *   Comparison: resolve operands; an unresolved operand makes the comparison
 *   false, except exists (true iff the first operand resolves) and not_exists
 *   (true iff it does not).
 *
 * Evaluation is a pure function of (tree, scopes). Compiled trees are shared
 * by every goroutine processing events of one generation.
 */

// NodeKind identifies a constraint node variant.
type NodeKind uint8

const (
	NodeAnd NodeKind = iota
	NodeOr
	NodeNot
	NodeComparison
)

// Node is a compiled constraint tree node.
type Node struct {
	Kind     NodeKind
	Children []*Node // And/Or: ordered by ascending Cost; Not: exactly one
	Op       Operator
	Cost     int

	first   operand
	second  operand
	pattern *regexp.Regexp
}

// operand is a compiled comparison operand: a template for configuration
// strings, a constant for any other configured value.
type operand struct {
	isTemplate bool
	template   Template
	constant   types.Value
}

func (o operand) resolve(scopes Scopes) (types.Value, bool) {
	if o.isTemplate {
		return o.template.Resolve(scopes)
	}
	return o.constant, true
}

// Evaluate returns whether the tree holds for the scopes. A nil tree holds.
func Evaluate(n *Node, scopes Scopes) bool {
	if n == nil {
		return true
	}
	switch n.Kind {
	case NodeAnd:
		for _, child := range n.Children {
			if !Evaluate(child, scopes) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, child := range n.Children {
			if Evaluate(child, scopes) {
				return true
			}
		}
		return false
	case NodeNot:
		if len(n.Children) != 1 {
			return false
		}
		return !Evaluate(n.Children[0], scopes)
	case NodeComparison:
		return evaluateComparison(n, scopes)
	default:
		return false
	}
}

func evaluateComparison(n *Node, scopes Scopes) bool {
	left, ok := n.first.resolve(scopes)
	switch n.Op {
	case OpExists:
		return ok
	case OpNotExists:
		return !ok
	}
	if !ok {
		return false
	}
	if n.Op == OpRegex {
		return n.pattern != nil && matchRegex(n.pattern, left)
	}
	right, ok := n.second.resolve(scopes)
	if !ok {
		return false
	}
	return Compare(n.Op, left, right)
}
