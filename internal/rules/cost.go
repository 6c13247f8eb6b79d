// internal/rules/cost.go
package rules

/*
 * Cost model for constraint ordering.
 *
 * The children of and/or nodes are stable-sorted by ascending cost at compile
 * time so cheap leaves short-circuit before expensive ones. Reordering is safe
 * because every leaf is pure.
 *
 * Leaf cost: operator_cost + lookup_cost * accessor_steps (both operands).
 * Combinator cost: sum of its children, Not: its child plus one.
 */

const (
	// Operator base costs
	CostExists     = 1
	CostEquals     = 5
	CostEqualsFold = 6
	CostNumeric    = 7
	CostContains   = 10
	CostRegex      = 50

	// Lookup cost per accessor step (root counts as one)
	CostLookupPerStep = 2
)

// operatorCost returns the base cost for an operator.
func operatorCost(op Operator) int {
	switch op {
	case OpExists, OpNotExists:
		return CostExists
	case OpEquals, OpNotEquals:
		return CostEquals
	case OpEqualsIgnoreCase:
		return CostEqualsFold
	case OpGt, OpGe, OpLt, OpLe:
		return CostNumeric
	case OpContains, OpContainsIgnoreCase:
		return CostContains
	case OpRegex:
		return CostRegex
	default:
		return CostEquals
	}
}

// operandCost returns the lookup cost of resolving an operand.
func operandCost(o operand) int {
	if !o.isTemplate {
		return 0
	}
	cost := 0
	for _, acc := range o.template.Accessors() {
		cost += CostLookupPerStep * (len(acc.Steps) + 1)
	}
	return cost
}

// comparisonCost computes the cost of a leaf.
func comparisonCost(op Operator, first, second operand) int {
	return operatorCost(op) + operandCost(first) + operandCost(second)
}
