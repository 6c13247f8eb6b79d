// internal/rules/operators.go
package rules

import (
	"regexp"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Comparison operators.
 *
 *   - exists/not_exists: resolution checks, handled before Compare (cost 1)
 *   - equals/not_equals: deep equality on composites, numeric equality on two
 *     numbers, canonical string equality on other scalars (cost 5)
 *   - equals_ignore_case: case-folded canonical strings (cost 6)
 *   - gt/ge/lt/le: numeric only (cost 7)
 *   - contains/contains_ignore_case: substring on a String left operand, element
 *     membership on an Array left operand (cost 10)
 *   - regex: compiled pattern against the left operand's text (cost 50)
 *
 * Scalar vs composite never compares equal. not_equals is the negation of
 * equals once both operands resolved.
 *
 * equals only coerces when both sides are Numbers; a numeric String is
 * compared by its text. So equals("1.0", 1) is false while ge and le,
 * which parse numeric strings, are both true.
 */

// Operator identifies a comparison kind.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEquals
	OpNotEquals
	OpEqualsIgnoreCase
	OpContains
	OpContainsIgnoreCase
	OpGt
	OpGe
	OpLt
	OpLe
	OpRegex
	OpExists
	OpNotExists
)

var operatorNames = map[string]Operator{
	"equals":               OpEquals,
	"equal":                OpEquals,
	"eq":                   OpEquals,
	"not_equals":           OpNotEquals,
	"ne":                   OpNotEquals,
	"equals_ignore_case":   OpEqualsIgnoreCase,
	"contains":             OpContains,
	"contain":              OpContains,
	"contains_ignore_case": OpContainsIgnoreCase,
	"gt":                   OpGt,
	"ge":                   OpGe,
	"lt":                   OpLt,
	"le":                   OpLe,
	"regex":                OpRegex,
	"exists":               OpExists,
	"not_exists":           OpNotExists,
}

// ParseOperator maps a configuration name (or alias) to its Operator.
func ParseOperator(name string) (Operator, bool) {
	op, ok := operatorNames[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}

func (op Operator) String() string {
	switch op {
	case OpEquals:
		return "equals"
	case OpNotEquals:
		return "not_equals"
	case OpEqualsIgnoreCase:
		return "equals_ignore_case"
	case OpContains:
		return "contains"
	case OpContainsIgnoreCase:
		return "contains_ignore_case"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpRegex:
		return "regex"
	case OpExists:
		return "exists"
	case OpNotExists:
		return "not_exists"
	default:
		return "unspecified"
	}
}

// unary reports whether the operator takes only the first operand.
func (op Operator) unary() bool {
	return op == OpExists || op == OpNotExists
}

// Compare applies a binary operator to two resolved operands.
// The regex operator is evaluated by matchRegex and is false here.
func Compare(op Operator, left, right types.Value) bool {
	switch op {
	case OpEquals:
		return compareEqual(left, right)
	case OpNotEquals:
		return !compareEqual(left, right)
	case OpEqualsIgnoreCase:
		return compareEqualFold(left, right)
	case OpGt:
		return compareNumeric(left, right, func(c int) bool { return c > 0 })
	case OpGe:
		return compareNumeric(left, right, func(c int) bool { return c >= 0 })
	case OpLt:
		return compareNumeric(left, right, func(c int) bool { return c < 0 })
	case OpLe:
		return compareNumeric(left, right, func(c int) bool { return c <= 0 })
	case OpContains:
		return compareContains(left, right, false)
	case OpContainsIgnoreCase:
		return compareContains(left, right, true)
	default:
		return false
	}
}

// compareEqual implements equals semantics.
func compareEqual(a, b types.Value) bool {
	if !a.IsScalar() || !b.IsScalar() {
		if a.IsScalar() != b.IsScalar() {
			return false
		}
		return a.Equal(b)
	}
	if na, ok := a.AsNumber(); ok {
		if nb, ok := b.AsNumber(); ok {
			return na == nb
		}
	}
	return a.String() == b.String()
}

func compareEqualFold(a, b types.Value) bool {
	ta, ok1 := coerceText(a)
	tb, ok2 := coerceText(b)
	if !ok1 || !ok2 {
		return false
	}
	return strings.EqualFold(ta, tb)
}

// compareNumeric requires both operands to coerce to numbers.
func compareNumeric(a, b types.Value, accept func(int) bool) bool {
	na, ok1 := coerceNumeric(a)
	nb, ok2 := coerceNumeric(b)
	if !ok1 || !ok2 {
		return false
	}
	switch {
	case na < nb:
		return accept(-1)
	case na > nb:
		return accept(1)
	default:
		return accept(0)
	}
}

// compareContains checks substring on a String left operand or membership on
// an Array left operand. Any other left operand is false.
func compareContains(left, right types.Value, foldCase bool) bool {
	switch left.Kind() {
	case types.KindString:
		haystack, _ := left.AsString()
		needle, ok := coerceText(right)
		if !ok {
			return false
		}
		if foldCase {
			return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
		}
		return strings.Contains(haystack, needle)
	case types.KindArray:
		for i := 0; i < left.Len(); i++ {
			elem, _ := left.Index(i)
			if foldCase {
				if compareEqualFold(elem, right) {
					return true
				}
			} else if compareEqual(elem, right) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchRegex tests the text view of v against re. Composites never match.
func matchRegex(re *regexp.Regexp, v types.Value) bool {
	text, ok := coerceText(v)
	if !ok {
		return false
	}
	return re.MatchString(text)
}
