// internal/rules/coercion.go
package rules

import (
	"strconv"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Operand coercion for comparisons.
 *
 * Two views of a resolved operand are used by the operators:
 *   - numeric: Number as-is, String parsed as float64 after trimming
 *     whitespace. Bool, Null, and composites are never numeric.
 *   - text: the canonical string form of a scalar (Value.String). Composites
 *     have no text view.
 *
 * A failed coercion makes the comparison false; it is never an error.
 */

// coerceNumeric returns the numeric view of v.
// Whitespace-only strings are not numbers.
func coerceNumeric(v types.Value) (float64, bool) {
	switch v.Kind() {
	case types.KindNumber:
		n, _ := v.AsNumber()
		return n, true
	case types.KindString:
		s, _ := v.AsString()
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		// Bool is rejected to avoid "true" vs 1 ambiguity
		return 0, false
	}
}

// coerceText returns the canonical string form of a scalar.
func coerceText(v types.Value) (string, bool) {
	if !v.IsScalar() {
		return "", false
	}
	return v.String(), true
}
