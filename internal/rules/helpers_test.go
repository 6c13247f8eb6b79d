package rules

import (
	"testing"

	"github.com/solatis/cascade/internal/types"
)

func mustValue(t *testing.T, s string) types.Value {
	t.Helper()
	v, err := types.ParseJSON([]byte(s))
	if err != nil {
		t.Fatalf("ParseJSON(%s) error = %v", s, err)
	}
	return v
}

func testEvent(t *testing.T, eventType, payload string) types.Event {
	t.Helper()
	return types.Event{
		ID:        "0192f0c8-0000-7000-8000-000000000001",
		Type:      eventType,
		CreatedMs: 1700000000000,
		Payload:   mustValue(t, payload),
	}
}

func cmp(op string, first, second any) types.ConstraintConfig {
	return types.ConstraintConfig{Type: op, First: first, Second: second}
}

func and(children ...types.ConstraintConfig) types.ConstraintConfig {
	return types.ConstraintConfig{Type: "and", Operators: children}
}

func or(children ...types.ConstraintConfig) types.ConstraintConfig {
	return types.ConstraintConfig{Type: "or", Operators: children}
}

func not(child types.ConstraintConfig) types.ConstraintConfig {
	return types.ConstraintConfig{Type: "not", Operator: &child}
}

func boolPtr(b bool) *bool { return &b }
