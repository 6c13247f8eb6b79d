// internal/rules/evaluate_test.go
package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/cascade/internal/types"
)

const evaluatePayload = `{
	"src_ip": "127.0.0.1",
	"count": " 42 ",
	"n": 7,
	"flag": true,
	"tags": ["a", "B", 3],
	"obj": {"x": 1},
	"msg": "Link Down on eth0",
	"nothing": null
}`

func mustCompileConstraint(t *testing.T, cfg types.ConstraintConfig) *Node {
	t.Helper()
	n, err := CompileConstraint(cfg)
	if err != nil {
		t.Fatalf("CompileConstraint() error = %v", err)
	}
	return n
}

func TestEvaluate_Combinators(t *testing.T) {
	scopes := EventScopes(testEvent(t, "snmptrapd", evaluatePayload))
	yes := cmp("equals", "${event.type}", "snmptrapd")
	no := cmp("equals", "${event.type}", "syslog")

	tests := []struct {
		name string
		cfg  types.ConstraintConfig
		want bool
	}{
		{name: "empty and is true", cfg: and(), want: true},
		{name: "empty or is false", cfg: or(), want: false},
		{name: "and all true", cfg: and(yes, yes), want: true},
		{name: "and one false", cfg: and(yes, no), want: false},
		{name: "or one true", cfg: or(no, yes), want: true},
		{name: "or all false", cfg: or(no, no), want: false},
		{name: "not true", cfg: not(yes), want: false},
		{name: "not false", cfg: not(no), want: true},
		{name: "nested", cfg: and(or(no, yes), not(no), and()), want: true},
		{name: "not empty or", cfg: not(or()), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustCompileConstraint(t, tt.cfg), scopes); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_NilTreeMatches(t *testing.T) {
	if !Evaluate(nil, NewScopes()) {
		t.Errorf("Evaluate(nil) = false, want true")
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	scopes := EventScopes(testEvent(t, "snmptrapd", evaluatePayload))

	tests := []struct {
		name string
		cfg  types.ConstraintConfig
		want bool
	}{
		// equality
		{name: "equals string", cfg: cmp("equals", "${event.type}", "snmptrapd"), want: true},
		{name: "eq alias", cfg: cmp("eq", "${event.payload.src_ip}", "127.0.0.1"), want: true},
		{name: "equal alias", cfg: cmp("equal", "${event.payload.n}", 7), want: true},
		{name: "number equals numeric string", cfg: cmp("equals", "${event.payload.n}", "7"), want: true},
		{name: "bool equals bool", cfg: cmp("equals", "${event.payload.flag}", true), want: true},
		{name: "bool equals canonical string", cfg: cmp("equals", "${event.payload.flag}", "true"), want: true},
		{name: "null canonical form", cfg: cmp("equals", "${event.payload.nothing}", "null"), want: true},
		{name: "composite deep equal", cfg: cmp("equals", "${event.payload.obj}", map[string]any{"x": 1}), want: true},
		{name: "composite not equal", cfg: cmp("equals", "${event.payload.obj}", map[string]any{"x": 2}), want: false},
		{name: "scalar vs composite", cfg: cmp("equals", "${event.payload.obj}", `{"x":1}`), want: false},
		{name: "both sides accessors", cfg: cmp("equals", "${event.payload.src_ip}", "${event.payload.src_ip}"), want: true},
		{name: "interpolated operand", cfg: cmp("equals", "${event.type}-${event.payload.n}", "snmptrapd-7"), want: true},
		{name: "missing left", cfg: cmp("equals", "${event.payload.nope}", ""), want: false},
		{name: "missing right", cfg: cmp("equals", "x", "${event.payload.nope}"), want: false},
		{name: "not_equals", cfg: cmp("not_equals", "${event.type}", "syslog"), want: true},
		{name: "ne alias equal values", cfg: cmp("ne", "${event.type}", "snmptrapd"), want: false},
		{name: "not_equals missing operand", cfg: cmp("not_equals", "${event.payload.nope}", "x"), want: false},
		{name: "equals_ignore_case", cfg: cmp("equals_ignore_case", "${event.type}", "SNMPTrapd"), want: true},
		{name: "equals_ignore_case composite", cfg: cmp("equals_ignore_case", "${event.payload.obj}", "x"), want: false},

		// numeric
		{name: "gt trimmed numeric string", cfg: cmp("gt", "${event.payload.count}", 10), want: true},
		{name: "gt equal", cfg: cmp("gt", "${event.payload.n}", 7), want: false},
		{name: "ge equal", cfg: cmp("ge", "${event.payload.n}", 7), want: true},
		{name: "lt", cfg: cmp("lt", "${event.payload.n}", 7.5), want: true},
		{name: "le string rhs", cfg: cmp("le", "${event.payload.n}", "7"), want: true},
		{name: "lt non numeric", cfg: cmp("lt", "${event.payload.src_ip}", 1000), want: false},
		{name: "gt bool never numeric", cfg: cmp("gt", "${event.payload.flag}", 0), want: false},
		{name: "gt null", cfg: cmp("gt", "${event.payload.nothing}", -1), want: false},

		// contains
		{name: "contains substring", cfg: cmp("contains", "${event.payload.msg}", "Down"), want: true},
		{name: "contain alias", cfg: cmp("contain", "${event.payload.msg}", "Up"), want: false},
		{name: "contains number in string", cfg: cmp("contains", "${event.payload.msg}", 0), want: true},
		{name: "contains element", cfg: cmp("contains", "${event.payload.tags}", "a"), want: true},
		{name: "contains numeric element", cfg: cmp("contains", "${event.payload.tags}", 3), want: true},
		{name: "contains element case sensitive", cfg: cmp("contains", "${event.payload.tags}", "b"), want: false},
		{name: "contains_ignore_case element", cfg: cmp("contains_ignore_case", "${event.payload.tags}", "b"), want: true},
		{name: "contains_ignore_case substring", cfg: cmp("contains_ignore_case", "${event.payload.msg}", "link down"), want: true},
		{name: "contains on number", cfg: cmp("contains", "${event.payload.n}", 7), want: false},
		{name: "contains on object", cfg: cmp("contains", "${event.payload.obj}", "x"), want: false},

		// regex
		{name: "regex match", cfg: cmp("regex", "${event.payload.msg}", `eth[0-9]+$`), want: true},
		{name: "regex no match", cfg: cmp("regex", "${event.payload.msg}", `^eth`), want: false},
		{name: "regex on number text", cfg: cmp("regex", "${event.payload.n}", `^7$`), want: true},
		{name: "regex on composite", cfg: cmp("regex", "${event.payload.obj}", `.`), want: false},
		{name: "regex missing operand", cfg: cmp("regex", "${event.payload.nope}", `.*`), want: false},

		// existence
		{name: "exists", cfg: cmp("exists", "${event.payload.src_ip}", nil), want: true},
		{name: "exists null value", cfg: cmp("exists", "${event.payload.nothing}", nil), want: true},
		{name: "exists missing", cfg: cmp("exists", "${event.payload.nope}", nil), want: false},
		{name: "not_exists missing", cfg: cmp("not_exists", "${event.payload.nope}", nil), want: true},
		{name: "not_exists present", cfg: cmp("not_exists", "${event.payload.n}", nil), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustCompileConstraint(t, tt.cfg), scopes); got != tt.want {
				t.Errorf("Evaluate(%s %v %v) = %v, want %v", tt.cfg.Type, tt.cfg.First, tt.cfg.Second, got, tt.want)
			}
		})
	}
}

func TestCompileConstraint_ChildrenOrderedByCost(t *testing.T) {
	n := mustCompileConstraint(t, and(
		cmp("regex", "${event.payload.msg}", "x"),
		cmp("equals", "${event.payload.a.b.c}", "y"),
		cmp("exists", "${event.type}", nil),
		cmp("equals", "${event.type}", "z"),
	))

	wantOps := []Operator{OpExists, OpEquals, OpEquals, OpRegex}
	for i, want := range wantOps {
		if n.Children[i].Op != want {
			t.Errorf("Children[%d].Op = %v, want %v", i, n.Children[i].Op, want)
		}
	}
	// equal-cost-class equals: shorter accessor first
	if n.Children[1].Cost > n.Children[2].Cost {
		t.Errorf("Children[1].Cost = %d > Children[2].Cost = %d", n.Children[1].Cost, n.Children[2].Cost)
	}
}

func TestCompileConstraint_StableForEqualCost(t *testing.T) {
	n := mustCompileConstraint(t, or(
		cmp("equals", "${event.type}", "first"),
		cmp("equals", "${event.type}", "second"),
	))
	if n.Children[0].second.template.Raw() != "first" {
		t.Errorf("equal-cost children reordered: first child compares %q", n.Children[0].second.template.Raw())
	}
}

var propertyLeaves = []types.ConstraintConfig{
	cmp("equals", "${event.type}", "snmptrapd"),
	cmp("equals", "${event.type}", "syslog"),
	cmp("gt", "${event.payload.n}", 5),
	cmp("lt", "${event.payload.n}", 5),
	cmp("contains", "${event.payload.msg}", "Down"),
	cmp("regex", "${event.payload.msg}", "^Link"),
	cmp("exists", "${event.payload.nope}", nil),
	cmp("not_exists", "${event.payload.nope}", nil),
	cmp("equals", "${event.payload.nope}", "x"),
}

// buildTree turns a generated shape into a constraint config.
func buildTree(shape []int, combinator int) types.ConstraintConfig {
	children := make([]types.ConstraintConfig, 0, len(shape))
	for i, s := range shape {
		leaf := propertyLeaves[s%len(propertyLeaves)]
		if i%3 == 2 {
			leaf = not(leaf)
		}
		children = append(children, leaf)
	}
	switch combinator % 3 {
	case 0:
		return and(children...)
	case 1:
		return or(children...)
	default:
		return not(and(or(children...), and(children...)))
	}
}

// Property-based test: double negation is the identity
func TestEvaluate_PropertyDoubleNegation(t *testing.T) {
	scopes := EventScopes(testEvent(t, "snmptrapd", evaluatePayload))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Not(Not(T)) == T", prop.ForAll(
		func(shape []int, combinator int) bool {
			tree := buildTree(shape, combinator)
			plain, err := CompileConstraint(tree)
			if err != nil {
				return false
			}
			doubled, err := CompileConstraint(not(not(tree)))
			if err != nil {
				return false
			}
			return Evaluate(plain, scopes) == Evaluate(doubled, scopes)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property-based test: evaluation is deterministic
func TestEvaluate_PropertyDeterministic(t *testing.T) {
	scopes := EventScopes(testEvent(t, "snmptrapd", evaluatePayload))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same tree and scopes give the same result", prop.ForAll(
		func(shape []int, combinator int) bool {
			tree, err := CompileConstraint(buildTree(shape, combinator))
			if err != nil {
				return false
			}
			return Evaluate(tree, scopes) == Evaluate(tree, scopes)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
