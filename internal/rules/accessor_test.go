package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/cascade/internal/types"
)

func TestParseAccessor(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		root    string
		steps   []Step
		wantErr error
	}{
		{
			name:  "root only",
			expr:  "${event}",
			root:  "event",
			steps: nil,
		},
		{
			name:  "nested keys",
			expr:  "${event.payload.src_ip}",
			root:  "event",
			steps: []Step{{Key: "payload"}, {Key: "src_ip"}},
		},
		{
			name:  "index step",
			expr:  "${event.payload.oids[2].value}",
			root:  "event",
			steps: []Step{{Key: "payload"}, {Key: "oids"}, {Index: 2, IsIndex: true}, {Key: "value"}},
		},
		{
			name:  "quoted key with dots",
			expr:  `${event.payload."sysUpTime.0"}`,
			root:  "event",
			steps: []Step{{Key: "payload"}, {Key: "sysUpTime.0"}},
		},
		{
			name:  "bare form",
			expr:  "variables.first.user",
			root:  "variables",
			steps: []Step{{Key: "first"}, {Key: "user"}},
		},
		{
			name:    "empty expression",
			expr:    "${}",
			wantErr: types.ErrInvalidAccessor,
		},
		{
			name:    "trailing dot",
			expr:    "${event.}",
			wantErr: types.ErrInvalidAccessor,
		},
		{
			name:    "non-numeric index",
			expr:    "${event.list[x]}",
			wantErr: types.ErrInvalidAccessor,
		},
		{
			name:    "negative index",
			expr:    "${event.list[-1]}",
			wantErr: types.ErrInvalidAccessor,
		},
		{
			name:    "unterminated quoted key",
			expr:    `${event."abc}`,
			wantErr: types.ErrInvalidAccessor,
		},
		{
			name:    "missing closing brace",
			expr:    "${event.type",
			wantErr: types.ErrUnterminatedTemplate,
		},
		{
			name:    "too deep",
			expr:    "${event" + strings.Repeat(".k", types.MaxPathDepth+1) + "}",
			wantErr: types.ErrPathTooDeep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := ParseAccessor(tt.expr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAccessor(%q) error = %v, want %v", tt.expr, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAccessor(%q) error = %v", tt.expr, err)
			}
			if acc.Root != tt.root {
				t.Errorf("Root = %q, want %q", acc.Root, tt.root)
			}
			if len(acc.Steps) != len(tt.steps) {
				t.Fatalf("Steps = %+v, want %+v", acc.Steps, tt.steps)
			}
			for i := range tt.steps {
				if acc.Steps[i] != tt.steps[i] {
					t.Errorf("Steps[%d] = %+v, want %+v", i, acc.Steps[i], tt.steps[i])
				}
			}
		})
	}
}

func TestParseAccessor_MaxDepthAllowed(t *testing.T) {
	expr := "${event" + strings.Repeat(".k", types.MaxPathDepth) + "}"
	acc, err := ParseAccessor(expr)
	if err != nil {
		t.Fatalf("ParseAccessor() error = %v, want nil", err)
	}
	if len(acc.Steps) != types.MaxPathDepth {
		t.Errorf("len(Steps) = %d, want %d", len(acc.Steps), types.MaxPathDepth)
	}
}

func TestAccessor_String(t *testing.T) {
	for _, expr := range []string{
		"${event}",
		"${event.payload.src_ip}",
		"${event.payload.oids[0]}",
		`${event.payload."a.b"[3]}`,
	} {
		acc := MustParseAccessor(expr)
		if got := acc.String(); got != expr {
			t.Errorf("String() = %q, want %q", got, expr)
		}
	}
}

func TestAccessor_Resolve(t *testing.T) {
	data := mustValue(t, `{
		"a": {"b": [10, {"c": "x"}]},
		"dotted.key": 1,
		"nothing": null,
		"scalar": "text"
	}`)
	scopes := NewScopes().With("root", data)

	tests := []struct {
		name  string
		expr  string
		want  types.Value
		found bool
	}{
		{name: "object key", expr: "${root.scalar}", want: types.String("text"), found: true},
		{name: "index into array", expr: "${root.a.b[0]}", want: types.Number(10), found: true},
		{name: "key after index", expr: "${root.a.b[1].c}", want: types.String("x"), found: true},
		{name: "quoted key", expr: `${root."dotted.key"}`, want: types.Number(1), found: true},
		{name: "null is a value", expr: "${root.nothing}", want: types.Null(), found: true},
		{name: "missing key", expr: "${root.missing}", found: false},
		{name: "unknown root", expr: "${other.a}", found: false},
		{name: "index out of range", expr: "${root.a.b[2]}", found: false},
		{name: "index into object", expr: "${root.a[0]}", found: false},
		{name: "key into array", expr: "${root.a.b.c}", found: false},
		{name: "step into scalar", expr: "${root.scalar.more}", found: false},
		{name: "step into null", expr: "${root.nothing.more}", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MustParseAccessor(tt.expr).Resolve(scopes)
			if ok != tt.found {
				t.Fatalf("Resolve(%s) found = %v, want %v", tt.expr, ok, tt.found)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Resolve(%s) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestScopes_WithDoesNotModifyReceiver(t *testing.T) {
	base := NewScopes().With("a", types.Number(1))
	derived := base.With("a", types.Number(2)).With("b", types.Bool(true))

	if v, _ := base.Lookup("a"); !v.Equal(types.Number(1)) {
		t.Errorf("base a = %v, want 1", v)
	}
	if _, ok := base.Lookup("b"); ok {
		t.Errorf("base has b, want absent")
	}
	if v, _ := derived.Lookup("a"); !v.Equal(types.Number(2)) {
		t.Errorf("derived a = %v, want 2", v)
	}
}

func TestObjectScopes(t *testing.T) {
	scopes := ObjectScopes(mustValue(t, `{"source": "127.0.0.1", "nested": {"x": 1}}`))

	if v, ok := MustParseAccessor("${source}").Resolve(scopes); !ok || !v.Equal(types.String("127.0.0.1")) {
		t.Errorf("${source} = %v, %v", v, ok)
	}
	if v, ok := MustParseAccessor("${nested.x}").Resolve(scopes); !ok || !v.Equal(types.Number(1)) {
		t.Errorf("${nested.x} = %v, %v", v, ok)
	}
}

// Property-based test: resolution is idempotent
func TestAccessor_PropertyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("resolving twice yields identical results", prop.ForAll(
		func(key string, idx int, depth int) bool {
			leaf := types.Array(types.String(key), types.Number(float64(idx)))
			data := types.Object(map[string]types.Value{key: leaf})
			scopes := NewScopes().With("root", data)

			expr := "${root." + `"` + key + `"`
			if depth > 0 {
				expr += "[0]"
			}
			if depth > 1 {
				expr += ".nope"
			}
			expr += "}"

			acc, err := ParseAccessor(expr)
			if err != nil {
				return key == "" || strings.ContainsRune(key, '"')
			}
			v1, ok1 := acc.Resolve(scopes)
			v2, ok2 := acc.Resolve(scopes)
			return ok1 == ok2 && v1.Equal(v2)
		},
		gen.AlphaString(),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property-based test: arbitrary expressions never panic
func TestParseAccessor_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsing never panics", prop.ForAll(
		func(body string) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("ParseAccessor(%q) panicked: %v", body, r)
				}
			}()
			_, _ = ParseAccessor("${" + body + "}")
			_, _ = ParseTemplate(body)
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
