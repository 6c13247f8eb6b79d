// internal/rules/accessor.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Accessor resolution over value trees.
 *
 * An accessor is a root name followed by key and index steps:
 *
 *   ${event.payload.oids[0]."sysUpTime.0"}
 *
 * Keys are bare (any run of characters other than . [ ] " } and whitespace) or
 * double-quoted, which allows dots inside a key. Indexes are non-negative decimal
 * integers. Depth is bounded by types.MaxPathDepth.
 *
 * Resolution is total: a missing root, missing key, out-of-range index, or a step
 * into the wrong kind of node yields (Null, false). It never returns an error and
 * never mutates the scopes, so compiled accessors are shared freely across
 * goroutines.
 */

// Step is one component of an accessor path.
type Step struct {
	Key     string // object key (unused when IsIndex)
	Index   int    // array index (valid only when IsIndex)
	IsIndex bool   // disambiguates Index=0 from a key step
}

// Accessor is a parsed ${root.step...} expression.
type Accessor struct {
	Root  string
	Steps []Step
}

// ParseAccessor parses either "${root.a.b}" or the bare inner form "root.a.b".
// Returns ErrInvalidAccessor for malformed input and ErrPathTooDeep when the
// expression has more than types.MaxPathDepth steps.
func ParseAccessor(expr string) (Accessor, error) {
	inner := expr
	if strings.HasPrefix(inner, "${") {
		if !strings.HasSuffix(inner, "}") {
			return Accessor{}, fmt.Errorf("%w: %q", types.ErrUnterminatedTemplate, expr)
		}
		inner = inner[2 : len(inner)-1]
	}
	return parseAccessorBody(inner)
}

// MustParseAccessor is ParseAccessor for expressions known to be valid.
func MustParseAccessor(expr string) Accessor {
	a, err := ParseAccessor(expr)
	if err != nil {
		panic(err)
	}
	return a
}

func parseAccessorBody(body string) (Accessor, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Accessor{}, fmt.Errorf("%w: empty expression", types.ErrInvalidAccessor)
	}

	i := 0
	for i < len(body) && isBareKeyByte(body[i]) {
		i++
	}
	if i == 0 {
		return Accessor{}, fmt.Errorf("%w: %q has no root", types.ErrInvalidAccessor, body)
	}
	acc := Accessor{Root: body[:i]}

	for i < len(body) {
		if len(acc.Steps) >= types.MaxPathDepth {
			return Accessor{}, fmt.Errorf("%w: %q", types.ErrPathTooDeep, body)
		}

		switch body[i] {
		case '.':
			i++
			if i >= len(body) {
				return Accessor{}, fmt.Errorf("%w: %q ends with '.'", types.ErrInvalidAccessor, body)
			}
			if body[i] == '"' {
				end := strings.IndexByte(body[i+1:], '"')
				if end < 0 {
					return Accessor{}, fmt.Errorf("%w: unterminated quoted key in %q", types.ErrInvalidAccessor, body)
				}
				acc.Steps = append(acc.Steps, Step{Key: body[i+1 : i+1+end]})
				i += end + 2
				continue
			}
			start := i
			for i < len(body) && isBareKeyByte(body[i]) {
				i++
			}
			if i == start {
				return Accessor{}, fmt.Errorf("%w: empty key in %q", types.ErrInvalidAccessor, body)
			}
			acc.Steps = append(acc.Steps, Step{Key: body[start:i]})

		case '[':
			end := strings.IndexByte(body[i:], ']')
			if end < 0 {
				return Accessor{}, fmt.Errorf("%w: unterminated index in %q", types.ErrInvalidAccessor, body)
			}
			n, err := strconv.Atoi(body[i+1 : i+end])
			if err != nil || n < 0 {
				return Accessor{}, fmt.Errorf("%w: bad index %q in %q", types.ErrInvalidAccessor, body[i+1:i+end], body)
			}
			acc.Steps = append(acc.Steps, Step{Index: n, IsIndex: true})
			i += end + 1

		default:
			return Accessor{}, fmt.Errorf("%w: unexpected %q at offset %d in %q", types.ErrInvalidAccessor, body[i], i, body)
		}
	}

	return acc, nil
}

func isBareKeyByte(c byte) bool {
	switch c {
	case '.', '[', ']', '"', '{', '}', ' ', '\t', '\n', '\r':
		return false
	default:
		return true
	}
}

// String renders the accessor in canonical ${...} form.
func (a Accessor) String() string {
	var b strings.Builder
	b.WriteString("${")
	b.WriteString(a.Root)
	for _, s := range a.Steps {
		switch {
		case s.IsIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		case needsQuoting(s.Key):
			b.WriteString(`."`)
			b.WriteString(s.Key)
			b.WriteByte('"')
		default:
			b.WriteByte('.')
			b.WriteString(s.Key)
		}
	}
	b.WriteByte('}')
	return b.String()
}

func needsQuoting(key string) bool {
	if key == "" {
		return true
	}
	for i := 0; i < len(key); i++ {
		if !isBareKeyByte(key[i]) {
			return true
		}
	}
	return false
}

// Resolve walks the scopes following the accessor's steps.
func (a Accessor) Resolve(scopes Scopes) (types.Value, bool) {
	root, ok := scopes.Lookup(a.Root)
	if !ok {
		return types.Null(), false
	}
	return walk(a.Steps, root)
}

// walk follows steps from current. Objects accept key steps, arrays accept index
// steps; anything else ends resolution.
func walk(steps []Step, current types.Value) (types.Value, bool) {
	for _, step := range steps {
		var ok bool
		if step.IsIndex {
			current, ok = current.Index(step.Index)
		} else {
			current, ok = current.Get(step.Key)
		}
		if !ok {
			return types.Null(), false
		}
	}
	return current, true
}
