// internal/rules/template.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * String templates.
 *
 * A string from rule configuration has one of three shapes:
 *
 *   literal       "snmptrapd"               no ${ at all, resolves to itself
 *   accessor      "${event.payload}"        exactly one span and nothing else,
 *                                           resolves type-preserving
 *   interpolated  "/trap/${source}/all.log" text and spans, always a String;
 *                                           spans are stringified with the
 *                                           canonical form, missing spans render
 *                                           as "" and are recorded as gaps
 *
 * Templates are parsed once when a rule set compiles. A "${" without a closing
 * "}" and an empty "${}" are configuration errors.
 */

type templateKind uint8

const (
	templateLiteral templateKind = iota
	templateAccessor
	templateInterpolated
)

type templatePart struct {
	text     string
	accessor *Accessor
}

// Template is a parsed configuration string.
type Template struct {
	kind  templateKind
	raw   string
	parts []templatePart
}

// ParseTemplate classifies and parses s.
func ParseTemplate(s string) (Template, error) {
	t := Template{raw: s}
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if rest != "" {
				t.parts = append(t.parts, templatePart{text: rest})
			}
			break
		}
		if start > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:start]})
		}
		end := spanEnd(rest[start+2:])
		if end < 0 {
			return Template{}, fmt.Errorf("%w: %q", types.ErrUnterminatedTemplate, s)
		}
		body := rest[start+2 : start+2+end]
		acc, err := parseAccessorBody(body)
		if err != nil {
			return Template{}, fmt.Errorf("template %q: %w", s, err)
		}
		t.parts = append(t.parts, templatePart{accessor: &acc})
		rest = rest[start+2+end+1:]
	}

	switch {
	case len(t.parts) == 1 && t.parts[0].accessor != nil:
		t.kind = templateAccessor
	case t.hasAccessors():
		t.kind = templateInterpolated
	default:
		t.kind = templateLiteral
	}
	return t, nil
}

// MustParseTemplate is ParseTemplate for strings known to be valid.
func MustParseTemplate(s string) Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// spanEnd returns the offset of the "}" closing a span, skipping quoted keys.
func spanEnd(s string) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '}':
			if !quoted {
				return i
			}
		}
	}
	return -1
}

func (t Template) hasAccessors() bool {
	for _, p := range t.parts {
		if p.accessor != nil {
			return true
		}
	}
	return false
}

// Raw returns the configuration string the template was parsed from.
func (t Template) Raw() string { return t.raw }

// IsLiteral reports whether the template contains no accessors.
func (t Template) IsLiteral() bool { return t.kind == templateLiteral }

// Accessors returns the accessors in order of appearance.
func (t Template) Accessors() []Accessor {
	var out []Accessor
	for _, p := range t.parts {
		if p.accessor != nil {
			out = append(out, *p.accessor)
		}
	}
	return out
}

// Resolve evaluates the template. Only a single-accessor template can fail to
// resolve; interpolated templates always produce a String.
func (t Template) Resolve(scopes Scopes) (types.Value, bool) {
	switch t.kind {
	case templateLiteral:
		return types.String(t.raw), true
	case templateAccessor:
		return t.parts[0].accessor.Resolve(scopes)
	default:
		v, _ := t.interpolate(scopes)
		return v, true
	}
}

// Render evaluates the template like Resolve but never fails: a missing
// single accessor renders as "". The returned gaps list every span that did
// not resolve, in canonical ${...} form.
func (t Template) Render(scopes Scopes) (types.Value, []string) {
	switch t.kind {
	case templateLiteral:
		return types.String(t.raw), nil
	case templateAccessor:
		acc := t.parts[0].accessor
		if v, ok := acc.Resolve(scopes); ok {
			return v, nil
		}
		return types.String(""), []string{acc.String()}
	default:
		return t.interpolate(scopes)
	}
}

func (t Template) interpolate(scopes Scopes) (types.Value, []string) {
	var (
		b    strings.Builder
		gaps []string
	)
	for _, p := range t.parts {
		if p.accessor == nil {
			b.WriteString(p.text)
			continue
		}
		v, ok := p.accessor.Resolve(scopes)
		if !ok {
			gaps = append(gaps, p.accessor.String())
			continue
		}
		b.WriteString(v.String())
	}
	return types.String(b.String()), gaps
}
