package rules

import "github.com/solatis/cascade/internal/types"

// Reserved root names.
const (
	RootEvent     = "event"
	RootVariables = "variables"
)

type scope struct {
	name  string
	value types.Value
}

// Scopes is an ordered list of named roots accessors resolve against.
// With returns a new Scopes and never modifies the receiver.
type Scopes struct {
	roots []scope
}

// NewScopes returns an empty scope list.
func NewScopes() Scopes { return Scopes{} }

// EventScopes exposes the event under the "event" root.
func EventScopes(event types.Event) Scopes {
	return NewScopes().With(RootEvent, event.Value())
}

// ObjectScopes exposes each top-level field of obj as its own root.
// Used where templates address a payload directly, e.g. "${source}".
func ObjectScopes(obj types.Value) Scopes {
	keys := obj.Keys()
	s := Scopes{roots: make([]scope, 0, len(keys))}
	for _, k := range keys {
		v, _ := obj.Get(k)
		s.roots = append(s.roots, scope{name: k, value: v})
	}
	return s
}

// With binds name to v, replacing an existing root of that name.
func (s Scopes) With(name string, v types.Value) Scopes {
	roots := make([]scope, 0, len(s.roots)+1)
	for _, r := range s.roots {
		if r.name != name {
			roots = append(roots, r)
		}
	}
	roots = append(roots, scope{name: name, value: v})
	return Scopes{roots: roots}
}

// WithVariables binds the extracted variables object under "variables".
func (s Scopes) WithVariables(vars types.Value) Scopes {
	return s.With(RootVariables, vars)
}

// Lookup returns the root bound to name.
func (s Scopes) Lookup(name string) (types.Value, bool) {
	for i := len(s.roots) - 1; i >= 0; i-- {
		if s.roots[i].name == name {
			return s.roots[i].value, true
		}
	}
	return types.Null(), false
}
