// internal/types/rules.go
package types

/*
 * Configuration shapes for rules.
 *
 * These are the decoded forms of rule files (YAML/JSON) and rows of the SQL
 * rules table. internal/rules compiles them into an immutable RuleSet; nothing
 * downstream of compilation reads them again.
 *
 * Operands and payloads are kept as decoded `any` values (map[string]any, []any,
 * float64/int, string, bool, nil) so yaml.v3 and encoding/json can both fill
 * them; FromAny turns them into Values at compile time.
 */

// RuleConfig is one authored rule.
type RuleConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Active      *bool             `json:"active,omitempty" yaml:"active,omitempty"`
	Continue    bool              `json:"continue" yaml:"continue"`
	Where       *ConstraintConfig `json:"where,omitempty" yaml:"where,omitempty"`
	With        []ExtractorConfig `json:"with,omitempty" yaml:"with,omitempty"`
	Actions     []ActionConfig    `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// IsActive reports whether the rule takes part in matching. Unset means active.
func (r RuleConfig) IsActive() bool {
	return r.Active == nil || *r.Active
}

// ConstraintConfig is one node of a WHERE tree.
// Type is "and", "or", "not", or a comparison kind.
type ConstraintConfig struct {
	Type      string             `json:"type" yaml:"type"`
	Operators []ConstraintConfig `json:"operators,omitempty" yaml:"operators,omitempty"`
	Operator  *ConstraintConfig  `json:"operator,omitempty" yaml:"operator,omitempty"`
	First     any                `json:"first,omitempty" yaml:"first,omitempty"`
	Second    any                `json:"second,omitempty" yaml:"second,omitempty"`
}

// ExtractorConfig binds variables.<Name> from a regex applied to From.
type ExtractorConfig struct {
	Name       string `json:"name" yaml:"name"`
	From       string `json:"from" yaml:"from"`
	Regex      string `json:"regex" yaml:"regex"`
	AllMatches bool   `json:"all_matches,omitempty" yaml:"all_matches,omitempty"`
}

// ActionConfig names an executor and the payload template handed to it.
type ActionConfig struct {
	ID      string `json:"id" yaml:"id"`
	Payload any    `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// DispatchRequest is a resolved action ready for an executor.
type DispatchRequest struct {
	Rule        string
	ActionIndex int
	ExecutorID  string
	Payload     Value
	// Gaps lists template spans that did not resolve and rendered as "".
	Gaps []string
}
