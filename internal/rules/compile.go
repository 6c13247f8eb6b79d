// internal/rules/compile.go
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles types.RuleConfig into CompiledRule: templates parsed, regexes
 * compiled through a per-generation pattern cache, and/or children ordered by
 * cost, payload templates pre-parsed.
 *
 * Compilation workflow:
 *   1. Validate rule name (pattern, uniqueness across the set)
 *   2. Compile WHERE tree (operator kinds, operands, depth, regexes)
 *   3. Compile WITH extractors (names unique in the rule, sources, regexes)
 *   4. Compile actions (executor ids, payload templates)
 *
 * Errors do not stop compilation: every problem in every rule is collected into
 * one ValidationReport so an operator sees the whole picture in one pass.
 */

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// CompiledRule is a validated rule ready for evaluation.
type CompiledRule struct {
	Name        string
	Description string
	Active      bool
	Continue    bool
	Where       *Node // nil matches every event
	Extractors  []*Extractor
	Actions     []CompiledAction
}

// CompiledAction is an action with a pre-parsed payload template.
type CompiledAction struct {
	ExecutorID string
	Payload    PayloadTemplate
}

// RuleProblem is one validation failure attributed to a rule.
type RuleProblem struct {
	Rule  string // empty when the rule has no name
	Index int    // position in load order
	Err   error
}

func (p RuleProblem) String() string {
	name := p.Rule
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("rule %q (#%d): %v", name, p.Index, p.Err)
}

// ValidationReport lists every problem found while compiling a rule set.
type ValidationReport struct {
	Problems []RuleProblem
}

func (r *ValidationReport) Error() string {
	parts := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("rule set rejected with %d problem(s): %s", len(r.Problems), strings.Join(parts, "; "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (r *ValidationReport) Unwrap() []error {
	out := make([]error, 0, len(r.Problems))
	for _, p := range r.Problems {
		out = append(out, p.Err)
	}
	return out
}

// Rules returns the distinct offending rule names in load order.
func (r *ValidationReport) Rules() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.Problems {
		if !seen[p.Rule] {
			seen[p.Rule] = true
			out = append(out, p.Rule)
		}
	}
	return out
}

// Add records a problem for the rule at index.
func (r *ValidationReport) Add(rule string, index int, err error) {
	r.Problems = append(r.Problems, RuleProblem{Rule: rule, Index: index, Err: err})
}

// patternCache shares compiled regexes between all rules of one generation.
type patternCache struct {
	compiled map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	if err := validateRegexComplexity(pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidRegex, pattern, err)
	}
	c.compiled[pattern] = re
	return re, nil
}

// validateRegexComplexity bounds pattern size and group nesting.
func validateRegexComplexity(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", types.ErrInvalidRegex)
	}
	if len(pattern) > types.MaxRegexLength {
		return fmt.Errorf("%w: pattern too long (max %d chars): %d chars", types.ErrInvalidRegex, types.MaxRegexLength, len(pattern))
	}
	nest, maxNest := 0, 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nest++
			if nest > maxNest {
				maxNest = nest
			}
		case ')':
			nest--
		}
	}
	if maxNest > 10 {
		return fmt.Errorf("%w: excessive group nesting (max 10 levels)", types.ErrInvalidRegex)
	}
	return nil
}

// compileRule compiles one rule, reporting every problem it finds.
func compileRule(cfg types.RuleConfig, index int, patterns *patternCache, report *ValidationReport) *CompiledRule {
	before := len(report.Problems)

	if !namePattern.MatchString(cfg.Name) {
		report.Add(cfg.Name, index, fmt.Errorf("%w: rule name %q must match %s", types.ErrInvalidName, cfg.Name, namePattern))
	}

	rule := &CompiledRule{
		Name:        cfg.Name,
		Description: cfg.Description,
		Active:      cfg.IsActive(),
		Continue:    cfg.Continue,
	}

	if cfg.Where != nil {
		where, err := compileConstraint(*cfg.Where, 0, patterns)
		if err != nil {
			report.Add(cfg.Name, index, fmt.Errorf("where: %w", err))
		}
		rule.Where = where
	}

	extractorNames := make(map[string]bool, len(cfg.With))
	for i, ec := range cfg.With {
		if extractorNames[ec.Name] {
			report.Add(cfg.Name, index, fmt.Errorf("with[%d]: %w: extractor %q", i, types.ErrDuplicateName, ec.Name))
			continue
		}
		extractorNames[ec.Name] = true
		ex, err := compileExtractor(ec, patterns)
		if err != nil {
			report.Add(cfg.Name, index, fmt.Errorf("with[%d]: %w", i, err))
			continue
		}
		rule.Extractors = append(rule.Extractors, ex)
	}

	for i, ac := range cfg.Actions {
		if !namePattern.MatchString(ac.ID) {
			report.Add(cfg.Name, index, fmt.Errorf("actions[%d]: %w: executor id %q must match %s", i, types.ErrInvalidName, ac.ID, namePattern))
			continue
		}
		payload, err := compilePayloadAny(ac.Payload)
		if err != nil {
			report.Add(cfg.Name, index, fmt.Errorf("actions[%d]: payload: %w", i, err))
			continue
		}
		rule.Actions = append(rule.Actions, CompiledAction{ExecutorID: ac.ID, Payload: payload})
	}

	if len(report.Problems) > before {
		return nil
	}
	return rule
}

// compileConstraint compiles one node of a WHERE tree.
func compileConstraint(cfg types.ConstraintConfig, depth int, patterns *patternCache) (*Node, error) {
	if depth >= types.MaxConstraintDepth {
		return nil, types.ErrConstraintTooDeep
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "and", "or":
		kind := NodeAnd
		if strings.EqualFold(strings.TrimSpace(cfg.Type), "or") {
			kind = NodeOr
		}
		node := &Node{Kind: kind, Children: make([]*Node, 0, len(cfg.Operators))}
		for i, child := range cfg.Operators {
			c, err := compileConstraint(child, depth+1, patterns)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", cfg.Type, i, err)
			}
			node.Children = append(node.Children, c)
			node.Cost += c.Cost
		}
		// Stable sort: equal-cost children keep their authored order
		sort.SliceStable(node.Children, func(i, j int) bool {
			return node.Children[i].Cost < node.Children[j].Cost
		})
		return node, nil

	case "not":
		if cfg.Operator == nil {
			return nil, fmt.Errorf("not: %w: operator", types.ErrMissingOperand)
		}
		c, err := compileConstraint(*cfg.Operator, depth+1, patterns)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Node{Kind: NodeNot, Children: []*Node{c}, Cost: c.Cost + 1}, nil
	}

	op, ok := ParseOperator(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidOperator, cfg.Type)
	}
	return compileComparison(op, cfg, patterns)
}

func compileComparison(op Operator, cfg types.ConstraintConfig, patterns *patternCache) (*Node, error) {
	if cfg.First == nil {
		return nil, fmt.Errorf("%s: %w: first", op, types.ErrMissingOperand)
	}
	first, err := compileOperand(cfg.First)
	if err != nil {
		return nil, fmt.Errorf("%s: first: %w", op, err)
	}
	node := &Node{Kind: NodeComparison, Op: op, first: first}

	if !op.unary() {
		if cfg.Second == nil {
			return nil, fmt.Errorf("%s: %w: second", op, types.ErrMissingOperand)
		}
		second, err := compileOperand(cfg.Second)
		if err != nil {
			return nil, fmt.Errorf("%s: second: %w", op, err)
		}
		node.second = second
	}

	if op == OpRegex {
		pattern, ok := cfg.Second.(string)
		if !ok || !node.second.template.IsLiteral() {
			return nil, fmt.Errorf("regex: %w: second operand must be a literal pattern", types.ErrInvalidRegex)
		}
		re, err := patterns.compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regex: %w", err)
		}
		node.pattern = re
	}

	node.Cost = comparisonCost(op, node.first, node.second)
	return node, nil
}

// compileOperand parses strings as templates and keeps other values as constants.
func compileOperand(raw any) (operand, error) {
	if s, ok := raw.(string); ok {
		t, err := ParseTemplate(s)
		if err != nil {
			return operand{}, err
		}
		return operand{isTemplate: true, template: t}, nil
	}
	v, err := types.FromAny(raw)
	if err != nil {
		return operand{}, err
	}
	return operand{constant: v}, nil
}

// CompileConstraint compiles a standalone WHERE tree with its own pattern cache.
func CompileConstraint(cfg types.ConstraintConfig) (*Node, error) {
	return compileConstraint(cfg, 0, newPatternCache())
}

// IsValidationError reports whether err carries a ValidationReport.
func IsValidationError(err error) bool {
	var report *ValidationReport
	return errors.As(err, &report)
}
