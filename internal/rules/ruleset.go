package rules

import (
	"fmt"

	"github.com/solatis/cascade/internal/types"
)

// RuleSet is an immutable, compiled, ordered set of rules.
// A RuleSet becomes visible to matchers only through Engine.Swap.
type RuleSet struct {
	rules    []*CompiledRule
	byName   map[string]*CompiledRule
	patterns int
}

// EmptyRuleSet returns a rule set that matches nothing.
func EmptyRuleSet() *RuleSet {
	return &RuleSet{byName: map[string]*CompiledRule{}}
}

// CompileRuleSet compiles configs in the given order. Rule names must be
// unique. On any problem the returned error is a *ValidationReport naming
// every offending rule, and no RuleSet is returned.
func CompileRuleSet(configs []types.RuleConfig) (*RuleSet, error) {
	patterns := newPatternCache()
	report := &ValidationReport{}
	set := &RuleSet{
		rules:  make([]*CompiledRule, 0, len(configs)),
		byName: make(map[string]*CompiledRule, len(configs)),
	}

	seen := make(map[string]int, len(configs))
	for i, cfg := range configs {
		if first, dup := seen[cfg.Name]; dup && cfg.Name != "" {
			report.Add(cfg.Name, i, fmt.Errorf("%w: rule %q already defined at #%d", types.ErrDuplicateName, cfg.Name, first))
			continue
		}
		seen[cfg.Name] = i

		rule := compileRule(cfg, i, patterns, report)
		if rule == nil {
			continue
		}
		set.rules = append(set.rules, rule)
		set.byName[rule.Name] = rule
	}

	if len(report.Problems) > 0 {
		return nil, report
	}
	set.patterns = len(patterns.compiled)
	return set, nil
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []*CompiledRule {
	out := make([]*CompiledRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int { return len(s.rules) }

// Rule looks a rule up by name.
func (s *RuleSet) Rule(name string) (*CompiledRule, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// Patterns returns the number of distinct regexes compiled for this set.
func (s *RuleSet) Patterns() int { return s.patterns }
