// internal/rules/extract.go
package rules

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/solatis/cascade/internal/types"
)

/*
 * WITH-stage extractors.
 *
 * An extractor resolves its source, applies its regex to the canonical string
 * form, and binds the captures under variables.<name>:
 *
 *   "0"        whole match
 *   "1".."n"   positional groups
 *   <group>    named groups, by name (also present positionally)
 *
 * Groups that did not participate in the match are omitted. With all_matches
 * the binding is an Array of such objects, one per non-overlapping match.
 *
 * An unresolved source, or no match at all, is an extraction failure. The
 * owning rule is then reported as partially_matched and dispatches nothing;
 * other rules are unaffected.
 */

// Extractor is a compiled WITH entry.
type Extractor struct {
	Name       string
	from       Template
	pattern    *regexp.Regexp
	allMatches bool
}

func compileExtractor(cfg types.ExtractorConfig, patterns *patternCache) (*Extractor, error) {
	if !namePattern.MatchString(cfg.Name) {
		return nil, fmt.Errorf("%w: extractor name %q must match %s", types.ErrInvalidName, cfg.Name, namePattern)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("extractor %q: %w: from", cfg.Name, types.ErrMissingOperand)
	}
	from, err := ParseTemplate(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("extractor %q: from: %w", cfg.Name, err)
	}
	re, err := patterns.compile(cfg.Regex)
	if err != nil {
		return nil, fmt.Errorf("extractor %q: %w", cfg.Name, err)
	}
	return &Extractor{Name: cfg.Name, from: from, pattern: re, allMatches: cfg.AllMatches}, nil
}

// NewExtractor compiles a standalone extractor.
func NewExtractor(cfg types.ExtractorConfig) (*Extractor, error) {
	return compileExtractor(cfg, newPatternCache())
}

// Extract runs the extractor. The bool is false on extraction failure.
func (e *Extractor) Extract(scopes Scopes) (types.Value, bool) {
	src, ok := e.from.Resolve(scopes)
	if !ok {
		return types.Null(), false
	}
	text := src.String()

	if !e.allMatches {
		idx := e.pattern.FindStringSubmatchIndex(text)
		if idx == nil {
			return types.Null(), false
		}
		return e.captures(text, idx), true
	}

	all := e.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(all) == 0 {
		return types.Null(), false
	}
	items := make([]types.Value, 0, len(all))
	for _, idx := range all {
		items = append(items, e.captures(text, idx))
	}
	return types.Array(items...), true
}

func (e *Extractor) captures(text string, idx []int) types.Value {
	names := e.pattern.SubexpNames()
	fields := make(map[string]types.Value, len(names))
	for g := 0; g < len(names); g++ {
		start, end := idx[2*g], idx[2*g+1]
		if start < 0 {
			continue
		}
		v := types.String(text[start:end])
		fields[strconv.Itoa(g)] = v
		if names[g] != "" {
			fields[names[g]] = v
		}
	}
	return types.Object(fields)
}

// runExtractors binds each extractor in order. Later extractors see the
// variables bound by earlier ones. On failure it returns the failing name.
func runExtractors(extractors []*Extractor, scopes Scopes) (Scopes, types.Value, string) {
	vars := make(map[string]types.Value, len(extractors))
	current := scopes.WithVariables(types.Object(vars))
	for _, ex := range extractors {
		v, ok := ex.Extract(current)
		if !ok {
			return current, types.Object(vars), ex.Name
		}
		vars[ex.Name] = v
		current = scopes.WithVariables(types.Object(vars))
	}
	return current, types.Object(vars), ""
}
