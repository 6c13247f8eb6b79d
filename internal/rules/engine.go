// internal/rules/engine.go
package rules

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/solatis/cascade/internal/logging"
	"github.com/solatis/cascade/internal/types"
)

/*
 * Rule processor.
 *
 * Per event:
 *   1. Snapshot the current generation (one atomic load)
 *   2. For each rule in order:
 *        inactive          -> not_processed
 *        WHERE false       -> not_matched
 *        extractor failed  -> partially_matched (names the extractor)
 *        otherwise         -> matched, one DispatchRequest per action
 *   3. A matched rule with continue=false stops the walk; the remaining rules
 *      are recorded as not_processed.
 *
 * Process performs no I/O and never blocks. Dispatch is the caller's job.
 * Swap publishes a new generation atomically; an in-flight Process keeps the
 * generation it loaded.
 */

// Status is the outcome of one rule for one event.
type Status string

const (
	StatusMatched          Status = "matched"
	StatusNotMatched       Status = "not_matched"
	StatusPartiallyMatched Status = "partially_matched"
	StatusNotProcessed     Status = "not_processed"
)

// RuleOutcome is one entry of the audit trail.
type RuleOutcome struct {
	Rule            string `json:"rule"`
	Status          Status `json:"status"`
	FailedExtractor string `json:"failed_extractor,omitempty"`
	// Actions holds the indexes of the rule's actions that produced requests.
	Actions []int `json:"actions,omitempty"`
}

// ProcessedEvent is the result of running an event through one generation.
type ProcessedEvent struct {
	Event      types.Event
	Generation uint64
	Rules      []RuleOutcome
	Requests   []types.DispatchRequest
}

// Matched returns the names of the rules that matched.
func (p *ProcessedEvent) Matched() []string {
	var out []string
	for _, r := range p.Rules {
		if r.Status == StatusMatched {
			out = append(out, r.Rule)
		}
	}
	return out
}

type generation struct {
	set      *RuleSet
	number   uint64
	loadedAt time.Time
}

// Engine evaluates events against the current rule set generation.
type Engine struct {
	current atomic.Pointer[generation]
	counter atomic.Uint64
	logger  *slog.Logger
}

// NewEngine creates an engine serving an empty rule set as generation 0.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	e.current.Store(&generation{set: EmptyRuleSet(), loadedAt: time.Now()})
	return e
}

// Swap publishes set as the next generation and returns its number.
func (e *Engine) Swap(set *RuleSet) uint64 {
	if set == nil {
		set = EmptyRuleSet()
	}
	n := e.counter.Add(1)
	e.current.Store(&generation{set: set, number: n, loadedAt: time.Now()})
	e.logger.Info("rule set published", "generation", n, "rules", set.Len(), "patterns", set.Patterns())
	return n
}

// Reload compiles configs and publishes them. On error the current generation
// stays active and the error is a *ValidationReport.
func (e *Engine) Reload(configs []types.RuleConfig) (uint64, error) {
	set, err := CompileRuleSet(configs)
	if err != nil {
		e.logger.Error("rule set rejected, keeping current generation",
			"generation", e.Generation(), "error", err)
		return e.Generation(), err
	}
	return e.Swap(set), nil
}

// RuleSet returns the current rule set.
func (e *Engine) RuleSet() *RuleSet {
	return e.current.Load().set
}

// Generation returns the current generation number.
func (e *Engine) Generation() uint64 {
	return e.current.Load().number
}

// LoadedAt returns when the current generation was published.
func (e *Engine) LoadedAt() time.Time {
	return e.current.Load().loadedAt
}

// Process runs event through the current generation.
func (e *Engine) Process(event types.Event) *ProcessedEvent {
	gen := e.current.Load()
	result := &ProcessedEvent{
		Event:      event,
		Generation: gen.number,
		Rules:      make([]RuleOutcome, 0, len(gen.set.rules)),
	}

	scopes := EventScopes(event)
	stopped := false
	for _, rule := range gen.set.rules {
		if stopped || !rule.Active {
			result.Rules = append(result.Rules, RuleOutcome{Rule: rule.Name, Status: StatusNotProcessed})
			continue
		}

		outcome := e.processRule(rule, event, scopes, result)
		result.Rules = append(result.Rules, outcome)
		if outcome.Status == StatusMatched && !rule.Continue {
			stopped = true
		}
	}
	return result
}

func (e *Engine) processRule(rule *CompiledRule, event types.Event, scopes Scopes, result *ProcessedEvent) RuleOutcome {
	outcome := RuleOutcome{Rule: rule.Name}

	if !Evaluate(rule.Where, scopes) {
		outcome.Status = StatusNotMatched
		return outcome
	}

	bound, _, failed := runExtractors(rule.Extractors, scopes)
	if failed != "" {
		logging.WithRule(e.logger, rule.Name).Debug("extractor failed, rule skipped",
			"extractor", failed, "event_id", event.ID)
		outcome.Status = StatusPartiallyMatched
		outcome.FailedExtractor = failed
		return outcome
	}

	for i, action := range rule.Actions {
		payload, gaps := action.Payload.Build(bound)
		if len(gaps) > 0 {
			logging.WithRule(e.logger, rule.Name).Debug("payload has unresolved placeholders",
				"action_index", i, "gaps", gaps)
		}
		result.Requests = append(result.Requests, types.DispatchRequest{
			Rule:        rule.Name,
			ActionIndex: i,
			ExecutorID:  action.ExecutorID,
			Payload:     payload,
			Gaps:        gaps,
		})
		outcome.Actions = append(outcome.Actions, i)
	}
	outcome.Status = StatusMatched
	return outcome
}
