// Package loader reads rule definitions from a directory or the rules table
// and publishes them to the engine.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/metrics"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// Source produces the ordered rule configurations of one generation.
type Source interface {
	Load(ctx context.Context) ([]types.RuleConfig, error)
	String() string
}

// DirSource reads one rule per *.yaml, *.yml or *.json file. Files are
// ordered by filename, which fixes evaluation priority. A rule without a
// name takes the file's base name.
type DirSource struct {
	Dir string
}

func (s DirSource) String() string { return "dir:" + s.Dir }

// IsRuleFile reports whether name has a rule file extension.
func IsRuleFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

func (s DirSource) Load(ctx context.Context) ([]types.RuleConfig, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsRuleFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	// Every file is decoded even after a failure so the report names all of
	// them. Indexes are file positions in load order.
	report := &rules.ValidationReport{}
	configs := make([]types.RuleConfig, 0, len(names))
	positions := make([]int, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg, err := LoadRuleFile(filepath.Join(s.Dir, name))
		if err != nil {
			report.Add(strings.TrimSuffix(name, filepath.Ext(name)), i, fmt.Errorf("%s: %w", name, err))
			continue
		}
		configs = append(configs, cfg)
		positions = append(positions, i)
	}
	if len(report.Problems) == 0 {
		return configs, nil
	}

	// fold in what compiling the decodable files would have reported
	if _, err := rules.CompileRuleSet(configs); err != nil {
		var compiled *rules.ValidationReport
		if !errors.As(err, &compiled) {
			return nil, err
		}
		for _, p := range compiled.Problems {
			report.Add(p.Rule, positions[p.Index], p.Err)
		}
	}
	sort.SliceStable(report.Problems, func(i, j int) bool {
		return report.Problems[i].Index < report.Problems[j].Index
	})
	return nil, report
}

// LoadRuleFile decodes a single rule file.
func LoadRuleFile(path string) (types.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RuleConfig{}, fmt.Errorf("reading rule file: %w", err)
	}

	var cfg types.RuleConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		cfg, err = decodeJSON(data)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return types.RuleConfig{}, fmt.Errorf("parsing rule file: %w", err)
	}

	if cfg.Name == "" {
		base := filepath.Base(path)
		cfg.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return cfg, nil
}

func decodeJSON(data []byte) (types.RuleConfig, error) {
	var cfg types.RuleConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return types.RuleConfig{}, err
	}
	return cfg, nil
}

// SQLSource reads the rules table ordered by priority, then name. The row's
// name overrides any name inside the stored definition.
type SQLSource struct {
	Queries *db.Queries
}

func (s SQLSource) String() string { return "sql:rules" }

func (s SQLSource) Load(ctx context.Context) ([]types.RuleConfig, error) {
	rows, err := s.Queries.ListRules()
	if err != nil {
		return nil, err
	}
	configs := make([]types.RuleConfig, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg, err := decodeJSON([]byte(row.Definition))
		if err != nil {
			return nil, fmt.Errorf("decoding rule %q: %w", row.Name, err)
		}
		cfg.Name = row.Name
		configs = append(configs, cfg)
	}
	return configs, nil
}

// StoreRule writes cfg to the rules table.
func StoreRule(q *db.Queries, priority int, cfg types.RuleConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("rule has no name: %w", types.ErrInvalidName)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding rule %q: %w", cfg.Name, err)
	}
	return q.UpsertRule(db.RuleRow{Name: cfg.Name, Priority: priority, Definition: string(data)})
}

// Reloader loads a source and publishes it to the engine. Reloads are
// serialized, so generations are published in the order their sources were
// read.
type Reloader struct {
	mu      sync.Mutex
	source  Source
	engine  *rules.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReloader creates a reloader. m may be nil.
func NewReloader(source Source, engine *rules.Engine, m *metrics.Metrics, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{source: source, engine: engine, metrics: m, logger: logger}
}

// Source returns the configured rule source.
func (r *Reloader) Source() Source { return r.source }

// Reload loads and compiles the source. On any error the engine keeps its
// current generation; a compile failure is a *rules.ValidationReport.
func (r *Reloader) Reload(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	configs, err := r.source.Load(ctx)
	if err != nil {
		if rules.IsValidationError(err) {
			r.logProblems(err)
		} else {
			r.logger.Error("rule source unreadable, keeping current generation",
				"source", r.source.String(), "error", err)
		}
		r.observe(r.engine.Generation(), 0, err)
		return r.engine.Generation(), err
	}

	gen, err := r.engine.Reload(configs)
	r.observe(gen, len(configs), err)
	if err != nil {
		r.logProblems(err)
		return gen, err
	}
	r.logger.Info("rules reloaded", "source", r.source.String(), "generation", gen, "rules", len(configs))
	return gen, nil
}

func (r *Reloader) logProblems(err error) {
	var report *rules.ValidationReport
	if errors.As(err, &report) {
		for _, p := range report.Problems {
			r.logger.Warn("invalid rule", "rule", p.Rule, "index", p.Index, "error", p.Err)
		}
	}
}

func (r *Reloader) observe(gen uint64, count int, err error) {
	if r.metrics != nil {
		r.metrics.ObserveReload(gen, count, err)
	}
}
