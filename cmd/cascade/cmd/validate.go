package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/loader"
	"github.com/solatis/cascade/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate [rules-dir]",
	Short: "Compile rules and report every problem without starting the engine",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var source loader.Source
	if len(args) == 1 {
		source = loader.DirSource{Dir: args[0]}
	} else {
		var queries *db.Queries
		if cfg.DB.URL != "" {
			database, q, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			queries = q
		}
		if source, err = ruleSource(cfg, queries); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	configs, err := source.Load(cmd.Context())
	var set *rules.RuleSet
	if err == nil {
		set, err = rules.CompileRuleSet(configs)
	}
	if err != nil {
		var report *rules.ValidationReport
		if !errors.As(err, &report) {
			return err
		}
		for _, p := range report.Problems {
			fmt.Fprintf(out, "invalid: %s\n", p)
		}
		return fmt.Errorf("%s: %d problem(s)", source, len(report.Problems))
	}

	fmt.Fprintf(out, "ok: %d rule(s), %d pattern(s) from %s\n", set.Len(), set.Patterns(), source)
	return nil
}
