package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/loader"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rules stored in the database",
}

var rulesPushCmd = &cobra.Command{
	Use:   "push <file>...",
	Short: "Validate rule files and store them in the rules table",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRulesPush,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, queries, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := queries.ListRules()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tNAME")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\n", r.Priority, r.Name)
		}
		return w.Flush()
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, queries, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := queries.DeleteRule(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rulesPushCmd.Flags().Int("priority", 0, "evaluation priority; lower runs first, ties break by name")
	rulesCmd.AddCommand(rulesPushCmd, rulesListCmd, rulesDeleteCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	priority, _ := cmd.Flags().GetInt("priority")

	configs := make([]types.RuleConfig, 0, len(args))
	for _, path := range args {
		rule, err := loader.LoadRuleFile(path)
		if err != nil {
			return err
		}
		configs = append(configs, rule)
	}
	// the files must compile together before anything is written
	if _, err := rules.CompileRuleSet(configs); err != nil {
		return err
	}

	database, queries, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	for _, rule := range configs {
		if err := loader.StoreRule(queries, priority, rule); err != nil {
			return fmt.Errorf("storing %s: %w", rule.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s (priority %d)\n", rule.Name, priority)
	}
	return nil
}
