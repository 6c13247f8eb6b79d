package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/loader"
	"github.com/solatis/cascade/internal/logging"
)

// Version is the release version reported by serve.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "cascade",
	Short:         "cascade event matching and dispatch engine",
	Long:          `cascade matches normalized events against ordered rules and dispatches the resulting payloads to executors.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// loadConfig reads the config file and environment, then applies the
// persistent flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DB.URL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)
	return logger
}

// openDatabase opens the configured database and loads the named queries.
// The caller closes the returned database.
func openDatabase(cfg *config.Config) (*sqlx.DB, *db.Queries, error) {
	if cfg.DB.URL == "" {
		return nil, nil, fmt.Errorf("--db-url or db.url required")
	}
	database, err := db.Open(cfg.DB.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

// ruleSource picks the rule source named by engine.rules_source.
func ruleSource(cfg *config.Config, queries *db.Queries) (loader.Source, error) {
	switch cfg.Engine.RulesSource {
	case config.RulesSourceSQL:
		if queries == nil {
			return nil, fmt.Errorf("rules_source %q requires db.url", config.RulesSourceSQL)
		}
		return loader.SQLSource{Queries: queries}, nil
	default:
		return loader.DirSource{Dir: cfg.Engine.RulesDir}, nil
	}
}
