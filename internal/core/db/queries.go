package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries runs the named statements in queries/*.sql. Statements are written
// with ? placeholders and rebound for the connection's driver.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

// LoadQueries parses every embedded query file.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	var combined strings.Builder

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		combined.Write(content)
		combined.WriteString("\n")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combined.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	return &Queries{dot: dot, db: db}, nil
}

func (q *Queries) raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return q.db.Rebind(query), nil
}

// Exec runs a named statement.
func (q *Queries) Exec(name string, args ...interface{}) (sql.Result, error) {
	query, err := q.raw(name)
	if err != nil {
		return nil, err
	}
	return q.db.Exec(query, args...)
}

// Get scans a single row of a named query into dest.
func (q *Queries) Get(name string, dest interface{}, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return q.db.Get(dest, query, args...)
}

// Select scans every row of a named query into dest.
func (q *Queries) Select(name string, dest interface{}, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return q.db.Select(dest, query, args...)
}

// RuleRow is one row of the rules table. Definition holds the rule as JSON.
type RuleRow struct {
	Name       string `db:"name"`
	Priority   int    `db:"priority"`
	Definition string `db:"definition"`
}

// ListRules returns every stored rule in evaluation order.
func (q *Queries) ListRules() ([]RuleRow, error) {
	var rows []RuleRow
	if err := q.Select("list-rules", &rows); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rows, nil
}

// UpsertRule inserts or replaces a rule definition.
func (q *Queries) UpsertRule(row RuleRow) error {
	if _, err := q.Exec("upsert-rule", row.Name, row.Priority, row.Definition, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert rule %q: %w", row.Name, err)
	}
	return nil
}

// DeleteRule removes a rule. Deleting a missing rule is not an error.
func (q *Queries) DeleteRule(name string) error {
	if _, err := q.Exec("delete-rule", name); err != nil {
		return fmt.Errorf("delete rule %q: %w", name, err)
	}
	return nil
}

// InsertAPIKey stores the HMAC of a newly issued collector key.
func (q *Queries) InsertAPIKey(apiKeyID, collector string, keyHash []byte) error {
	if _, err := q.Exec("insert-api-key", apiKeyID, collector, keyHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key as revoked.
func (q *Queries) RevokeAPIKey(apiKeyID string) error {
	if _, err := q.Exec("revoke-api-key", time.Now().UTC(), apiKeyID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}
