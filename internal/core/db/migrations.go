package db

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/solatis/cascade/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// migrator pairs the embedded migrations for one driver with the rows
// already recorded in the migrations table.
type migrator struct {
	db       *sqlx.DB
	embedded []migration
	applied  map[string]MigrationStatus
}

func newMigrator(db *sqlx.DB) (*migrator, error) {
	fsys, dir, err := migrationSource(db.DriverName())
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(migrationsTableDDL(db.DriverName())); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	embedded, err := readMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	applied, err := readApplied(db)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return &migrator{db: db, embedded: embedded, applied: applied}, nil
}

// MigrateUp applies every pending embedded migration for the connection's
// driver, in filename order, each in its own transaction. Already applied
// migrations must still match their recorded checksum.
func MigrateUp(db *sqlx.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.verify(); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}
	for _, mig := range m.embedded {
		if _, done := m.applied[mig.ID]; done {
			continue
		}
		if err := m.apply(mig); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	m, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(m.embedded))
	for _, mig := range m.embedded {
		if s, ok := m.applied[mig.ID]; ok {
			statuses = append(statuses, s)
			continue
		}
		statuses = append(statuses, MigrationStatus{ID: mig.ID, Checksum: mig.Checksum})
	}
	return statuses, nil
}

// verify rejects recorded migrations that are unknown or were edited after
// being applied.
func (m *migrator) verify() error {
	known := make(map[string]string, len(m.embedded))
	for _, mig := range m.embedded {
		known[mig.ID] = mig.Checksum
	}
	for id, s := range m.applied {
		want, ok := known[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if s.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, s.Checksum)
		}
	}
	return nil
}

func (m *migrator) apply(mig migration) error {
	start := time.Now()
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", mig.ID, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(mig.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", mig.ID, err)
		}
	}

	// sqlite keeps applied_at as RFC 3339 text, postgres as TIMESTAMP
	var appliedAt any = time.Now().UTC()
	if tx.DriverName() == "sqlite3" {
		appliedAt = time.Now().UTC().Format(time.RFC3339)
	}
	insert := tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)")
	if _, err := tx.Exec(insert, mig.ID, mig.Checksum, appliedAt, time.Since(start).Milliseconds()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", mig.ID, err)
	}
	return nil
}

func readApplied(db *sqlx.DB) (map[string]MigrationStatus, error) {
	rows, err := db.Queryx("SELECT migration_id, checksum, applied_at, execution_ms FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]MigrationStatus)
	for rows.Next() {
		s := MigrationStatus{Applied: true}
		var appliedAt any
		if err := rows.Scan(&s.ID, &s.Checksum, &appliedAt, &s.ExecutionMs); err != nil {
			return nil, err
		}
		s.AppliedAt = parseAppliedAt(appliedAt)
		applied[s.ID] = s
	}
	return applied, rows.Err()
}

// parseAppliedAt handles both drivers: postgres yields time.Time, sqlite
// yields the RFC 3339 text written by apply.
func parseAppliedAt(raw any) *time.Time {
	var text string
	switch v := raw.(type) {
	case time.Time:
		return &v
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil
	}
	return &t
}

func migrationSource(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// readMigrations returns the .sql files of dir sorted by name, each with
// the SHA-256 of its content.
func readMigrations(fsys embed.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fsys.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{ID: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// migrationsTableDDL must agree with the migrations table in 001_initial_schema.sql.
func migrationsTableDDL(driver string) string {
	if driver == "sqlite3" {
		return `CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL,
			CHECK (applied_at LIKE '____-__-__T__:__:__Z')
		)`
	}
	return `CREATE TABLE IF NOT EXISTS migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
		execution_ms INTEGER NOT NULL
	)`
}

// splitStatements drops comment lines and splits on semicolons; lib/pq
// rejects several statements in one Exec.
func splitStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
