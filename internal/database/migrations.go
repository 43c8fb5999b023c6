package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrator applies migrations in version order, one transaction each.
type Migrator struct {
	pool       *Pool
	migrations []Migration
}

// NewMigrator creates a Migrator with the bundled schema.
func NewMigrator(pool *Pool) (*Migrator, error) {
	return NewMigratorFromFS(pool, embedded, "migrations")
}

// NewMigratorFromFS loads "<version>_<name>.<up|down>.sql" files from dir.
func NewMigratorFromFS(pool *Pool, fsys fs.FS, dir string) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return NewMigratorWithMigrations(pool, migrations), nil
}

// NewMigratorWithMigrations creates a Migrator with provided migrations.
func NewMigratorWithMigrations(pool *Pool, migrations []Migration) *Migrator {
	return &Migrator{pool: pool, migrations: migrations}
}

// LoadMigrations reads and pairs up migration files, sorted by version.
// Files that do not follow the naming scheme are ignored.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, direction, ok := parseMigrationFile(entry.Name())
		if !ok {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, name)
		}

		switch direction {
		case "up":
			m.UpSQL = string(content)
		case "down":
			m.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseMigrationFile splits "001_create_table.up.sql" into its parts.
func parseMigrationFile(file string) (version int, name, direction string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", "", false
	}

	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return 0, "", "", false
	}
	direction = base[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}

	versionStr, name, found := strings.Cut(base[:dot], "_")
	if !found || name == "" {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, name, direction, true
}

// Migrations returns the loaded migrations.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

// EnsureMigrationsTable creates the tracking table if missing.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

// AppliedMigrations returns applied migrations in version order.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PendingMigrations returns migrations not yet applied.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[int]struct{}, len(applied))
	for _, r := range applied {
		done[r.Version] = struct{}{}
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies all pending migrations and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return 0, err
	}

	for i, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return i, fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return len(pending), nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	last := applied[len(applied)-1]
	for _, mig := range m.migrations {
		if mig.Version == last.Version {
			return m.rollback(ctx, mig)
		}
	}
	return fmt.Errorf("migration %d not found", last.Version)
}

// CurrentVersion returns the highest applied version, or 0.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	applied, err := m.AppliedMigrations(ctx)
	if err != nil || len(applied) == 0 {
		return 0, err
	}
	return applied[len(applied)-1].Version, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("failed to execute up SQL: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit(ctx)
}

func (m *Migrator) rollback(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mig.DownSQL != "" {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to execute down SQL: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	return tx.Commit(ctx)
}
