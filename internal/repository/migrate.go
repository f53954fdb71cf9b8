package repository

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/weldingest/internal/repository/migrations"
)

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations returns the embedded NNN_name.up.sql files for d in version order.
func loadMigrations(d string) ([]migration, error) {
	dir := "sqlite"
	if d == dialect.Postgres {
		dir = "postgres"
	}
	entries, err := fs.ReadDir(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix", name)
		}
		body, err := fs.ReadFile(migrations.FS, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// migrate applies every migration newer than the recorded schema version.
// Each migration and its version row commit together.
func (s *Store) migrate(ctx context.Context) error {
	create := `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`
	if err := s.drv.Exec(ctx, create, []any{}, nil); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	pending, err := loadMigrations(s.dialect)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		err := s.withWriteTx(ctx, func(tx dialect.Tx) error {
			if err := tx.Exec(ctx, m.sql, []any{}, nil); err != nil {
				return err
			}
			q, args := entsql.Dialect(s.dialect).
				Insert("schema_migrations").
				Columns("version", "applied_at").
				Values(m.version, time.Now().UTC().Format(time.RFC3339)).
				Query()
			return tx.Exec(ctx, q, args, nil)
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		s.logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, 0 for a new store.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations", []any{}, &rows); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	defer rows.Close()

	var version int
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return 0, fmt.Errorf("read schema version: %w", err)
		}
	}
	return version, rows.Err()
}
