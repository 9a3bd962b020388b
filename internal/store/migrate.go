package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"tronrecon/internal/store/migrations"
)

// migration holds one parsed migration file. version is the leading
// integer in its filename (e.g. "001_initial_schema.sql" -> 1), which
// maps directly onto PRAGMA user_version: the database's own single
// monotonic schema-version counter, with no separate bookkeeping table.
type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies every migration whose version exceeds the database's
// current user_version, each inside its own transaction, advancing
// user_version only on commit so a crash mid-migration leaves the
// counter at the last fully-applied version.
func (db *DB) Migrate(ctx context.Context) error {
	migs, err := readMigrations()
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}

	current, err := db.userVersion(ctx)
	if err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}

	for _, m := range migs {
		if m.version <= current {
			continue
		}

		slog.Info("store: applying migration", "version", m.version, "name", m.name)

		tx, err := db.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: advance user_version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.name, err)
		}

		slog.Info("store: applied migration", "version", m.version)
	}

	return nil
}

func (db *DB) userVersion(ctx context.Context) (int, error) {
	var v int
	err := db.sqlDB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// readMigrations reads every *.sql file from the embedded FS and sorts
// them by their numeric version prefix.
func readMigrations() ([]migration, error) {
	migrationsFS := migrations.FS()

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migs []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".sql")
		versionStr, _, found := strings.Cut(name, "_")
		if !found {
			return nil, fmt.Errorf("migration %s has no version prefix", entry.Name())
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return nil, fmt.Errorf("migration %s has non-numeric version prefix: %w", entry.Name(), err)
		}
		migs = append(migs, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}
