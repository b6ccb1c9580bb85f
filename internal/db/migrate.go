package db

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the connection's dialect in
// name order, skipping those already recorded in schema_migrations.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", string(db.dialect))
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		applied, err := db.migrationApplied(ctx, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = db.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := db.exec(ctx).ExecContext(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
			query, args, err := db.sb.Insert("schema_migrations").
				Columns("name", "applied_at").
				Values(name, time.Now().UnixMilli()).
				ToSql()
			if err != nil {
				return err
			}
			_, err = db.exec(ctx).ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return err
		}
		utils.Logger.Info("Applied migration", zap.String("dialect", string(db.dialect)), zap.String("name", name))
	}

	return nil
}

func (db *DB) migrationApplied(ctx context.Context, name string) (bool, error) {
	query, args, err := db.sb.Select("COUNT(*)").From("schema_migrations").Where("name = ?", name).ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	return n > 0, nil
}
