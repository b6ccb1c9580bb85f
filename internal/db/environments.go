package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/models"
)

// FindEnvironment looks up the environment of a custom server in an instance
func (db *DB) FindEnvironment(ctx context.Context, instanceOID, customServerOID int64) (env *models.Environment, err error) {
	defer observe("find_environment", time.Now(), &err)

	query, args, err := db.sb.Select(environmentColumns...).
		From("custom_server_environments").
		Where(sq.Eq{"instance_oid": instanceOID, "custom_server_oid": customServerOID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	env, err = scanEnvironment(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return env, notFound(err)
}

// GetEnvironmentByOID loads an environment by internal id
func (db *DB) GetEnvironmentByOID(ctx context.Context, oid int64) (env *models.Environment, err error) {
	defer observe("get_environment", time.Now(), &err)

	query, args, err := db.sb.Select(environmentColumns...).
		From("custom_server_environments").
		Where(sq.Eq{"oid": oid}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	env, err = scanEnvironment(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return env, notFound(err)
}

// UpsertEnvironment inserts env keyed by (instance, custom server). When the
// row already exists the update is a no-op and the stored row is returned;
// callers compare the returned ID with the one they generated.
func (db *DB) UpsertEnvironment(ctx context.Context, env *models.Environment) (stored *models.Environment, err error) {
	defer observe("upsert_environment", time.Now(), &err)

	now := millis(time.Now())
	query, args, err := db.sb.Insert("custom_server_environments").
		Columns("id", "name", "instance_oid", "organization_oid", "custom_server_oid", "server_variant_oid",
			"max_version_index", "created_at", "updated_at").
		Values(env.ID, env.Name, env.InstanceOID, env.OrganizationOID, env.CustomServerOID, env.ServerVariantOID,
			0, now, now).
		Suffix("ON CONFLICT (instance_oid, custom_server_oid) DO UPDATE SET instance_oid = EXCLUDED.instance_oid " +
			returning(environmentColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	stored, err = scanEnvironment(db.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert environment: %w", err)
	}
	return stored, nil
}

// IncrementMaxVersionIndex atomically bumps the environment's version counter
// and returns the new value.
func (db *DB) IncrementMaxVersionIndex(ctx context.Context, envOID int64) (index int64, err error) {
	defer observe("increment_version_index", time.Now(), &err)

	query, args, err := db.sb.Update("custom_server_environments").
		Set("max_version_index", sq.Expr("max_version_index + 1")).
		Set("updated_at", millis(time.Now())).
		Where(sq.Eq{"oid": envOID}).
		Suffix("RETURNING max_version_index").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&index); err != nil {
		return 0, fmt.Errorf("failed to increment version index: %w", notFound(err))
	}
	return index, nil
}

// SetEnvironmentCurrentVersion points the environment at a version wrapper
func (db *DB) SetEnvironmentCurrentVersion(ctx context.Context, envOID, versionOID int64) (err error) {
	defer observe("set_environment_current_version", time.Now(), &err)

	query, args, err := db.sb.Update("custom_server_environments").
		Set("current_version_oid", versionOID).
		Set("updated_at", millis(time.Now())).
		Where(sq.Eq{"oid": envOID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	res, err := db.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set current version: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
