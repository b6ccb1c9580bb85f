package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/models"
)

// FindConfigSchema looks up a schema by fingerprint within a (server, variant)
func (db *DB) FindConfigSchema(ctx context.Context, fingerprint string, serverOID, variantOID int64) (s *models.ConfigSchema, err error) {
	defer observe("find_config_schema", time.Now(), &err)

	query, args, err := db.sb.Select(configSchemaColumns...).
		From("server_config_schemas").
		Where(sq.Eq{"fingerprint": fingerprint, "server_oid": serverOID, "server_variant_oid": variantOID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	s, err = scanConfigSchema(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return s, notFound(err)
}

// InsertConfigSchema stores s unless a row with the same fingerprint already
// exists for the (server, variant); either way the stored row is returned.
func (db *DB) InsertConfigSchema(ctx context.Context, s *models.ConfigSchema) (stored *models.ConfigSchema, err error) {
	defer observe("insert_config_schema", time.Now(), &err)

	query, args, err := db.sb.Insert("server_config_schemas").
		Columns("id", "fingerprint", "schema", "server_oid", "server_variant_oid", "created_at").
		Values(s.ID, s.Fingerprint, jsonArg(s.Schema), s.ServerOID, s.ServerVariantOID, millis(time.Now())).
		Suffix("ON CONFLICT (fingerprint, server_oid, server_variant_oid) DO UPDATE SET fingerprint = EXCLUDED.fingerprint " +
			returning(configSchemaColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	stored, err = scanConfigSchema(db.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to insert config schema: %w", err)
	}
	return stored, nil
}

// CountConfigSchemas counts the schemas stored for a (server, variant)
func (db *DB) CountConfigSchemas(ctx context.Context, serverOID, variantOID int64) (n int, err error) {
	defer observe("count_config_schemas", time.Now(), &err)

	query, args, err := db.sb.Select("COUNT(*)").
		From("server_config_schemas").
		Where(sq.Eq{"server_oid": serverOID, "server_variant_oid": variantOID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count config schemas: %w", err)
	}
	return n, nil
}
