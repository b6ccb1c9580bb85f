package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/models"
)

// VariantIdentifierAvailable reports whether no variant uses identifier
func (db *DB) VariantIdentifierAvailable(ctx context.Context, identifier string) (ok bool, err error) {
	defer observe("variant_identifier_available", time.Now(), &err)

	query, args, err := db.sb.Select("COUNT(*)").From("server_variants").Where(sq.Eq{"identifier": identifier}).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}
	var n int
	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check variant identifier: %w", err)
	}
	return n == 0, nil
}

// CreateVariant inserts a variant and sets its OID
func (db *DB) CreateVariant(ctx context.Context, v *models.Variant) (err error) {
	defer observe("create_variant", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("server_variants").
		Columns("id", "identifier", "is_default", "status", "provider_oid", "server_oid",
			"default_for_instance_oid", "source_type", "remote_url", "remote_protocol", "created_at", "updated_at").
		Values(v.ID, v.Identifier, v.IsDefault, string(v.Status), v.ProviderOID, v.ServerOID,
			v.DefaultForInstanceOID, string(v.SourceType), nullString(v.RemoteURL), nullProtocol(v.RemoteProtocol),
			millis(now), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&v.OID); err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	v.CreatedAt = fromMillis(millis(now))
	v.UpdatedAt = v.CreatedAt
	return nil
}

// DeleteVariant removes a variant that nothing references yet
func (db *DB) DeleteVariant(ctx context.Context, oid int64) (err error) {
	defer observe("delete_variant", time.Now(), &err)

	query, args, err := db.sb.Delete("server_variants").Where(sq.Eq{"oid": oid}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := db.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	return nil
}

// GetVariantByOID loads a variant by internal id
func (db *DB) GetVariantByOID(ctx context.Context, oid int64) (v *models.Variant, err error) {
	defer observe("get_variant", time.Now(), &err)

	query, args, err := db.sb.Select(variantColumns...).From("server_variants").Where(sq.Eq{"oid": oid}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	v, err = scanVariant(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return v, notFound(err)
}

// ApplyVersionToVariant copies a runtime version's serving fields onto the
// variant and points the variant at it.
func (db *DB) ApplyVersionToVariant(ctx context.Context, variantOID int64, sv *models.ServerVersion) (err error) {
	defer observe("apply_version_to_variant", time.Now(), &err)

	query, args, err := db.sb.Update("server_variants").
		Set("current_version_oid", sv.OID).
		Set("remote_url", nullString(sv.RemoteURL)).
		Set("remote_protocol", nullProtocol(sv.RemoteProtocol)).
		Set("docker_image", nullString(sv.DockerImage)).
		Set("tools", jsonArg(sv.Tools)).
		Set("prompts", jsonArg(sv.Prompts)).
		Set("resource_templates", jsonArg(sv.ResourceTemplates)).
		Set("server_capabilities", jsonArg(sv.ServerCapabilities)).
		Set("server_info", jsonArg(sv.ServerInfo)).
		Set("last_discovered_at", nullMillis(sv.LastDiscoveredAt)).
		Set("updated_at", millis(time.Now())).
		Where(sq.Eq{"oid": variantOID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	res, err := db.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to apply version to variant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVariantsStatus updates the status of every variant of a runtime server
func (db *DB) SetVariantsStatus(ctx context.Context, serverOID int64, status models.ServerStatus) (err error) {
	defer observe("set_variants_status", time.Now(), &err)

	query, args, err := db.sb.Update("server_variants").
		Set("status", string(status)).
		Set("updated_at", millis(time.Now())).
		Where(sq.Eq{"server_oid": serverOID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := db.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update variant status: %w", err)
	}
	return nil
}

func nullProtocol(p models.RemoteProtocol) interface{} {
	if p == "" {
		return nil
	}
	return string(p)
}
