package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/models"
)

// VersionIdentifierAvailable reports whether identifier is unused as both a
// runtime version identifier and a version hash.
func (db *DB) VersionIdentifierAvailable(ctx context.Context, identifier string) (ok bool, err error) {
	defer observe("version_identifier_available", time.Now(), &err)

	query, args, err := db.sb.Select().
		Column(sq.Expr(
			"(SELECT COUNT(*) FROM server_versions WHERE identifier = ?) + (SELECT COUNT(*) FROM custom_server_versions WHERE version_hash = ?)",
			identifier, identifier,
		)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check version identifier: %w", err)
	}
	return n == 0, nil
}

// CreateRemoteServerInstance inserts a remote server instance and sets its OID
func (db *DB) CreateRemoteServerInstance(ctx context.Context, r *models.RemoteServerInstance) (err error) {
	defer observe("create_remote_server_instance", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("remote_server_instances").
		Columns("id", "instance_oid", "remote_url", "remote_protocol", "created_at").
		Values(r.ID, r.InstanceOID, r.RemoteURL, string(r.RemoteProtocol), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&r.OID); err != nil {
		return fmt.Errorf("failed to create remote server instance: %w", err)
	}
	r.CreatedAt = fromMillis(millis(now))
	return nil
}

// CreateServerVersion inserts an immutable runtime version and sets its OID
func (db *DB) CreateServerVersion(ctx context.Context, sv *models.ServerVersion) (err error) {
	defer observe("create_server_version", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("server_versions").
		Columns("id", "identifier", "server_variant_oid", "server_oid", "source_type", "schema_oid",
			"get_launch_params", "remote_url", "remote_protocol", "docker_image", "tools", "prompts",
			"resource_templates", "server_capabilities", "server_info", "last_discovered_at", "created_at").
		Values(sv.ID, sv.Identifier, sv.ServerVariantOID, sv.ServerOID, string(sv.SourceType), sv.SchemaOID,
			sv.GetLaunchParams, nullString(sv.RemoteURL), nullProtocol(sv.RemoteProtocol), nullString(sv.DockerImage),
			jsonArg(sv.Tools), jsonArg(sv.Prompts), jsonArg(sv.ResourceTemplates), jsonArg(sv.ServerCapabilities),
			jsonArg(sv.ServerInfo), nullMillis(sv.LastDiscoveredAt), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&sv.OID); err != nil {
		return fmt.Errorf("failed to create server version: %w", err)
	}
	sv.CreatedAt = fromMillis(millis(now))
	return nil
}

// CreateCustomServerVersion inserts the version wrapper and sets its OID
func (db *DB) CreateCustomServerVersion(ctx context.Context, v *models.CustomServerVersion) (err error) {
	defer observe("create_custom_server_version", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("custom_server_versions").
		Columns("id", "version_hash", "version_index", "custom_server_oid", "environment_oid",
			"server_version_oid", "instance_oid", "remote_server_instance_oid", "created_at").
		Values(v.ID, v.VersionHash, v.VersionIndex, v.CustomServerOID, v.EnvironmentOID,
			v.ServerVersionOID, v.InstanceOID, nullInt(v.RemoteServerInstanceOID), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&v.OID); err != nil {
		return fmt.Errorf("failed to create custom server version: %w", err)
	}
	v.CreatedAt = fromMillis(millis(now))
	return nil
}

// GetCustomServerVersion loads one version with its runtime version, schema
// and remote server instance.
func (db *DB) GetCustomServerVersion(ctx context.Context, filter VersionFilter) (v *models.CustomServerVersion, err error) {
	defer observe("get_custom_server_version", time.Now(), &err)

	query, args, err := db.versionSelect().
		Where(buildVersionFilter(filter)).
		OrderBy("v.version_index DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	v, err = scanVersionRow(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return v, notFound(err)
}

// withTotal appends the window total column to a version row scan
type withTotal struct {
	rowScanner
	total *int
}

func (w withTotal) Scan(dest ...interface{}) error {
	return w.rowScanner.Scan(append(dest, w.total)...)
}

// ListCustomServerVersions returns a page of versions and the total match count
func (db *DB) ListCustomServerVersions(ctx context.Context, filter VersionFilter, limit, offset int) (versions []models.CustomServerVersion, total int, err error) {
	defer observe("list_custom_server_versions", time.Now(), &err)

	query, args, err := db.buildVersionListQuery(filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions = []models.CustomServerVersion{}
	for rows.Next() {
		v, err := scanVersionRow(withTotal{rowScanner: rows, total: &total})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate versions: %w", err)
	}

	// The window total is only visible on returned rows.
	if len(versions) == 0 && offset > 0 {
		countQuery, countArgs, err := db.buildVersionCountQuery(filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build query: %w", err)
		}
		if err := db.exec(ctx).QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count versions: %w", err)
		}
	}

	return versions, total, nil
}
