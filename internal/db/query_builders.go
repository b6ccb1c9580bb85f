package db

import (
	sq "github.com/Masterminds/squirrel"
)

var (
	organizationColumns = []string{"oid", "id", "name", "created_at"}

	instanceColumns = []string{"oid", "id", "name", "type", "organization_oid", "created_at"}

	serverColumns = []string{
		"oid", "id", "name", "description", "status", "is_public",
		"owner_organization_oid", "created_at", "updated_at",
	}

	customServerColumns = []string{
		"cs.oid", "cs.id", "cs.name", "cs.description", "cs.type", "cs.status",
		"cs.is_ephemeral", "cs.is_public", "cs.server_oid", "s.id", "cs.organization_oid", "cs.instance_oid",
		"cs.created_at", "cs.updated_at", "cs.deleted_at",
	}

	environmentColumns = []string{
		"oid", "id", "name", "instance_oid", "organization_oid", "custom_server_oid",
		"server_variant_oid", "max_version_index", "current_version_oid", "created_at", "updated_at",
	}

	variantColumns = []string{
		"oid", "id", "identifier", "is_default", "status", "provider_oid", "server_oid",
		"default_for_instance_oid", "source_type", "current_version_oid", "remote_url", "remote_protocol",
		"docker_image", "tools", "prompts", "resource_templates", "server_capabilities", "server_info",
		"last_discovered_at", "created_at", "updated_at",
	}

	configSchemaColumns = []string{
		"oid", "id", "fingerprint", "schema", "server_oid", "server_variant_oid", "created_at",
	}

	versionColumns = []string{
		"v.oid", "v.id", "v.version_hash", "v.version_index", "v.custom_server_oid", "v.environment_oid",
		"v.server_version_oid", "v.instance_oid", "v.remote_server_instance_oid", "v.created_at",
		"sv.oid", "sv.id", "sv.identifier", "sv.server_variant_oid", "sv.server_oid", "sv.source_type",
		"sv.schema_oid", "sv.get_launch_params", "sv.remote_url", "sv.remote_protocol", "sv.docker_image",
		"sv.tools", "sv.prompts", "sv.resource_templates", "sv.server_capabilities", "sv.server_info",
		"sv.last_discovered_at", "sv.created_at",
		"sc.oid", "sc.id", "sc.fingerprint", "sc.schema", "sc.server_oid", "sc.server_variant_oid", "sc.created_at",
		"rsi.oid", "rsi.id", "rsi.instance_oid", "rsi.remote_url", "rsi.remote_protocol", "rsi.created_at",
		"CASE WHEN e.current_version_oid = v.oid THEN 1 ELSE 0 END",
	}
)

// VersionFilter narrows version lookups. CustomServerOID is always required so
// lookups never leak across servers.
type VersionFilter struct {
	CustomServerOID int64
	EnvironmentOID  *int64
	OID             *int64
	// IDOrHash matches either the public id or the version hash
	IDOrHash string
}

// customServerSelect selects custom servers joined with their runtime server id
func (db *DB) customServerSelect() sq.SelectBuilder {
	return db.sb.Select(customServerColumns...).
		From("custom_servers cs").
		Join("servers s ON s.oid = cs.server_oid")
}

// versionSelect selects version wrappers with everything needed to render or re-hydrate them
func (db *DB) versionSelect() sq.SelectBuilder {
	return db.sb.Select(versionColumns...).
		From("custom_server_versions v").
		Join("server_versions sv ON sv.oid = v.server_version_oid").
		Join("server_config_schemas sc ON sc.oid = sv.schema_oid").
		Join("custom_server_environments e ON e.oid = v.environment_oid").
		LeftJoin("remote_server_instances rsi ON rsi.oid = v.remote_server_instance_oid")
}

// buildVersionFilter turns a VersionFilter into WHERE conditions
func buildVersionFilter(filter VersionFilter) sq.And {
	where := sq.And{sq.Eq{"v.custom_server_oid": filter.CustomServerOID}}
	if filter.EnvironmentOID != nil {
		where = append(where, sq.Eq{"v.environment_oid": *filter.EnvironmentOID})
	}
	if filter.OID != nil {
		where = append(where, sq.Eq{"v.oid": *filter.OID})
	}
	if filter.IDOrHash != "" {
		where = append(where, sq.Or{
			sq.Eq{"v.id": filter.IDOrHash},
			sq.Eq{"v.version_hash": filter.IDOrHash},
		})
	}
	return where
}

// buildVersionListQuery builds the paginated listing, newest version first
func (db *DB) buildVersionListQuery(filter VersionFilter, limit, offset int) (string, []interface{}, error) {
	return db.versionSelect().
		Column("COUNT(*) OVER() AS total_count").
		Where(buildVersionFilter(filter)).
		OrderBy("v.version_index DESC", "v.oid DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
}

// buildVersionCountQuery counts versions matching filter
func (db *DB) buildVersionCountQuery(filter VersionFilter) (string, []interface{}, error) {
	return db.sb.Select("COUNT(*)").
		From("custom_server_versions v").
		Where(buildVersionFilter(filter)).
		ToSql()
}
