package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/models"
)

// CreateServer inserts a runtime server record and sets its OID
func (db *DB) CreateServer(ctx context.Context, s *models.Server) (err error) {
	defer observe("create_server", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("servers").
		Columns("id", "name", "description", "status", "is_public", "owner_organization_oid", "created_at", "updated_at").
		Values(s.ID, s.Name, s.Description, string(s.Status), s.IsPublic, s.OwnerOrganizationOID, millis(now), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&s.OID); err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	s.CreatedAt = fromMillis(millis(now))
	s.UpdatedAt = s.CreatedAt
	return nil
}

// GetServerByOID loads a runtime server record
func (db *DB) GetServerByOID(ctx context.Context, oid int64) (s *models.Server, err error) {
	defer observe("get_server", time.Now(), &err)

	query, args, err := db.sb.Select(serverColumns...).From("servers").Where(sq.Eq{"oid": oid}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	s, err = scanServer(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return s, notFound(err)
}

// UpdateServer writes the mutable fields of a runtime server record
func (db *DB) UpdateServer(ctx context.Context, s *models.Server) (err error) {
	defer observe("update_server", time.Now(), &err)

	s.UpdatedAt = fromMillis(millis(time.Now()))
	query, args, err := db.sb.Update("servers").
		Set("name", s.Name).
		Set("description", s.Description).
		Set("status", string(s.Status)).
		Set("is_public", s.IsPublic).
		Set("updated_at", millis(s.UpdatedAt)).
		Where(sq.Eq{"oid": s.OID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := db.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	return nil
}

// CreateCustomServer inserts a custom server and sets its OID
func (db *DB) CreateCustomServer(ctx context.Context, cs *models.CustomServer) (err error) {
	defer observe("create_custom_server", time.Now(), &err)

	now := time.Now()
	query, args, err := db.sb.Insert("custom_servers").
		Columns("id", "name", "description", "type", "status", "is_ephemeral", "is_public",
			"server_oid", "organization_oid", "instance_oid", "created_at", "updated_at").
		Values(cs.ID, cs.Name, cs.Description, string(cs.Type), string(cs.Status), cs.IsEphemeral, cs.IsPublic,
			cs.ServerOID, cs.OrganizationOID, cs.InstanceOID, millis(now), millis(now)).
		Suffix("RETURNING oid").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&cs.OID); err != nil {
		return fmt.Errorf("failed to create custom server: %w", err)
	}
	cs.CreatedAt = fromMillis(millis(now))
	cs.UpdatedAt = cs.CreatedAt
	return nil
}

// GetCustomServer finds a custom server of an instance by its id or its runtime server id
func (db *DB) GetCustomServer(ctx context.Context, instanceOID int64, id string) (cs *models.CustomServer, err error) {
	defer observe("get_custom_server", time.Now(), &err)

	query, args, err := db.customServerSelect().
		Where(sq.Eq{"cs.instance_oid": instanceOID}).
		Where(sq.Or{sq.Eq{"cs.id": id}, sq.Eq{"s.id": id}}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	cs, err = scanCustomServer(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return cs, notFound(err)
}

// GetOrganizationCustomServer finds a custom server owned by an organization,
// whichever instance it was created in.
func (db *DB) GetOrganizationCustomServer(ctx context.Context, organizationOID int64, id string) (cs *models.CustomServer, err error) {
	defer observe("get_custom_server", time.Now(), &err)

	query, args, err := db.customServerSelect().
		Where(sq.Eq{"cs.organization_oid": organizationOID}).
		Where(sq.Or{sq.Eq{"cs.id": id}, sq.Eq{"s.id": id}}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	cs, err = scanCustomServer(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return cs, notFound(err)
}

// GetCustomServerByOID loads a custom server by internal id
func (db *DB) GetCustomServerByOID(ctx context.Context, oid int64) (cs *models.CustomServer, err error) {
	defer observe("get_custom_server", time.Now(), &err)

	query, args, err := db.customServerSelect().Where(sq.Eq{"cs.oid": oid}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	cs, err = scanCustomServer(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return cs, notFound(err)
}

// ListCustomServers lists the active custom servers of an instance, newest first
func (db *DB) ListCustomServers(ctx context.Context, instanceOID int64, limit, offset int) (servers []models.CustomServer, err error) {
	defer observe("list_custom_servers", time.Now(), &err)

	query, args, err := db.customServerSelect().
		Where(sq.Eq{"cs.instance_oid": instanceOID, "cs.status": string(models.ServerStatusActive)}).
		OrderBy("cs.created_at DESC", "cs.oid DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom servers: %w", err)
	}
	defer rows.Close()

	servers = []models.CustomServer{}
	for rows.Next() {
		cs, err := scanCustomServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom server: %w", err)
		}
		servers = append(servers, *cs)
	}
	return servers, rows.Err()
}

// UpdateCustomServer writes the mutable fields of a custom server
func (db *DB) UpdateCustomServer(ctx context.Context, cs *models.CustomServer) (err error) {
	defer observe("update_custom_server", time.Now(), &err)

	cs.UpdatedAt = fromMillis(millis(time.Now()))
	query, args, err := db.sb.Update("custom_servers").
		Set("name", cs.Name).
		Set("description", cs.Description).
		Set("status", string(cs.Status)).
		Set("is_public", cs.IsPublic).
		Set("updated_at", millis(cs.UpdatedAt)).
		Set("deleted_at", nullMillis(cs.DeletedAt)).
		Where(sq.Eq{"oid": cs.OID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := db.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update custom server: %w", err)
	}
	return nil
}
