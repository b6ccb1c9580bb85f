package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/models"
)

func returning(columns []string) string {
	return "RETURNING " + strings.Join(columns, ", ")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// UpsertOrganization creates or renames an organization by public id
func (db *DB) UpsertOrganization(ctx context.Context, id, name string) (org *models.Organization, err error) {
	defer observe("upsert_organization", time.Now(), &err)

	query, args, err := db.sb.Insert("organizations").
		Columns("id", "name", "created_at").
		Values(id, name, millis(time.Now())).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name " + returning(organizationColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	org, err = scanOrganization(db.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert organization: %w", err)
	}
	return org, nil
}

// GetOrganizationByOID loads an organization by internal id
func (db *DB) GetOrganizationByOID(ctx context.Context, oid int64) (org *models.Organization, err error) {
	defer observe("get_organization", time.Now(), &err)

	query, args, err := db.sb.Select(organizationColumns...).From("organizations").Where(sq.Eq{"oid": oid}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	org, err = scanOrganization(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return org, notFound(err)
}

// UpsertInstance creates or updates an instance of org by public id
func (db *DB) UpsertInstance(ctx context.Context, org *models.Organization, id, name string, typ models.InstanceType) (inst *models.Instance, err error) {
	defer observe("upsert_instance", time.Now(), &err)

	query, args, err := db.sb.Insert("instances").
		Columns("id", "name", "type", "organization_oid", "created_at").
		Values(id, name, string(typ), org.OID, millis(time.Now())).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type " + returning(instanceColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	inst, err = scanInstance(db.exec(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert instance: %w", err)
	}
	return inst, nil
}

// GetInstanceByID loads an instance by public id
func (db *DB) GetInstanceByID(ctx context.Context, id string) (inst *models.Instance, err error) {
	defer observe("get_instance", time.Now(), &err)

	query, args, err := db.sb.Select(instanceColumns...).From("instances").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	inst, err = scanInstance(db.exec(ctx).QueryRowContext(ctx, query, args...))
	return inst, notFound(err)
}

// EnsureProfile returns the organization's profile, creating it on first use
func (db *DB) EnsureProfile(ctx context.Context, org *models.Organization) (p *models.Profile, err error) {
	defer observe("ensure_profile", time.Now(), &err)

	query, args, err := db.sb.Insert("profiles").
		Columns("id", "organization_oid", "created_at").
		Values(ids.New(ids.PrefixProfile), org.OID, millis(time.Now())).
		Suffix("ON CONFLICT (organization_oid) DO UPDATE SET organization_oid = EXCLUDED.organization_oid RETURNING oid, id, organization_oid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	p = &models.Profile{}
	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&p.OID, &p.ID, &p.OrganizationOID); err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return p, nil
}

// EnsureVariantProvider returns the profile's variant provider, creating it on first use
func (db *DB) EnsureVariantProvider(ctx context.Context, profile *models.Profile) (vp *models.VariantProvider, err error) {
	defer observe("ensure_variant_provider", time.Now(), &err)

	query, args, err := db.sb.Insert("variant_providers").
		Columns("id", "profile_oid", "created_at").
		Values(ids.New(ids.PrefixVariantProvider), profile.OID, millis(time.Now())).
		Suffix("ON CONFLICT (profile_oid) DO UPDATE SET profile_oid = EXCLUDED.profile_oid RETURNING oid, id, profile_oid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	vp = &models.VariantProvider{}
	if err := db.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&vp.OID, &vp.ID, &vp.ProfileOID); err != nil {
		return nil, fmt.Errorf("failed to ensure variant provider: %w", err)
	}
	return vp, nil
}
