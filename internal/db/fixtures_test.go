package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "csrv.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	org      *models.Organization
	instance *models.Instance
	server   *models.Server
	custom   *models.CustomServer
	variant  *models.Variant
}

func seedFixture(t *testing.T, db *DB) *fixture {
	t.Helper()
	ctx := context.Background()

	org, err := db.UpsertOrganization(ctx, "org_test", "Test Org")
	if err != nil {
		t.Fatalf("UpsertOrganization() error = %v", err)
	}
	inst, err := db.UpsertInstance(ctx, org, "inst_prod", "Production", models.InstanceTypeProduction)
	if err != nil {
		t.Fatalf("UpsertInstance() error = %v", err)
	}

	server := &models.Server{
		ID:                   ids.New(ids.PrefixServer),
		Name:                 "Remote",
		Status:               models.ServerStatusActive,
		OwnerOrganizationOID: org.OID,
	}
	if err := db.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	custom := &models.CustomServer{
		ID:              ids.New(ids.PrefixCustomServer),
		Name:            "Remote",
		Type:            models.ServerTypeRemote,
		Status:          models.ServerStatusActive,
		ServerOID:       server.OID,
		OrganizationOID: org.OID,
		InstanceOID:     inst.OID,
	}
	if err := db.CreateCustomServer(ctx, custom); err != nil {
		t.Fatalf("CreateCustomServer() error = %v", err)
	}

	profile, err := db.EnsureProfile(ctx, org)
	if err != nil {
		t.Fatalf("EnsureProfile() error = %v", err)
	}
	provider, err := db.EnsureVariantProvider(ctx, profile)
	if err != nil {
		t.Fatalf("EnsureVariantProvider() error = %v", err)
	}

	variant := &models.Variant{
		ID:                    ids.New(ids.PrefixServerVariant),
		Identifier:            "abcd1234",
		IsDefault:             true,
		Status:                models.ServerStatusActive,
		ProviderOID:           provider.OID,
		ServerOID:             server.OID,
		DefaultForInstanceOID: inst.OID,
		SourceType:            models.ServerTypeRemote,
	}
	if err := db.CreateVariant(ctx, variant); err != nil {
		t.Fatalf("CreateVariant() error = %v", err)
	}

	return &fixture{org: org, instance: inst, server: server, custom: custom, variant: variant}
}

func (f *fixture) newEnvironment() *models.Environment {
	return &models.Environment{
		ID:               ids.New(ids.PrefixEnvironment),
		Name:             f.instance.Name,
		InstanceOID:      f.instance.OID,
		OrganizationOID:  f.org.OID,
		CustomServerOID:  f.custom.OID,
		ServerVariantOID: f.variant.OID,
	}
}
