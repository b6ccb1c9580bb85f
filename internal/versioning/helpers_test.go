package versioning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metorial/custom-server/internal/cache"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/schema"
	"go.uber.org/zap"
)

type testEnv struct {
	t      *testing.T
	db     *db.DB
	locker *lock.MemoryLocker
	svc    *Services
	org    *models.Organization
	prod   *models.Instance
	dev    *models.Instance
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithTimeout(t, 10*time.Second)
}

func newTestEnvWithTimeout(t *testing.T, lockTimeout time.Duration) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := db.NewSQLiteDB(ctx, filepath.Join(t.TempDir(), "csrv.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	locker := lock.NewMemoryLocker(lockTimeout)
	svc := New(Deps{
		Store:     store,
		Validator: validator,
		Locker:    locker,
		Cache:     cache.NewCache(time.Minute, time.Minute),
		Logger:    zap.NewNop(),
	})

	org, err := store.UpsertOrganization(ctx, "org_acme", "Acme")
	if err != nil {
		t.Fatalf("UpsertOrganization() error = %v", err)
	}
	prod, err := store.UpsertInstance(ctx, org, "inst_prod", "Production", models.InstanceTypeProduction)
	if err != nil {
		t.Fatalf("UpsertInstance() error = %v", err)
	}
	dev, err := store.UpsertInstance(ctx, org, "inst_dev", "Development", models.InstanceTypeDevelopment)
	if err != nil {
		t.Fatalf("UpsertInstance() error = %v", err)
	}

	return &testEnv{t: t, db: store, locker: locker, svc: svc, org: org, prod: prod, dev: dev}
}

// newServer inserts a custom server without any version
func (e *testEnv) newServer(status models.ServerStatus) *models.CustomServer {
	e.t.Helper()
	ctx := context.Background()

	server := &models.Server{
		ID:                   ids.New(ids.PrefixServer),
		Name:                 "Remote",
		Status:               models.ServerStatusActive,
		OwnerOrganizationOID: e.org.OID,
	}
	if err := e.db.CreateServer(ctx, server); err != nil {
		e.t.Fatalf("CreateServer() error = %v", err)
	}
	cs := &models.CustomServer{
		ID:              ids.New(ids.PrefixCustomServer),
		Name:            "Remote",
		Type:            models.ServerTypeRemote,
		Status:          status,
		IsEphemeral:     status != models.ServerStatusActive,
		ServerOID:       server.OID,
		ServerID:        server.ID,
		OrganizationOID: e.org.OID,
		InstanceOID:     e.prod.OID,
	}
	if err := e.db.CreateCustomServer(ctx, cs); err != nil {
		e.t.Fatalf("CreateCustomServer() error = %v", err)
	}
	return cs
}

func (e *testEnv) count(table string) int {
	e.t.Helper()
	var n int
	if err := e.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		e.t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func (e *testEnv) createParams(cs *models.CustomServer, instance *models.Instance, remoteURL string) CreateVersionParams {
	return CreateVersionParams{
		Server:         cs,
		Instance:       instance,
		Organization:   e.org,
		Implementation: remoteImpl(remoteURL),
	}
}

func remoteImpl(remoteURL string) models.Implementation {
	return models.Implementation{
		Type:   models.ServerTypeRemote,
		Remote: &models.RemoteImplementation{RemoteURL: remoteURL},
	}
}
