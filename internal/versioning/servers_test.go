package versioning

import (
	"context"
	"testing"

	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
)

func TestServerService_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	cs, v, err := e.svc.Servers.CreateCustomServer(ctx, CreateCustomServerParams{
		Instance:       e.prod,
		Organization:   e.org,
		Name:           "Weather",
		Description:    "Forecasts",
		Implementation: remoteImpl("https://weather.example.com/sse"),
	})
	if err != nil {
		t.Fatalf("CreateCustomServer() error = %v", err)
	}
	if cs.Status != models.ServerStatusActive || cs.IsEphemeral {
		t.Errorf("status = %s ephemeral = %v, want active and not ephemeral", cs.Status, cs.IsEphemeral)
	}
	if v.VersionIndex != 1 || !v.IsCurrent {
		t.Errorf("first version index = %d current = %v", v.VersionIndex, v.IsCurrent)
	}

	for _, id := range []string{cs.ID, cs.ServerID} {
		got, err := e.svc.Servers.GetCustomServer(ctx, e.prod, id)
		if err != nil {
			t.Fatalf("GetCustomServer(%s) error = %v", id, err)
		}
		if got.ID != cs.ID {
			t.Errorf("GetCustomServer(%s) = %s", id, got.ID)
		}
	}
	if _, err := e.svc.Servers.GetCustomServer(ctx, e.dev, cs.ID); !svcerr.IsKind(err, svcerr.KindNotFound) {
		t.Errorf("GetCustomServer(other instance) error = %v, want not found", err)
	}

	name := "Weather v2"
	updated, err := e.svc.Servers.UpdateCustomServer(ctx, cs, UpdateCustomServerParams{Name: &name})
	if err != nil {
		t.Fatalf("UpdateCustomServer() error = %v", err)
	}
	if updated.Name != name || updated.Description != "Forecasts" {
		t.Errorf("updated = %+v", updated)
	}

	list, err := e.svc.Servers.ListCustomServers(ctx, e.prod, models.Page{})
	if err != nil {
		t.Fatalf("ListCustomServers() error = %v", err)
	}
	if len(list) != 1 || list[0].Name != name {
		t.Errorf("ListCustomServers() = %+v", list)
	}

	deleted, err := e.svc.Servers.DeleteCustomServer(ctx, updated)
	if err != nil {
		t.Fatalf("DeleteCustomServer() error = %v", err)
	}
	if deleted.Status != models.ServerStatusDeleted || deleted.DeletedAt == nil {
		t.Errorf("deleted = %+v", deleted)
	}

	list, err = e.svc.Servers.ListCustomServers(ctx, e.prod, models.Page{})
	if err != nil {
		t.Fatalf("ListCustomServers() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("deleted server still listed: %+v", list)
	}

	env, err := e.db.FindEnvironment(ctx, e.prod.OID, cs.OID)
	if err != nil {
		t.Fatalf("FindEnvironment() error = %v", err)
	}
	variant, err := e.db.GetVariantByOID(ctx, env.ServerVariantOID)
	if err != nil {
		t.Fatalf("GetVariantByOID() error = %v", err)
	}
	if variant.Status != models.ServerStatusInactive {
		t.Errorf("variant status = %s, want inactive", variant.Status)
	}
	server, err := e.db.GetServerByOID(ctx, cs.ServerOID)
	if err != nil {
		t.Fatalf("GetServerByOID() error = %v", err)
	}
	if server.Status != models.ServerStatusInactive {
		t.Errorf("runtime server status = %s, want inactive", server.Status)
	}

	_, err = e.svc.Versions.CreateVersion(ctx, e.createParams(deleted, e.prod, "https://weather.example.com/sse"))
	if !svcerr.IsKind(err, svcerr.KindBadRequest) {
		t.Errorf("CreateVersion() on deleted server error = %v, want bad request", err)
	}
}

func TestServerService_Guards(t *testing.T) {
	tests := []struct {
		name   string
		status models.ServerStatus
		public bool
		op     func(e *testEnv, cs *models.CustomServer) error
	}{
		{
			name:   "update archived",
			status: models.ServerStatusArchived,
			op: func(e *testEnv, cs *models.CustomServer) error {
				name := "x"
				_, err := e.svc.Servers.UpdateCustomServer(context.Background(), cs, UpdateCustomServerParams{Name: &name})
				return err
			},
		},
		{
			name:   "delete archived",
			status: models.ServerStatusArchived,
			op: func(e *testEnv, cs *models.CustomServer) error {
				_, err := e.svc.Servers.DeleteCustomServer(context.Background(), cs)
				return err
			},
		},
		{
			name:   "delete public",
			status: models.ServerStatusActive,
			public: true,
			op: func(e *testEnv, cs *models.CustomServer) error {
				_, err := e.svc.Servers.DeleteCustomServer(context.Background(), cs)
				return err
			},
		},
		{
			name:   "create managed",
			status: models.ServerStatusActive,
			op: func(e *testEnv, cs *models.CustomServer) error {
				_, _, err := e.svc.Servers.CreateCustomServer(context.Background(), CreateCustomServerParams{
					Instance: e.prod, Organization: e.org, Name: "Managed",
					Implementation: models.Implementation{Type: models.ServerTypeManaged},
				})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			cs := e.newServer(tt.status)
			cs.IsPublic = tt.public

			if err := tt.op(e, cs); !svcerr.IsKind(err, svcerr.KindBadRequest) {
				t.Errorf("error = %v, want bad request", err)
			}
		})
	}
}

func TestServerService_CreateRollsBackOnInvalidVersion(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.svc.Servers.CreateCustomServer(context.Background(), CreateCustomServerParams{
		Instance:       e.prod,
		Organization:   e.org,
		Name:           "Broken",
		Implementation: remoteImpl("not a url"),
	})
	if !svcerr.IsKind(err, svcerr.KindBadRequest) {
		t.Fatalf("CreateCustomServer() error = %v, want bad request", err)
	}

	for _, table := range []string{"servers", "custom_servers", "custom_server_environments", "custom_server_versions"} {
		if n := e.count(table); n != 0 {
			t.Errorf("%s rows = %d, want 0", table, n)
		}
	}
}
