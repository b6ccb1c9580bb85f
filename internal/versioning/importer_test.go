package versioning

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
)

func TestImportVersion_NoCurrentVersionInSource(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	cs := e.newServer(models.ServerStatusActive)

	_, err := e.svc.Importer.ImportVersion(ctx, ImportParams{
		Server: cs, Organization: e.org, FromInstance: e.dev, ToInstance: e.prod,
	})
	if !svcerr.IsKind(err, svcerr.KindBadRequest) {
		t.Fatalf("ImportVersion() error = %v, want bad request", err)
	}

	for _, table := range []string{"custom_server_versions", "custom_server_environments", "server_variants"} {
		if n := e.count(table); n != 0 {
			t.Errorf("%s rows = %d, want 0", table, n)
		}
	}
}

func TestImportVersion_CopiesCurrentVersion(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	cs := e.newServer(models.ServerStatusActive)

	launch := "(config) => ({})"
	impl := remoteImpl("https://mcp.example.com/mcp")
	impl.Remote.Protocol = models.RemoteProtocolStreamableHTTP
	impl.Config = &models.ImplementationConfig{
		Schema:          json.RawMessage(`{"type":"object","required":["apiKey"]}`),
		GetLaunchParams: &launch,
	}
	impl.Discovery = &models.Discovery{Tools: json.RawMessage(`[{"name":"fetch"}]`)}

	source, err := e.svc.Versions.CreateVersion(ctx, CreateVersionParams{
		Server: cs, Instance: e.dev, Organization: e.org, Implementation: impl,
	})
	if err != nil {
		t.Fatalf("CreateVersion(dev) error = %v", err)
	}

	imported, err := e.svc.Importer.ImportVersion(ctx, ImportParams{
		Server: cs, Organization: e.org, FromInstance: e.dev, ToInstance: e.prod,
	})
	if err != nil {
		t.Fatalf("ImportVersion() error = %v", err)
	}

	if imported.ID == source.ID || imported.EnvironmentOID == source.EnvironmentOID {
		t.Error("import did not create a version in the target environment")
	}
	if imported.VersionIndex != 1 || !imported.IsCurrent {
		t.Errorf("imported index = %d current = %v, want 1 and current", imported.VersionIndex, imported.IsCurrent)
	}
	if imported.InstanceOID != e.prod.OID {
		t.Errorf("imported instance = %d, want %d", imported.InstanceOID, e.prod.OID)
	}

	got, want := imported.ServerVersion, source.ServerVersion
	if *got.RemoteURL != *want.RemoteURL || got.RemoteProtocol != want.RemoteProtocol {
		t.Errorf("remote = %s/%s, want %s/%s", *got.RemoteURL, got.RemoteProtocol, *want.RemoteURL, want.RemoteProtocol)
	}
	if got.GetLaunchParams != launch {
		t.Errorf("launch params = %q, want %q", got.GetLaunchParams, launch)
	}
	if string(got.Tools) != string(want.Tools) {
		t.Errorf("tools = %s, want %s", got.Tools, want.Tools)
	}
	if imported.Schema.Fingerprint != source.Schema.Fingerprint {
		t.Errorf("schema fingerprint = %s, want %s", imported.Schema.Fingerprint, source.Schema.Fingerprint)
	}
	if imported.RemoteServerInstance == nil || imported.RemoteServerInstance.InstanceOID != e.prod.OID {
		t.Errorf("remote server instance = %+v, want one owned by the target instance", imported.RemoteServerInstance)
	}
}

func TestImportVersion_SpecificVersion(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	cs := e.newServer(models.ServerStatusActive)

	if _, err := e.svc.Versions.CreateVersion(ctx, e.createParams(cs, e.dev, "https://one.example.com/sse")); err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	second, err := e.svc.Versions.CreateVersion(ctx, e.createParams(cs, e.dev, "https://two.example.com/sse"))
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	prodOnly, err := e.svc.Versions.CreateVersion(ctx, e.createParams(cs, e.prod, "https://prod.example.com/sse"))
	if err != nil {
		t.Fatalf("CreateVersion(prod) error = %v", err)
	}

	tests := []struct {
		name      string
		versionID string
		wantURL   string
		wantIndex int64
		wantKind  svcerr.Kind
	}{
		{name: "by id", versionID: second.ID, wantURL: "https://two.example.com/sse", wantIndex: 2},
		{name: "by hash", versionID: second.VersionHash, wantURL: "https://two.example.com/sse", wantIndex: 3},
		{name: "version of another environment", versionID: prodOnly.ID, wantKind: svcerr.KindNotFound},
		{name: "unknown version", versionID: "csver_missing", wantKind: svcerr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.svc.Importer.ImportVersion(ctx, ImportParams{
				Server: cs, Organization: e.org, FromInstance: e.dev, ToInstance: e.prod, VersionID: tt.versionID,
			})
			if tt.wantKind != "" {
				if !svcerr.IsKind(err, tt.wantKind) {
					t.Fatalf("ImportVersion() error = %v, want kind %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("ImportVersion() error = %v", err)
			}
			if *v.ServerVersion.RemoteURL != tt.wantURL || v.VersionIndex != tt.wantIndex {
				t.Errorf("imported %s at %d, want %s at %d", *v.ServerVersion.RemoteURL, v.VersionIndex, tt.wantURL, tt.wantIndex)
			}
			if v.IsCurrent {
				t.Error("an import into an environment with a current version should not be promoted")
			}
		})
	}
}

func TestImportVersion_InactiveServer(t *testing.T) {
	e := newTestEnv(t)
	cs := e.newServer(models.ServerStatusArchived)

	_, err := e.svc.Importer.ImportVersion(context.Background(), ImportParams{
		Server: cs, Organization: e.org, FromInstance: e.dev, ToInstance: e.prod,
	})
	if !svcerr.IsKind(err, svcerr.KindBadRequest) {
		t.Fatalf("ImportVersion() error = %v, want bad request", err)
	}
	if n := e.count("custom_server_versions"); n != 0 {
		t.Errorf("versions = %d, want 0", n)
	}
}

func TestRehydrate(t *testing.T) {
	url := "https://mcp.example.com/sse"
	tests := []struct {
		name    string
		version *models.CustomServerVersion
		wantErr bool
	}{
		{
			name:    "missing runtime version",
			version: &models.CustomServerVersion{ID: "csver_1"},
			wantErr: true,
		},
		{
			name: "remote url from runtime version",
			version: &models.CustomServerVersion{
				ID:            "csver_2",
				ServerVersion: &models.ServerVersion{SourceType: models.ServerTypeRemote, RemoteURL: &url},
			},
		},
		{
			name: "remote without url",
			version: &models.CustomServerVersion{
				ID:            "csver_3",
				ServerVersion: &models.ServerVersion{SourceType: models.ServerTypeRemote},
			},
			wantErr: true,
		},
		{
			name: "unsupported type",
			version: &models.CustomServerVersion{
				ID:            "csver_4",
				ServerVersion: &models.ServerVersion{SourceType: models.ServerTypeManaged},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl, err := rehydrate(tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("rehydrate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !svcerr.IsKind(err, svcerr.KindContractViolation) {
					t.Errorf("rehydrate() error = %v, want contract violation", err)
				}
				return
			}
			if impl.Remote == nil || impl.Remote.RemoteURL != url {
				t.Errorf("rehydrate() remote = %+v", impl.Remote)
			}
			if impl.Discovery != nil {
				t.Error("rehydrate() set a discovery payload for a version without one")
			}
		})
	}
}
