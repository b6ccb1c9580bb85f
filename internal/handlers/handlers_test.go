package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/metorial/custom-server/internal/cache"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/schema"
	"github.com/metorial/custom-server/internal/utils"
	"github.com/metorial/custom-server/internal/versioning"
	"go.uber.org/zap"
)

type apiTest struct {
	t      *testing.T
	router *mux.Router
}

func newAPITest(t *testing.T) *apiTest {
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

	svc := versioning.New(versioning.Deps{
		Store:     store,
		Validator: validator,
		Locker:    lock.NewMemoryLocker(5 * time.Second),
		Cache:     cache.NewCache(time.Minute, time.Minute),
		Logger:    zap.NewNop(),
	})

	acme, err := store.UpsertOrganization(ctx, "org_acme", "Acme")
	if err != nil {
		t.Fatalf("UpsertOrganization() error = %v", err)
	}
	for _, inst := range []struct {
		id  string
		typ models.InstanceType
	}{{"inst_prod", models.InstanceTypeProduction}, {"inst_dev", models.InstanceTypeDevelopment}} {
		if _, err := store.UpsertInstance(ctx, acme, inst.id, inst.id, inst.typ); err != nil {
			t.Fatalf("UpsertInstance() error = %v", err)
		}
	}
	other, err := store.UpsertOrganization(ctx, "org_other", "Other")
	if err != nil {
		t.Fatalf("UpsertOrganization() error = %v", err)
	}
	if _, err := store.UpsertInstance(ctx, other, "inst_other", "Other", models.InstanceTypeProduction); err != nil {
		t.Fatalf("UpsertInstance() error = %v", err)
	}

	router := mux.NewRouter()
	NewCustomServersHandler(store, svc).RegisterRoutes(router.PathPrefix("/v1").Subrouter())
	return &apiTest{t: t, router: router}
}

func (a *apiTest) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func (a *apiTest) decode(w *httptest.ResponseRecorder, wantStatus int, dst interface{}) {
	a.t.Helper()
	if w.Code != wantStatus {
		a.t.Fatalf("status = %d, want %d: %s", w.Code, wantStatus, w.Body.String())
	}
	if dst != nil {
		if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
			a.t.Fatalf("decode response: %v: %s", err, w.Body.String())
		}
	}
}

func (a *apiTest) createServer(instanceID, name, remoteURL string) CreateCustomServerResponse {
	a.t.Helper()
	var resp CreateCustomServerResponse
	a.decode(a.do(http.MethodPost, "/v1/instances/"+instanceID+"/custom-servers", map[string]interface{}{
		"name":           name,
		"implementation": remoteBody(remoteURL),
	}), http.StatusCreated, &resp)
	return resp
}

func remoteBody(remoteURL string) map[string]interface{} {
	return map[string]interface{}{
		"type":   "remote",
		"remote": map[string]interface{}{"remote_url": remoteURL},
	}
}

func errorReason(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v: %s", err, w.Body.String())
	}
	return body.Reason
}

func TestCustomServerVersionLifecycle(t *testing.T) {
	a := newAPITest(t)
	created := a.createServer("inst_prod", "search", "https://mcp.example.com/sse")
	if created.Version == nil || created.Version.VersionIndex != 1 {
		t.Fatalf("first version = %+v, want index 1", created.Version)
	}
	base := "/v1/instances/inst_prod/custom-servers/" + created.CustomServer.ID

	var current models.CustomServerVersion
	a.decode(a.do(http.MethodGet, base+"/versions/current", nil), http.StatusOK, &current)
	if current.ID != created.Version.ID || !current.IsCurrent {
		t.Errorf("current = %s (is_current %v), want first version %s", current.ID, current.IsCurrent, created.Version.ID)
	}

	var second models.CustomServerVersion
	a.decode(a.do(http.MethodPost, base+"/versions", map[string]interface{}{
		"implementation": remoteBody("https://mcp.example.com/v2/sse"),
	}), http.StatusCreated, &second)
	if second.VersionIndex != 2 {
		t.Errorf("second version index = %d, want 2", second.VersionIndex)
	}

	a.decode(a.do(http.MethodGet, base+"/versions/current", nil), http.StatusOK, &current)
	if current.ID != created.Version.ID {
		t.Errorf("later versions must not be promoted automatically, current = %s", current.ID)
	}

	var promoted models.CustomServerVersion
	a.decode(a.do(http.MethodPost, base+"/versions/"+second.VersionHash+"/promote", nil), http.StatusOK, &promoted)
	if promoted.ID != second.ID || !promoted.IsCurrent {
		t.Errorf("promoted = %+v", promoted)
	}

	var list models.VersionList
	a.decode(a.do(http.MethodGet, base+"/versions?limit=1", nil), http.StatusOK, &list)
	if list.Metadata.Total != 2 || len(list.Versions) != 1 || list.Versions[0].VersionIndex != 2 {
		t.Errorf("list = %+v, want newest of two", list)
	}

	var byID models.CustomServerVersion
	a.decode(a.do(http.MethodGet, base+"/versions/"+created.Version.ID, nil), http.StatusOK, &byID)
	if byID.IsCurrent {
		t.Error("demoted version should not be current")
	}
}

func TestImportAcrossInstances(t *testing.T) {
	a := newAPITest(t)
	created := a.createServer("inst_prod", "search", "https://mcp.example.com/sse")
	devBase := "/v1/instances/inst_dev/custom-servers/" + created.CustomServer.ID

	var env models.Environment
	a.decode(a.do(http.MethodGet, devBase+"/environment", nil), http.StatusOK, &env)
	if env.MaxVersionIndex != 0 {
		t.Errorf("fresh environment max index = %d, want 0", env.MaxVersionIndex)
	}

	w := a.do(http.MethodGet, devBase+"/versions/current", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("current of empty environment status = %d, want 404", w.Code)
	}

	var imported models.CustomServerVersion
	a.decode(a.do(http.MethodPost, devBase+"/import", map[string]string{"from_instance_id": "inst_prod"}), http.StatusCreated, &imported)
	if imported.VersionIndex != 1 || imported.ID == created.Version.ID {
		t.Errorf("imported = %+v, want a new first version", imported)
	}
	if imported.ServerVersion == nil || imported.ServerVersion.RemoteURL == nil || *imported.ServerVersion.RemoteURL != "https://mcp.example.com/sse" {
		t.Errorf("imported runtime version = %+v", imported.ServerVersion)
	}

	var current models.CustomServerVersion
	a.decode(a.do(http.MethodGet, devBase+"/versions/current", nil), http.StatusOK, &current)
	if current.ID != imported.ID {
		t.Errorf("dev current = %s, want imported %s", current.ID, imported.ID)
	}

	// the source environment is untouched
	var prodList models.VersionList
	a.decode(a.do(http.MethodGet, "/v1/instances/inst_prod/custom-servers/"+created.CustomServer.ID+"/versions", nil), http.StatusOK, &prodList)
	if prodList.Metadata.Total != 1 {
		t.Errorf("prod versions = %d, want 1", prodList.Metadata.Total)
	}
}

func TestImportErrors(t *testing.T) {
	a := newAPITest(t)
	created := a.createServer("inst_prod", "search", "https://mcp.example.com/sse")
	prodBase := "/v1/instances/inst_prod/custom-servers/" + created.CustomServer.ID

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantReason string
	}{
		{
			name:       "source without current version",
			body:       map[string]string{"from_instance_id": "inst_dev"},
			wantStatus: http.StatusBadRequest,
			wantReason: "no_current_version",
		},
		{
			name:       "unknown source instance",
			body:       map[string]string{"from_instance_id": "inst_missing"},
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "source instance of another organization",
			body:       map[string]string{"from_instance_id": "inst_other"},
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "unknown source version",
			body:       map[string]string{"from_instance_id": "inst_dev", "version_id": "zzzzzzzz"},
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "missing source",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(http.MethodPost, prodBase+"/import", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if reason := errorReason(t, w); reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}

	var list models.VersionList
	a.decode(a.do(http.MethodGet, prodBase+"/versions", nil), http.StatusOK, &list)
	if list.Metadata.Total != 1 {
		t.Errorf("failed imports must not create versions, total = %d", list.Metadata.Total)
	}
}

func TestRequestErrors(t *testing.T) {
	a := newAPITest(t)
	created := a.createServer("inst_prod", "search", "https://mcp.example.com/sse")
	base := "/v1/instances/inst_prod/custom-servers/" + created.CustomServer.ID

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantReason string
	}{
		{
			name:       "unknown instance",
			method:     http.MethodGet,
			path:       "/v1/instances/inst_missing/custom-servers",
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "unknown server",
			method:     http.MethodGet,
			path:       "/v1/instances/inst_prod/custom-servers/csrv_missing",
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "server of another organization",
			method:     http.MethodGet,
			path:       "/v1/instances/inst_other/custom-servers/" + created.CustomServer.ID + "/versions",
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "invalid config schema",
			method:     http.MethodPost,
			path:       base + "/versions",
			body:       `{"implementation":{"type":"remote","remote":{"remote_url":"https://mcp.example.com/sse"},"config":{"schema":{"properties":{"token":{"type":"nope"}}}}}}`,
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_json_schema",
		},
		{
			name:       "unknown body field",
			method:     http.MethodPost,
			path:       base + "/versions",
			body:       `{"implementation":{"type":"remote","remote":{"remote_url":"https://mcp.example.com/sse"}},"extra":1}`,
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_body",
		},
		{
			name:       "managed implementation",
			method:     http.MethodPost,
			path:       base + "/versions",
			body:       map[string]interface{}{"implementation": map[string]string{"type": "managed"}},
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_body",
		},
		{
			name:       "limit above maximum",
			method:     http.MethodGet,
			path:       base + "/versions?limit=101",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_pagination",
		},
		{
			name:       "non numeric offset",
			method:     http.MethodGet,
			path:       base + "/versions?offset=abc",
			wantStatus: http.StatusBadRequest,
			wantReason: "invalid_offset",
		},
		{
			name:       "promote unknown version",
			method:     http.MethodPost,
			path:       base + "/versions/zzzzzzzz/promote",
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if reason := errorReason(t, w); reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestUpdateAndDeleteCustomServer(t *testing.T) {
	a := newAPITest(t)
	created := a.createServer("inst_prod", "search", "https://mcp.example.com/sse")
	base := "/v1/instances/inst_prod/custom-servers/" + created.CustomServer.ID

	var updated models.CustomServer
	a.decode(a.do(http.MethodPatch, base, map[string]interface{}{"name": "renamed"}), http.StatusOK, &updated)
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}

	var list CustomServerList
	a.decode(a.do(http.MethodGet, "/v1/instances/inst_prod/custom-servers", nil), http.StatusOK, &list)
	if list.Metadata.Count != 1 || list.CustomServers[0].Name != "renamed" {
		t.Errorf("list = %+v", list)
	}

	var deleted models.CustomServer
	a.decode(a.do(http.MethodDelete, base, nil), http.StatusOK, &deleted)
	if deleted.Status != models.ServerStatusDeleted || deleted.DeletedAt == nil {
		t.Errorf("deleted = %+v", deleted)
	}

	w := a.do(http.MethodPost, base+"/versions", map[string]interface{}{
		"implementation": remoteBody("https://mcp.example.com/v2/sse"),
	})
	if w.Code != http.StatusBadRequest || errorReason(t, w) != "server_inactive" {
		t.Errorf("create on deleted server = %d %s", w.Code, w.Body.String())
	}

	a.decode(a.do(http.MethodGet, "/v1/instances/inst_prod/custom-servers", nil), http.StatusOK, &list)
	if list.Metadata.Count != 0 {
		t.Errorf("deleted servers should not be listed, got %d", list.Metadata.Count)
	}
}

func TestEphemeralServerAcceptsUpdates(t *testing.T) {
	a := newAPITest(t)

	var resp CreateCustomServerResponse
	a.decode(a.do(http.MethodPost, "/v1/instances/inst_dev/custom-servers", map[string]interface{}{
		"name":           "preview",
		"is_ephemeral":   true,
		"implementation": remoteBody("https://preview.example.com/sse"),
	}), http.StatusCreated, &resp)
	if resp.CustomServer.Status != models.ServerStatusArchived {
		t.Fatalf("ephemeral status = %s, want archived", resp.CustomServer.Status)
	}

	var next models.CustomServerVersion
	a.decode(a.do(http.MethodPost, "/v1/instances/inst_dev/custom-servers/"+resp.CustomServer.ID+"/versions", map[string]interface{}{
		"implementation": remoteBody("https://preview.example.com/v2/sse"),
	}), http.StatusCreated, &next)
	if next.VersionIndex != 2 {
		t.Errorf("version index = %d, want 2", next.VersionIndex)
	}
}
