package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
	"github.com/metorial/custom-server/internal/utils"
	"github.com/metorial/custom-server/internal/versioning"
)

// maxBodyBytes caps request bodies; config schemas and launch params are the largest inputs
const maxBodyBytes = 1 << 20

// CustomServersHandler serves the custom server and version API
type CustomServersHandler struct {
	db       *db.DB
	servers  *versioning.ServerService
	versions *versioning.VersionService
	envs     *versioning.EnvironmentResolver
	importer *versioning.Importer
}

// NewCustomServersHandler creates a new custom servers handler
func NewCustomServersHandler(database *db.DB, svc *versioning.Services) *CustomServersHandler {
	return &CustomServersHandler{
		db:       database,
		servers:  svc.Servers,
		versions: svc.Versions,
		envs:     svc.Environments,
		importer: svc.Importer,
	}
}

// RegisterRoutes mounts the API on r. Every route is instance scoped.
func (h *CustomServersHandler) RegisterRoutes(r *mux.Router) {
	cs := r.PathPrefix("/instances/{instanceId}/custom-servers").Subrouter()
	cs.Use(func(next http.Handler) http.Handler {
		return utils.LimitRequestSize(maxBodyBytes, next)
	})

	cs.HandleFunc("", h.CreateCustomServer).Methods(http.MethodPost)
	cs.HandleFunc("", h.ListCustomServers).Methods(http.MethodGet)
	cs.HandleFunc("/{serverId}", h.GetCustomServer).Methods(http.MethodGet)
	cs.HandleFunc("/{serverId}", h.UpdateCustomServer).Methods(http.MethodPatch)
	cs.HandleFunc("/{serverId}", h.DeleteCustomServer).Methods(http.MethodDelete)
	cs.HandleFunc("/{serverId}/environment", h.GetEnvironment).Methods(http.MethodGet)
	cs.HandleFunc("/{serverId}/import", h.ImportVersion).Methods(http.MethodPost)
	cs.HandleFunc("/{serverId}/versions", h.CreateVersion).Methods(http.MethodPost)
	cs.HandleFunc("/{serverId}/versions", h.ListVersions).Methods(http.MethodGet)
	cs.HandleFunc("/{serverId}/versions/{versionId}", h.GetVersion).Methods(http.MethodGet)
	cs.HandleFunc("/{serverId}/versions/{versionId}/promote", h.PromoteVersion).Methods(http.MethodPost)
}

// scope is the instance, organization and (optionally) custom server a request addresses
type scope struct {
	instance *models.Instance
	org      *models.Organization
	server   *models.CustomServer
}

// pathVar reads and validates a route variable
func pathVar(r *http.Request, name string) (string, error) {
	value := mux.Vars(r)[name]
	if err := utils.ValidateID(value); err != nil {
		return "", svcerr.BadRequest("invalid_"+name, err.Error())
	}
	return value, nil
}

// resolveInstance loads an instance and its organization by public id
func (h *CustomServersHandler) resolveInstance(ctx context.Context, id string) (*models.Instance, *models.Organization, error) {
	instance, err := h.db.GetInstanceByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, svcerr.NotFound("instance", id)
	}
	if err != nil {
		return nil, nil, err
	}
	org, err := h.db.GetOrganizationByOID(ctx, instance.OrganizationOID)
	if err != nil {
		return nil, nil, err
	}
	return instance, org, nil
}

// serverLookup selects how the {serverId} route variable is resolved
type serverLookup int

const (
	// noServer skips the custom server lookup
	noServer serverLookup = iota
	// instanceServer requires the server to live in the addressed instance
	instanceServer
	// organizationServer accepts any server of the instance's organization
	organizationServer
)

// resolve loads the request scope
func (h *CustomServersHandler) resolve(r *http.Request, lookup serverLookup) (*scope, error) {
	instanceID, err := pathVar(r, "instanceId")
	if err != nil {
		return nil, err
	}
	instance, org, err := h.resolveInstance(r.Context(), instanceID)
	if err != nil {
		return nil, err
	}
	sc := &scope{instance: instance, org: org}
	if lookup == noServer {
		return sc, nil
	}

	serverID, err := pathVar(r, "serverId")
	if err != nil {
		return nil, err
	}
	if lookup == instanceServer {
		sc.server, err = h.servers.GetCustomServer(r.Context(), instance, serverID)
	} else {
		sc.server, err = h.servers.GetOrganizationCustomServer(r.Context(), org, serverID)
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// decodeBody decodes and validates a JSON request body
func decodeBody(r *http.Request, dst interface{}) error {
	if err := utils.DecodeJSON(r, dst); err != nil {
		return svcerr.BadRequest("invalid_body", err.Error())
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return svcerr.BadRequest("invalid_body", err.Error())
	}
	return nil
}

// parsePage reads limit and offset query parameters
func parsePage(r *http.Request) (models.Page, error) {
	q := r.URL.Query()
	req := utils.PaginationRequest{Limit: versioning.DefaultPageLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Page{}, svcerr.BadRequest("invalid_limit", "limit must be an integer")
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Page{}, svcerr.BadRequest("invalid_offset", "offset must be an integer")
		}
		req.Offset = n
	}

	if err := utils.ValidateStruct(&req); err != nil {
		return models.Page{}, svcerr.BadRequest("invalid_pagination", err.Error())
	}
	return models.Page{Limit: req.Limit, Offset: req.Offset}, nil
}
