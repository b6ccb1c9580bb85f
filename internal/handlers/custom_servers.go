package handlers

import (
	"net/http"

	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/utils"
	"github.com/metorial/custom-server/internal/versioning"
)

// CreateCustomServerResponse is returned when a custom server is created
type CreateCustomServerResponse struct {
	CustomServer *models.CustomServer        `json:"custom_server"`
	Version      *models.CustomServerVersion `json:"version"`
}

// CustomServerList is a page of custom servers
type CustomServerList struct {
	CustomServers []models.CustomServer `json:"custom_servers"`
	Metadata      struct {
		Count  int `json:"count"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"metadata"`
}

// CreateCustomServer handles POST /v1/instances/{instanceId}/custom-servers
func (h *CustomServersHandler) CreateCustomServer(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, noServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	var req utils.CreateCustomServerRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	cs, version, err := h.servers.CreateCustomServer(r.Context(), versioning.CreateCustomServerParams{
		Instance:       sc.instance,
		Organization:   sc.org,
		Name:           req.Name,
		Description:    req.Description,
		Implementation: req.Implementation,
		IsEphemeral:    req.IsEphemeral,
	})
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	_ = utils.WriteJSON(w, http.StatusCreated, CreateCustomServerResponse{CustomServer: cs, Version: version})
}

// ListCustomServers handles GET /v1/instances/{instanceId}/custom-servers
func (h *CustomServersHandler) ListCustomServers(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, noServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	servers, err := h.servers.ListCustomServers(r.Context(), sc.instance, page)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	resp := CustomServerList{CustomServers: servers}
	if resp.CustomServers == nil {
		resp.CustomServers = []models.CustomServer{}
	}
	resp.Metadata.Count = len(resp.CustomServers)
	resp.Metadata.Limit = page.Limit
	resp.Metadata.Offset = page.Offset
	_ = utils.WriteJSON(w, http.StatusOK, resp)
}

// GetCustomServer handles GET /v1/instances/{instanceId}/custom-servers/{serverId}
func (h *CustomServersHandler) GetCustomServer(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, instanceServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, sc.server)
}

// UpdateCustomServer handles PATCH /v1/instances/{instanceId}/custom-servers/{serverId}
func (h *CustomServersHandler) UpdateCustomServer(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, instanceServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	var req utils.UpdateCustomServerRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	updated, err := h.servers.UpdateCustomServer(r.Context(), sc.server, versioning.UpdateCustomServerParams{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, updated)
}

// DeleteCustomServer handles DELETE /v1/instances/{instanceId}/custom-servers/{serverId}
func (h *CustomServersHandler) DeleteCustomServer(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, instanceServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	deleted, err := h.servers.DeleteCustomServer(r.Context(), sc.server)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, deleted)
}

// GetEnvironment handles GET /v1/instances/{instanceId}/custom-servers/{serverId}/environment.
// The environment is created on first access.
func (h *CustomServersHandler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	env, err := h.envs.EnsureEnvironment(r.Context(), sc.server, sc.instance, sc.org)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, env)
}
