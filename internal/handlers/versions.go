package handlers

import (
	"net/http"

	"github.com/metorial/custom-server/internal/svcerr"
	"github.com/metorial/custom-server/internal/utils"
	"github.com/metorial/custom-server/internal/versioning"
)

// CreateVersion handles POST .../custom-servers/{serverId}/versions
func (h *CustomServersHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	var req utils.CreateVersionRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	version, err := h.versions.CreateVersion(r.Context(), versioning.CreateVersionParams{
		Server:            sc.server,
		Instance:          sc.instance,
		Organization:      sc.org,
		Implementation:    req.Implementation,
		IsEphemeralUpdate: sc.server.IsEphemeral,
	})
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusCreated, version)
}

// ListVersions handles GET .../custom-servers/{serverId}/versions
func (h *CustomServersHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	list, err := h.versions.ListVersions(r.Context(), sc.server, sc.instance, page)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, list)
}

// GetVersion handles GET .../custom-servers/{serverId}/versions/{versionId}.
// The version id may be a public id, a version hash or "current".
func (h *CustomServersHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	versionID, err := pathVar(r, "versionId")
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	version, err := h.versions.GetVersionByID(r.Context(), sc.server, sc.instance, versionID)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, version)
}

// PromoteVersion handles POST .../custom-servers/{serverId}/versions/{versionId}/promote
func (h *CustomServersHandler) PromoteVersion(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	versionID, err := pathVar(r, "versionId")
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	version, err := h.versions.SetCurrentVersion(r.Context(), versioning.SetCurrentVersionParams{
		Server:            sc.server,
		Instance:          sc.instance,
		Organization:      sc.org,
		VersionID:         versionID,
		IsEphemeralUpdate: sc.server.IsEphemeral,
	})
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, version)
}

// ImportVersion handles POST .../custom-servers/{serverId}/import
func (h *CustomServersHandler) ImportVersion(w http.ResponseWriter, r *http.Request) {
	sc, err := h.resolve(r, organizationServer)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}

	var req utils.ImportVersionRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	if req.VersionID != "" {
		if err := utils.ValidateID(req.VersionID); err != nil {
			utils.WriteServiceError(w, r, svcerr.BadRequest("invalid_version_id", err.Error()))
			return
		}
	}

	from, _, err := h.resolveInstance(r.Context(), req.FromInstanceID)
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	// instances of other organizations are indistinguishable from missing ones
	if from.OrganizationOID != sc.org.OID {
		utils.WriteServiceError(w, r, svcerr.NotFound("instance", req.FromInstanceID))
		return
	}

	version, err := h.importer.ImportVersion(r.Context(), versioning.ImportParams{
		Server:       sc.server,
		Organization: sc.org,
		ToInstance:   sc.instance,
		FromInstance: from,
		VersionID:    req.VersionID,
	})
	if err != nil {
		utils.WriteServiceError(w, r, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusCreated, version)
}
