package versioning

import (
	"context"
	"errors"
	"time"

	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
	"go.uber.org/zap"
)

// CreateCustomServerParams describes a custom server and its first version
type CreateCustomServerParams struct {
	Instance       *models.Instance
	Organization   *models.Organization
	Name           string
	Description    string
	Implementation models.Implementation
	// IsEphemeral creates the server archived; its first version is still
	// written and promoted.
	IsEphemeral bool
}

// UpdateCustomServerParams carries the mutable fields of a custom server.
// Nil fields are left unchanged.
type UpdateCustomServerParams struct {
	Name        *string
	Description *string
	IsPublic    *bool
}

// ServerService manages the custom server lifecycle
type ServerService struct {
	db       *db.DB
	versions *VersionService
	logger   *zap.Logger
}

// NewServerService creates a server service
func NewServerService(store *db.DB, versions *VersionService, logger *zap.Logger) *ServerService {
	return &ServerService{db: store, versions: versions, logger: logger}
}

// CreateCustomServer creates the runtime server, the custom server and its
// first version in one transaction under the new server's lock.
func (s *ServerService) CreateCustomServer(ctx context.Context, p CreateCustomServerParams) (*models.CustomServer, *models.CustomServerVersion, error) {
	if p.Implementation.Type != models.ServerTypeRemote {
		return nil, nil, svcerr.BadRequest("unsupported_server_type", "Only remote custom servers are supported")
	}

	status := models.ServerStatusActive
	if p.IsEphemeral {
		status = models.ServerStatusArchived
	}

	server := &models.Server{
		ID:                   ids.New(ids.PrefixServer),
		Name:                 p.Name,
		Description:          p.Description,
		Status:               models.ServerStatusActive,
		OwnerOrganizationOID: p.Organization.OID,
	}
	custom := &models.CustomServer{
		ID:              ids.New(ids.PrefixCustomServer),
		Name:            p.Name,
		Description:     p.Description,
		Type:            p.Implementation.Type,
		Status:          status,
		IsEphemeral:     p.IsEphemeral,
		ServerID:        server.ID,
		OrganizationOID: p.Organization.OID,
		InstanceOID:     p.Instance.OID,
	}

	params := CreateVersionParams{
		Server:            custom,
		Instance:          p.Instance,
		Organization:      p.Organization,
		Implementation:    p.Implementation,
		IsEphemeralUpdate: p.IsEphemeral,
	}
	if err := s.versions.checkPreconditions(custom, p.Implementation, p.IsEphemeral); err != nil {
		return nil, nil, err
	}

	var version *models.CustomServerVersion
	err := s.versions.locks.UsingLock(ctx, custom.ID, func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context) error {
			if err := s.db.CreateServer(ctx, server); err != nil {
				return err
			}
			custom.ServerOID = server.OID
			if err := s.db.CreateCustomServer(ctx, custom); err != nil {
				return err
			}

			var err error
			version, err = s.versions.createVersionLocked(ctx, params)
			return err
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.versions.recordCreated(custom, version)
	s.logger.Info("Created custom server",
		zap.String("server_id", custom.ID),
		zap.String("instance_id", p.Instance.ID),
		zap.Bool("is_ephemeral", custom.IsEphemeral),
	)
	return custom, version, nil
}

// GetCustomServer finds a custom server of an instance by its id or its
// runtime server id.
func (s *ServerService) GetCustomServer(ctx context.Context, instance *models.Instance, id string) (*models.CustomServer, error) {
	cs, err := s.db.GetCustomServer(ctx, instance.OID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, svcerr.NotFound("custom_server", id)
	}
	return cs, err
}

// GetOrganizationCustomServer finds a custom server anywhere in an
// organization. Environments of every instance of the organization address
// the server this way.
func (s *ServerService) GetOrganizationCustomServer(ctx context.Context, org *models.Organization, id string) (*models.CustomServer, error) {
	cs, err := s.db.GetOrganizationCustomServer(ctx, org.OID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, svcerr.NotFound("custom_server", id)
	}
	return cs, err
}

// ListCustomServers lists the active custom servers of an instance
func (s *ServerService) ListCustomServers(ctx context.Context, instance *models.Instance, page models.Page) ([]models.CustomServer, error) {
	page = normalizePage(page)
	return s.db.ListCustomServers(ctx, instance.OID, page.Limit, page.Offset)
}

// UpdateCustomServer renames or republishes an active custom server
func (s *ServerService) UpdateCustomServer(ctx context.Context, cs *models.CustomServer, p UpdateCustomServerParams) (*models.CustomServer, error) {
	if cs.Status != models.ServerStatusActive {
		return nil, svcerr.BadRequest("server_inactive", "Cannot update inactive server")
	}

	updated := *cs
	if p.Name != nil {
		updated.Name = *p.Name
	}
	if p.Description != nil {
		updated.Description = *p.Description
	}
	if p.IsPublic != nil {
		updated.IsPublic = *p.IsPublic
	}

	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		server, err := s.db.GetServerByOID(ctx, cs.ServerOID)
		if err != nil {
			return err
		}
		server.Name = updated.Name
		server.Description = updated.Description
		server.IsPublic = updated.IsPublic
		if err := s.db.UpdateServer(ctx, server); err != nil {
			return err
		}
		return s.db.UpdateCustomServer(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCustomServer soft-deletes an active, unpublished custom server and
// deactivates its runtime server and variants.
func (s *ServerService) DeleteCustomServer(ctx context.Context, cs *models.CustomServer) (*models.CustomServer, error) {
	if cs.Status != models.ServerStatusActive {
		return nil, svcerr.BadRequest("server_inactive", "Cannot delete inactive server")
	}
	if cs.IsPublic {
		return nil, svcerr.BadRequest("server_public", "Cannot delete public server")
	}

	deleted := *cs
	now := time.Now().UTC()
	deleted.Status = models.ServerStatusDeleted
	deleted.DeletedAt = &now

	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		server, err := s.db.GetServerByOID(ctx, cs.ServerOID)
		if err != nil {
			return err
		}
		server.Status = models.ServerStatusInactive
		if err := s.db.UpdateServer(ctx, server); err != nil {
			return err
		}
		if err := s.db.SetVariantsStatus(ctx, cs.ServerOID, models.ServerStatusInactive); err != nil {
			return err
		}
		return s.db.UpdateCustomServer(ctx, &deleted)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deleted custom server", zap.String("server_id", cs.ID))
	return &deleted, nil
}
