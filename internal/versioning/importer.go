package versioning

import (
	"context"
	"errors"

	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
	"go.uber.org/zap"
)

// ImportParams describes a cross-environment import
type ImportParams struct {
	Server       *models.CustomServer
	Organization *models.Organization
	ToInstance   *models.Instance
	FromInstance *models.Instance
	// VersionID selects a version of the source environment; empty imports
	// the source's current version.
	VersionID string
}

// Importer copies a version from one environment of a server to another
type Importer struct {
	db       *db.DB
	versions *VersionService
	logger   *zap.Logger
}

// NewImporter creates an importer that allocates through versions
func NewImporter(store *db.DB, versions *VersionService, logger *zap.Logger) *Importer {
	return &Importer{db: store, versions: versions, logger: logger}
}

// ImportVersion re-creates a source environment version in the target
// environment, going through the same allocation and promotion path as
// CreateVersion.
func (i *Importer) ImportVersion(ctx context.Context, p ImportParams) (*models.CustomServerVersion, error) {
	if p.Server.Status != models.ServerStatusActive {
		return nil, svcerr.BadRequest("server_inactive", "Cannot update inactive server version")
	}

	var imported *models.CustomServerVersion
	var source *models.CustomServerVersion
	err := i.versions.locks.UsingLock(ctx, p.Server.ID, func(ctx context.Context) error {
		return i.db.WithTransaction(ctx, func(ctx context.Context) error {
			from, err := i.versions.environments.ensureLocked(ctx, p.Server, p.FromInstance, p.Organization)
			if err != nil {
				return err
			}

			if p.VersionID == "" && from.CurrentVersionOID == nil {
				return svcerr.BadRequest("no_current_version", "The source environment has no current version to import")
			}

			filter := db.VersionFilter{CustomServerOID: p.Server.OID, EnvironmentOID: &from.OID}
			if p.VersionID == "" {
				filter.OID = from.CurrentVersionOID
			} else {
				filter.IDOrHash = p.VersionID
			}

			source, err = i.db.GetCustomServerVersion(ctx, filter)
			if errors.Is(err, db.ErrNotFound) {
				id := p.VersionID
				if id == "" {
					id = CurrentVersionAlias
				}
				return svcerr.NotFound("custom_server_version", id)
			}
			if err != nil {
				return err
			}

			impl, err := rehydrate(source)
			if err != nil {
				return err
			}
			if err := i.versions.checkPreconditions(p.Server, impl, false); err != nil {
				return err
			}

			imported, err = i.versions.createVersionLocked(ctx, CreateVersionParams{
				Server:         p.Server,
				Instance:       p.ToInstance,
				Organization:   p.Organization,
				Implementation: impl,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.VersionImportsTotal.Inc()
	i.versions.recordCreated(p.Server, imported)
	i.logger.Info("Imported version",
		zap.String("server_id", p.Server.ID),
		zap.String("from_instance_id", p.FromInstance.ID),
		zap.String("to_instance_id", p.ToInstance.ID),
		zap.String("source_version_id", source.ID),
		zap.Int64("version_index", imported.VersionIndex),
	)
	return imported, nil
}

// rehydrate rebuilds the implementation a stored version was created from
func rehydrate(v *models.CustomServerVersion) (models.Implementation, error) {
	sv := v.ServerVersion
	if sv == nil {
		return models.Implementation{}, svcerr.ContractViolation("version %s has no runtime version", v.ID)
	}

	launchParams := sv.GetLaunchParams
	impl := models.Implementation{
		Type:   sv.SourceType,
		Config: &models.ImplementationConfig{GetLaunchParams: &launchParams},
	}
	if v.Schema != nil {
		impl.Config.Schema = v.Schema.Schema
	}
	if hasDiscovery(sv.Discovery) {
		discovery := sv.Discovery
		impl.Discovery = &discovery
	}

	switch sv.SourceType {
	case models.ServerTypeRemote:
		remote := &models.RemoteImplementation{Protocol: sv.RemoteProtocol}
		switch {
		case v.RemoteServerInstance != nil:
			remote.RemoteURL = v.RemoteServerInstance.RemoteURL
			remote.Protocol = v.RemoteServerInstance.RemoteProtocol
		case sv.RemoteURL != nil:
			remote.RemoteURL = *sv.RemoteURL
		default:
			return models.Implementation{}, svcerr.ContractViolation("remote version %s has no remote url", v.ID)
		}
		impl.Remote = remote
	default:
		return models.Implementation{}, svcerr.ContractViolation("unsupported implementation type %q", sv.SourceType)
	}
	return impl, nil
}

func hasDiscovery(d models.Discovery) bool {
	return len(d.Tools) > 0 || len(d.Prompts) > 0 || len(d.ResourceTemplates) > 0 ||
		len(d.ServerCapabilities) > 0 || len(d.ServerInfo) > 0
}
