package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/metorial/custom-server/internal/cache"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/schema"
	"github.com/metorial/custom-server/internal/svcerr"
	"go.uber.org/zap"
)

// CurrentVersionAlias addresses the current version of an environment
const CurrentVersionAlias = "current"

// Pagination bounds for version listings
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// DefaultRemoteLaunchParams builds a bearer Authorization header from the
// accessToken config field.
const DefaultRemoteLaunchParams = `(config, ctx) => ({
  query: {},
  headers: {
    Authorization: ` + "`Bearer ${config.accessToken}`" + `
  }
});`

// DefaultRemoteConfigSchema requires an accessToken string
var DefaultRemoteConfigSchema = json.RawMessage(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://schema.metorial.com/remote-server-config.json",
  "title": "Remote Server Config",
  "type": "object",
  "properties": {
    "accessToken": {
      "type": "string",
      "title": "Access Token",
      "description": "Token sent as a bearer Authorization header"
    }
  },
  "required": ["accessToken"]
}`)

// PromotionPolicy decides whether a newly created version becomes the
// environment's current version.
type PromotionPolicy func(env *models.Environment) bool

// PromoteFirstVersion promotes only when the environment has no current version
func PromoteFirstVersion(env *models.Environment) bool {
	return env.CurrentVersionOID == nil
}

// CreateVersionParams describes a version to create
type CreateVersionParams struct {
	Server         *models.CustomServer
	Instance       *models.Instance
	Organization   *models.Organization
	Implementation models.Implementation
	// IsEphemeralUpdate permits writes while the server is not active
	IsEphemeralUpdate bool
}

// SetCurrentVersionParams describes a promotion
type SetCurrentVersionParams struct {
	Server            *models.CustomServer
	Instance          *models.Instance
	Organization      *models.Organization
	VersionID         string
	IsEphemeralUpdate bool
}

// VersionService allocates, stores and promotes versions
type VersionService struct {
	db           *db.DB
	validator    *schema.Validator
	schemas      *SchemaStore
	environments *EnvironmentResolver
	locks        *lock.Namespace
	cache        *cache.Cache
	logger       *zap.Logger

	promotionPolicy PromotionPolicy
}

// NewVersionService creates a version service using PromoteFirstVersion
func NewVersionService(store *db.DB, validator *schema.Validator, schemas *SchemaStore, environments *EnvironmentResolver,
	locks *lock.Namespace, versionCache *cache.Cache, logger *zap.Logger) *VersionService {
	return &VersionService{
		db:              store,
		validator:       validator,
		schemas:         schemas,
		environments:    environments,
		locks:           locks,
		cache:           versionCache,
		logger:          logger,
		promotionPolicy: PromoteFirstVersion,
	}
}

// SetPromotionPolicy replaces the rule applied to newly created versions
func (s *VersionService) SetPromotionPolicy(policy PromotionPolicy) {
	s.promotionPolicy = policy
}

// CreateVersion validates the implementation, then allocates and stores a new
// version under the server lock.
func (s *VersionService) CreateVersion(ctx context.Context, p CreateVersionParams) (*models.CustomServerVersion, error) {
	if err := s.checkPreconditions(p.Server, p.Implementation, p.IsEphemeralUpdate); err != nil {
		return nil, err
	}

	var version *models.CustomServerVersion
	err := s.locks.UsingLock(ctx, p.Server.ID, func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			version, err = s.createVersionLocked(ctx, p)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordCreated(p.Server, version)
	return version, nil
}

// checkPreconditions runs before any lock or write: schema validity, then the
// active guard, then the type match.
func (s *VersionService) checkPreconditions(server *models.CustomServer, impl models.Implementation, isEphemeralUpdate bool) error {
	if doc, ok := impl.ConfigSchema(); ok {
		if err := s.validator.Validate(doc); err != nil {
			return err
		}
	}

	if server.Status != models.ServerStatusActive && !isEphemeralUpdate {
		return svcerr.BadRequest("server_inactive", "Cannot update inactive server version")
	}

	if server.Type != impl.Type {
		return svcerr.ContractViolation("server type mismatch: expected %s, got %s", server.Type, impl.Type)
	}
	return nil
}

// createVersionLocked allocates and stores a version. The caller holds the
// server lock and an open transaction.
func (s *VersionService) createVersionLocked(ctx context.Context, p CreateVersionParams) (*models.CustomServerVersion, error) {
	env, err := s.environments.ensureLocked(ctx, p.Server, p.Instance, p.Organization)
	if err != nil {
		return nil, err
	}

	staged, err := s.stageImplementation(ctx, p.Server, env, p.Implementation)
	if err != nil {
		return nil, err
	}

	index, err := s.db.IncrementMaxVersionIndex(ctx, env.OID)
	if err != nil {
		return nil, err
	}
	env.MaxVersionIndex = index

	hash, err := ids.ShortID(ctx, ids.ShortIDLength, s.db.VersionIdentifierAvailable)
	if err != nil {
		return nil, err
	}

	configSchema, err := s.schemas.EnsureSchema(ctx, p.Server.ServerOID, env.ServerVariantOID, staged.schema)
	if err != nil {
		return nil, err
	}

	var remoteOID *int64
	if staged.remote != nil {
		rsi := &models.RemoteServerInstance{
			ID:             ids.New(ids.PrefixRemoteServerInstance),
			InstanceOID:    p.Instance.OID,
			RemoteURL:      staged.remote.RemoteURL,
			RemoteProtocol: staged.remote.Protocol,
		}
		if err := s.db.CreateRemoteServerInstance(ctx, rsi); err != nil {
			return nil, err
		}
		remoteOID = &rsi.OID
	}

	sv := &models.ServerVersion{
		ID:               ids.New(ids.PrefixServerVersion),
		Identifier:       hash,
		ServerVariantOID: env.ServerVariantOID,
		ServerOID:        p.Server.ServerOID,
		SourceType:       p.Implementation.Type,
		SchemaOID:        configSchema.OID,
		GetLaunchParams:  staged.launchParams,
	}
	if staged.remote != nil {
		remoteURL := staged.remote.RemoteURL
		sv.RemoteURL = &remoteURL
		sv.RemoteProtocol = staged.remote.Protocol
	}
	if d := p.Implementation.Discovery; d != nil {
		sv.Discovery = *d
		discoveredAt := time.Now().UTC()
		sv.LastDiscoveredAt = &discoveredAt
	}
	if err := s.db.CreateServerVersion(ctx, sv); err != nil {
		return nil, err
	}

	version := &models.CustomServerVersion{
		ID:                      ids.New(ids.PrefixCustomServerVersion),
		VersionHash:             hash,
		VersionIndex:            index,
		CustomServerOID:         p.Server.OID,
		EnvironmentOID:          env.OID,
		ServerVersionOID:        sv.OID,
		InstanceOID:             p.Instance.OID,
		RemoteServerInstanceOID: remoteOID,
	}
	if err := s.db.CreateCustomServerVersion(ctx, version); err != nil {
		return nil, err
	}
	version.ServerVersion = sv

	if err := s.promoteIfFirst(ctx, p, env, version); err != nil {
		return nil, err
	}

	return s.db.GetCustomServerVersion(ctx, db.VersionFilter{CustomServerOID: p.Server.OID, OID: &version.OID})
}

type stagedImplementation struct {
	launchParams string
	schema       json.RawMessage
	remote       *models.RemoteImplementation
}

// stageImplementation resolves the effective launch params, schema and
// type-specific fields of an implementation.
func (s *VersionService) stageImplementation(ctx context.Context, server *models.CustomServer, env *models.Environment, impl models.Implementation) (*stagedImplementation, error) {
	switch impl.Type {
	case models.ServerTypeRemote:
		remote, err := normalizeRemote(impl.Remote)
		if err != nil {
			return nil, err
		}
		if err := s.checkRemoteHostname(ctx, server, env, remote.RemoteURL); err != nil {
			return nil, err
		}

		staged := &stagedImplementation{
			launchParams: DefaultRemoteLaunchParams,
			schema:       DefaultRemoteConfigSchema,
			remote:       remote,
		}
		if impl.Config != nil && impl.Config.GetLaunchParams != nil && strings.TrimSpace(*impl.Config.GetLaunchParams) != "" {
			staged.launchParams = *impl.Config.GetLaunchParams
		}
		if doc, ok := impl.ConfigSchema(); ok {
			staged.schema = doc
		}
		return staged, nil

	default:
		return nil, svcerr.ContractViolation("unsupported implementation type %q", impl.Type)
	}
}

func normalizeRemote(remote *models.RemoteImplementation) (*models.RemoteImplementation, error) {
	if remote == nil || strings.TrimSpace(remote.RemoteURL) == "" {
		return nil, svcerr.BadRequest("invalid_remote_url", "A remote implementation requires a remote URL")
	}

	u, err := url.Parse(strings.TrimSpace(remote.RemoteURL))
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, svcerr.BadRequest("invalid_remote_url", "Remote URL must be an absolute http or https URL")
	}

	out := &models.RemoteImplementation{RemoteURL: u.String(), Protocol: remote.Protocol}
	switch out.Protocol {
	case "":
		out.Protocol = models.RemoteProtocolSSE
	case models.RemoteProtocolSSE, models.RemoteProtocolStreamableHTTP:
	default:
		return nil, svcerr.BadRequest("invalid_remote_protocol", "Remote protocol must be sse or streamable_http")
	}
	return out, nil
}

// checkRemoteHostname rejects moving a public server's current remote URL to
// another host.
func (s *VersionService) checkRemoteHostname(ctx context.Context, server *models.CustomServer, env *models.Environment, remoteURL string) error {
	if !server.IsPublic || env.CurrentVersionOID == nil {
		return nil
	}

	current, err := s.db.GetCustomServerVersion(ctx, db.VersionFilter{CustomServerOID: server.OID, OID: env.CurrentVersionOID})
	if err != nil {
		return err
	}

	currentURL := ""
	switch {
	case current.RemoteServerInstance != nil:
		currentURL = current.RemoteServerInstance.RemoteURL
	case current.ServerVersion != nil && current.ServerVersion.RemoteURL != nil:
		currentURL = *current.ServerVersion.RemoteURL
	}
	if currentURL == "" || currentURL == remoteURL {
		return nil
	}

	was, err := url.Parse(currentURL)
	if err != nil {
		return nil
	}
	now, err := url.Parse(remoteURL)
	if err != nil {
		return nil
	}
	if !strings.EqualFold(was.Hostname(), now.Hostname()) {
		return svcerr.BadRequest("remote_hostname_changed", "Cannot update remote url hostname for published server")
	}
	return nil
}

// promoteIfFirst applies the promotion policy to a freshly created version.
// A promoted first version bypasses the active guard so that a server can be
// installed before it is flagged active.
func (s *VersionService) promoteIfFirst(ctx context.Context, p CreateVersionParams, env *models.Environment, version *models.CustomServerVersion) error {
	if s.promotionPolicy == nil || !s.promotionPolicy(env) {
		return nil
	}

	if err := s.setCurrentVersionWithoutLock(ctx, p.Server, p.Instance, p.Organization, version); err != nil {
		return err
	}

	s.logger.Info("Promoted first version",
		zap.String("server_id", p.Server.ID),
		zap.String("instance_id", p.Instance.ID),
		zap.Int64("version_index", version.VersionIndex),
		zap.String("version_hash", version.VersionHash),
	)
	return nil
}

// setCurrentVersionWithoutLock points the environment at version and copies
// the runtime version's serving fields onto the variant. The caller holds the
// server lock and has checked the active guard.
func (s *VersionService) setCurrentVersionWithoutLock(ctx context.Context, server *models.CustomServer, instance *models.Instance, org *models.Organization, version *models.CustomServerVersion) error {
	env, err := s.environments.ensureLocked(ctx, server, instance, org)
	if err != nil {
		return err
	}
	if version.EnvironmentOID != env.OID {
		return svcerr.BadRequest("version_environment_mismatch", "Version does not belong to this environment")
	}

	sv := version.ServerVersion
	if sv == nil {
		return svcerr.ContractViolation("version %s has no runtime version", version.ID)
	}

	if err := s.db.SetEnvironmentCurrentVersion(ctx, env.OID, version.OID); err != nil {
		return err
	}
	if err := s.db.ApplyVersionToVariant(ctx, env.ServerVariantOID, sv); err != nil {
		return err
	}

	metrics.VersionPromotionsTotal.Inc()
	return nil
}

// SetCurrentVersion promotes a version of the instance's environment under
// the server lock.
func (s *VersionService) SetCurrentVersion(ctx context.Context, p SetCurrentVersionParams) (*models.CustomServerVersion, error) {
	if p.Server.Status != models.ServerStatusActive && !p.IsEphemeralUpdate {
		return nil, svcerr.BadRequest("server_inactive", "Cannot update inactive server version")
	}

	var promoted *models.CustomServerVersion
	err := s.locks.UsingLock(ctx, p.Server.ID, func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context) error {
			env, err := s.environments.ensureLocked(ctx, p.Server, p.Instance, p.Organization)
			if err != nil {
				return err
			}

			version, err := s.findVersion(ctx, p.Server, env, p.VersionID)
			if err != nil {
				return err
			}

			if err := s.setCurrentVersionWithoutLock(ctx, p.Server, p.Instance, p.Organization, version); err != nil {
				return err
			}

			version.IsCurrent = true
			promoted = version
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Set current version",
		zap.String("server_id", p.Server.ID),
		zap.String("instance_id", p.Instance.ID),
		zap.Int64("version_index", promoted.VersionIndex),
		zap.String("version_hash", promoted.VersionHash),
	)
	return promoted, nil
}

// ListVersions pages through a server's versions, newest first. When
// instance is set the listing is scoped to that instance's environment.
func (s *VersionService) ListVersions(ctx context.Context, server *models.CustomServer, instance *models.Instance, page models.Page) (*models.VersionList, error) {
	page = normalizePage(page)

	filter := db.VersionFilter{CustomServerOID: server.OID}
	if instance != nil {
		env, err := s.environments.EnsureEnvironment(ctx, server, instance, nil)
		if err != nil {
			return nil, err
		}
		filter.EnvironmentOID = &env.OID
	}

	versions, total, err := s.db.ListCustomServerVersions(ctx, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}

	return &models.VersionList{
		Versions: versions,
		Metadata: models.ResponseMetadata{
			Count:  len(versions),
			Total:  total,
			Limit:  page.Limit,
			Offset: page.Offset,
		},
	}, nil
}

func normalizePage(page models.Page) models.Page {
	if page.Limit <= 0 {
		page.Limit = DefaultPageLimit
	}
	if page.Limit > MaxPageLimit {
		page.Limit = MaxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

// GetVersionByID looks a version up by id, version hash, or the "current"
// alias. The alias needs an instance to pick the environment.
func (s *VersionService) GetVersionByID(ctx context.Context, server *models.CustomServer, instance *models.Instance, id string) (*models.CustomServerVersion, error) {
	var env *models.Environment
	if instance != nil {
		var err error
		env, err = s.environments.EnsureEnvironment(ctx, server, instance, nil)
		if err != nil {
			return nil, err
		}
	} else if id == CurrentVersionAlias {
		return nil, svcerr.BadRequest("instance_required", "The current version alias requires an instance")
	}

	if id != CurrentVersionAlias {
		if v, ok := s.cachedVersion(ctx, server, env, id); ok {
			return v, nil
		}
	}

	return s.findVersion(ctx, server, env, id)
}

// findVersion resolves id within env (or across the server when env is nil).
func (s *VersionService) findVersion(ctx context.Context, server *models.CustomServer, env *models.Environment, id string) (*models.CustomServerVersion, error) {
	filter := db.VersionFilter{CustomServerOID: server.OID}
	if env != nil {
		filter.EnvironmentOID = &env.OID
	}

	if id == CurrentVersionAlias {
		if env == nil || env.CurrentVersionOID == nil {
			return nil, svcerr.NotFound("custom_server_version", id)
		}
		filter.OID = env.CurrentVersionOID
	} else {
		filter.IDOrHash = id
	}

	v, err := s.db.GetCustomServerVersion(ctx, filter)
	if errors.Is(err, db.ErrNotFound) {
		return nil, svcerr.NotFound("custom_server_version", id)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetVersion(server.OID, v)
	}
	return v, nil
}

// cachedVersion serves an immutable version from the cache, recomputing
// IsCurrent from the owning environment.
func (s *VersionService) cachedVersion(ctx context.Context, server *models.CustomServer, env *models.Environment, id string) (*models.CustomServerVersion, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.GetVersion(server.OID, id)
	if !ok {
		return nil, false
	}
	if env != nil && v.EnvironmentOID != env.OID {
		return nil, false
	}

	owner := env
	if owner == nil {
		var err error
		owner, err = s.db.GetEnvironmentByOID(ctx, v.EnvironmentOID)
		if err != nil {
			return nil, false
		}
	}
	v.IsCurrent = owner.CurrentVersionOID != nil && *owner.CurrentVersionOID == v.OID
	return v, true
}

func (s *VersionService) recordCreated(server *models.CustomServer, version *models.CustomServerVersion) {
	sourceType := string(server.Type)
	if version.ServerVersion != nil {
		sourceType = string(version.ServerVersion.SourceType)
	}
	metrics.RecordVersionCreated(sourceType)

	s.logger.Info("Created version",
		zap.String("server_id", server.ID),
		zap.String("version_id", version.ID),
		zap.Int64("version_index", version.VersionIndex),
		zap.String("version_hash", version.VersionHash),
		zap.Bool("is_current", version.IsCurrent),
	)
}
