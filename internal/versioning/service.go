// Package versioning creates, promotes and imports immutable custom server
// versions, scoped per instance environment and serialized per server.
package versioning

import (
	"github.com/metorial/custom-server/internal/cache"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/schema"
	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

// LockNamespace is the lock namespace shared by every version-mutating
// operation on a server.
const LockNamespace = "csrv/vers"

// Deps are the collaborators the services are built from
type Deps struct {
	Store     *db.DB
	Validator *schema.Validator
	Locker    lock.Locker
	Cache     *cache.Cache
	Logger    *zap.Logger

	// Profiles resolves billing profiles and variant providers; defaults to Store.
	Profiles ProfileResolver
}

// Services bundles the versioning services wired to the same store and lock
type Services struct {
	Schemas      *SchemaStore
	Environments *EnvironmentResolver
	Versions     *VersionService
	Importer     *Importer
	Servers      *ServerService
}

// New wires the versioning services together
func New(deps Deps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = utils.Logger
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = deps.Store
	}
	locks := lock.NewNamespace(deps.Locker, LockNamespace)

	schemas := NewSchemaStore(deps.Store, logger)
	environments := NewEnvironmentResolver(deps.Store, profiles, locks, logger)
	versions := NewVersionService(deps.Store, deps.Validator, schemas, environments, locks, deps.Cache, logger)

	return &Services{
		Schemas:      schemas,
		Environments: environments,
		Versions:     versions,
		Importer:     NewImporter(deps.Store, versions, logger),
		Servers:      NewServerService(deps.Store, versions, logger),
	}
}
