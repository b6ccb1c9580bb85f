package versioning

import (
	"context"
	"errors"

	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/svcerr"
	"go.uber.org/zap"
)

// ProfileResolver resolves the billing profile of an organization and the
// variant provider bound to it.
type ProfileResolver interface {
	EnsureProfile(ctx context.Context, org *models.Organization) (*models.Profile, error)
	EnsureVariantProvider(ctx context.Context, profile *models.Profile) (*models.VariantProvider, error)
}

// EnvironmentResolver materializes the environment and variant of a custom
// server in an instance.
type EnvironmentResolver struct {
	db       *db.DB
	profiles ProfileResolver
	locks    *lock.Namespace
	logger   *zap.Logger
}

// NewEnvironmentResolver creates an environment resolver
func NewEnvironmentResolver(store *db.DB, profiles ProfileResolver, locks *lock.Namespace, logger *zap.Logger) *EnvironmentResolver {
	return &EnvironmentResolver{db: store, profiles: profiles, locks: locks, logger: logger}
}

// EnsureEnvironment returns the environment of server in instance, creating
// it and its variant on first use. org may be nil, in which case it is loaded
// from the instance.
func (r *EnvironmentResolver) EnsureEnvironment(ctx context.Context, server *models.CustomServer, instance *models.Instance, org *models.Organization) (*models.Environment, error) {
	env, err := r.db.FindEnvironment(ctx, instance.OID, server.OID)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	err = r.locks.UsingLock(ctx, server.ID, func(ctx context.Context) error {
		return r.db.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			env, err = r.ensureLocked(ctx, server, instance, org)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ensureLocked is the check-create section of EnsureEnvironment. The caller
// holds the server lock and an open transaction.
func (r *EnvironmentResolver) ensureLocked(ctx context.Context, server *models.CustomServer, instance *models.Instance, org *models.Organization) (*models.Environment, error) {
	env, err := r.db.FindEnvironment(ctx, instance.OID, server.OID)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if server.Type != models.ServerTypeRemote {
		return nil, svcerr.ContractViolation("unsupported server type %q", server.Type)
	}

	if org == nil || org.OID != instance.OrganizationOID {
		org, err = r.db.GetOrganizationByOID(ctx, instance.OrganizationOID)
		if err != nil {
			return nil, err
		}
	}

	profile, err := r.profiles.EnsureProfile(ctx, org)
	if err != nil {
		return nil, err
	}
	provider, err := r.profiles.EnsureVariantProvider(ctx, profile)
	if err != nil {
		return nil, err
	}

	identifier, err := ids.ShortID(ctx, ids.ShortIDLength, r.db.VariantIdentifierAvailable)
	if err != nil {
		return nil, err
	}

	variant := &models.Variant{
		ID:         ids.New(ids.PrefixServerVariant),
		Identifier: identifier,
		// Several production instances may each have a default variant.
		IsDefault:             instance.Type == models.InstanceTypeProduction,
		Status:                models.ServerStatusActive,
		ProviderOID:           provider.OID,
		ServerOID:             server.ServerOID,
		DefaultForInstanceOID: instance.OID,
		SourceType:            server.Type,
	}
	if err := r.db.CreateVariant(ctx, variant); err != nil {
		return nil, err
	}

	candidate := &models.Environment{
		ID:               ids.New(ids.PrefixEnvironment),
		Name:             instance.Name,
		InstanceOID:      instance.OID,
		OrganizationOID:  org.OID,
		CustomServerOID:  server.OID,
		ServerVariantOID: variant.OID,
	}
	env, err = r.db.UpsertEnvironment(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if env.ID != candidate.ID {
		// Another writer created the environment first; drop our variant.
		if err := r.db.DeleteVariant(ctx, variant.OID); err != nil {
			return nil, err
		}
		return env, nil
	}

	metrics.EnvironmentsCreatedTotal.Inc()
	r.logger.Info("Created environment",
		zap.String("server_id", server.ID),
		zap.String("instance_id", instance.ID),
		zap.String("environment_id", env.ID),
		zap.String("variant_identifier", identifier),
	)
	return env, nil
}
