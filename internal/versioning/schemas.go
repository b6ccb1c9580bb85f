package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/ids"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/schema"
	"go.uber.org/zap"
)

// SchemaStore deduplicates config schemas by the SHA-256 of their canonical form
type SchemaStore struct {
	db     *db.DB
	logger *zap.Logger
}

// NewSchemaStore creates a schema store
func NewSchemaStore(store *db.DB, logger *zap.Logger) *SchemaStore {
	return &SchemaStore{db: store, logger: logger}
}

// EnsureSchema returns the schema record for doc owned by (server, variant),
// creating it when no record with the same fingerprint exists yet.
func (s *SchemaStore) EnsureSchema(ctx context.Context, serverOID, variantOID int64, doc json.RawMessage) (*models.ConfigSchema, error) {
	canonical, err := schema.Canonicalize(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize schema: %w", err)
	}
	fingerprint, err := schema.Fingerprint(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint schema: %w", err)
	}

	existing, err := s.db.FindConfigSchema(ctx, fingerprint, serverOID, variantOID)
	if err == nil {
		metrics.RecordSchema(false)
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	record := &models.ConfigSchema{
		ID:               ids.New(ids.PrefixConfigSchema),
		Fingerprint:      fingerprint,
		Schema:           json.RawMessage(canonical),
		ServerOID:        serverOID,
		ServerVariantOID: variantOID,
	}
	stored, err := s.db.InsertConfigSchema(ctx, record)
	if err != nil {
		return nil, err
	}

	created := stored.ID == record.ID
	metrics.RecordSchema(created)
	if created {
		s.logger.Debug("Stored config schema", zap.String("fingerprint", fingerprint), zap.String("schema_id", stored.ID))
	}
	return stored, nil
}
