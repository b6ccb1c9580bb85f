package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

// Dialect names a supported SQL backend
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// DB holds the database connection pool and the statement builder for its dialect
type DB struct {
	*sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// Open connects to the database for the given driver and applies migrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	switch dialect {
	case DialectPostgres:
		return NewPostgresDB(ctx, dsn)
	case DialectSQLite:
		return NewSQLiteDB(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := newDB(sqlDB, DialectPostgres)
	if err := db.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	utils.Logger.Info("Connected to PostgreSQL database")
	return db, nil
}

func newDB(sqlDB *sql.DB, dialect Dialect) *DB {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &DB{
		DB:      sqlDB,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// Dialect returns the backend this connection talks to
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// RecordPoolStats publishes connection pool gauges
func (db *DB) RecordPoolStats() {
	metrics.DatabaseConnectionsOpen.Set(float64(db.Stats().OpenConnections))
}

// observe records the duration and outcome of a store operation.
func observe(operation string, start time.Time, errp *error) {
	status := "success"
	if errp != nil && *errp != nil && !errors.Is(*errp, ErrNotFound) {
		status = "error"
		utils.Logger.Debug("Database operation failed", zap.String("operation", operation), zap.Error(*errp))
	}
	metrics.RecordDatabaseQuery(operation, status, time.Since(start))
}
