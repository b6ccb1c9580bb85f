package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/svcerr"
	"github.com/metorial/custom-server/internal/utils"
	"go.uber.org/zap"
)

const (
	postgresBackend = "postgres"

	// SQLSTATE lock_not_available, raised when lock_timeout expires.
	lockNotAvailable pq.ErrorCode = "55P03"
)

// PostgresLocker holds a session-level advisory lock on a dedicated
// connection for the duration of fn, so it excludes other processes too.
// Its connections must not come from the pool fn uses for its own queries:
// waiters parked on the lock would otherwise starve the holder.
type PostgresLocker struct {
	db      *sql.DB
	timeout time.Duration
	owned   bool
}

// NewPostgresLocker creates an advisory-lock backed Locker on db. db should
// be reserved for locking.
func NewPostgresLocker(db *sql.DB, timeout time.Duration) *PostgresLocker {
	return &PostgresLocker{db: db, timeout: timeout}
}

// OpenPostgresLocker opens a pool of at most poolSize connections used only
// for advisory locks. poolSize also caps how many callers of this process
// can wait on the server at once; the rest wait for a connection.
func OpenPostgresLocker(ctx context.Context, dsn string, poolSize int, timeout time.Duration) (*PostgresLocker, error) {
	if poolSize < 1 {
		poolSize = 1
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping lock pool: %w", err)
	}

	utils.Logger.Info("Opened advisory lock pool", zap.Int("pool_size", poolSize))
	return &PostgresLocker{db: sqlDB, timeout: timeout, owned: true}, nil
}

// Close closes the lock pool if the locker opened it.
func (p *PostgresLocker) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}

// UsingLock implements Locker.
func (p *PostgresLocker) UsingLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	waitCtx, cancel := waitContext(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.db.Conn(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil {
			metrics.RecordLockTimeout(postgresBackend)
			return svcerr.LockTimeout(name, waitCtx.Err())
		}
		return fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	defer conn.Close()

	if err := setLockTimeout(waitCtx, conn); err != nil {
		if waitCtx.Err() != nil {
			metrics.RecordLockTimeout(postgresBackend)
			return svcerr.LockTimeout(name, waitCtx.Err())
		}
		return err
	}

	if _, err := conn.ExecContext(waitCtx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, name); err != nil {
		var pqErr *pq.Error
		if waitCtx.Err() != nil || (errors.As(err, &pqErr) && pqErr.Code == lockNotAvailable) {
			metrics.RecordLockTimeout(postgresBackend)
			return svcerr.LockTimeout(name, err)
		}
		return fmt.Errorf("failed to acquire advisory lock %s: %w", name, err)
	}
	metrics.RecordLockWait(postgresBackend, time.Since(start))

	defer func() {
		// Unlock even if the caller's context is already cancelled.
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, name); err != nil {
			utils.Logger.Warn("Failed to release advisory lock, discarding connection", zap.String("lock", name), zap.Error(err))
			// Closing the session releases any advisory lock it still holds.
			_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		}
	}()

	return fn(ctx)
}

// setLockTimeout bounds the server-side wait by what is left of ctx, so the
// lock request fails on the server even if the cancel request is lost.
func setLockTimeout(ctx context.Context, conn *sql.Conn) error {
	ms := int64(0)
	if deadline, ok := ctx.Deadline(); ok {
		ms = time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
	}
	// SET takes no bind parameters; ms is an integer.
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = %d", ms)); err != nil {
		return fmt.Errorf("failed to set lock_timeout: %w", err)
	}
	return nil
}
