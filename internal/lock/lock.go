// Package lock provides named mutual exclusion: an in-process keyed mutex for
// single-node deployments and a Postgres advisory lock for multi-instance ones.
package lock

import (
	"context"
	"time"
)

// Locker runs fn while holding the lock called name. The lock is released
// when fn returns or panics.
type Locker interface {
	UsingLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Namespace scopes lock names under a fixed prefix, e.g. "csrv/vers:<serverID>".
type Namespace struct {
	locker Locker
	prefix string
}

// NewNamespace creates a namespaced view of locker.
func NewNamespace(locker Locker, prefix string) *Namespace {
	return &Namespace{locker: locker, prefix: prefix}
}

// Name returns the full lock name for key.
func (n *Namespace) Name(key string) string {
	return n.prefix + ":" + key
}

// UsingLock runs fn under the lock for key.
func (n *Namespace) UsingLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return n.locker.UsingLock(ctx, n.Name(key), fn)
}

func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
