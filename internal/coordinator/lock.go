// Package coordinator converges feature schema objects under advisory locks.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Locker provides per-(feature, environment) mutual exclusion. Acquisition
// is non-blocking; callers that lose the race return immediately.
type Locker interface {
	// TryLock attempts the lock. On success it returns a release function
	// that must be called on every exit path. acquired=false with a nil
	// error means another holder owns the lock.
	TryLock(ctx context.Context, feature, environment string) (release func(), acquired bool, err error)
}

// LockKey derives the deterministic advisory-lock key for a
// (feature, environment) pair. FNV-64a over the NUL-joined pair, reduced to
// the signed 64-bit space Postgres advisory locks use.
func LockKey(feature, environment string) int64 {
	h := fnv.New64a()
	h.Write([]byte(feature))
	h.Write([]byte{0})
	h.Write([]byte(environment))
	return int64(h.Sum64())
}

// AdvisoryLocker implements Locker with Postgres session advisory locks.
// Each acquisition pins a dedicated connection for the lock's lifetime;
// advisory locks are session-scoped, so the lock is released server-side
// even if the holding process dies.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates a locker backed by the given pool.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock acquires via pg_try_advisory_lock on a dedicated connection. The
// release function unlocks and returns the connection; it is safe to call
// more than once.
func (l *AdvisoryLocker) TryLock(ctx context.Context, feature, environment string) (func(), bool, error) {
	key := LockKey(feature, environment)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// The unlock must run on the same session before the
			// connection returns to the pool, or the lock leaks to
			// whichever caller gets the session next.
			if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
				log.Error().Err(err).
					Str("feature", feature).
					Str("environment", environment).
					Int64("lock_key", key).
					Msg("Advisory unlock failed")
			}
			conn.Close()
		})
	}
	return release, true, nil
}
