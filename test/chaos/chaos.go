// Package chaos kills Postgres backends underneath a running store.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Target selects which backends a kill hits.
type Target int

const (
	// Listener is the store's change-feed connection, parked in LISTEN.
	Listener Target = iota
	// AnyBackend is one random connection of the current database.
	AnyBackend
)

const (
	listenerPredicate = `datname = current_database() AND pid <> pg_backend_pid() AND query ILIKE 'LISTEN %'`

	killListeners = `SELECT count(*) FILTER (WHERE pg_terminate_backend(pid)) FROM pg_stat_activity WHERE ` + listenerPredicate
	killAny       = `SELECT count(*) FILTER (WHERE pg_terminate_backend(pid)) FROM (
		SELECT pid FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
		ORDER BY random() LIMIT 1) victim`
	countListeners = `SELECT count(*) FROM pg_stat_activity WHERE ` + listenerPredicate
)

// Terminate kills the backends chosen by target and reports how many died.
func Terminate(ctx context.Context, pool *pgxpool.Pool, target Target) (int, error) {
	query := killListeners
	if target == AnyBackend {
		query = killAny
	}
	var n int
	err := pool.QueryRow(ctx, query).Scan(&n)
	return n, err
}

// Listeners counts connections currently waiting on LISTEN.
func Listeners(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, countListeners).Scan(&n)
	return n, err
}

// Run kills the change listener every interval until stop or ctx ends. One
// tick in four hits a random backend instead. It returns the number of
// listener kills.
func Run(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, stop <-chan struct{}) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var killed int
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(4) == 0 {
				_, _ = Terminate(ctx, pool, AnyBackend)
				continue
			}
			if n, err := Terminate(ctx, pool, Listener); err == nil {
				killed += n
			}
		}
	}
}
