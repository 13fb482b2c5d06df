package infra

import (
	"context"
	"errors"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SharedDSNEnv names a database to reuse instead of starting a container.
const SharedDSNEnv = "STRESS_TEST_PG_DSN"

// Postgres is a migrated database owned by one stress run.
type Postgres struct {
	Pool *pgxpool.Pool
	DSN  string

	container *postgres.PostgresContainer
	teardown  func(context.Context) error
}

// SharedDSN returns dsn, or the database named by STRESS_TEST_PG_DSN when
// dsn is empty.
func SharedDSN(dsn string) string {
	if dsn != "" {
		return dsn
	}
	return os.Getenv(SharedDSNEnv)
}

// Open returns a database with the documents schema applied. A shared dsn
// gets a throwaway schema so concurrent runs do not see each other's rows;
// an empty dsn starts a postgres:16 container.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn != "" {
		pool, teardown, err := ApplyMigrations(ctx, dsn, true)
		if err != nil {
			return nil, err
		}
		return &Postgres{Pool: pool, DSN: dsn, teardown: teardown}, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bellhop"),
		postgres.WithUsername("bellhop"),
		postgres.WithPassword("bellhop"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, errors.Join(err, pgC.Terminate(ctx))
	}
	pool, teardown, err := ApplyMigrations(ctx, dsn, false)
	if err != nil {
		return nil, errors.Join(err, pgC.Terminate(ctx))
	}
	return &Postgres{Pool: pool, DSN: dsn, container: pgC, teardown: teardown}, nil
}

// Close drops the run's schema or container and closes the pool.
func (p *Postgres) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.Pool.Close()
	err := p.teardown(ctx)
	if p.container != nil {
		err = errors.Join(err, p.container.Terminate(ctx))
	}
	return err
}
