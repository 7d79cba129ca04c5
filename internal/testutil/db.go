package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/moulars/moulars/internal/db/postgresdb"
)

// SetupPostgres starts a disposable PostgreSQL testcontainer, applies
// migrations through postgresdb.New, and returns a ready Backend. The
// container is terminated and the pool closed on test cleanup.
func SetupPostgres(tb testing.TB) *postgresdb.Backend {
	tb.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		tb.Fatalf("starting postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			tb.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("getting connection string: %v", err)
	}

	backend, err := postgresdb.New(ctx, dsn)
	if err != nil {
		tb.Fatalf("connecting test backend: %v", err)
	}
	tb.Cleanup(func() { backend.Close() })

	return backend
}
