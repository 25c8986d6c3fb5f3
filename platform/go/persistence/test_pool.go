package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	sqlassets "github.com/hostwerk/cloudpod/database"
)

// mustTestPool returns a connection pool against a database with the
// orchestrator schema applied. It prefers TEST_DATABASE_URL (CI provides one)
// and otherwise starts a throwaway Postgres via Testcontainers, skipping the
// test when no container runtime is available.
func mustTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok {
		// tcpostgres.Run panics (rather than returning an error) when no
		// Docker host can be detected at all; this guard converts that into
		// the skip documented above.
		testcontainers.SkipIfProviderIsNotHealthy(t)
		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("cloudpod_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).WithStartupTimeout(2*time.Minute)),
		)
		if err != nil {
			t.Skipf("no TEST_DATABASE_URL and no container runtime: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		url, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("create test pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, stmt := range sqlassets.All() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("apply orchestrator schema: %v", err)
		}
	}

	return pool
}
