// Package testhelpers provides shared infrastructure for integration
// tests: a PostgreSQL testcontainer with migrations applied and seed
// helpers for tenant-scoped fixtures.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/database"
)

// IntegrationEnvVar gates Docker-backed tests. Unset, integration
// tests skip so a plain `go test ./...` stays hermetic.
const IntegrationEnvVar = "ENGINE_INTEGRATION_TESTS"

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container with migrations
// applied. The container is created once and reused across all tests
// in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if os.Getenv(IntegrationEnvVar) == "" {
		t.Skipf("Skipping integration test; set %s=1 to run (requires Docker)", IntegrationEnvVar)
	}
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "adpilot_test",
			"POSTGRES_USER":     "adpilot",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://adpilot:test_password@%s:%s/adpilot_test?sslmode=disable",
		host, port.Port())

	if err := applyMigrations(connStr); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{Container: container, Pool: pool, ConnStr: connStr}, nil
}

func applyMigrations(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	return database.RunMigrations(db, migrationsDir(), zap.NewNop())
}

// migrationsDir resolves migrations/ relative to this source file so
// tests work from any package directory.
func migrationsDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}

// SeedTenant creates a tenant and a user, returning both IDs.
func SeedTenant(t *testing.T, pool *pgxpool.Pool) (tenantID, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	tenantID = uuid.New()
	userID = uuid.New()

	_, err := pool.Exec(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2)`,
		tenantID, "test-tenant-"+tenantID.String()[:8])
	if err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, role) VALUES ($1, $2, $3, 'admin')`,
		userID, tenantID, userID.String()[:8]+"@example.com")
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	return tenantID, userID
}

// WithTenantScope acquires a tenant-scoped connection, registers its
// cleanup, and returns a context carrying the scope.
func WithTenantScope(t *testing.T, pool *pgxpool.Pool, tenantID uuid.UUID) context.Context {
	t.Helper()
	ctx := context.Background()

	db := &database.DB{Pool: pool}
	scope, err := db.WithTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("failed to acquire tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(ctx, scope)
}
