package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope wraps a connection with app.current_tenant_id set so the
// RLS policies on every tenant-owned table apply. Repositories pull
// the scope from context; nothing below the middleware touches the
// pool directly.
type TenantScope struct {
	Conn *pgxpool.Conn
}

// Close resets the tenant setting and releases the connection. It MUST
// run before the connection returns to the pool, or the tenant context
// leaks into the next request.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_tenant_id")
	s.Conn.Release()
}

// WithTenant acquires a connection scoped to the given tenant. The
// returned scope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, tenantID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, false)", tenantID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn}, nil
}

type contextKey string

// tenantScopeKey is the context key for the tenant-scoped connection.
const tenantScopeKey contextKey = "tenantScope"

// GetTenantScope retrieves the tenant-scoped connection from context.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(tenantScopeKey).(*TenantScope)
	return scope, ok
}

// SetTenantScope stores the tenant-scoped connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, tenantScopeKey, scope)
}
