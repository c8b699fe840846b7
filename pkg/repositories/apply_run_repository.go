package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/database"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// ApplyRunRepository is the durable ledger of apply attempts. The
// unique index on idempotency_key is the store-enforced at-most-once
// primitive: Create surfaces apperrors.ErrConflict when the key
// already exists, and callers fall back to FindByIdempotencyKey.
type ApplyRunRepository interface {
	// Create inserts a new run in pending state. Returns
	// apperrors.ErrConflict if the idempotency key is taken.
	Create(ctx context.Context, run *models.ApplyRun) error

	// FindByIdempotencyKey returns the run for a key, or
	// apperrors.ErrNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*models.ApplyRun, error)

	// GetByID returns one run within the tenant, or apperrors.ErrNotFound.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ApplyRun, error)

	// List returns runs for the tenant, newest first.
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.ApplyRun, error)

	// MarkSuccess moves a pending run to success with the committed diff.
	MarkSuccess(ctx context.Context, id uuid.UUID, changes *models.AppliedChange) error

	// MarkFailed moves a pending run to failed with the error message.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

type applyRunRepository struct{}

// NewApplyRunRepository creates an ApplyRunRepository.
func NewApplyRunRepository() ApplyRunRepository {
	return &applyRunRepository{}
}

var _ ApplyRunRepository = (*applyRunRepository)(nil)

func (r *applyRunRepository) Create(ctx context.Context, run *models.ApplyRun) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.ApplyRunStatusPending
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	var dryRunJSON []byte
	if run.DryRunResult != nil {
		var err error
		dryRunJSON, err = json.Marshal(run.DryRunResult)
		if err != nil {
			return fmt.Errorf("marshal dry run result: %w", err)
		}
	}

	query := `
		INSERT INTO apply_runs (
			id, tenant_id, recommendation_id, idempotency_key, status,
			dry_run_result, applied_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := scope.Conn.Exec(ctx, query,
		run.ID,
		run.TenantID,
		run.RecommendationID,
		run.IdempotencyKey,
		run.Status,
		dryRunJSON,
		run.AppliedBy,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create apply run: %w", err)
	}

	return nil
}

const applyRunColumns = `
	id, tenant_id, recommendation_id, idempotency_key, status,
	dry_run_result, applied_changes, error, applied_by, created_at, updated_at`

func (r *applyRunRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.ApplyRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + applyRunColumns + ` FROM apply_runs WHERE idempotency_key = $1`
	return scanApplyRun(scope.Conn.QueryRow(ctx, query, key))
}

func (r *applyRunRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ApplyRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + applyRunColumns + ` FROM apply_runs WHERE tenant_id = $1 AND id = $2`
	return scanApplyRun(scope.Conn.QueryRow(ctx, query, tenantID, id))
}

func (r *applyRunRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.ApplyRun, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + applyRunColumns + `
		FROM apply_runs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := scope.Conn.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query apply runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ApplyRun
	for rows.Next() {
		run, err := scanApplyRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apply runs: %w", err)
	}

	return runs, nil
}

func (r *applyRunRepository) MarkSuccess(ctx context.Context, id uuid.UUID, changes *models.AppliedChange) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal applied changes: %w", err)
	}

	// Terminal states are immutable; only a pending run can move.
	tag, err := scope.Conn.Exec(ctx, `
		UPDATE apply_runs
		SET status = $1, applied_changes = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		models.ApplyRunStatusSuccess, changesJSON, id, models.ApplyRunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark apply run success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPreconditionFailed
	}
	return nil
}

func (r *applyRunRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE apply_runs
		SET status = $1, error = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		models.ApplyRunStatusFailed, errMsg, id, models.ApplyRunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark apply run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPreconditionFailed
	}
	return nil
}

func scanApplyRun(row pgx.Row) (*models.ApplyRun, error) {
	var run models.ApplyRun
	var dryRunJSON, changesJSON []byte
	var errMsg *string

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.RecommendationID,
		&run.IdempotencyKey,
		&run.Status,
		&dryRunJSON,
		&changesJSON,
		&errMsg,
		&run.AppliedBy,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan apply run: %w", err)
	}

	if len(dryRunJSON) > 0 {
		if err := json.Unmarshal(dryRunJSON, &run.DryRunResult); err != nil {
			return nil, fmt.Errorf("unmarshal dry run result: %w", err)
		}
	}
	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &run.AppliedChanges); err != nil {
			return nil, fmt.Errorf("unmarshal applied changes: %w", err)
		}
	}
	if errMsg != nil {
		run.Error = *errMsg
	}

	return &run, nil
}
