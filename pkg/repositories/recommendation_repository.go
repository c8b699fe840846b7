package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/database"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// RecommendationRepository provides access to recommendations.
// Status updates are guarded in SQL so lifecycle transitions stay
// monotonic even under concurrent writers.
type RecommendationRepository interface {
	// Create inserts a new draft recommendation.
	Create(ctx context.Context, rec *models.Recommendation) error

	// GetByID returns one recommendation within the tenant, or
	// apperrors.ErrNotFound.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error)

	// List returns recommendations for the tenant, newest first,
	// optionally filtered by status.
	List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*models.Recommendation, error)

	// UpdateStatus moves a recommendation from fromStatus to toStatus.
	// Returns apperrors.ErrPreconditionFailed if the row is not in
	// fromStatus.
	UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error

	// MarkApplied stamps the one-and-only applied transition.
	MarkApplied(ctx context.Context, id, appliedBy uuid.UUID, appliedAt time.Time) error
}

type recommendationRepository struct{}

// NewRecommendationRepository creates a RecommendationRepository.
func NewRecommendationRepository() RecommendationRepository {
	return &recommendationRepository{}
}

var _ RecommendationRepository = (*recommendationRepository)(nil)

const recommendationColumns = `
	id, tenant_id, customer_id, scope_type, scope_id, source, type,
	proposal, rationale, confidence, risk_level, status, applied_at,
	applied_by, created_at, updated_at`

func (r *recommendationRepository) Create(ctx context.Context, rec *models.Recommendation) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = models.RecommendationStatusDraft
	}
	if rec.ScopeType == "" {
		rec.ScopeType = "campaign"
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO recommendations (
			id, tenant_id, customer_id, scope_type, scope_id, source, type,
			proposal, rationale, confidence, risk_level, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := scope.Conn.Exec(ctx, query,
		rec.ID, rec.TenantID, rec.CustomerID, rec.ScopeType, rec.ScopeID,
		rec.Source, rec.Type, rec.Proposal, rec.Rationale, rec.Confidence,
		rec.RiskLevel, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create recommendation: %w", err)
	}

	return nil
}

func (r *recommendationRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + recommendationColumns + `
		FROM recommendations
		WHERE tenant_id = $1 AND id = $2`

	return scanRecommendation(scope.Conn.QueryRow(ctx, query, tenantID, id))
}

func (r *recommendationRepository) List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*models.Recommendation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + recommendationColumns + `
		FROM recommendations
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := scope.Conn.Query(ctx, query, tenantID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}

	return recs, nil
}

func (r *recommendationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE recommendations
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		toStatus, id, fromStatus)
	if err != nil {
		return fmt.Errorf("failed to update recommendation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPreconditionFailed
	}

	return nil
}

func (r *recommendationRepository) MarkApplied(ctx context.Context, id, appliedBy uuid.UUID, appliedAt time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE recommendations
		SET status = $1, applied_at = $2, applied_by = $3, updated_at = now()
		WHERE id = $4 AND status = $5`,
		models.RecommendationStatusApplied, appliedAt, appliedBy, id,
		models.RecommendationStatusApproved)
	if err != nil {
		return fmt.Errorf("failed to mark recommendation applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrPreconditionFailed
	}

	return nil
}

func scanRecommendation(row pgx.Row) (*models.Recommendation, error) {
	var rec models.Recommendation
	var scopeID, rationale, riskLevel *string

	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.CustomerID,
		&rec.ScopeType,
		&scopeID,
		&rec.Source,
		&rec.Type,
		&rec.Proposal,
		&rationale,
		&rec.Confidence,
		&riskLevel,
		&rec.Status,
		&rec.AppliedAt,
		&rec.AppliedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}

	if scopeID != nil {
		rec.ScopeID = *scopeID
	}
	if rationale != nil {
		rec.Rationale = *rationale
	}
	if riskLevel != nil {
		rec.RiskLevel = *riskLevel
	}

	return &rec, nil
}
