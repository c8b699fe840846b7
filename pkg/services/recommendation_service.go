package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/repositories"
)

// RecommendationService owns the draft/approved/rejected lifecycle.
// Applying belongs to ApplyService.
type RecommendationService struct {
	recommendations repositories.RecommendationRepository
	logger          *zap.Logger
}

// NewRecommendationService creates a RecommendationService.
func NewRecommendationService(recommendations repositories.RecommendationRepository, logger *zap.Logger) *RecommendationService {
	return &RecommendationService{
		recommendations: recommendations,
		logger:          logger.Named("recommendations"),
	}
}

// List returns the tenant's recommendations, optionally filtered by
// status.
func (s *RecommendationService) List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*models.Recommendation, error) {
	return s.recommendations.List(ctx, tenantID, status, limit, offset)
}

// Get returns one recommendation.
func (s *RecommendationService) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error) {
	return s.recommendations.GetByID(ctx, tenantID, id)
}

// Approve moves a draft to approved.
func (s *RecommendationService) Approve(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error) {
	return s.transition(ctx, tenantID, id, models.RecommendationStatusApproved)
}

// Reject moves a draft to rejected.
func (s *RecommendationService) Reject(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error) {
	return s.transition(ctx, tenantID, id, models.RecommendationStatusRejected)
}

func (s *RecommendationService) transition(ctx context.Context, tenantID, id uuid.UUID, toStatus string) (*models.Recommendation, error) {
	rec, err := s.recommendations.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if rec.Status != models.RecommendationStatusDraft {
		return nil, fmt.Errorf("%w: recommendation is %q, only drafts can move to %q",
			apperrors.ErrPreconditionFailed, rec.Status, toStatus)
	}

	if err := s.recommendations.UpdateStatus(ctx, id, models.RecommendationStatusDraft, toStatus); err != nil {
		return nil, err
	}
	rec.Status = toStatus

	s.logger.Info("recommendation status changed",
		zap.String("recommendation_id", id.String()),
		zap.String("status", toStatus))

	return rec, nil
}
