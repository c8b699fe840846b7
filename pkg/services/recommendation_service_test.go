package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

func TestApproveDraft(t *testing.T) {
	repo := newFakeRecommendationRepo()
	svc := NewRecommendationService(repo, zap.NewNop())

	tenantID := uuid.New()
	rec := &models.Recommendation{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     models.RecommendationTypeBudget,
		Status:   models.RecommendationStatusDraft,
	}
	repo.recs[rec.ID] = rec

	updated, err := svc.Approve(context.Background(), tenantID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationStatusApproved, updated.Status)
	assert.Equal(t, models.RecommendationStatusApproved, repo.recs[rec.ID].Status)
}

func TestRejectDraft(t *testing.T) {
	repo := newFakeRecommendationRepo()
	svc := NewRecommendationService(repo, zap.NewNop())

	tenantID := uuid.New()
	rec := &models.Recommendation{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     models.RecommendationTypePause,
		Status:   models.RecommendationStatusDraft,
	}
	repo.recs[rec.ID] = rec

	updated, err := svc.Reject(context.Background(), tenantID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationStatusRejected, updated.Status)
}

func TestTransitionRequiresDraft(t *testing.T) {
	repo := newFakeRecommendationRepo()
	svc := NewRecommendationService(repo, zap.NewNop())
	tenantID := uuid.New()

	for _, status := range []string{
		models.RecommendationStatusApproved,
		models.RecommendationStatusApplied,
		models.RecommendationStatusRejected,
	} {
		rec := &models.Recommendation{
			ID:       uuid.New(),
			TenantID: tenantID,
			Status:   status,
		}
		repo.recs[rec.ID] = rec

		_, err := svc.Approve(context.Background(), tenantID, rec.ID)
		require.Error(t, err, status)
		assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed), status)

		_, err = svc.Reject(context.Background(), tenantID, rec.ID)
		require.Error(t, err, status)
		assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed), status)
	}
}

func TestGetUnknownRecommendation(t *testing.T) {
	svc := NewRecommendationService(newFakeRecommendationRepo(), zap.NewNop())

	_, err := svc.Get(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
