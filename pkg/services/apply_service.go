package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/crypto"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/repositories"
)

// ApplyResult is the outcome of an Apply call. Reused is true when the
// idempotency key matched an existing run and no new work was done.
type ApplyResult struct {
	Run    *models.ApplyRun `json:"run"`
	Reused bool             `json:"reused"`
}

// ApplyService executes approved recommendations against the external
// platform with at-most-once semantics. The apply path never
// auto-retries the platform mutation; a failed run stays failed and
// the caller retries with a fresh idempotency key.
type ApplyService struct {
	recommendations repositories.RecommendationRepository
	campaigns       repositories.CampaignRepository
	runs            repositories.ApplyRunRepository
	accounts        repositories.AdsAccountRepository
	audit           repositories.AuditLogRepository
	gateway         ads.Gateway
	guardrails      *GuardrailService
	cipher          *crypto.TokenCipher
	logger          *zap.Logger

	campaignLocks *keyedMutex
}

// NewApplyService creates an ApplyService.
func NewApplyService(
	recommendations repositories.RecommendationRepository,
	campaigns repositories.CampaignRepository,
	runs repositories.ApplyRunRepository,
	accounts repositories.AdsAccountRepository,
	audit repositories.AuditLogRepository,
	gateway ads.Gateway,
	guardrails *GuardrailService,
	cipher *crypto.TokenCipher,
	logger *zap.Logger,
) *ApplyService {
	return &ApplyService{
		recommendations: recommendations,
		campaigns:       campaigns,
		runs:            runs,
		accounts:        accounts,
		audit:           audit,
		gateway:         gateway,
		guardrails:      guardrails,
		cipher:          cipher,
		logger:          logger.Named("apply"),
		campaignLocks:   newKeyedMutex(),
	}
}

// DryRun previews what applying the recommendation would change,
// without touching the external platform or writing a run. Current
// state comes from the local campaign mirror, so the preview needs no
// network at all. Guardrail violations come back as data
// (ValidationPassed=false), never as errors; an unsupported type is a
// hard error.
func (s *ApplyService) DryRun(ctx context.Context, tenantID, recommendationID uuid.UUID) (*models.DryRunResult, error) {
	rec, err := s.recommendations.GetByID(ctx, tenantID, recommendationID)
	if err != nil {
		return nil, err
	}

	if !rec.ApplyCapable() {
		return nil, fmt.Errorf("%w: recommendation type %q cannot be applied automatically",
			apperrors.ErrUnsupportedOperation, rec.Type)
	}
	if !rec.CanApply() {
		return nil, fmt.Errorf("%w: recommendation is %q, expected %q",
			apperrors.ErrPreconditionFailed, rec.Status, models.RecommendationStatusApproved)
	}

	local, err := s.campaigns.Find(ctx, tenantID, rec.CustomerID, rec.ScopeID)
	if err != nil {
		return nil, err
	}

	return s.buildDryRun(rec, local), nil
}

// Apply executes one approved recommendation under the given
// idempotency key. If a run already exists for the key, that run is
// returned unchanged and nothing is re-executed.
func (s *ApplyService) Apply(ctx context.Context, tenantID, userID, recommendationID uuid.UUID, idempotencyKey string) (*ApplyResult, error) {
	// The key lookup comes before every other check so a replay of a
	// finished apply returns its run instead of tripping on the
	// recommendation's new status.
	if existing, err := s.runs.FindByIdempotencyKey(ctx, idempotencyKey); err == nil {
		s.logger.Info("apply run reused by idempotency key",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("run_id", existing.ID.String()))
		return &ApplyResult{Run: existing, Reused: true}, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	rec, err := s.recommendations.GetByID(ctx, tenantID, recommendationID)
	if err != nil {
		return nil, err
	}

	// Unsupported types fail before any run exists.
	if !rec.ApplyCapable() {
		return nil, fmt.Errorf("%w: recommendation type %q cannot be applied automatically",
			apperrors.ErrUnsupportedOperation, rec.Type)
	}
	if !rec.CanApply() {
		return nil, fmt.Errorf("%w: recommendation is %q, expected %q",
			apperrors.ErrPreconditionFailed, rec.Status, models.RecommendationStatusApproved)
	}

	refreshToken, err := s.accountToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	unlock := s.campaignLocks.Lock(campaignLockKey(tenantID, rec.CustomerID, rec.ScopeID))
	defer unlock()

	// The mirror read happens under the lock so validation and the
	// eventual mirror write see the same row version.
	local, err := s.campaigns.Find(ctx, tenantID, rec.CustomerID, rec.ScopeID)
	if err != nil {
		return nil, err
	}
	before := *local

	dryRun := s.buildDryRun(rec, local)

	run := &models.ApplyRun{
		TenantID:         tenantID,
		RecommendationID: rec.ID,
		IdempotencyKey:   idempotencyKey,
		DryRunResult:     dryRun,
		AppliedBy:        userID,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Lost the key race; the winner's run is the answer.
			existing, findErr := s.runs.FindByIdempotencyKey(ctx, idempotencyKey)
			if findErr != nil {
				if errors.Is(findErr, apperrors.ErrNotFound) {
					// The key exists but its run is invisible to this
					// tenant: the key belongs to someone else.
					return nil, fmt.Errorf("%w: idempotency key is already in use", apperrors.ErrConflict)
				}
				return nil, findErr
			}
			return &ApplyResult{Run: existing, Reused: true}, nil
		}
		return nil, err
	}

	if !dryRun.ValidationPassed {
		failErr := fmt.Errorf("%w: %s", apperrors.ErrGuardrailViolation, dryRun.Error)
		s.finishFailed(ctx, run, rec, userID, &before, failErr)
		return nil, failErr
	}

	change, err := s.mutate(ctx, refreshToken, rec, local)
	if err != nil {
		s.finishFailed(ctx, run, rec, userID, &before, err)
		return nil, err
	}

	if err := s.saveMirror(ctx, local, change); err != nil {
		err = fmt.Errorf("update campaign mirror: %w", err)
		s.finishFailed(ctx, run, rec, userID, &before, err)
		return nil, err
	}

	if err := s.runs.MarkSuccess(ctx, run.ID, change); err != nil {
		// Remote change is committed; surface the ledger failure.
		return nil, fmt.Errorf("apply succeeded but run update failed: %w", err)
	}
	run.Status = models.ApplyRunStatusSuccess
	run.AppliedChanges = change

	appliedAt := time.Now()
	if err := s.recommendations.MarkApplied(ctx, rec.ID, userID, appliedAt); err != nil {
		s.logger.Error("failed to mark recommendation applied",
			zap.String("recommendation_id", rec.ID.String()), zap.Error(err))
	}

	s.writeAudit(ctx, rec, userID, run, &before, change, true, "")

	s.logger.Info("recommendation applied",
		zap.String("recommendation_id", rec.ID.String()),
		zap.String("campaign_id", rec.ScopeID),
		zap.String("type", rec.Type),
		zap.String("run_id", run.ID.String()))

	return &ApplyResult{Run: run}, nil
}

// accountToken resolves the tenant's active ads account and decrypts
// its refresh token for the platform mutation.
func (s *ApplyService) accountToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	account, err := s.accounts.GetActive(ctx, tenantID)
	if err != nil {
		return "", err
	}

	refreshToken, err := s.cipher.Decrypt(account.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	return refreshToken, nil
}

// buildDryRun computes the structured preview for one recommendation
// against the local campaign mirror.
func (s *ApplyService) buildDryRun(rec *models.Recommendation, local *models.Campaign) *models.DryRunResult {
	result := &models.DryRunResult{
		Type:             rec.Type,
		CampaignID:       rec.ScopeID,
		Warnings:         []string{},
		ValidationPassed: true,
	}

	switch rec.Type {
	case models.RecommendationTypeBudget:
		proposal, err := rec.BudgetProposal()
		if err != nil {
			result.ValidationPassed = false
			result.Error = err.Error()
			return result
		}

		current := local.Budget
		change := models.ChangeDescriptor{
			Field: "daily_budget",
			From:  current,
			To:    proposal.RecommendedBudget,
		}
		if current > 0 {
			change.PercentChange = fmt.Sprintf("%+.1f%%",
				(proposal.RecommendedBudget-current)/current*100)
		}
		result.Changes = append(result.Changes, change)

		if warn := s.guardrails.BudgetIncreaseWarning(current, proposal.RecommendedBudget); warn != "" {
			result.Warnings = append(result.Warnings, warn)
		}
		if err := s.guardrails.ValidateBudgetChange(current, proposal.RecommendedBudget); err != nil {
			result.ValidationPassed = false
			result.Error = err.Error()
		}

	case models.RecommendationTypePause:
		result.Changes = append(result.Changes, models.ChangeDescriptor{
			Field: "status",
			From:  local.Status,
			To:    models.CampaignStatusPaused,
		})
		if local.Status == models.CampaignStatusPaused {
			result.Warnings = append(result.Warnings, "campaign is already paused")
		}

	case models.RecommendationTypeResume:
		result.Changes = append(result.Changes, models.ChangeDescriptor{
			Field: "status",
			From:  local.Status,
			To:    models.CampaignStatusEnabled,
		})
		if local.Status == models.CampaignStatusEnabled {
			result.Warnings = append(result.Warnings, "campaign is already enabled")
		}

	default:
		result.ValidationPassed = false
		result.Error = fmt.Sprintf("recommendation type %q cannot be applied automatically", rec.Type)
	}

	return result
}

// mutate performs the single platform mutation for the recommendation
// and returns the committed diff. No retries here: a transient failure
// surfaces to the caller as a failed run.
func (s *ApplyService) mutate(ctx context.Context, refreshToken string, rec *models.Recommendation, local *models.Campaign) (*models.AppliedChange, error) {
	switch rec.Type {
	case models.RecommendationTypeBudget:
		proposal, err := rec.BudgetProposal()
		if err != nil {
			return nil, err
		}
		micros := int64(math.Round(proposal.RecommendedBudget * 1_000_000))
		if err := s.gateway.UpdateCampaignBudget(ctx, refreshToken, rec.CustomerID, rec.ScopeID, micros); err != nil {
			return nil, err
		}
		return &models.AppliedChange{
			Field: "budget",
			From:  local.Budget,
			To:    proposal.RecommendedBudget,
		}, nil

	case models.RecommendationTypePause:
		if err := s.gateway.UpdateCampaignStatus(ctx, refreshToken, rec.CustomerID, rec.ScopeID, models.CampaignStatusPaused); err != nil {
			return nil, err
		}
		return &models.AppliedChange{
			Field:      "status",
			FromStatus: local.Status,
			ToStatus:   models.CampaignStatusPaused,
		}, nil

	case models.RecommendationTypeResume:
		if err := s.gateway.UpdateCampaignStatus(ctx, refreshToken, rec.CustomerID, rec.ScopeID, models.CampaignStatusEnabled); err != nil {
			return nil, err
		}
		return &models.AppliedChange{
			Field:      "status",
			FromStatus: local.Status,
			ToStatus:   models.CampaignStatusEnabled,
		}, nil
	}

	return nil, fmt.Errorf("%w: recommendation type %q cannot be applied automatically",
		apperrors.ErrUnsupportedOperation, rec.Type)
}

// saveMirror folds the committed change into the local campaign mirror
// with a version check. One stale-version retry covers a concurrent
// sync bumping the row between our read and write; anything else is a
// Step-5 failure the caller records on the run.
func (s *ApplyService) saveMirror(ctx context.Context, local *models.Campaign, change *models.AppliedChange) error {
	applyChangeToMirror(local, change)
	err := s.campaigns.UpdateWithVersion(ctx, local, local.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrStaleVersion) {
		return err
	}

	fresh, err := s.campaigns.Find(ctx, local.TenantID, local.CustomerID, local.CampaignID)
	if err != nil {
		return err
	}
	applyChangeToMirror(fresh, change)
	return s.campaigns.UpdateWithVersion(ctx, fresh, fresh.Version)
}

func applyChangeToMirror(c *models.Campaign, change *models.AppliedChange) {
	switch change.Field {
	case "budget":
		c.Budget = change.To
	case "status":
		c.Status = change.ToStatus
	}
}

// finishFailed records the terminal failed state and its audit entry.
func (s *ApplyService) finishFailed(ctx context.Context, run *models.ApplyRun, rec *models.Recommendation, userID uuid.UUID, before *models.Campaign, cause error) {
	if err := s.runs.MarkFailed(ctx, run.ID, cause.Error()); err != nil {
		s.logger.Error("failed to mark apply run failed",
			zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	run.Status = models.ApplyRunStatusFailed
	run.Error = cause.Error()

	s.writeAudit(ctx, rec, userID, run, before, nil, false, cause.Error())

	s.logger.Warn("apply run failed",
		zap.String("recommendation_id", rec.ID.String()),
		zap.String("campaign_id", rec.ScopeID),
		zap.String("run_id", run.ID.String()),
		zap.Error(cause))
}

// writeAudit appends the audit entry for one apply attempt. Audit is
// best effort relative to the run ledger; a write failure is logged.
func (s *ApplyService) writeAudit(ctx context.Context, rec *models.Recommendation, userID uuid.UUID, run *models.ApplyRun, before *models.Campaign, change *models.AppliedChange, success bool, errMsg string) {
	entry := &models.AuditLogEntry{
		TenantID:    rec.TenantID,
		ActorUserID: &userID,
		Action:      models.AuditActionPrefixCampaign + rec.Type,
		TargetType:  models.AuditTargetTypeCampaign,
		TargetID:    rec.ScopeID,
		Metadata: map[string]any{
			"recommendation_id": rec.ID.String(),
			"apply_run_id":      run.ID.String(),
			"idempotency_key":   run.IdempotencyKey,
		},
		Success:      success,
		ErrorMessage: errMsg,
	}

	if before != nil {
		entry.Before = map[string]any{
			"budget": before.Budget,
			"status": before.Status,
		}
	}
	if change != nil {
		switch change.Field {
		case "budget":
			entry.After = map[string]any{"budget": change.To}
		case "status":
			entry.After = map[string]any{"status": change.ToStatus}
		}
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("recommendation_id", rec.ID.String()), zap.Error(err))
	}
}

func campaignLockKey(tenantID uuid.UUID, customerID, campaignID string) string {
	return tenantID.String() + "/" + customerID + "/" + campaignID
}
