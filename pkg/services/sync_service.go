package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/crypto"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/repositories"
	"github.com/adpilot-io/adpilot-engine/pkg/retry"
)

// SyncService refreshes the local campaign mirror from the external
// platform. Reads are retried on transient failures; this is the only
// gateway path that retries.
type SyncService struct {
	accounts  repositories.AdsAccountRepository
	campaigns repositories.CampaignRepository
	gateway   ads.Gateway
	cipher    *crypto.TokenCipher
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewSyncService creates a SyncService.
func NewSyncService(
	accounts repositories.AdsAccountRepository,
	campaigns repositories.CampaignRepository,
	gateway ads.Gateway,
	cipher *crypto.TokenCipher,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		accounts:  accounts,
		campaigns: campaigns,
		gateway:   gateway,
		cipher:    cipher,
		retryCfg:  retry.DefaultConfig(),
		logger:    logger.Named("sync"),
	}
}

// SyncCampaigns pulls all non-removed campaigns for a customer into
// the mirror and stamps the account's sync status. Returns the number
// of campaigns synced.
func (s *SyncService) SyncCampaigns(ctx context.Context, tenantID uuid.UUID, customerID string) (int, error) {
	account, err := s.accounts.GetActive(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	refreshToken, err := s.cipher.Decrypt(account.RefreshTokenEnc)
	if err != nil {
		return 0, err
	}

	var states []*ads.CampaignState
	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		var listErr error
		states, listErr = s.gateway.ListCampaigns(ctx, refreshToken, customerID)
		return listErr
	})
	if err != nil {
		s.markSyncFailed(ctx, account.ID, err)
		return 0, err
	}

	synced := 0
	for _, state := range states {
		campaign := &models.Campaign{
			TenantID:    tenantID,
			CustomerID:  customerID,
			CampaignID:  state.CampaignID,
			Name:        state.Name,
			Status:      state.Status,
			ChannelType: state.ChannelType,
			Budget:      state.Budget(),
		}
		if err := s.campaigns.Upsert(ctx, campaign); err != nil {
			s.markSyncFailed(ctx, account.ID, err)
			return synced, err
		}
		synced++
	}

	now := time.Now()
	if err := s.accounts.UpdateSyncStatus(ctx, account.ID, models.AdsAccountStatusActive, &now, ""); err != nil {
		s.logger.Warn("failed to stamp sync status", zap.Error(err))
	}

	s.logger.Info("campaigns synced",
		zap.String("customer_id", customerID),
		zap.Int("count", synced))

	return synced, nil
}

func (s *SyncService) markSyncFailed(ctx context.Context, accountID uuid.UUID, cause error) {
	if err := s.accounts.UpdateSyncStatus(ctx, accountID, models.AdsAccountStatusError, nil, cause.Error()); err != nil {
		s.logger.Warn("failed to record sync error", zap.Error(err))
	}
}
