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

// AdsAccountRepository provides access to connected ads accounts.
type AdsAccountRepository interface {
	// GetActive returns the tenant's active ads account, or
	// apperrors.ErrNoActiveAccount.
	GetActive(ctx context.Context, tenantID uuid.UUID) (*models.AdsAccount, error)

	// Upsert inserts or refreshes an account on the (tenant, email) key.
	Upsert(ctx context.Context, account *models.AdsAccount) error

	// UpdateSyncStatus records the outcome of a sync attempt.
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, status string, syncedAt *time.Time, errMsg string) error
}

type adsAccountRepository struct{}

// NewAdsAccountRepository creates an AdsAccountRepository.
func NewAdsAccountRepository() AdsAccountRepository {
	return &adsAccountRepository{}
}

var _ AdsAccountRepository = (*adsAccountRepository)(nil)

const adsAccountColumns = `
	id, tenant_id, email, refresh_token_enc, status, last_sync_at,
	error_message, created_at, updated_at`

func (r *adsAccountRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (*models.AdsAccount, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + adsAccountColumns + `
		FROM ads_accounts
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT 1`

	account, err := scanAdsAccount(scope.Conn.QueryRow(ctx, query, tenantID, models.AdsAccountStatusActive))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNoActiveAccount
		}
		return nil, err
	}

	return account, nil
}

func (r *adsAccountRepository) Upsert(ctx context.Context, account *models.AdsAccount) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = models.AdsAccountStatusActive
	}
	now := time.Now()

	query := `
		INSERT INTO ads_accounts (
			id, tenant_id, email, refresh_token_enc, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, email) DO UPDATE SET
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			status = EXCLUDED.status,
			error_message = NULL,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		account.ID, account.TenantID, account.Email, account.RefreshTokenEnc,
		account.Status, now)
	if err != nil {
		return fmt.Errorf("failed to upsert ads account: %w", err)
	}

	return nil
}

func (r *adsAccountRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status string, syncedAt *time.Time, errMsg string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE ads_accounts
		SET status = $1,
		    last_sync_at = COALESCE($2, last_sync_at),
		    error_message = $3,
		    updated_at = now()
		WHERE id = $4`,
		status, syncedAt, nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to update ads account sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanAdsAccount(row pgx.Row) (*models.AdsAccount, error) {
	var account models.AdsAccount
	var errMsg *string

	err := row.Scan(
		&account.ID,
		&account.TenantID,
		&account.Email,
		&account.RefreshTokenEnc,
		&account.Status,
		&account.LastSyncAt,
		&errMsg,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan ads account: %w", err)
	}

	if errMsg != nil {
		account.ErrorMessage = *errMsg
	}

	return &account, nil
}
