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

// CampaignRepository provides access to the local campaign mirror.
type CampaignRepository interface {
	// Find returns the mirror row for one external campaign, or
	// apperrors.ErrNotFound.
	Find(ctx context.Context, tenantID uuid.UUID, customerID, campaignID string) (*models.Campaign, error)

	// List returns all mirrored campaigns for the tenant.
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Campaign, error)

	// Upsert inserts or refreshes a mirror row on the
	// (tenant, customer, campaign) key. Used by sync.
	Upsert(ctx context.Context, c *models.Campaign) error

	// UpdateWithVersion writes budget and status only if the row still
	// carries expectedVersion, bumping the version. Returns
	// apperrors.ErrStaleVersion when the row moved underneath us.
	UpdateWithVersion(ctx context.Context, c *models.Campaign, expectedVersion int64) error
}

type campaignRepository struct{}

// NewCampaignRepository creates a CampaignRepository.
func NewCampaignRepository() CampaignRepository {
	return &campaignRepository{}
}

var _ CampaignRepository = (*campaignRepository)(nil)

const campaignColumns = `
	id, tenant_id, customer_id, campaign_id, name, status, channel_type,
	budget, version, created_at, updated_at`

func (r *campaignRepository) Find(ctx context.Context, tenantID uuid.UUID, customerID, campaignID string) (*models.Campaign, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE tenant_id = $1 AND customer_id = $2 AND campaign_id = $3`

	return scanCampaign(scope.Conn.QueryRow(ctx, query, tenantID, customerID, campaignID))
}

func (r *campaignRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Campaign, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE tenant_id = $1
		ORDER BY name`

	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, nil
}

func (r *campaignRepository) Upsert(ctx context.Context, c *models.Campaign) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO campaigns (
			id, tenant_id, customer_id, campaign_id, name, status,
			channel_type, budget, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
		ON CONFLICT (tenant_id, customer_id, campaign_id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			channel_type = EXCLUDED.channel_type,
			budget = EXCLUDED.budget,
			version = campaigns.version + 1,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		c.ID, c.TenantID, c.CustomerID, c.CampaignID, c.Name, c.Status,
		c.ChannelType, c.Budget, now)
	if err != nil {
		return fmt.Errorf("failed to upsert campaign: %w", err)
	}

	return nil
}

func (r *campaignRepository) UpdateWithVersion(ctx context.Context, c *models.Campaign, expectedVersion int64) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE campaigns
		SET budget = $1, status = $2, version = version + 1, updated_at = now()
		WHERE id = $3 AND version = $4`,
		c.Budget, c.Status, c.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrStaleVersion
	}

	c.Version = expectedVersion + 1
	return nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	var status, channelType *string
	var budget *float64

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.CustomerID,
		&c.CampaignID,
		&c.Name,
		&status,
		&channelType,
		&budget,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	if status != nil {
		c.Status = *status
	}
	if channelType != nil {
		c.ChannelType = *channelType
	}
	if budget != nil {
		c.Budget = *budget
	}

	return &c, nil
}
