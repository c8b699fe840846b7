package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses mirror the Google Ads enum verbatim.
const (
	CampaignStatusEnabled = "ENABLED"
	CampaignStatusPaused  = "PAUSED"
	CampaignStatusRemoved = "REMOVED"
)

// Campaign is the local mirror of one external campaign, scoped to a
// tenant. It is written only by the sync service and the apply engine;
// the apply engine writes only after a confirmed external mutation.
type Campaign struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CustomerID  string    `json:"customer_id"` // Google Ads customer ID
	CampaignID  string    `json:"campaign_id"` // Google Ads campaign ID
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	ChannelType string    `json:"channel_type,omitempty"`
	Budget      float64   `json:"budget"` // daily budget in account currency

	// Version increments on every write and backs the compare-and-swap
	// in UpdateWithVersion, so an apply racing a sync cannot silently
	// overwrite the other's update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
