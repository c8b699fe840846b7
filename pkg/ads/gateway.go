// Package ads is the only component that speaks to the external
// advertising platform. Everything above it depends on the Gateway
// interface so tests can substitute a fake deterministically.
package ads

import (
	"context"
	"fmt"
)

// CampaignState is the external platform's view of one campaign.
type CampaignState struct {
	CampaignID   string
	Name         string
	Status       string // ENABLED, PAUSED, REMOVED
	ChannelType  string
	BudgetMicros int64
}

// Budget returns the daily budget in account currency.
func (c *CampaignState) Budget() float64 {
	return float64(c.BudgetMicros) / 1_000_000
}

// Gateway exposes the read and mutate operations the engine needs.
// Mutations take amounts in the platform's micro-currency unit
// (amount x 1,000,000); conversion happens at the caller.
type Gateway interface {
	// GetCampaign reads current budget and status for one campaign.
	GetCampaign(ctx context.Context, refreshToken, customerID, campaignID string) (*CampaignState, error)

	// ListCampaigns reads all non-removed campaigns for a customer.
	ListCampaigns(ctx context.Context, refreshToken, customerID string) ([]*CampaignState, error)

	// UpdateCampaignBudget sets the campaign's daily budget in micros.
	UpdateCampaignBudget(ctx context.Context, refreshToken, customerID, campaignID string, budgetMicros int64) error

	// UpdateCampaignStatus sets the campaign status (ENABLED or PAUSED).
	UpdateCampaignStatus(ctx context.Context, refreshToken, customerID, campaignID, status string) error
}

// GatewayError is any failure from the external platform: network,
// auth, rate limiting, or a platform rejection.
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ads gateway %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ads gateway %s failed: %s", e.Operation, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient. Mutations are
// never auto-retried regardless; this only informs sync reads.
func (e *GatewayError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
