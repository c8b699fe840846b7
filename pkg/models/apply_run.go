package models

import (
	"time"

	"github.com/google/uuid"
)

// ApplyRun statuses. A run is created pending before any external call
// and moves to exactly one terminal state. Rows are never deleted and
// are immutable once terminal.
const (
	ApplyRunStatusPending = "pending"
	ApplyRunStatusSuccess = "success"
	ApplyRunStatusFailed  = "failed"
)

// ApplyRun is one attempt to apply one recommendation. The unique
// index on IdempotencyKey is the at-most-once guarantee: for a given
// key at most one row can ever exist.
type ApplyRun struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	RecommendationID uuid.UUID `json:"recommendation_id"`
	IdempotencyKey   string    `json:"idempotency_key"`
	Status           string    `json:"status"`

	DryRunResult   *DryRunResult  `json:"dry_run_result,omitempty"`
	AppliedChanges *AppliedChange `json:"applied_changes,omitempty"`
	Error          string         `json:"error,omitempty"`

	AppliedBy uuid.UUID `json:"applied_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run reached a terminal state.
func (r *ApplyRun) Terminal() bool {
	return r.Status == ApplyRunStatusSuccess || r.Status == ApplyRunStatusFailed
}

// AppliedChange is the diff actually committed to the external
// platform, recorded on successful runs only.
type AppliedChange struct {
	Field string  `json:"field"`
	From  float64 `json:"from,omitempty"`
	To    float64 `json:"to,omitempty"`

	// Status transitions carry string values instead of amounts.
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
}

// ChangeDescriptor is one entry in a dry-run preview.
type ChangeDescriptor struct {
	Field         string `json:"field"`
	From          any    `json:"from"`
	To            any    `json:"to"`
	PercentChange string `json:"percent_change,omitempty"`
	Note          string `json:"note,omitempty"`
}

// DryRunResult is the structured preview produced by the apply
// engine's dry run. Guardrail violations are reported here as data,
// never as errors.
type DryRunResult struct {
	Type             string             `json:"type"`
	CampaignID       string             `json:"campaign_id"`
	Changes          []ChangeDescriptor `json:"changes"`
	Warnings         []string           `json:"warnings"`
	ValidationPassed bool               `json:"validation_passed"`
	Error            string             `json:"error,omitempty"`
}
