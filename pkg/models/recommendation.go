package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recommendation types. Only budget, pause and resume are
// apply-capable; the remaining types are informational drafts.
const (
	RecommendationTypeBudget          = "budget"
	RecommendationTypePause           = "pause"
	RecommendationTypeResume          = "resume"
	RecommendationTypeKeyword         = "keyword"
	RecommendationTypeAdCopy          = "adcopy"
	RecommendationTypeBid             = "bid"
	RecommendationTypeNegativeKeyword = "negative_keyword"
)

// Recommendation statuses. Transitions are monotonic:
// draft -> approved -> applied, or draft -> rejected.
// StatusFailed is written only by the generation pipeline; an apply
// failure leaves the recommendation at approved so it can be retried
// with a fresh idempotency key.
const (
	RecommendationStatusDraft    = "draft"
	RecommendationStatusApproved = "approved"
	RecommendationStatusApplied  = "applied"
	RecommendationStatusRejected = "rejected"
	RecommendationStatusFailed   = "failed"
)

// Recommendation sources.
const (
	RecommendationSourceGoogle = "google"
	RecommendationSourceAI     = "ai"
)

// Recommendation is one proposed change to one campaign.
type Recommendation struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	ScopeType  string    `json:"scope_type"` // currently always "campaign"
	ScopeID    string    `json:"scope_id"`   // external campaign ID
	Source     string    `json:"source"`
	Type       string    `json:"type"`

	// Proposal is the type-dependent payload, stored as JSONB.
	Proposal json.RawMessage `json:"proposal"`

	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence"`
	RiskLevel  string  `json:"risk_level,omitempty"`

	Status    string     `json:"status"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	AppliedBy *uuid.UUID `json:"applied_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BudgetProposal is the payload for budget recommendations.
type BudgetProposal struct {
	RecommendedBudget float64 `json:"recommendedBudget"`
}

// BudgetProposal decodes the proposal payload of a budget
// recommendation.
func (r *Recommendation) BudgetProposal() (*BudgetProposal, error) {
	var p BudgetProposal
	if err := json.Unmarshal(r.Proposal, &p); err != nil {
		return nil, fmt.Errorf("decode budget proposal: %w", err)
	}
	return &p, nil
}

// ApplyCapable reports whether the apply engine can execute this
// recommendation type.
func (r *Recommendation) ApplyCapable() bool {
	switch r.Type {
	case RecommendationTypeBudget, RecommendationTypePause, RecommendationTypeResume:
		return true
	}
	return false
}

// CanApprove reports whether the recommendation may move to approved.
func (r *Recommendation) CanApprove() bool {
	return r.Status == RecommendationStatusDraft
}

// CanReject reports whether the recommendation may move to rejected.
func (r *Recommendation) CanReject() bool {
	return r.Status == RecommendationStatusDraft
}

// CanApply reports whether the recommendation is in a state the apply
// engine accepts. A recommendation that reached applied never passes
// this check again.
func (r *Recommendation) CanApply() bool {
	return r.Status == RecommendationStatusApproved
}
