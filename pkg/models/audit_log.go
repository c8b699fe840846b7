package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions are dot-namespaced verbs, e.g. "campaign.budget".
const (
	AuditActionPrefixCampaign = "campaign."

	AuditTargetTypeCampaign = "campaign"
)

// AuditLogEntry is an append-only fact about a state-changing action.
// Entries are written once per apply attempt, success or failure, and
// never mutated after creation.
type AuditLogEntry struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// ActorUserID is nil for system-initiated actions.
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`

	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`

	Before   map[string]any `json:"before,omitempty"`
	After    map[string]any `json:"after,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
