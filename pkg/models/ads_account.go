package models

import (
	"time"

	"github.com/google/uuid"
)

// AdsAccount statuses.
const (
	AdsAccountStatusActive   = "active"
	AdsAccountStatusInactive = "inactive"
	AdsAccountStatusError    = "error"
)

// AdsAccount is a tenant's connected Google Ads credential. The
// refresh token is stored encrypted (AES-256-GCM) and decrypted only
// at the gateway boundary.
type AdsAccount struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Email           string    `json:"email"`
	RefreshTokenEnc string    `json:"-"`
	Status          string    `json:"status"`

	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
