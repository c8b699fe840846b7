package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adpilot-io/adpilot-engine/pkg/database"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// AuditLogRepository is the append-only audit trail. Entries are never
// updated or deleted.
type AuditLogRepository interface {
	// Append writes one audit entry.
	Append(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns entries for the tenant, newest first, optionally
	// filtered by action and target type.
	List(ctx context.Context, tenantID uuid.UUID, action, targetType string, limit, offset int) ([]*models.AuditLogEntry, error)
}

type auditLogRepository struct{}

// NewAuditLogRepository creates an AuditLogRepository.
func NewAuditLogRepository() AuditLogRepository {
	return &auditLogRepository{}
}

var _ AuditLogRepository = (*auditLogRepository)(nil)

func (r *auditLogRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	beforeJSON, err := marshalNullable(entry.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	afterJSON, err := marshalNullable(entry.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, tenant_id, actor_user_id, action, target_type, target_id,
			before_json, after_json, metadata, success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = scope.Conn.Exec(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.ActorUserID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		beforeJSON,
		afterJSON,
		metadataJSON,
		entry.Success,
		nullableString(entry.ErrorMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	return nil
}

func (r *auditLogRepository) List(ctx context.Context, tenantID uuid.UUID, action, targetType string, limit, offset int) ([]*models.AuditLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, actor_user_id, action, target_type, target_id,
		       before_json, after_json, metadata, success, error_message, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR target_type = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := scope.Conn.Query(ctx, query, tenantID, action, targetType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var entry models.AuditLogEntry
		var beforeJSON, afterJSON, metadataJSON []byte
		var errMsg *string

		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ActorUserID,
			&entry.Action,
			&entry.TargetType,
			&entry.TargetID,
			&beforeJSON,
			&afterJSON,
			&metadataJSON,
			&entry.Success,
			&errMsg,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &entry.Before); err != nil {
				return nil, fmt.Errorf("unmarshal before state: %w", err)
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &entry.After); err != nil {
				return nil, fmt.Errorf("unmarshal after state: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		if errMsg != nil {
			entry.ErrorMessage = *errMsg
		}

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
