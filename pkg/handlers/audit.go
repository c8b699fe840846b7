package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// AuditLogReader reads the audit trail.
type AuditLogReader interface {
	List(ctx context.Context, tenantID uuid.UUID, action, targetType string, limit, offset int) ([]*models.AuditLogEntry, error)
}

// AuditHandler serves the audit trail, read-only.
type AuditHandler struct {
	audit  AuditLogReader
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditLogReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// RegisterRoutes registers the audit routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/v1/apply/audit", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
}

// AuditListResponse wraps an audit entry list.
type AuditListResponse struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int                     `json:"total"`
}

// List handles GET /api/v1/apply/audit with optional action and
// targetType query filters.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return
	}

	limit, offset := parsePagination(r, 50, 200)
	entries, err := h.audit.List(r.Context(), tenantID,
		r.URL.Query().Get("action"), r.URL.Query().Get("targetType"), limit, offset)
	if err != nil {
		status, code := statusForError(err)
		h.logger.Error("failed to list audit logs", zap.Error(err))
		if werr := ErrorResponse(w, status, code, err.Error()); werr != nil {
			h.logger.Error("failed to write error response", zap.Error(werr))
		}
		return
	}

	response := AuditListResponse{Entries: entries, Total: len(entries)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
