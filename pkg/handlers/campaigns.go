package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// CampaignReader lists the local campaign mirror.
type CampaignReader interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Campaign, error)
}

// CampaignSyncer refreshes the mirror from the external platform.
type CampaignSyncer interface {
	SyncCampaigns(ctx context.Context, tenantID uuid.UUID, customerID string) (int, error)
}

// CampaignsHandler serves the local campaign mirror and its sync
// trigger.
type CampaignsHandler struct {
	campaigns CampaignReader
	syncer    CampaignSyncer
	logger    *zap.Logger
}

// NewCampaignsHandler creates a CampaignsHandler.
func NewCampaignsHandler(campaigns CampaignReader, syncer CampaignSyncer, logger *zap.Logger) *CampaignsHandler {
	return &CampaignsHandler{campaigns: campaigns, syncer: syncer, logger: logger}
}

// RegisterRoutes registers the campaign routes on the given mux.
func (h *CampaignsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/v1/campaigns", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("POST /api/v1/campaigns/sync",
		authMiddleware.RequireRole(auth.RoleAdmin)(tenantMiddleware(h.Sync)))
}

// CampaignListResponse wraps a campaign list.
type CampaignListResponse struct {
	Campaigns []*models.Campaign `json:"campaigns"`
	Total     int                `json:"total"`
}

// List handles GET /api/v1/campaigns
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		h.unauthorized(w)
		return
	}

	campaigns, err := h.campaigns.List(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, "list campaigns", err)
		return
	}

	response := CampaignListResponse{Campaigns: campaigns, Total: len(campaigns)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// SyncRequest selects the customer account to sync.
type SyncRequest struct {
	CustomerID string `json:"customerId"`
}

// SyncResponse reports the sync outcome.
type SyncResponse struct {
	Synced int `json:"synced"`
}

// Sync handles POST /api/v1/campaigns/sync
func (h *CampaignsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		h.unauthorized(w)
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "customerId is required"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return
	}

	synced, err := h.syncer.SyncCampaigns(r.Context(), tenantID, req.CustomerID)
	if err != nil {
		h.writeServiceError(w, "sync campaigns", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: SyncResponse{Synced: synced}}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *CampaignsHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("failed to write error response", zap.Error(err))
	}
}

func (h *CampaignsHandler) writeServiceError(w http.ResponseWriter, operation string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("handler operation failed",
			zap.String("operation", operation), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, err.Error()); werr != nil {
		h.logger.Error("failed to write error response", zap.Error(werr))
	}
}
