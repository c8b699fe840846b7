package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// ApplyRunReader reads the apply-run ledger.
type ApplyRunReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ApplyRun, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.ApplyRun, error)
}

// ApplyRunsHandler serves the apply-run ledger, read-only. Runs are
// created only through the apply endpoint.
type ApplyRunsHandler struct {
	runs   ApplyRunReader
	logger *zap.Logger
}

// NewApplyRunsHandler creates an ApplyRunsHandler.
func NewApplyRunsHandler(runs ApplyRunReader, logger *zap.Logger) *ApplyRunsHandler {
	return &ApplyRunsHandler{runs: runs, logger: logger}
}

// RegisterRoutes registers the apply-run routes on the given mux.
func (h *ApplyRunsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/v1/apply/runs", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET /api/v1/apply/runs/{runid}", authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
}

// ApplyRunListResponse wraps an apply-run list.
type ApplyRunListResponse struct {
	Runs  []*models.ApplyRun `json:"runs"`
	Total int                `json:"total"`
}

// List handles GET /api/v1/apply/runs
func (h *ApplyRunsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		h.unauthorized(w)
		return
	}

	limit, offset := parsePagination(r, 50, 200)
	runs, err := h.runs.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list apply runs", err)
		return
	}

	response := ApplyRunListResponse{Runs: runs, Total: len(runs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/v1/apply/runs/{runid}
func (h *ApplyRunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		h.unauthorized(w)
		return
	}
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), tenantID, runID)
	if err != nil {
		h.writeServiceError(w, "get apply run", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *ApplyRunsHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("failed to write error response", zap.Error(err))
	}
}

func (h *ApplyRunsHandler) writeServiceError(w http.ResponseWriter, operation string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("handler operation failed",
			zap.String("operation", operation), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, err.Error()); werr != nil {
		h.logger.Error("failed to write error response", zap.Error(werr))
	}
}
