package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/services"
)

// RecommendationLifecycle is the slice of RecommendationService the
// handler needs.
type RecommendationLifecycle interface {
	List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*models.Recommendation, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error)
	Approve(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error)
	Reject(ctx context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error)
}

// ApplyEngine is the slice of ApplyService the handler needs.
type ApplyEngine interface {
	DryRun(ctx context.Context, tenantID, recommendationID uuid.UUID) (*models.DryRunResult, error)
	Apply(ctx context.Context, tenantID, userID, recommendationID uuid.UUID, idempotencyKey string) (*services.ApplyResult, error)
}

// Generator produces draft recommendations from campaign data.
type Generator interface {
	Generate(ctx context.Context, tenantID uuid.UUID, customerID string) ([]*models.Recommendation, error)
}

// RecommendationsHandler handles recommendation lifecycle and apply
// endpoints.
type RecommendationsHandler struct {
	lifecycle RecommendationLifecycle
	engine    ApplyEngine
	generator Generator
	logger    *zap.Logger
}

// NewRecommendationsHandler creates a RecommendationsHandler.
// generator may be nil when no AI provider is configured.
func NewRecommendationsHandler(lifecycle RecommendationLifecycle, engine ApplyEngine, generator Generator, logger *zap.Logger) *RecommendationsHandler {
	return &RecommendationsHandler{
		lifecycle: lifecycle,
		engine:    engine,
		generator: generator,
		logger:    logger,
	}
}

// RegisterRoutes registers the recommendation routes on the given mux.
// Reads need authentication; state changes additionally need the admin
// role.
func (h *RecommendationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/v1/recommendations"
	admin := authMiddleware.RequireRole(auth.RoleAdmin)

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/{rid}", authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST "+base+"/{rid}/approve", admin(tenantMiddleware(h.Approve)))
	mux.HandleFunc("POST "+base+"/{rid}/reject", admin(tenantMiddleware(h.Reject)))
	mux.HandleFunc("POST "+base+"/generate", admin(tenantMiddleware(h.Generate)))

	// Apply workflow routes live under /apply.
	mux.HandleFunc("POST /api/v1/apply/recommendations/{rid}/dry-run", authMiddleware.RequireAuth(tenantMiddleware(h.DryRun)))
	mux.HandleFunc("POST /api/v1/apply/recommendations/{rid}", admin(tenantMiddleware(h.Apply)))
}

// RecommendationListResponse wraps a recommendation list.
type RecommendationListResponse struct {
	Recommendations []*models.Recommendation `json:"recommendations"`
	Total           int                      `json:"total"`
}

// List handles GET /api/v1/recommendations
func (h *RecommendationsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r, 50, 200)
	recs, err := h.lifecycle.List(r.Context(), tenantID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.writeServiceError(w, "list recommendations", err)
		return
	}

	response := RecommendationListResponse{Recommendations: recs, Total: len(recs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/v1/recommendations/{rid}
func (h *RecommendationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	recID, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.lifecycle.Get(r.Context(), tenantID, recID)
	if err != nil {
		h.writeServiceError(w, "get recommendation", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Approve handles POST /api/v1/recommendations/{rid}/approve
func (h *RecommendationsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Approve)
}

// Reject handles POST /api/v1/recommendations/{rid}/reject
func (h *RecommendationsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Reject)
}

func (h *RecommendationsHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, uuid.UUID) (*models.Recommendation, error)) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	recID, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	rec, err := fn(r.Context(), tenantID, recID)
	if err != nil {
		h.writeServiceError(w, "recommendation transition", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rec}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// DryRun handles POST /api/v1/apply/recommendations/{rid}/dry-run
func (h *RecommendationsHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	recID, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.engine.DryRun(r.Context(), tenantID, recID)
	if err != nil {
		h.writeServiceError(w, "dry run", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// ApplyRequest is the body for apply requests. The idempotency key may
// also arrive via the Idempotency-Key header, which wins over the body.
type ApplyRequest struct {
	ConfirmDryRun  bool   `json:"confirmDryRun"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// ConfirmationRequired tells the client how to confirm a previewed
// apply: resend with confirmDryRun=true and this idempotency key.
type ConfirmationRequired struct {
	Field          string `json:"field"`
	Value          bool   `json:"value"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ApplyPreviewResponse is returned when the apply was not confirmed.
type ApplyPreviewResponse struct {
	Success              bool                 `json:"success"`
	RequiresConfirmation bool                 `json:"requiresConfirmation"`
	DryRun               *models.DryRunResult `json:"dryRun"`
	ConfirmationRequired ConfirmationRequired `json:"confirmationRequired"`
}

// ApplyResponse is returned for an executed (or replayed) apply.
type ApplyResponse struct {
	Run    *models.ApplyRun `json:"run"`
	Reused bool             `json:"reused"`
}

// Apply handles POST /api/v1/apply/recommendations/{rid}
//
// Without confirmDryRun=true the handler responds with the dry-run
// preview and an idempotency key; confirming with that key executes
// exactly once.
func (h *RecommendationsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	recID, ok := ParseRecommendationID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApplyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("failed to write error response", zap.Error(err))
			}
			return
		}
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	if !req.ConfirmDryRun {
		result, err := h.engine.DryRun(r.Context(), tenantID, recID)
		if err != nil {
			h.writeServiceError(w, "dry run", err)
			return
		}

		response := ApplyPreviewResponse{
			RequiresConfirmation: true,
			DryRun:               result,
			ConfirmationRequired: ConfirmationRequired{
				Field:          "confirmDryRun",
				Value:          true,
				IdempotencyKey: idempotencyKey,
			},
		}
		if err := WriteJSON(w, http.StatusOK, response); err != nil {
			h.logger.Error("failed to write response", zap.Error(err))
		}
		return
	}

	result, err := h.engine.Apply(r.Context(), tenantID, userID, recID, idempotencyKey)
	if err != nil {
		h.writeServiceError(w, "apply", err)
		return
	}

	response := ApplyResponse{Run: result.Run, Reused: result.Reused}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// GenerateRequest selects the customer account to generate for.
type GenerateRequest struct {
	CustomerID string `json:"customerId"`
}

// Generate handles POST /api/v1/recommendations/generate
func (h *RecommendationsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	if h.generator == nil {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "ai_not_configured", "No AI provider configured"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "customerId is required"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return
	}

	recs, err := h.generator.Generate(r.Context(), tenantID, req.CustomerID)
	if err != nil {
		h.writeServiceError(w, "generate recommendations", err)
		return
	}

	response := RecommendationListResponse{Recommendations: recs, Total: len(recs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *RecommendationsHandler) identity(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, userID, err := auth.ExtractClaimsFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, userID, true
}

func (h *RecommendationsHandler) writeServiceError(w http.ResponseWriter, operation string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("handler operation failed",
			zap.String("operation", operation), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, err.Error()); werr != nil {
		h.logger.Error("failed to write error response", zap.Error(werr))
	}
}
