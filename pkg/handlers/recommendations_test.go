package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/auth"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/services"
)

type mockLifecycle struct {
	rec *models.Recommendation
	err error
}

func (m *mockLifecycle) List(context.Context, uuid.UUID, string, int, int) ([]*models.Recommendation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*models.Recommendation{m.rec}, nil
}

func (m *mockLifecycle) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Recommendation, error) {
	return m.rec, m.err
}

func (m *mockLifecycle) Approve(context.Context, uuid.UUID, uuid.UUID) (*models.Recommendation, error) {
	return m.rec, m.err
}

func (m *mockLifecycle) Reject(context.Context, uuid.UUID, uuid.UUID) (*models.Recommendation, error) {
	return m.rec, m.err
}

type mockEngine struct {
	dryRun    *models.DryRunResult
	dryRunErr error

	result   *services.ApplyResult
	applyErr error

	applyCalls   int
	lastApplyKey string
}

func (m *mockEngine) DryRun(context.Context, uuid.UUID, uuid.UUID) (*models.DryRunResult, error) {
	return m.dryRun, m.dryRunErr
}

func (m *mockEngine) Apply(_ context.Context, _, _, _ uuid.UUID, key string) (*services.ApplyResult, error) {
	m.applyCalls++
	m.lastApplyKey = key
	return m.result, m.applyErr
}

type mockGenerator struct {
	recs []*models.Recommendation
	err  error
}

func (m *mockGenerator) Generate(context.Context, uuid.UUID, string) ([]*models.Recommendation, error) {
	return m.recs, m.err
}

func authedRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)

	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
		TenantID:         uuid.NewString(),
		Roles:            []string{auth.RoleAdmin},
	}
	return req.WithContext(context.WithValue(req.Context(), auth.ClaimsKey, claims))
}

func newRecsHandler(engine *mockEngine, lifecycle *mockLifecycle, gen Generator) *RecommendationsHandler {
	return NewRecommendationsHandler(lifecycle, engine, gen, zap.NewNop())
}

func TestApplyWithoutConfirmationReturnsPreview(t *testing.T) {
	engine := &mockEngine{dryRun: &models.DryRunResult{
		Type:             models.RecommendationTypeBudget,
		CampaignID:       "111",
		ValidationPassed: true,
	}}
	h := newRecsHandler(engine, &mockLifecycle{}, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/"+recID.String(),
		ApplyRequest{ConfirmDryRun: false})
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Apply(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ApplyPreviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresConfirmation)
	assert.Equal(t, "confirmDryRun", resp.ConfirmationRequired.Field)
	assert.True(t, resp.ConfirmationRequired.Value)
	assert.NotEmpty(t, resp.ConfirmationRequired.IdempotencyKey)
	require.NotNil(t, resp.DryRun)
	assert.Equal(t, "111", resp.DryRun.CampaignID)

	assert.Zero(t, engine.applyCalls, "unconfirmed apply must not execute")
}

func TestApplyConfirmedExecutes(t *testing.T) {
	run := &models.ApplyRun{
		ID:     uuid.New(),
		Status: models.ApplyRunStatusSuccess,
	}
	engine := &mockEngine{result: &services.ApplyResult{Run: run}}
	h := newRecsHandler(engine, &mockLifecycle{}, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/"+recID.String(),
		ApplyRequest{ConfirmDryRun: true, IdempotencyKey: "key-from-preview"})
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Apply(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.applyCalls)
	assert.Equal(t, "key-from-preview", engine.lastApplyKey)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestApplyHeaderKeyWinsOverBody(t *testing.T) {
	engine := &mockEngine{result: &services.ApplyResult{Run: &models.ApplyRun{ID: uuid.New()}}}
	h := newRecsHandler(engine, &mockLifecycle{}, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/"+recID.String(),
		ApplyRequest{ConfirmDryRun: true, IdempotencyKey: "body-key"})
	req.Header.Set("Idempotency-Key", "header-key")
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Apply(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "header-key", engine.lastApplyKey)
}

func TestApplyErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"unsupported", fmt.Errorf("%w: type adcopy", apperrors.ErrUnsupportedOperation), http.StatusBadRequest, "unsupported_operation"},
		{"precondition", fmt.Errorf("%w: is applied", apperrors.ErrPreconditionFailed), http.StatusBadRequest, "precondition_failed"},
		{"no account", apperrors.ErrNoActiveAccount, http.StatusBadRequest, "no_active_account"},
		{"guardrail", fmt.Errorf("%w: cap", apperrors.ErrGuardrailViolation), http.StatusUnprocessableEntity, "guardrail_violation"},
		{"gateway", &ads.GatewayError{Operation: "mutate", StatusCode: 503, Message: "down"}, http.StatusBadGateway, "ads_gateway_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{applyErr: tt.err}
			h := newRecsHandler(engine, &mockLifecycle{}, nil)

			recID := uuid.New()
			req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/"+recID.String(),
				ApplyRequest{ConfirmDryRun: true, IdempotencyKey: "k"})
			req.SetPathValue("rid", recID.String())
			rec := httptest.NewRecorder()
			h.Apply(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp["error"])
		})
	}
}

func TestApplyInvalidRecommendationID(t *testing.T) {
	h := newRecsHandler(&mockEngine{}, &mockLifecycle{}, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/not-a-uuid", nil)
	req.SetPathValue("rid", "not-a-uuid")
	rec := httptest.NewRecorder()
	h.Apply(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyWithoutClaims(t *testing.T) {
	h := newRecsHandler(&mockEngine{}, &mockLifecycle{}, nil)

	recID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/apply/recommendations/"+recID.String(), nil)
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Apply(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDryRunEndpoint(t *testing.T) {
	engine := &mockEngine{dryRun: &models.DryRunResult{
		Type:             models.RecommendationTypeBudget,
		CampaignID:       "111",
		ValidationPassed: false,
		Error:            "budget change of 50.0% cannot exceed 30%",
	}}
	h := newRecsHandler(engine, &mockLifecycle{}, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/apply/recommendations/"+recID.String()+"/dry-run", nil)
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.DryRun(rec, req)

	// A failing validation is still a 200; the preview carries the
	// verdict as data.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestApproveEndpoint(t *testing.T) {
	lifecycle := &mockLifecycle{rec: &models.Recommendation{
		ID:     uuid.New(),
		Status: models.RecommendationStatusApproved,
	}}
	h := newRecsHandler(&mockEngine{}, lifecycle, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/recommendations/"+recID.String()+"/approve", nil)
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Approve(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApproveNonDraft(t *testing.T) {
	lifecycle := &mockLifecycle{err: fmt.Errorf("%w: already applied", apperrors.ErrPreconditionFailed)}
	h := newRecsHandler(&mockEngine{}, lifecycle, nil)

	recID := uuid.New()
	req := authedRequest(t, http.MethodPost, "/api/v1/recommendations/"+recID.String()+"/approve", nil)
	req.SetPathValue("rid", recID.String())
	rec := httptest.NewRecorder()
	h.Approve(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateEndpoint(t *testing.T) {
	gen := &mockGenerator{recs: []*models.Recommendation{{
		ID:   uuid.New(),
		Type: models.RecommendationTypeBudget,
	}}}
	h := newRecsHandler(&mockEngine{}, &mockLifecycle{}, gen)

	req := authedRequest(t, http.MethodPost, "/api/v1/recommendations/generate",
		GenerateRequest{CustomerID: "1234567890"})
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestGenerateWithoutProvider(t *testing.T) {
	h := newRecsHandler(&mockEngine{}, &mockLifecycle{}, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/recommendations/generate",
		GenerateRequest{CustomerID: "1234567890"})
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerateRequiresCustomerID(t *testing.T) {
	h := newRecsHandler(&mockEngine{}, &mockLifecycle{}, &mockGenerator{})

	req := authedRequest(t, http.MethodPost, "/api/v1/recommendations/generate",
		GenerateRequest{})
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecommendations(t *testing.T) {
	lifecycle := &mockLifecycle{rec: &models.Recommendation{
		ID:     uuid.New(),
		Type:   models.RecommendationTypeBudget,
		Status: models.RecommendationStatusDraft,
	}}
	h := newRecsHandler(&mockEngine{}, lifecycle, nil)

	req := authedRequest(t, http.MethodGet, "/api/v1/recommendations?status=draft", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                       `json:"success"`
		Data    RecommendationListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.Total)
}
