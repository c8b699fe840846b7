package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

type mockAuditReader struct {
	entries        []*models.AuditLogEntry
	err            error
	lastAction     string
	lastTargetType string
}

func (m *mockAuditReader) List(_ context.Context, _ uuid.UUID, action, targetType string, _, _ int) ([]*models.AuditLogEntry, error) {
	m.lastAction = action
	m.lastTargetType = targetType
	return m.entries, m.err
}

func TestListAuditLogs(t *testing.T) {
	reader := &mockAuditReader{entries: []*models.AuditLogEntry{
		{ID: uuid.New(), Action: "campaign.budget", TargetID: "111", Success: true},
		{ID: uuid.New(), Action: "campaign.pause", TargetID: "222", Success: false},
	}}
	h := NewAuditHandler(reader, zap.NewNop())

	req := authedRequest(t, http.MethodGet, "/api/v1/apply/audit?action=campaign.budget&targetType=campaign", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "campaign.budget", reader.lastAction)
	assert.Equal(t, "campaign", reader.lastTargetType)

	var resp struct {
		Success bool              `json:"success"`
		Data    AuditListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Data.Total)
}

func TestListAuditLogsUnauthenticated(t *testing.T) {
	h := NewAuditHandler(&mockAuditReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apply/audit", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
