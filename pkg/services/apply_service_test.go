package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/crypto"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
)

// ---- fakes ----

type fakeRecommendationRepo struct {
	recs map[uuid.UUID]*models.Recommendation
}

func newFakeRecommendationRepo() *fakeRecommendationRepo {
	return &fakeRecommendationRepo{recs: make(map[uuid.UUID]*models.Recommendation)}
}

func (f *fakeRecommendationRepo) Create(_ context.Context, rec *models.Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeRecommendationRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.Recommendation, error) {
	rec, ok := f.recs[id]
	if !ok || rec.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeRecommendationRepo) List(_ context.Context, tenantID uuid.UUID, status string, _, _ int) ([]*models.Recommendation, error) {
	var out []*models.Recommendation
	for _, rec := range f.recs {
		if rec.TenantID == tenantID && (status == "" || rec.Status == status) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecommendationRepo) UpdateStatus(_ context.Context, id uuid.UUID, fromStatus, toStatus string) error {
	rec, ok := f.recs[id]
	if !ok || rec.Status != fromStatus {
		return apperrors.ErrPreconditionFailed
	}
	rec.Status = toStatus
	return nil
}

func (f *fakeRecommendationRepo) MarkApplied(_ context.Context, id, appliedBy uuid.UUID, appliedAt time.Time) error {
	rec, ok := f.recs[id]
	if !ok || rec.Status != models.RecommendationStatusApproved {
		return apperrors.ErrPreconditionFailed
	}
	rec.Status = models.RecommendationStatusApplied
	rec.AppliedAt = &appliedAt
	rec.AppliedBy = &appliedBy
	return nil
}

type fakeCampaignRepo struct {
	campaigns map[string]*models.Campaign

	// updateErr fails the next UpdateWithVersion outright; staleOnce
	// makes the next call return ErrStaleVersion instead.
	updateErr error
	staleOnce bool
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[string]*models.Campaign)}
}

func campaignKey(tenantID uuid.UUID, customerID, campaignID string) string {
	return tenantID.String() + "/" + customerID + "/" + campaignID
}

func (f *fakeCampaignRepo) Find(_ context.Context, tenantID uuid.UUID, customerID, campaignID string) (*models.Campaign, error) {
	c, ok := f.campaigns[campaignKey(tenantID, customerID, campaignID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCampaignRepo) List(_ context.Context, tenantID uuid.UUID) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) Upsert(_ context.Context, c *models.Campaign) error {
	key := campaignKey(c.TenantID, c.CustomerID, c.CampaignID)
	if existing, ok := f.campaigns[key]; ok {
		c.ID = existing.ID
		c.Version = existing.Version + 1
	} else {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Version = 1
	}
	clone := *c
	f.campaigns[key] = &clone
	return nil
}

func (f *fakeCampaignRepo) UpdateWithVersion(_ context.Context, c *models.Campaign, expectedVersion int64) error {
	if f.updateErr != nil {
		err := f.updateErr
		f.updateErr = nil
		return err
	}
	if f.staleOnce {
		f.staleOnce = false
		return apperrors.ErrStaleVersion
	}
	for key, existing := range f.campaigns {
		if existing.ID == c.ID {
			if existing.Version != expectedVersion {
				return apperrors.ErrStaleVersion
			}
			clone := *c
			clone.Version = expectedVersion + 1
			f.campaigns[key] = &clone
			c.Version = clone.Version
			return nil
		}
	}
	return apperrors.ErrNotFound
}

type fakeApplyRunRepo struct {
	byKey map[string]*models.ApplyRun
	byID  map[uuid.UUID]*models.ApplyRun

	// createErr forces the next Create to fail, simulating a lost
	// unique-index race.
	createErr error
}

func newFakeApplyRunRepo() *fakeApplyRunRepo {
	return &fakeApplyRunRepo{
		byKey: make(map[string]*models.ApplyRun),
		byID:  make(map[uuid.UUID]*models.ApplyRun),
	}
}

func (f *fakeApplyRunRepo) Create(_ context.Context, run *models.ApplyRun) error {
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		return err
	}
	if _, ok := f.byKey[run.IdempotencyKey]; ok {
		return apperrors.ErrConflict
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.ApplyRunStatusPending
	clone := *run
	f.byKey[run.IdempotencyKey] = &clone
	f.byID[run.ID] = &clone
	return nil
}

func (f *fakeApplyRunRepo) FindByIdempotencyKey(_ context.Context, key string) (*models.ApplyRun, error) {
	run, ok := f.byKey[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (f *fakeApplyRunRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.ApplyRun, error) {
	run, ok := f.byID[id]
	if !ok || run.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (f *fakeApplyRunRepo) List(_ context.Context, tenantID uuid.UUID, _, _ int) ([]*models.ApplyRun, error) {
	var out []*models.ApplyRun
	for _, run := range f.byID {
		if run.TenantID == tenantID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeApplyRunRepo) MarkSuccess(_ context.Context, id uuid.UUID, changes *models.AppliedChange) error {
	run, ok := f.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if run.Status != models.ApplyRunStatusPending {
		return apperrors.ErrPreconditionFailed
	}
	run.Status = models.ApplyRunStatusSuccess
	run.AppliedChanges = changes
	return nil
}

func (f *fakeApplyRunRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	run, ok := f.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if run.Status != models.ApplyRunStatusPending {
		return apperrors.ErrPreconditionFailed
	}
	run.Status = models.ApplyRunStatusFailed
	run.Error = errMsg
	return nil
}

type fakeAdsAccountRepo struct {
	account *models.AdsAccount
}

func (f *fakeAdsAccountRepo) GetActive(_ context.Context, tenantID uuid.UUID) (*models.AdsAccount, error) {
	if f.account == nil || f.account.TenantID != tenantID {
		return nil, apperrors.ErrNoActiveAccount
	}
	return f.account, nil
}

func (f *fakeAdsAccountRepo) Upsert(_ context.Context, account *models.AdsAccount) error {
	f.account = account
	return nil
}

func (f *fakeAdsAccountRepo) UpdateSyncStatus(_ context.Context, _ uuid.UUID, status string, syncedAt *time.Time, errMsg string) error {
	if f.account != nil {
		f.account.Status = status
		if syncedAt != nil {
			f.account.LastSyncAt = syncedAt
		}
		f.account.ErrorMessage = errMsg
	}
	return nil
}

type fakeAuditRepo struct {
	entries []*models.AuditLogEntry
}

func (f *fakeAuditRepo) Append(_ context.Context, entry *models.AuditLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) List(_ context.Context, _ uuid.UUID, _, _ string, _, _ int) ([]*models.AuditLogEntry, error) {
	return f.entries, nil
}

type fakeGateway struct {
	state *ads.CampaignState

	budgetCalls []int64
	statusCalls []string
	getCalls    int
	listCalls   int

	budgetErr error
	statusErr error

	// listErrs are consumed one per ListCampaigns call, simulating
	// transient failures.
	listErrs []error
}

func (f *fakeGateway) GetCampaign(_ context.Context, _, _, _ string) (*ads.CampaignState, error) {
	f.getCalls++
	if f.state == nil {
		return nil, &ads.GatewayError{Operation: "GetCampaign", StatusCode: 404, Message: "campaign not found"}
	}
	clone := *f.state
	return &clone, nil
}

func (f *fakeGateway) ListCampaigns(_ context.Context, _, _ string) ([]*ads.CampaignState, error) {
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	if f.state == nil {
		return nil, nil
	}
	clone := *f.state
	return []*ads.CampaignState{&clone}, nil
}

func (f *fakeGateway) UpdateCampaignBudget(_ context.Context, _, _, _ string, budgetMicros int64) error {
	if f.budgetErr != nil {
		return f.budgetErr
	}
	f.budgetCalls = append(f.budgetCalls, budgetMicros)
	f.state.BudgetMicros = budgetMicros
	return nil
}

func (f *fakeGateway) UpdateCampaignStatus(_ context.Context, _, _, _ string, status string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusCalls = append(f.statusCalls, status)
	f.state.Status = status
	return nil
}

// ---- fixture ----

type applyFixture struct {
	svc      *ApplyService
	recs     *fakeRecommendationRepo
	runs     *fakeApplyRunRepo
	mirrors  *fakeCampaignRepo
	audit    *fakeAuditRepo
	gateway  *fakeGateway
	tenantID uuid.UUID
	userID   uuid.UUID
}

const testCustomerID = "1234567890"

func testCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	cipher, err := crypto.NewTokenCipher(key)
	require.NoError(t, err)
	return cipher
}

func newApplyFixture(t *testing.T) *applyFixture {
	t.Helper()

	tenantID := uuid.New()
	cipher := testCipher(t)
	enc, err := cipher.Encrypt("refresh-token-1")
	require.NoError(t, err)

	recs := newFakeRecommendationRepo()
	runs := newFakeApplyRunRepo()
	mirrors := newFakeCampaignRepo()
	audit := &fakeAuditRepo{}
	accounts := &fakeAdsAccountRepo{account: &models.AdsAccount{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Email:           "ads@example.com",
		RefreshTokenEnc: enc,
		Status:          models.AdsAccountStatusActive,
	}}
	gateway := &fakeGateway{state: &ads.CampaignState{
		CampaignID:   "111",
		Name:         "Brand - Search",
		Status:       models.CampaignStatusEnabled,
		ChannelType:  "SEARCH",
		BudgetMicros: 100_000_000, // $100/day
	}}

	// The mirror is the source of current state for dry run and
	// guardrail validation.
	require.NoError(t, mirrors.Upsert(context.Background(), &models.Campaign{
		TenantID:    tenantID,
		CustomerID:  testCustomerID,
		CampaignID:  "111",
		Name:        "Brand - Search",
		Status:      models.CampaignStatusEnabled,
		ChannelType: "SEARCH",
		Budget:      100,
	}))

	guardrails := NewGuardrailService(defaultGuardrails())
	svc := NewApplyService(recs, mirrors, runs, accounts, audit, gateway, guardrails, cipher, zap.NewNop())

	return &applyFixture{
		svc:      svc,
		recs:     recs,
		runs:     runs,
		mirrors:  mirrors,
		audit:    audit,
		gateway:  gateway,
		tenantID: tenantID,
		userID:   uuid.New(),
	}
}

func (f *applyFixture) addRecommendation(t *testing.T, recType, status string, proposal any) *models.Recommendation {
	t.Helper()
	raw, err := json.Marshal(proposal)
	require.NoError(t, err)

	rec := &models.Recommendation{
		ID:         uuid.New(),
		TenantID:   f.tenantID,
		CustomerID: testCustomerID,
		ScopeType:  "campaign",
		ScopeID:    "111",
		Source:     models.RecommendationSourceAI,
		Type:       recType,
		Proposal:   raw,
		Status:     status,
	}
	f.recs.recs[rec.ID] = rec
	return rec
}

// ---- tests ----

func TestApplyBudgetSuccess(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	result, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	assert.False(t, result.Reused)
	assert.Equal(t, models.ApplyRunStatusSuccess, result.Run.Status)
	require.NotNil(t, result.Run.AppliedChanges)
	assert.Equal(t, "budget", result.Run.AppliedChanges.Field)
	assert.Equal(t, 100.0, result.Run.AppliedChanges.From)
	assert.Equal(t, 120.0, result.Run.AppliedChanges.To)

	// Micros conversion is a rounded multiply.
	require.Len(t, f.gateway.budgetCalls, 1)
	assert.Equal(t, int64(120_000_000), f.gateway.budgetCalls[0])

	// Recommendation reached applied.
	assert.Equal(t, models.RecommendationStatusApplied, f.recs.recs[rec.ID].Status)
	assert.NotNil(t, f.recs.recs[rec.ID].AppliedAt)

	// One success audit entry.
	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.True(t, entry.Success)
	assert.Equal(t, "campaign.budget", entry.Action)
	assert.Equal(t, "111", entry.TargetID)
	assert.Equal(t, 100.0, entry.Before["budget"])
	assert.Equal(t, 120.0, entry.After["budget"])
}

func TestApplyBudgetRoundsFractionalMicros(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 99.99})

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	require.Len(t, f.gateway.budgetCalls, 1)
	assert.Equal(t, int64(99_990_000), f.gateway.budgetCalls[0])
}

func TestApplyIdempotentReplay(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	first, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	// The recommendation is now applied; the replay must still resolve
	// through the key lookup rather than failing the status check.
	second, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Len(t, f.gateway.budgetCalls, 1, "mutation must run exactly once per key")
}

func TestApplyConflictRaceFallsBackToLookup(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	// The winner's run appears between our lookup and our insert.
	winner := &models.ApplyRun{
		ID:               uuid.New(),
		TenantID:         f.tenantID,
		RecommendationID: rec.ID,
		IdempotencyKey:   "key-1",
		Status:           models.ApplyRunStatusSuccess,
		AppliedBy:        f.userID,
	}
	f.runs.createErr = apperrors.ErrConflict
	f.runs.byKey["key-1"] = winner
	f.runs.byID[winner.ID] = winner

	result, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	assert.True(t, result.Reused)
	assert.Equal(t, winner.ID, result.Run.ID)
	assert.Empty(t, f.gateway.budgetCalls)
}

func TestApplyGuardrailViolationFailsRun(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 200})

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGuardrailViolation))

	// Run ledger records the failed attempt.
	run, findErr := f.runs.FindByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, findErr)
	assert.Equal(t, models.ApplyRunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "cannot exceed 30%")

	// No mutation reached the platform; recommendation stays approved.
	assert.Empty(t, f.gateway.budgetCalls)
	assert.Equal(t, models.RecommendationStatusApproved, f.recs.recs[rec.ID].Status)

	// Failure audit entry.
	require.Len(t, f.audit.entries, 1)
	assert.False(t, f.audit.entries[0].Success)
	assert.NotEmpty(t, f.audit.entries[0].ErrorMessage)
}

func TestApplyGatewayFailureFailsRun(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	f.gateway.budgetErr = &ads.GatewayError{
		Operation:  "UpdateCampaignBudget",
		StatusCode: 503,
		Message:    "backend unavailable",
	}

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)

	var gwErr *ads.GatewayError
	assert.True(t, errors.As(err, &gwErr))

	run, findErr := f.runs.FindByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, findErr)
	assert.Equal(t, models.ApplyRunStatusFailed, run.Status)

	// A failed run never moves the recommendation; retry happens with a
	// fresh key.
	assert.Equal(t, models.RecommendationStatusApproved, f.recs.recs[rec.ID].Status)

	require.Len(t, f.audit.entries, 1)
	assert.False(t, f.audit.entries[0].Success)
}

func TestApplyUnsupportedTypeCreatesNoRun(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeKeyword,
		models.RecommendationStatusApproved, map[string]any{"keywords": []string{"shoes"}})

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedOperation))

	_, findErr := f.runs.FindByIdempotencyKey(context.Background(), "key-1")
	assert.True(t, errors.Is(findErr, apperrors.ErrNotFound))
	assert.Empty(t, f.audit.entries)
}

func TestApplyRequiresApprovedStatus(t *testing.T) {
	f := newApplyFixture(t)

	for _, status := range []string{
		models.RecommendationStatusDraft,
		models.RecommendationStatusApplied,
		models.RecommendationStatusRejected,
	} {
		rec := f.addRecommendation(t, models.RecommendationTypeBudget,
			status, models.BudgetProposal{RecommendedBudget: 110})

		_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-"+status)
		require.Error(t, err, status)
		assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed), status)
	}

	assert.Empty(t, f.gateway.budgetCalls)
}

func TestApplyNoActiveAccount(t *testing.T) {
	f := newApplyFixture(t)
	otherTenant := uuid.New()
	rec := &models.Recommendation{
		ID:         uuid.New(),
		TenantID:   otherTenant,
		CustomerID: testCustomerID,
		ScopeID:    "111",
		Type:       models.RecommendationTypeBudget,
		Proposal:   json.RawMessage(`{"recommendedBudget": 110}`),
		Status:     models.RecommendationStatusApproved,
	}
	f.recs.recs[rec.ID] = rec

	_, err := f.svc.Apply(context.Background(), otherTenant, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoActiveAccount))
}

func TestApplyPauseUpdatesStatus(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypePause,
		models.RecommendationStatusApproved, map[string]any{})

	result, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	require.Len(t, f.gateway.statusCalls, 1)
	assert.Equal(t, models.CampaignStatusPaused, f.gateway.statusCalls[0])
	assert.Equal(t, models.CampaignStatusEnabled, result.Run.AppliedChanges.FromStatus)
	assert.Equal(t, models.CampaignStatusPaused, result.Run.AppliedChanges.ToStatus)
}

func TestApplyUpdatesMirror(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)

	mirror, err := f.mirrors.Find(context.Background(), f.tenantID, testCustomerID, "111")
	require.NoError(t, err)
	assert.Equal(t, 120.0, mirror.Budget)
	assert.Equal(t, int64(2), mirror.Version)
}

func TestApplyMirrorWriteFailureFailsRun(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	f.mirrors.updateErr = errors.New("connection reset")

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update campaign mirror")

	// The platform mutation happened, but the run still fails so the
	// divergence is visible in the ledger and audit trail.
	require.Len(t, f.gateway.budgetCalls, 1)

	run, findErr := f.runs.FindByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, findErr)
	assert.Equal(t, models.ApplyRunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "update campaign mirror")

	assert.Equal(t, models.RecommendationStatusApproved, f.recs.recs[rec.ID].Status)

	require.Len(t, f.audit.entries, 1)
	assert.False(t, f.audit.entries[0].Success)
}

func TestApplyMirrorStaleVersionRetries(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	f.mirrors.staleOnce = true

	result, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApplyRunStatusSuccess, result.Run.Status)

	mirror, err := f.mirrors.Find(context.Background(), f.tenantID, testCustomerID, "111")
	require.NoError(t, err)
	assert.Equal(t, 120.0, mirror.Budget)
}

func TestApplyCampaignMissingFromMirror(t *testing.T) {
	f := newApplyFixture(t)
	delete(f.mirrors.campaigns, campaignKey(f.tenantID, testCustomerID, "111"))
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// A missing campaign is a client error: no run, no mutation.
	_, findErr := f.runs.FindByIdempotencyKey(context.Background(), "key-1")
	assert.ErrorIs(t, findErr, apperrors.ErrNotFound)
	assert.Empty(t, f.gateway.budgetCalls)
}

func TestApplyForeignIdempotencyKeyIsConflict(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 120})

	// The unique index rejects the insert, but the existing run belongs
	// to another tenant and the scoped lookup cannot see it.
	f.runs.createErr = apperrors.ErrConflict

	_, err := f.svc.Apply(context.Background(), f.tenantID, f.userID, rec.ID, "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "already in use")
}

func TestDryRunBudgetPreview(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 125})

	result, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	require.NoError(t, err)

	assert.True(t, result.ValidationPassed)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "daily_budget", result.Changes[0].Field)
	assert.Equal(t, 100.0, result.Changes[0].From)
	assert.Equal(t, 125.0, result.Changes[0].To)
	assert.Equal(t, "+25.0%", result.Changes[0].PercentChange)

	// 25% increase passes the 30% cap but crosses the 20% warn line.
	require.Len(t, result.Warnings, 1)

	// Preview is pure: no mutation, no run.
	assert.Empty(t, f.gateway.budgetCalls)
	assert.Empty(t, f.runs.byKey)
}

func TestDryRunReadsMirrorNotPlatform(t *testing.T) {
	f := newApplyFixture(t)

	// Mirror and platform disagree; the mirror wins and no platform
	// call is made.
	f.mirrors.campaigns[campaignKey(f.tenantID, testCustomerID, "111")].Budget = 50

	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 60})

	result, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	require.NoError(t, err)

	assert.True(t, result.ValidationPassed)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, 50.0, result.Changes[0].From)
	assert.Equal(t, 60.0, result.Changes[0].To)
	assert.Zero(t, f.gateway.getCalls)
}

func TestDryRunGuardrailViolationIsData(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusApproved, models.BudgetProposal{RecommendedBudget: 200})

	result, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	require.NoError(t, err)

	assert.False(t, result.ValidationPassed)
	assert.Contains(t, result.Error, "cannot exceed 30%")
}

func TestDryRunUnsupportedType(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeAdCopy,
		models.RecommendationStatusApproved, map[string]any{"headline": "New shoes"})

	_, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedOperation)
}

func TestDryRunRequiresApprovedStatus(t *testing.T) {
	f := newApplyFixture(t)
	rec := f.addRecommendation(t, models.RecommendationTypeBudget,
		models.RecommendationStatusDraft, models.BudgetProposal{RecommendedBudget: 110})

	_, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	assert.ErrorIs(t, err, apperrors.ErrPreconditionFailed)
}

func TestDryRunPauseAlreadyPausedWarns(t *testing.T) {
	f := newApplyFixture(t)
	f.mirrors.campaigns[campaignKey(f.tenantID, testCustomerID, "111")].Status = models.CampaignStatusPaused
	rec := f.addRecommendation(t, models.RecommendationTypePause,
		models.RecommendationStatusApproved, map[string]any{})

	result, err := f.svc.DryRun(context.Background(), f.tenantID, rec.ID)
	require.NoError(t, err)

	assert.True(t, result.ValidationPassed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "already paused")
}
