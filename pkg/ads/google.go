package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/adpilot-io/adpilot-engine/pkg/logging"
)

const apiVersion = "v17"

// Config holds the developer-level Google Ads credentials shared by
// all tenants. Per-tenant refresh tokens are passed per call.
type Config struct {
	DeveloperToken  string
	ClientID        string
	ClientSecret    string
	LoginCustomerID string
	Endpoint        string // default https://googleads.googleapis.com
	Timeout         time.Duration
}

// GoogleGateway implements Gateway against the Google Ads REST API.
type GoogleGateway struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	// tokens is replaceable in tests to avoid a live OAuth exchange.
	tokens func(ctx context.Context, refreshToken string) (string, error)
}

// NewGoogleGateway creates a gateway with a bounded-timeout HTTP
// client. The timeout caps the single mutation call whose failure must
// not corrupt local state.
func NewGoogleGateway(cfg Config, logger *zap.Logger) *GoogleGateway {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://googleads.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	g := &GoogleGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("ads-gateway"),
	}
	g.tokens = g.exchangeRefreshToken
	return g
}

var _ Gateway = (*GoogleGateway)(nil)

// exchangeRefreshToken trades the tenant's refresh token for an
// access token.
func (g *GoogleGateway) exchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", &GatewayError{Operation: "token exchange", Message: err.Error(), Err: err}
	}
	return token.AccessToken, nil
}

func normalizeCustomerID(customerID string) string {
	return strings.ReplaceAll(customerID, "-", "")
}

func (g *GoogleGateway) do(ctx context.Context, refreshToken, operation, method, path string, body any) ([]byte, error) {
	accessToken, err := g.tokens(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.Endpoint+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("developer-token", g.cfg.DeveloperToken)
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", normalizeCustomerID(g.cfg.LoginCustomerID))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &GatewayError{Operation: operation, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	if resp.StatusCode >= 400 {
		g.logger.Warn("Google Ads API error",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("token", logging.RedactToken(refreshToken)))
		return nil, &GatewayError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    platformErrorMessage(respBody),
		}
	}

	return respBody, nil
}

// platformErrorMessage digs the human-readable message out of a
// Google Ads error payload, falling back to the raw body.
func platformErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	// searchStream errors arrive as an array
	var arr []struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &arr); err == nil && len(arr) > 0 && arr[0].Error.Message != "" {
		return arr[0].Error.Message
	}
	return string(body)
}

type searchRow struct {
	Campaign struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		Status      string      `json:"status"`
		ChannelType string      `json:"advertisingChannelType"`
	} `json:"campaign"`
	CampaignBudget struct {
		AmountMicros json.Number `json:"amountMicros"`
		ResourceName string      `json:"resourceName"`
	} `json:"campaignBudget"`
}

func (g *GoogleGateway) search(ctx context.Context, refreshToken, customerID, query string) ([]searchRow, error) {
	path := fmt.Sprintf("/%s/customers/%s/googleAds:searchStream", apiVersion, normalizeCustomerID(customerID))
	body, err := g.do(ctx, refreshToken, "search", http.MethodPost, path, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	var chunks []struct {
		Results []searchRow `json:"results"`
	}
	if err := json.Unmarshal(body, &chunks); err != nil {
		return nil, &GatewayError{Operation: "search", Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}

	var rows []searchRow
	for _, chunk := range chunks {
		rows = append(rows, chunk.Results...)
	}
	return rows, nil
}

func rowToState(row searchRow) *CampaignState {
	micros, _ := row.CampaignBudget.AmountMicros.Int64()
	return &CampaignState{
		CampaignID:   row.Campaign.ID.String(),
		Name:         row.Campaign.Name,
		Status:       row.Campaign.Status,
		ChannelType:  row.Campaign.ChannelType,
		BudgetMicros: micros,
	}
}

// GetCampaign reads current budget and status for one campaign.
func (g *GoogleGateway) GetCampaign(ctx context.Context, refreshToken, customerID, campaignID string) (*CampaignState, error) {
	query := fmt.Sprintf(`
		SELECT campaign.id, campaign.name, campaign.status,
		       campaign.advertising_channel_type,
		       campaign_budget.amount_micros, campaign_budget.resource_name
		FROM campaign
		WHERE campaign.id = %s`, campaignID)

	rows, err := g.search(ctx, refreshToken, customerID, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &GatewayError{Operation: "get campaign", StatusCode: 404, Message: "campaign not found in platform"}
	}
	return rowToState(rows[0]), nil
}

// ListCampaigns reads all non-removed campaigns for a customer.
func (g *GoogleGateway) ListCampaigns(ctx context.Context, refreshToken, customerID string) ([]*CampaignState, error) {
	query := `
		SELECT campaign.id, campaign.name, campaign.status,
		       campaign.advertising_channel_type,
		       campaign_budget.amount_micros, campaign_budget.resource_name
		FROM campaign
		WHERE campaign.status != 'REMOVED'
		ORDER BY campaign.name`

	rows, err := g.search(ctx, refreshToken, customerID, query)
	if err != nil {
		return nil, err
	}

	states := make([]*CampaignState, 0, len(rows))
	for _, row := range rows {
		states = append(states, rowToState(row))
	}
	return states, nil
}

// budgetResourceName finds the campaign's shared budget resource.
func (g *GoogleGateway) budgetResourceName(ctx context.Context, refreshToken, customerID, campaignID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT campaign.id, campaign_budget.resource_name, campaign_budget.amount_micros
		FROM campaign
		WHERE campaign.id = %s`, campaignID)

	rows, err := g.search(ctx, refreshToken, customerID, query)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].CampaignBudget.ResourceName == "" {
		return "", &GatewayError{Operation: "update budget", StatusCode: 404, Message: "campaign budget not found in platform"}
	}
	return rows[0].CampaignBudget.ResourceName, nil
}

// UpdateCampaignBudget sets the campaign's daily budget in micros.
func (g *GoogleGateway) UpdateCampaignBudget(ctx context.Context, refreshToken, customerID, campaignID string, budgetMicros int64) error {
	resourceName, err := g.budgetResourceName(ctx, refreshToken, customerID, campaignID)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/%s/customers/%s/campaignBudgets:mutate", apiVersion, normalizeCustomerID(customerID))
	payload := map[string]any{
		"operations": []map[string]any{{
			"updateMask": "amount_micros",
			"update": map[string]any{
				"resourceName": resourceName,
				"amountMicros": budgetMicros,
			},
		}},
	}

	_, err = g.do(ctx, refreshToken, "update budget", http.MethodPost, path, payload)
	return err
}

// UpdateCampaignStatus sets the campaign status (ENABLED or PAUSED).
func (g *GoogleGateway) UpdateCampaignStatus(ctx context.Context, refreshToken, customerID, campaignID, status string) error {
	cid := normalizeCustomerID(customerID)
	path := fmt.Sprintf("/%s/customers/%s/campaigns:mutate", apiVersion, cid)
	payload := map[string]any{
		"operations": []map[string]any{{
			"updateMask": "status",
			"update": map[string]any{
				"resourceName": fmt.Sprintf("customers/%s/campaigns/%s", cid, campaignID),
				"status":       status,
			},
		}},
	}

	_, err := g.do(ctx, refreshToken, "update status", http.MethodPost, path, payload)
	return err
}
