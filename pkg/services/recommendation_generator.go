package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/llm"
	"github.com/adpilot-io/adpilot-engine/pkg/models"
	"github.com/adpilot-io/adpilot-engine/pkg/repositories"
)

const generatorSystemPrompt = `You are a Google Ads optimization analyst. Given campaign data,
propose concrete optimizations. Respond with a JSON array only, no prose.
Each element:
{
  "type": "budget" | "pause" | "resume" | "keyword" | "adcopy" | "bid" | "negative_keyword",
  "campaignId": "<campaign id>",
  "proposal": { ... type-dependent payload; budget uses {"recommendedBudget": <number>} },
  "rationale": "<one sentence>",
  "confidence": <0.0-1.0>,
  "riskLevel": "low" | "medium" | "high"
}
Budget proposals must stay within 30% of the current budget and above $5/day.`

// RecommendationGenerator turns mirrored campaign data into draft
// recommendations via the configured LLM. Malformed items in the model
// output are skipped, not fatal.
type RecommendationGenerator struct {
	campaigns       repositories.CampaignRepository
	recommendations repositories.RecommendationRepository
	client          llm.Client
	logger          *zap.Logger
}

// NewRecommendationGenerator creates a RecommendationGenerator.
// client may be nil when no AI provider is configured; Generate then
// returns an error.
func NewRecommendationGenerator(
	campaigns repositories.CampaignRepository,
	recommendations repositories.RecommendationRepository,
	client llm.Client,
	logger *zap.Logger,
) *RecommendationGenerator {
	return &RecommendationGenerator{
		campaigns:       campaigns,
		recommendations: recommendations,
		client:          client,
		logger:          logger.Named("generator"),
	}
}

type generatedItem struct {
	Type       string          `json:"type"`
	CampaignID string          `json:"campaignId"`
	Proposal   json.RawMessage `json:"proposal"`
	Rationale  string          `json:"rationale"`
	Confidence float64         `json:"confidence"`
	RiskLevel  string          `json:"riskLevel"`
}

var knownRecommendationTypes = map[string]bool{
	models.RecommendationTypeBudget:          true,
	models.RecommendationTypePause:           true,
	models.RecommendationTypeResume:          true,
	models.RecommendationTypeKeyword:         true,
	models.RecommendationTypeAdCopy:          true,
	models.RecommendationTypeBid:             true,
	models.RecommendationTypeNegativeKeyword: true,
}

// Generate asks the LLM for recommendations over the tenant's mirrored
// campaigns and stores the valid ones as drafts.
func (g *RecommendationGenerator) Generate(ctx context.Context, tenantID uuid.UUID, customerID string) ([]*models.Recommendation, error) {
	if g.client == nil {
		return nil, fmt.Errorf("no AI provider configured")
	}

	campaigns, err := g.campaigns.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}

	prompt, err := buildGeneratorPrompt(campaigns, customerID)
	if err != nil {
		return nil, err
	}

	raw, err := g.client.Complete(ctx, generatorSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	items, err := parseGeneratedItems(raw)
	if err != nil {
		return nil, err
	}

	var created []*models.Recommendation
	for _, item := range items {
		if !knownRecommendationTypes[item.Type] || item.CampaignID == "" || len(item.Proposal) == 0 {
			g.logger.Warn("skipping malformed generated recommendation",
				zap.String("type", item.Type),
				zap.String("campaign_id", item.CampaignID))
			continue
		}

		rec := &models.Recommendation{
			TenantID:   tenantID,
			CustomerID: customerID,
			ScopeType:  "campaign",
			ScopeID:    item.CampaignID,
			Source:     models.RecommendationSourceAI,
			Type:       item.Type,
			Proposal:   item.Proposal,
			Rationale:  item.Rationale,
			Confidence: clampConfidence(item.Confidence),
			RiskLevel:  item.RiskLevel,
			Status:     models.RecommendationStatusDraft,
		}
		if err := g.recommendations.Create(ctx, rec); err != nil {
			return created, err
		}
		created = append(created, rec)
	}

	g.logger.Info("recommendations generated",
		zap.String("customer_id", customerID),
		zap.String("model", g.client.Model()),
		zap.Int("count", len(created)),
		zap.Int("skipped", len(items)-len(created)))

	return created, nil
}

func buildGeneratorPrompt(campaigns []*models.Campaign, customerID string) (string, error) {
	type campaignSummary struct {
		CampaignID  string  `json:"campaignId"`
		Name        string  `json:"name"`
		Status      string  `json:"status"`
		ChannelType string  `json:"channelType,omitempty"`
		DailyBudget float64 `json:"dailyBudget"`
	}

	summaries := make([]campaignSummary, 0, len(campaigns))
	for _, c := range campaigns {
		if c.CustomerID != customerID {
			continue
		}
		summaries = append(summaries, campaignSummary{
			CampaignID:  c.CampaignID,
			Name:        c.Name,
			Status:      c.Status,
			ChannelType: c.ChannelType,
			DailyBudget: c.Budget,
		})
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal campaign summaries: %w", err)
	}

	return fmt.Sprintf("Customer %s campaigns:\n%s", customerID, data), nil
}

// parseGeneratedItems tolerates markdown fences around the JSON array;
// several models wrap output despite instructions.
func parseGeneratedItems(raw string) ([]generatedItem, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var items []generatedItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("parse generated recommendations: %w", err)
	}
	return items, nil
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
