package services

import (
	"fmt"
	"math"

	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
	"github.com/adpilot-io/adpilot-engine/pkg/config"
)

// GuardrailService validates proposed changes against tenant-safety
// bounds. Validation is pure: no I/O, no state.
type GuardrailService struct {
	cfg config.GuardrailConfig
}

// NewGuardrailService creates a GuardrailService.
func NewGuardrailService(cfg config.GuardrailConfig) *GuardrailService {
	return &GuardrailService{cfg: cfg}
}

// ValidateBudgetChange checks a proposed budget move against the floor
// and the change cap. Every returned error wraps
// apperrors.ErrGuardrailViolation.
func (s *GuardrailService) ValidateBudgetChange(currentBudget, newBudget float64) error {
	if newBudget < s.cfg.MinDailyBudget {
		return fmt.Errorf("%w: budget cannot be less than $%g/day",
			apperrors.ErrGuardrailViolation, s.cfg.MinDailyBudget)
	}

	if currentBudget > 0 {
		changePercent := math.Abs(newBudget-currentBudget) / currentBudget * 100
		if changePercent > s.cfg.MaxBudgetChangePercent {
			return fmt.Errorf("%w: budget change of %.1f%% cannot exceed %g%%",
				apperrors.ErrGuardrailViolation, changePercent, s.cfg.MaxBudgetChangePercent)
		}
	}

	return nil
}

// BudgetIncreaseWarning returns a non-fatal warning when the increase
// crosses the warn threshold (strictly greater), and "" otherwise.
func (s *GuardrailService) BudgetIncreaseWarning(currentBudget, newBudget float64) string {
	if currentBudget <= 0 {
		return ""
	}
	if newBudget > currentBudget*(1+s.cfg.WarnBudgetIncreasePercent/100) {
		return fmt.Sprintf("Budget increase exceeds %g%% of current budget",
			s.cfg.WarnBudgetIncreasePercent)
	}
	return ""
}
