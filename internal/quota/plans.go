package quota

import (
	"time"

	"github.com/quillnotes/quill/internal/config"
	"github.com/quillnotes/quill/pkg/models"
)

// PlanLimits is the immutable monthly token allowance per tier, built from
// configuration at startup and injected into every component that needs it
type PlanLimits struct {
	Free int64
	Pro  int64
}

// NewPlanLimits builds plan limits from configuration
func NewPlanLimits(cfg config.PlansConfig) PlanLimits {
	return PlanLimits{
		Free: cfg.FreeMonthlyTokens,
		Pro:  cfg.ProMonthlyTokens,
	}
}

// ForTier returns the monthly token allowance for a tier
func (p PlanLimits) ForTier(tier models.Tier) int64 {
	if tier == models.TierPro {
		return p.Pro
	}
	return p.Free
}

// MonthKey formats a point in time as the calendar-month ledger key
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
