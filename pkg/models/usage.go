package models

import (
	"time"
)

// Feature identifies which AI feature consumed tokens
type Feature string

const (
	FeatureGenerate Feature = "generate"
	FeatureEnhance  Feature = "enhance"
	FeatureQuestion Feature = "question"
	FeatureExtract  Feature = "extract"
	FeatureSuggest  Feature = "suggest"
)

// UsageQuota is the per-user, per-month token ledger row.
// tokens_used only ever grows within a month; tokens_limit is a snapshot of
// the plan allowance taken at creation or on the last tier change.
type UsageQuota struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Month       string    `json:"month" db:"month"` // YYYY-MM
	TokensUsed  int64     `json:"tokens_used" db:"tokens_used"`
	TokensLimit int64     `json:"tokens_limit" db:"tokens_limit"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// UsageEvent is one append-only audit row per successful AI call
type UsageEvent struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	TokensUsed int64     `json:"tokens_used" db:"tokens_used"`
	Model      string    `json:"model" db:"model"`
	Feature    Feature   `json:"feature" db:"feature"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MonthlyUsage is the usage summary returned to callers
type MonthlyUsage struct {
	Used       int64   `json:"used"`
	Limit      int64   `json:"limit"`
	Percentage float64 `json:"percentage"`
}
