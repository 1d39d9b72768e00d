package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Plan mirrors a remote plan. Only the name may change after creation.
type Plan struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProviderID      string          `gorm:"not null;uniqueIndex" json:"provider_id"`
	Name            string          `gorm:"not null" json:"name"`
	Currency        string          `gorm:"not null" json:"currency"`
	Interval        string          `gorm:"column:billing_interval;not null" json:"interval"`
	IntervalCount   int64           `gorm:"not null;default:1" json:"interval_count"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	TrialPeriodDays *int64          `json:"trial_period_days,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}
