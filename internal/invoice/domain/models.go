package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Invoice mirrors a remote invoice. PeriodEnd is recomputed from the line items on sync.
type Invoice struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProviderID       string          `gorm:"not null;uniqueIndex" json:"provider_id"`
	CustomerID       snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	Attempted        bool            `gorm:"not null;default:false" json:"attempted"`
	Closed           bool            `gorm:"not null;default:false" json:"closed"`
	Paid             bool            `gorm:"not null;default:false" json:"paid"`
	Currency         string          `gorm:"not null;default:''" json:"currency"`
	PeriodStart      *time.Time      `json:"period_start,omitempty"`
	PeriodEnd        *time.Time      `json:"period_end,omitempty"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Total            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	ChargeProviderID string          `gorm:"not null;default:''" json:"charge_provider_id,omitempty"`
	InvoicedAt       *time.Time      `json:"invoiced_at,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

// IsOpen reports whether the invoice still awaits payment.
func (i Invoice) IsOpen() bool {
	return !i.Paid && !i.Closed
}

type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoice_items_invoice_provider" json:"invoice_id"`
	ProviderID  string          `gorm:"not null;uniqueIndex:ux_invoice_items_invoice_provider" json:"provider_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency    string          `gorm:"not null;default:''" json:"currency"`
	Proration   bool            `gorm:"not null;default:false" json:"proration"`
	LineType    string          `gorm:"not null;default:''" json:"line_type"`
	Description string          `gorm:"not null;default:''" json:"description"`
	PlanID      string          `gorm:"not null;default:''" json:"plan_id,omitempty"`
	Quantity    int64           `gorm:"not null;default:0" json:"quantity"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}
