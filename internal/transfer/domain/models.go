package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Transfer mirrors a remote payout with its summary counters. Rows are keyed solely by
// the remote transfer id.
type Transfer struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProviderID        string          `gorm:"not null;uniqueIndex" json:"provider_id"`
	EventID           *snowflake.ID   `gorm:"index" json:"event_id,omitempty"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency          string          `gorm:"not null;default:''" json:"currency"`
	Status            string          `gorm:"not null" json:"status"`
	TransferredAt     *time.Time      `json:"transferred_at,omitempty"`
	Description       string          `gorm:"not null;default:''" json:"description"`
	AdjustmentCount   int64           `gorm:"not null;default:0" json:"adjustment_count"`
	AdjustmentFees    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"adjustment_fees"`
	AdjustmentGross   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"adjustment_gross"`
	ChargeCount       int64           `gorm:"not null;default:0" json:"charge_count"`
	ChargeFees        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"charge_fees"`
	ChargeGross       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"charge_gross"`
	CollectedFeeCount int64           `gorm:"not null;default:0" json:"collected_fee_count"`
	CollectedFeeGross decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"collected_fee_gross"`
	Net               decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"net"`
	RefundCount       int64           `gorm:"not null;default:0" json:"refund_count"`
	RefundFees        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"refund_fees"`
	RefundGross       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"refund_gross"`
	ValidationCount   int64           `gorm:"not null;default:0" json:"validation_count"`
	ValidationFees    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"validation_fees"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

// TransferChargeFee is one line of the fee breakdown of a transfer.
type TransferChargeFee struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	TransferID  snowflake.ID    `gorm:"not null;index" json:"transfer_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency    string          `gorm:"not null;default:''" json:"currency"`
	Application string          `gorm:"not null;default:''" json:"application"`
	Description string          `gorm:"not null;default:''" json:"description"`
	Kind        string          `gorm:"not null;default:''" json:"kind"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}
