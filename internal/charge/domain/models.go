package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Charge mirrors a remote charge. Paid, Disputed and Refunded stay nil until the remote
// reports them.
type Charge struct {
	ID             snowflake.ID        `gorm:"primaryKey" json:"id"`
	ProviderID     string              `gorm:"not null;uniqueIndex" json:"provider_id"`
	CustomerID     snowflake.ID        `gorm:"not null;index" json:"customer_id"`
	InvoiceID      *snowflake.ID       `gorm:"index" json:"invoice_id,omitempty"`
	CardLast4      string              `gorm:"column:card_last4;not null;default:''" json:"card_last4"`
	CardKind       string              `gorm:"not null;default:''" json:"card_kind"`
	Currency       string              `gorm:"not null;default:''" json:"currency"`
	Amount         decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"amount"`
	AmountRefunded decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"amount_refunded"`
	Description    string              `gorm:"not null;default:''" json:"description"`
	Paid           *bool               `json:"paid"`
	Disputed       *bool               `json:"disputed"`
	Refunded       *bool               `json:"refunded"`
	Fee            decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"fee"`
	ReceiptSent    bool                `gorm:"not null;default:false" json:"receipt_sent"`
	ChargedAt      *time.Time          `json:"charged_at,omitempty"`
	CreatedAt      time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"not null" json:"updated_at"`
}

// Refundable is the amount not yet refunded.
func (c Charge) Refundable() decimal.Decimal {
	if !c.AmountRefunded.Valid {
		return c.Amount
	}
	return c.Amount.Sub(c.AmountRefunded.Decimal)
}
