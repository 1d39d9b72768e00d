package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer mirrors one remote customer. A purged customer keeps its row so invoices and
// charges still resolve, but loses its account link and payment instrument.
type Customer struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	ProviderID      string        `gorm:"not null;uniqueIndex" json:"provider_id"`
	AccountID       *snowflake.ID `gorm:"uniqueIndex" json:"account_id,omitempty"`
	CardFingerprint string        `gorm:"not null;default:''" json:"card_fingerprint"`
	CardLast4       string        `gorm:"column:card_last4;not null;default:''" json:"card_last4"`
	CardKind        string        `gorm:"not null;default:''" json:"card_kind"`
	PurgedAt        *time.Time    `json:"purged_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (c Customer) CanCharge() bool {
	return c.CardFingerprint != "" && c.PurgedAt == nil
}

func (c Customer) IsPurged() bool {
	return c.PurgedAt != nil
}
