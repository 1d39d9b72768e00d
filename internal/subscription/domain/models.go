// Package domain contains the local mirror of a customer's current subscription.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus mirrors the remote subscription status verbatim.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// CurrentSubscription is the single live subscription of a customer. Historical
// subscriptions are not kept.
type CurrentSubscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	CustomerID         snowflake.ID       `gorm:"not null;uniqueIndex" json:"customer_id"`
	PlanID             string             `gorm:"not null" json:"plan_id"`
	Quantity           int64              `gorm:"not null" json:"quantity"`
	Amount             decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency           string             `gorm:"not null;default:''" json:"currency"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	StartAt            *time.Time         `json:"start_at,omitempty"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	TrialStart         *time.Time         `json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (CurrentSubscription) TableName() string { return "current_subscriptions" }

// IsValid reports whether the subscription grants access at now. An at-period-end
// cancellation keeps access until the current period closes.
func (s CurrentSubscription) IsValid(now time.Time) bool {
	if s.Status != SubscriptionStatusTrialing && s.Status != SubscriptionStatusActive {
		return false
	}
	if !s.CancelAtPeriodEnd {
		return true
	}
	return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
}

// InTrial reports whether now falls inside the trial window.
func (s CurrentSubscription) InTrial(now time.Time) bool {
	if s.TrialStart == nil || s.TrialEnd == nil {
		return false
	}
	return !now.Before(*s.TrialStart) && now.Before(*s.TrialEnd)
}
