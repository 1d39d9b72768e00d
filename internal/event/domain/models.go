// Package domain holds the durable webhook envelope and its processing state.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the processing state of an Event.
//
//	received -> valid | invalid
//	valid    -> processed | failed
//	failed   -> processed | failed
type Status string

const (
	StatusReceived  Status = "received"
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Event is one webhook delivery, unique by the remote event id.
type Event struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProviderID       string         `gorm:"not null;uniqueIndex" json:"provider_id"`
	Kind             Kind           `gorm:"type:text;not null;index" json:"kind"`
	Livemode         bool           `gorm:"not null;default:false" json:"livemode"`
	CustomerID       *snowflake.ID  `gorm:"index" json:"customer_id,omitempty"`
	WebhookMessage   datatypes.JSON `gorm:"not null" json:"webhook_message"`
	ValidatedMessage datatypes.JSON `json:"validated_message,omitempty"`
	Valid            *bool          `json:"valid"`
	Processed        bool           `gorm:"not null;default:false" json:"processed"`
	Status           Status         `gorm:"type:text;not null;index" json:"status"`
	Attempts         int            `gorm:"not null;default:0" json:"attempts"`
	LastError        string         `gorm:"not null;default:''" json:"last_error,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

// Dispatchable reports whether the event passed validation and has not been applied yet.
func (e Event) Dispatchable() bool {
	return e.Valid != nil && *e.Valid && !e.Processed
}

// EventProcessingException is the audit trail of a failure while handling an Event.
// EventID is nil when the failure happened before the Event could be stored.
type EventProcessingException struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	EventID   *snowflake.ID `gorm:"index" json:"event_id,omitempty"`
	Message   string        `gorm:"not null" json:"message"`
	Traceback string        `gorm:"not null;default:''" json:"traceback,omitempty"`
	Data      string        `gorm:"not null;default:''" json:"data,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}
