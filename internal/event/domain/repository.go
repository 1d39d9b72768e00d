package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when an event with the same remote id already exists.
	Insert(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Event, error)
	ListRetryable(ctx context.Context, db *gorm.DB, maxAttempts int, limit int) ([]*Event, error)

	SetValidation(ctx context.Context, db *gorm.DB, event *Event) error
	SetCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID snowflake.ID, now time.Time) error
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error

	InsertException(ctx context.Context, db *gorm.DB, exception *EventProcessingException) error
	ListExceptions(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]EventProcessingException, error)
}
