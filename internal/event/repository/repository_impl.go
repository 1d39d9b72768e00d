package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/event/domain"
	"github.com/smallbiznis/billmirror/pkg/db"
	"gorm.io/gorm"
)

const eventColumns = `id, provider_id, kind, livemode, customer_id, webhook_message, validated_message,
	valid, processed, status, attempts, last_error, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, event *domain.Event) (bool, error) {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.ProviderID,
		event.Kind,
		event.Livemode,
		event.CustomerID,
		event.WebhookMessage,
		event.ValidatedMessage,
		event.Valid,
		event.Processed,
		event.Status,
		event.Attempts,
		event.LastError,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var item domain.Event
	err := conn.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByProviderID(ctx context.Context, conn *gorm.DB, providerID string) (*domain.Event, error) {
	var item domain.Event
	err := conn.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE provider_id = ?
		 LIMIT 1`,
		providerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ListRetryable returns unprocessed events that failed, never finished validation, or
// validated but were never dispatched, oldest first.
func (r *repo) ListRetryable(ctx context.Context, conn *gorm.DB, maxAttempts int, limit int) ([]*domain.Event, error) {
	var items []*domain.Event
	err := conn.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE status IN (?, ?, ?) AND processed = ? AND attempts < ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusFailed,
		domain.StatusReceived,
		domain.StatusValid,
		false,
		maxAttempts,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetValidation(ctx context.Context, conn *gorm.DB, event *domain.Event) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE events
		 SET validated_message = ?, valid = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		event.ValidatedMessage,
		event.Valid,
		event.Status,
		event.UpdatedAt,
		event.ID,
	).Error
}

func (r *repo) SetCustomer(ctx context.Context, conn *gorm.DB, id snowflake.ID, customerID snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE events
		 SET customer_id = ?, updated_at = ?
		 WHERE id = ?`,
		customerID,
		now,
		id,
	).Error
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE events
		 SET processed = ?, status = ?, attempts = attempts + 1, last_error = '', updated_at = ?
		 WHERE id = ?`,
		true,
		domain.StatusProcessed,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, conn *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE events
		 SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND processed = ?`,
		domain.StatusFailed,
		lastError,
		now,
		id,
		false,
	).Error
}

func (r *repo) InsertException(ctx context.Context, conn *gorm.DB, exception *domain.EventProcessingException) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO event_processing_exceptions (id, event_id, message, traceback, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exception.ID,
		exception.EventID,
		exception.Message,
		exception.Traceback,
		exception.Data,
		exception.CreatedAt,
	).Error
}

func (r *repo) ListExceptions(ctx context.Context, conn *gorm.DB, eventID snowflake.ID) ([]domain.EventProcessingException, error) {
	var items []domain.EventProcessingException
	err := conn.WithContext(ctx).Raw(
		`SELECT id, event_id, message, traceback, data, created_at
		 FROM event_processing_exceptions
		 WHERE event_id = ?
		 ORDER BY id ASC`,
		eventID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
