package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Ingest records one webhook delivery and, when it validates, dispatches it. Processing
	// failures are recorded on the event and never returned.
	Ingest(ctx context.Context, payload []byte, signature string) (IngestResult, error)

	// Dispatch applies a validated event. It is idempotent and returns the processing error.
	Dispatch(ctx context.Context, event *Event) error

	Retry(ctx context.Context, id snowflake.ID) (*Event, error)
	RetryFailed(ctx context.Context, limit int) (RetryResult, error)

	Get(ctx context.Context, id snowflake.ID) (EventDetail, error)
}

type IngestResult struct {
	Event     *Event
	Duplicate bool
}

type RetryResult struct {
	Attempted int `json:"attempted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type EventDetail struct {
	Event      Event                      `json:"event"`
	Exceptions []EventProcessingException `json:"exceptions"`
}

var (
	ErrMalformedPayload  = errors.New("malformed_payload")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrNotFound          = errors.New("event_not_found")
	ErrNotValid          = errors.New("event_not_valid")
	ErrLocked            = errors.New("event_locked")
	ErrUnknownCustomer   = errors.New("event_customer_not_found")
	ErrValidationPending = errors.New("event_validation_pending")
)
