package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateCustomerRequest struct {
	ProviderID string
	AccountID  *snowflake.ID
}

type ListCustomerFilter struct {
	AfterID       snowflake.ID
	Limit         int
	IncludePurged bool
}

// Service owns the customer mirror. Methods taking a *gorm.DB run on that handle so they
// join the caller's transaction; nil means the service's own connection.
type Service interface {
	Create(ctx context.Context, db *gorm.DB, req CreateCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, id snowflake.ID) (Customer, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Customer, error)
	FindByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Customer, error)
	List(ctx context.Context, filter ListCustomerFilter) ([]Customer, error)

	// Sync refreshes the cached payment instrument from the remote customer.
	Sync(ctx context.Context, db *gorm.DB, customer *Customer) error
	// ApplyCard overwrites the cached payment instrument from an already fetched record.
	ApplyCard(ctx context.Context, db *gorm.DB, customer *Customer, fingerprint, last4, kind string) error
	// Purge deletes the remote customer and anonymizes the local row.
	Purge(ctx context.Context, db *gorm.DB, customer *Customer) error
}

var (
	ErrInvalidProviderID = errors.New("invalid_provider_id")
	ErrNotFound          = errors.New("not_found")
	ErrAlreadyExists     = errors.New("customer_already_exists")
)
