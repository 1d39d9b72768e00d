package domain

import (
	"context"
	"errors"

	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"gorm.io/gorm"
)

// SyncResult is what one invoice sync wrote. Charge is set when the invoice carries a
// charge; the caller sends its receipt once the surrounding transaction commits.
type SyncResult struct {
	Invoice *Invoice
	Items   []InvoiceItem
	Charge  *chargedomain.Charge
}

type Service interface {
	GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoice Invoice) ([]InvoiceItem, error)
	ListOpen(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]Invoice, error)

	// Sync re-fetches the invoice and upserts it with its items and charge.
	Sync(ctx context.Context, db *gorm.DB, providerID string) (SyncResult, error)
	Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Invoice) (SyncResult, error)
	// SyncAll mirrors every remote invoice of the customer.
	SyncAll(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]SyncResult, error)

	// Create asks the remote to invoice pending items now.
	Create(ctx context.Context, customer customerdomain.Customer) (*billing.Invoice, error)
	// Pay attempts payment. An invoice that is already paid is not an error.
	Pay(ctx context.Context, providerID string) error
}

var (
	ErrNotFound        = errors.New("invoice_not_found")
	ErrUnknownCustomer = errors.New("invoice_customer_not_found")
)
