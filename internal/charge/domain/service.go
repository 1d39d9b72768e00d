package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"gorm.io/gorm"
)

type CreateChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type Service interface {
	GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Charge, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]Charge, error)

	// Sync re-fetches the charge and upserts it onto its owning customer.
	Sync(ctx context.Context, db *gorm.DB, providerID string) (*Charge, error)
	Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Charge) (*Charge, error)
	SyncAll(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]Charge, error)

	Create(ctx context.Context, customer customerdomain.Customer, req CreateChargeRequest) (*Charge, error)
	// Refund refunds amount, or the whole remainder when amount is nil. Amounts above the
	// remainder are clamped.
	Refund(ctx context.Context, charge Charge, amount *decimal.Decimal) (*Charge, error)
	// SendReceipt e-mails the account owner at most once per charge and reports whether a
	// message went out.
	SendReceipt(ctx context.Context, charge Charge) (bool, error)
}

var (
	ErrNotFound         = errors.New("charge_not_found")
	ErrUnknownCustomer  = errors.New("charge_customer_not_found")
	ErrCannotCharge     = errors.New("customer_cannot_charge")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrNothingToRefund  = errors.New("nothing_to_refund")
	ErrNoReceiptAddress = errors.New("no_receipt_address")
)
