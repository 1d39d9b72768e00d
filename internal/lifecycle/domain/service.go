// Package domain declares the subscription lifecycle operations callers drive directly.
// Unlike event dispatch, every failure here is returned to the caller.
package domain

import (
	"context"
	"errors"

	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
)

type SubscribeRequest struct {
	PlanID   string
	Quantity int64
	// TrialDays overrides the plan's trial period. Zero ends any trial now.
	TrialDays         *int64
	ChargeImmediately bool
	// Prorate overrides the configured policy when set.
	Prorate *bool
}

type ChangePlanRequest struct {
	PlanID   string
	Quantity int64
	Prorate  *bool
}

// Progress is called once per customer by the bulk operations.
type Progress func(customer customerdomain.Customer, err error)

type BulkResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Service interface {
	GetOrCreateCustomer(ctx context.Context, account accountdomain.Account) (customerdomain.Customer, error)

	Subscribe(ctx context.Context, customer customerdomain.Customer, req SubscribeRequest) (*subscriptiondomain.CurrentSubscription, error)
	ChangePlan(ctx context.Context, customer customerdomain.Customer, req ChangePlanRequest) (*subscriptiondomain.CurrentSubscription, error)
	CancelSubscription(ctx context.Context, customer customerdomain.Customer, atPeriodEnd bool) (*subscriptiondomain.CurrentSubscription, error)
	UpdateCard(ctx context.Context, customer *customerdomain.Customer, token string) error

	// RetryUnpaidInvoices re-syncs the customer's invoices and retries payment of the open ones.
	RetryUnpaidInvoices(ctx context.Context, customer customerdomain.Customer) error
	RetryAllUnpaidInvoices(ctx context.Context, progress Progress) (BulkResult, error)

	Resync(ctx context.Context, customer customerdomain.Customer) error
	ResyncAll(ctx context.Context, progress Progress) (BulkResult, error)
	EnsureCustomers(ctx context.Context, progress Progress) (BulkResult, error)
}

var (
	ErrNoSubscription     = errors.New("no_subscription")
	ErrCancellationFailed = errors.New("subscription_cancellation_failed")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidToken       = errors.New("invalid_card_token")
	ErrCustomerPurged     = errors.New("customer_purged")
)
