// Package billing defines the boundary to the remote billing service.
//
// Records are wire shaped: amounts are integer minor units and timestamps are Unix
// seconds. Conversion to local values happens in pkg/money at the call sites.
package billing

import (
	"context"
	"encoding/json"
)

// Client is a typed facade over the remote billing API. It holds no business logic,
// performs no caching and does not retry.
type Client interface {
	RetrieveCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	UpdateCard(ctx context.Context, customerID string, token string) (*Customer, error)

	// RetrieveSubscription returns the customer's current subscription or nil when none exists.
	RetrieveSubscription(ctx context.Context, customerID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, customerID string, params SubscriptionParams) (*Subscription, error)
	CancelSubscription(ctx context.Context, customerID string, atPeriodEnd bool) (*Subscription, error)

	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, customerID string, page Page) ([]Invoice, error)
	CreateInvoice(ctx context.Context, customerID string) (*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)

	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
	ListCharges(ctx context.Context, customerID string, page Page) ([]Charge, error)
	CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error)
	Refund(ctx context.Context, chargeID string, amount *int64) (*Charge, error)

	RetrieveTransfer(ctx context.Context, id string) (*Transfer, error)

	RetrievePlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context, page Page) ([]Plan, error)
	CreatePlan(ctx context.Context, plan Plan) (*Plan, error)
	UpdatePlanName(ctx context.Context, id string, name string) (*Plan, error)

	RetrieveEvent(ctx context.Context, id string) (*Event, error)
}

// WebhookVerifier checks the signature header of an inbound webhook body.
type WebhookVerifier interface {
	Verify(payload []byte, header string) error
}

// Page bounds list calls. A zero Limit means "everything".
type Page struct {
	Limit         int
	StartingAfter string
}

type Card struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
}

type Customer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Description string `json:"description"`
	Deleted     bool   `json:"deleted"`
	// DefaultCard is nil when the customer has no active payment instrument.
	DefaultCard *Card `json:"default_card,omitempty"`
}

type CustomerParams struct {
	Email       string
	Description string
	Metadata    map[string]string
}

type Subscription struct {
	ID                 string `json:"id"`
	ItemID             string `json:"-"`
	CustomerID         string `json:"customer"`
	PlanID             string `json:"plan_id"`
	PlanAmount         int64  `json:"plan_amount"`
	Currency           string `json:"currency"`
	Quantity           int64  `json:"quantity"`
	Status             string `json:"status"`
	Start              *int64 `json:"start,omitempty"`
	CurrentPeriodStart *int64 `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *int64 `json:"current_period_end,omitempty"`
	TrialStart         *int64 `json:"trial_start,omitempty"`
	TrialEnd           *int64 `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CanceledAt         *int64 `json:"canceled_at,omitempty"`
	EndedAt            *int64 `json:"ended_at,omitempty"`
}

// SubscriptionParams describes a subscription change. TrialEnd nil keeps the remote default,
// TrialEndNow ends any trial immediately.
type SubscriptionParams struct {
	PlanID      string
	Quantity    int64
	TrialEnd    *int64
	TrialEndNow bool
	Prorate     bool
}

type Invoice struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer"`
	Attempted   bool       `json:"attempted"`
	Closed      bool       `json:"closed"`
	Paid        bool       `json:"paid"`
	Currency    string     `json:"currency"`
	PeriodStart *int64     `json:"period_start,omitempty"`
	PeriodEnd   *int64     `json:"period_end,omitempty"`
	Subtotal    int64      `json:"subtotal"`
	Total       int64      `json:"total"`
	ChargeID    string     `json:"charge,omitempty"`
	Created     *int64     `json:"created,omitempty"`
	Lines       []LineItem `json:"lines"`
}

type LineItem struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Proration   bool   `json:"proration"`
	Type        string `json:"type"`
	Description string `json:"description"`
	PlanID      string `json:"plan_id,omitempty"`
	Quantity    int64  `json:"quantity"`
	PeriodStart *int64 `json:"period_start,omitempty"`
	PeriodEnd   *int64 `json:"period_end,omitempty"`
}

type Charge struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	InvoiceID      string `json:"invoice,omitempty"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	AmountRefunded *int64 `json:"amount_refunded,omitempty"`
	Description    string `json:"description"`
	Paid           bool   `json:"paid"`
	Refunded       bool   `json:"refunded"`
	Disputed       bool   `json:"disputed"`
	Fee            *int64 `json:"fee,omitempty"`
	Card           *Card  `json:"card,omitempty"`
	Created        *int64 `json:"created,omitempty"`
}

type ChargeParams struct {
	CustomerID  string
	Amount      int64
	Currency    string
	Description string
}

type Transfer struct {
	ID          string           `json:"id"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	Status      string           `json:"status"`
	Date        *int64           `json:"date,omitempty"`
	Description string           `json:"description"`
	Summary     *TransferSummary `json:"summary,omitempty"`
}

type TransferSummary struct {
	AdjustmentCount   int64       `json:"adjustment_count"`
	AdjustmentGross   int64       `json:"adjustment_gross"`
	AdjustmentFees    int64       `json:"adjustment_fees"`
	ChargeCount       int64       `json:"charge_count"`
	ChargeGross       int64       `json:"charge_gross"`
	ChargeFees        int64       `json:"charge_fees"`
	CollectedFeeCount int64       `json:"collected_fee_count"`
	CollectedFeeGross int64       `json:"collected_fee_gross"`
	RefundCount       int64       `json:"refund_count"`
	RefundGross       int64       `json:"refund_gross"`
	RefundFees        int64       `json:"refund_fees"`
	ValidationCount   int64       `json:"validation_count"`
	ValidationFees    int64       `json:"validation_fees"`
	Net               int64       `json:"net"`
	ChargeFeeDetails  []FeeDetail `json:"charge_fee_details"`
}

type FeeDetail struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Application string `json:"application"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	Interval        string `json:"interval"`
	IntervalCount   int64  `json:"interval_count"`
	Amount          int64  `json:"amount"`
	TrialPeriodDays *int64 `json:"trial_period_days,omitempty"`
}

// Event is the canonical event envelope as returned by the remote service.
type Event struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Livemode bool            `json:"livemode"`
	Created  int64           `json:"created"`
	Data     json.RawMessage `json:"data"`
	Raw      json.RawMessage `json:"-"`
}
