// Package stripe adapts the stripe-go client to the billing.Client boundary.
package stripe

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/billmirror/internal/observability/metrics"
	"github.com/smallbiznis/billmirror/internal/observability/tracing"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type Config struct {
	APIKey string
	// URL overrides the API base URL, used against local stubs.
	URL        string
	HTTPClient *http.Client
}

type Client struct {
	api     *stripe.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New builds an adapter with remote retries disabled; callers own the retry policy.
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, billing.ErrNotConfigured
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        tracing.WrapHTTPClient(cfg.HTTPClient),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg))

	return &Client{
		api:     stripe.NewClient(cfg.APIKey, nil),
		log:     log.Named("billing.stripe"),
		metrics: m,
	}, nil
}

var _ billing.Client = (*Client)(nil)

// observe records the remote call and converts the error to a *billing.Error.
func (c *Client) observe(ctx context.Context, op string, start time.Time, err error) error {
	err = mapError(err)
	c.metrics.RecordRemoteCall(ctx, op, err, time.Since(start))
	if err != nil {
		c.log.Debug("remote call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func idempotencyKey() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	start := time.Now()
	params := &stripe.CustomerRetrieveParams{}
	params.AddExpand("default_source")
	params.AddExpand("invoice_settings.default_payment_method")
	cust, err := c.api.V1Customers.Retrieve(ctx, id, params)
	if err = c.observe(ctx, "customer.retrieve", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireCustomer](cust.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toCustomer(), nil
}

func (c *Client) CreateCustomer(ctx context.Context, in billing.CustomerParams) (*billing.Customer, error) {
	start := time.Now()
	params := &stripe.CustomerCreateParams{}
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(idempotencyKey())
	cust, err := c.api.V1Customers.Create(ctx, params)
	if err = c.observe(ctx, "customer.create", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireCustomer](cust.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toCustomer(), nil
}

func (c *Client) DeleteCustomer(ctx context.Context, id string) error {
	start := time.Now()
	_, err := c.api.V1Customers.Delete(ctx, id, &stripe.CustomerDeleteParams{})
	return c.observe(ctx, "customer.delete", start, err)
}

func (c *Client) UpdateCard(ctx context.Context, customerID string, token string) (*billing.Customer, error) {
	start := time.Now()
	params := &stripe.CustomerUpdateParams{Source: stripe.String(token)}
	params.AddExpand("default_source")
	cust, err := c.api.V1Customers.Update(ctx, customerID, params)
	if err = c.observe(ctx, "customer.update_card", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireCustomer](cust.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toCustomer(), nil
}

// currentSubscriptionID returns the newest non-canceled subscription of the customer.
func (c *Client) currentSubscriptionID(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(1)
	for sub, err := range c.api.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return "", err
		}
		return sub.ID, nil
	}
	return "", nil
}

func (c *Client) retrieveSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, id, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, err
	}
	w, err := decode[wireSubscription](sub.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toSubscription(), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, customerID string) (*billing.Subscription, error) {
	start := time.Now()
	id, err := c.currentSubscriptionID(ctx, customerID)
	if err == nil && id == "" {
		return nil, c.observe(ctx, "subscription.retrieve", start, nil)
	}
	var sub *billing.Subscription
	if err == nil {
		sub, err = c.retrieveSubscription(ctx, id)
	}
	if err = c.observe(ctx, "subscription.retrieve", start, err); err != nil {
		return nil, err
	}
	return sub, nil
}

func prorationBehavior(prorate bool) *string {
	if prorate {
		return stripe.String("create_prorations")
	}
	return stripe.String("none")
}

// UpdateSubscription changes the current subscription or creates one when the customer has none.
func (c *Client) UpdateSubscription(ctx context.Context, customerID string, in billing.SubscriptionParams) (*billing.Subscription, error) {
	start := time.Now()
	id, err := c.currentSubscriptionID(ctx, customerID)
	if err != nil {
		return nil, c.observe(ctx, "subscription.update", start, err)
	}

	var sub *stripe.Subscription
	if id == "" {
		params := &stripe.SubscriptionCreateParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionCreateItemParams{{
				Price:    stripe.String(in.PlanID),
				Quantity: stripe.Int64(in.Quantity),
			}},
			ProrationBehavior: prorationBehavior(in.Prorate),
		}
		if in.TrialEnd != nil && !in.TrialEndNow {
			params.TrialEnd = in.TrialEnd
		}
		params.SetIdempotencyKey(idempotencyKey())
		sub, err = c.api.V1Subscriptions.Create(ctx, params)
	} else {
		var current *billing.Subscription
		current, err = c.retrieveSubscription(ctx, id)
		if err != nil {
			return nil, c.observe(ctx, "subscription.update", start, err)
		}
		item := &stripe.SubscriptionUpdateItemParams{
			Price:    stripe.String(in.PlanID),
			Quantity: stripe.Int64(in.Quantity),
		}
		if current.ItemID != "" {
			item.ID = stripe.String(current.ItemID)
		}
		params := &stripe.SubscriptionUpdateParams{
			Items:             []*stripe.SubscriptionUpdateItemParams{item},
			ProrationBehavior: prorationBehavior(in.Prorate),
		}
		switch {
		case in.TrialEndNow:
			params.TrialEndNow = stripe.Bool(true)
		case in.TrialEnd != nil:
			params.TrialEnd = in.TrialEnd
		}
		params.SetIdempotencyKey(idempotencyKey())
		sub, err = c.api.V1Subscriptions.Update(ctx, id, params)
	}
	if err = c.observe(ctx, "subscription.update", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireSubscription](sub.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toSubscription(), nil
}

// CancelSubscription either flags the subscription to end with the period or deletes it now.
func (c *Client) CancelSubscription(ctx context.Context, customerID string, atPeriodEnd bool) (*billing.Subscription, error) {
	start := time.Now()
	id, err := c.currentSubscriptionID(ctx, customerID)
	if err == nil && id == "" {
		err = &billing.Error{
			Category: billing.CategoryInvalidRequest,
			Message:  "No active subscription for customer " + customerID,
			Status:   http.StatusBadRequest,
		}
	}
	if err != nil {
		return nil, c.observe(ctx, "subscription.cancel", start, err)
	}

	var sub *stripe.Subscription
	if atPeriodEnd {
		sub, err = c.api.V1Subscriptions.Update(ctx, id, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		sub, err = c.api.V1Subscriptions.Cancel(ctx, id, &stripe.SubscriptionCancelParams{})
	}
	if err = c.observe(ctx, "subscription.cancel", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireSubscription](sub.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toSubscription(), nil
}

func (c *Client) retrieveInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	inv, err := c.api.V1Invoices.Retrieve(ctx, id, &stripe.InvoiceRetrieveParams{})
	if err != nil {
		return nil, err
	}
	w, err := decode[wireInvoice](inv.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toInvoice(), nil
}

func (c *Client) RetrieveInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	start := time.Now()
	inv, err := c.retrieveInvoice(ctx, id)
	if err = c.observe(ctx, "invoice.retrieve", start, err); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices lists ids and re-fetches each invoice so every record carries the full body.
func (c *Client) ListInvoices(ctx context.Context, customerID string, page billing.Page) ([]billing.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	applyPage(&params.ListParams, page)

	out := make([]billing.Invoice, 0)
	for inv, err := range c.api.V1Invoices.List(ctx, params) {
		if err != nil {
			return nil, c.observe(ctx, "invoice.list", start, err)
		}
		full, err := c.retrieveInvoice(ctx, inv.ID)
		if err != nil {
			return nil, c.observe(ctx, "invoice.list", start, err)
		}
		out = append(out, *full)
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, c.observe(ctx, "invoice.list", start, nil)
}

func (c *Client) CreateInvoice(ctx context.Context, customerID string) (*billing.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoiceCreateParams{
		Customer:                    stripe.String(customerID),
		AutoAdvance:                 stripe.Bool(true),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	params.SetIdempotencyKey(idempotencyKey())
	inv, err := c.api.V1Invoices.Create(ctx, params)
	if err = c.observe(ctx, "invoice.create", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireInvoice](inv.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toInvoice(), nil
}

func (c *Client) PayInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoicePayParams{}
	params.SetIdempotencyKey(idempotencyKey())
	inv, err := c.api.V1Invoices.Pay(ctx, id, params)
	if err = c.observe(ctx, "invoice.pay", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireInvoice](inv.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toInvoice(), nil
}

func (c *Client) retrieveCharge(ctx context.Context, id string) (*billing.Charge, error) {
	params := &stripe.ChargeRetrieveParams{}
	params.AddExpand("balance_transaction")
	ch, err := c.api.V1Charges.Retrieve(ctx, id, params)
	if err != nil {
		return nil, err
	}
	w, err := decode[wireCharge](ch.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toCharge(), nil
}

func (c *Client) RetrieveCharge(ctx context.Context, id string) (*billing.Charge, error) {
	start := time.Now()
	ch, err := c.retrieveCharge(ctx, id)
	if err = c.observe(ctx, "charge.retrieve", start, err); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) ListCharges(ctx context.Context, customerID string, page billing.Page) ([]billing.Charge, error) {
	start := time.Now()
	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	applyPage(&params.ListParams, page)

	out := make([]billing.Charge, 0)
	for ch, err := range c.api.V1Charges.List(ctx, params) {
		if err != nil {
			return nil, c.observe(ctx, "charge.list", start, err)
		}
		full, err := c.retrieveCharge(ctx, ch.ID)
		if err != nil {
			return nil, c.observe(ctx, "charge.list", start, err)
		}
		out = append(out, *full)
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, c.observe(ctx, "charge.list", start, nil)
}

func (c *Client) CreateCharge(ctx context.Context, in billing.ChargeParams) (*billing.Charge, error) {
	start := time.Now()
	params := &stripe.ChargeCreateParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		Customer: stripe.String(in.CustomerID),
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	params.SetIdempotencyKey(idempotencyKey())
	ch, err := c.api.V1Charges.Create(ctx, params)
	if err = c.observe(ctx, "charge.create", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireCharge](ch.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toCharge(), nil
}

// Refund refunds the charge, fully when amount is nil, and returns the charge re-fetched.
func (c *Client) Refund(ctx context.Context, chargeID string, amount *int64) (*billing.Charge, error) {
	start := time.Now()
	params := &stripe.RefundCreateParams{Charge: stripe.String(chargeID), Amount: amount}
	params.SetIdempotencyKey(idempotencyKey())
	_, err := c.api.V1Refunds.Create(ctx, params)
	var ch *billing.Charge
	if err == nil {
		ch, err = c.retrieveCharge(ctx, chargeID)
	}
	if err = c.observe(ctx, "charge.refund", start, err); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) RetrieveTransfer(ctx context.Context, id string) (*billing.Transfer, error) {
	start := time.Now()
	tr, err := c.api.V1Transfers.Retrieve(ctx, id, &stripe.TransferRetrieveParams{})
	if err = c.observe(ctx, "transfer.retrieve", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wireTransfer](tr.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toTransfer(), nil
}

func (c *Client) RetrievePlan(ctx context.Context, id string) (*billing.Plan, error) {
	start := time.Now()
	p, err := c.api.V1Plans.Retrieve(ctx, id, &stripe.PlanRetrieveParams{})
	if err = c.observe(ctx, "plan.retrieve", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wirePlan](p.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toPlan(), nil
}

func (c *Client) ListPlans(ctx context.Context, page billing.Page) ([]billing.Plan, error) {
	start := time.Now()
	params := &stripe.PlanListParams{}
	applyPage(&params.ListParams, page)

	out := make([]billing.Plan, 0)
	for p, err := range c.api.V1Plans.List(ctx, params) {
		if err != nil {
			return nil, c.observe(ctx, "plan.list", start, err)
		}
		w := wirePlan{
			ID:            p.ID,
			Nickname:      p.Nickname,
			Currency:      string(p.Currency),
			Interval:      string(p.Interval),
			IntervalCount: p.IntervalCount,
			Amount:        p.Amount,
		}
		if p.TrialPeriodDays > 0 {
			days := p.TrialPeriodDays
			w.TrialPeriodDays = &days
		}
		out = append(out, *w.toPlan())
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, c.observe(ctx, "plan.list", start, nil)
}

func (c *Client) CreatePlan(ctx context.Context, in billing.Plan) (*billing.Plan, error) {
	start := time.Now()
	params := &stripe.PlanCreateParams{
		ID:            stripe.String(in.ID),
		Amount:        stripe.Int64(in.Amount),
		Currency:      stripe.String(in.Currency),
		Interval:      stripe.String(in.Interval),
		IntervalCount: stripe.Int64(in.IntervalCount),
		Nickname:      stripe.String(in.Name),
		Product:       &stripe.PlanCreateProductParams{Name: stripe.String(in.Name)},
	}
	if in.TrialPeriodDays != nil {
		params.TrialPeriodDays = in.TrialPeriodDays
	}
	params.SetIdempotencyKey(idempotencyKey())
	p, err := c.api.V1Plans.Create(ctx, params)
	if err = c.observe(ctx, "plan.create", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wirePlan](p.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toPlan(), nil
}

func (c *Client) UpdatePlanName(ctx context.Context, id string, name string) (*billing.Plan, error) {
	start := time.Now()
	p, err := c.api.V1Plans.Update(ctx, id, &stripe.PlanUpdateParams{Nickname: stripe.String(name)})
	if err = c.observe(ctx, "plan.update", start, err); err != nil {
		return nil, err
	}
	w, err := decode[wirePlan](p.LastResponse.RawJSON)
	if err != nil {
		return nil, err
	}
	return w.toPlan(), nil
}

func (c *Client) RetrieveEvent(ctx context.Context, id string) (*billing.Event, error) {
	start := time.Now()
	ev, err := c.api.V1Events.Retrieve(ctx, id, &stripe.EventRetrieveParams{})
	if err = c.observe(ctx, "event.retrieve", start, err); err != nil {
		return nil, err
	}
	return decodeEvent(ev.LastResponse.RawJSON)
}

func applyPage(params *stripe.ListParams, page billing.Page) {
	if page.Limit > 0 && page.Limit <= 100 {
		params.Limit = stripe.Int64(int64(page.Limit))
	}
	if page.StartingAfter != "" {
		params.StartingAfter = stripe.String(page.StartingAfter)
	}
}

// mapError converts stripe-go errors. Anything that is not an API error is a connection failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := billing.AsError(err); ok {
		return err
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &billing.Error{Category: billing.CategoryConnection, Message: err.Error()}
	}

	out := &billing.Error{
		Category: billing.Category(stripeErr.Type),
		Code:     string(stripeErr.Code),
		Message:  stripeErr.Msg,
		Status:   stripeErr.HTTPStatusCode,
	}
	if stripeErr.LastResponse != nil {
		out.Body = stripeErr.LastResponse.RawJSON
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		out.Category = billing.CategoryRateLimit
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		out.Category = billing.CategoryAuthentication
	case out.Category == "":
		out.Category = billing.CategoryAPI
	}
	return out
}
