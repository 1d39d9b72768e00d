// Package billingtest provides an in-memory billing.Client for tests.
package billingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/billmirror/internal/providers/billing"
)

// Client is a stateful fake. Seed it through the exported Put helpers and inject failures
// with Fail, which applies to the next call of the named operation.
type Client struct {
	mu sync.Mutex

	Now func() time.Time

	customers     map[string]*billing.Customer
	subscriptions map[string]*billing.Subscription
	invoices      map[string]*billing.Invoice
	charges       map[string]*billing.Charge
	transfers     map[string]*billing.Transfer
	plans         map[string]*billing.Plan
	events        map[string]*billing.Event
	pending       map[string][]billing.LineItem

	failures map[string][]error
	calls    map[string]int
	seq      int
}

var _ billing.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		Now:           func() time.Time { return time.Now().UTC() },
		customers:     map[string]*billing.Customer{},
		subscriptions: map[string]*billing.Subscription{},
		invoices:      map[string]*billing.Invoice{},
		charges:       map[string]*billing.Charge{},
		transfers:     map[string]*billing.Transfer{},
		plans:         map[string]*billing.Plan{},
		events:        map[string]*billing.Event{},
		pending:       map[string][]billing.LineItem{},
		failures:      map[string][]error{},
		calls:         map[string]int{},
	}
}

// Fail queues err for the next call of op (for example "invoice.retrieve").
func (c *Client) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) enter(op string) error {
	c.calls[op]++
	queued := c.failures[op]
	if len(queued) == 0 {
		return nil
	}
	c.failures[op] = queued[1:]
	return queued[0]
}

func (c *Client) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s_%d", prefix, c.seq)
}

func (c *Client) unix() *int64 {
	v := c.Now().Unix()
	return &v
}

func missing(kind, id string) error {
	return &billing.Error{
		Category: billing.CategoryInvalidRequest,
		Code:     "resource_missing",
		Message:  fmt.Sprintf("No such %s: '%s'", kind, id),
		Status:   http.StatusNotFound,
		Body:     []byte(fmt.Sprintf(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such %s: '%s'"}}`, kind, id)),
	}
}

func invalid(msg string) error {
	return &billing.Error{Category: billing.CategoryInvalidRequest, Message: msg, Status: http.StatusBadRequest}
}

func (c *Client) PutCustomer(cust billing.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[cust.ID] = &cust
}

func (c *Client) PutSubscription(sub billing.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[sub.CustomerID] = &sub
}

// RemoveSubscription drops the customer's remote subscription.
func (c *Client) RemoveSubscription(customerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, customerID)
}

func (c *Client) PutInvoice(inv billing.Invoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoices[inv.ID] = &inv
}

func (c *Client) PutCharge(ch billing.Charge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charges[ch.ID] = &ch
}

func (c *Client) PutTransfer(tr billing.Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers[tr.ID] = &tr
}

func (c *Client) PutPlan(p billing.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = &p
}

// PutEvent stores the canonical copy of an event, returned by RetrieveEvent.
func (c *Client) PutEvent(ev billing.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[ev.ID] = &ev
}

// AddPendingItem queues a line picked up by the next CreateInvoice for the customer.
func (c *Client) AddPendingItem(customerID string, item billing.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[customerID] = append(c.pending[customerID], item)
}

func (c *Client) Customer(id string) (billing.Customer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[id]
	if !ok {
		return billing.Customer{}, false
	}
	return *cust, true
}

func (c *Client) Plan(id string) (billing.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[id]
	if !ok {
		return billing.Plan{}, false
	}
	return *p, true
}

func (c *Client) RetrieveCustomer(_ context.Context, id string) (*billing.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("customer.retrieve"); err != nil {
		return nil, err
	}
	cust, ok := c.customers[id]
	if !ok {
		return nil, missing("customer", id)
	}
	out := *cust
	return &out, nil
}

func (c *Client) CreateCustomer(_ context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("customer.create"); err != nil {
		return nil, err
	}
	cust := &billing.Customer{ID: c.nextID("cus"), Email: params.Email, Description: params.Description}
	c.customers[cust.ID] = cust
	out := *cust
	return &out, nil
}

func (c *Client) DeleteCustomer(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("customer.delete"); err != nil {
		return err
	}
	if _, ok := c.customers[id]; !ok {
		return invalid("No such customer: " + id)
	}
	delete(c.customers, id)
	delete(c.subscriptions, id)
	return nil
}

// UpdateCard treats the token as the card fingerprint.
func (c *Client) UpdateCard(_ context.Context, customerID string, token string) (*billing.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("customer.update_card"); err != nil {
		return nil, err
	}
	cust, ok := c.customers[customerID]
	if !ok {
		return nil, invalid("No such customer: " + customerID)
	}
	cust.DefaultCard = &billing.Card{ID: c.nextID("card"), Fingerprint: token, Last4: "4242", Brand: "Visa"}
	out := *cust
	return &out, nil
}

func (c *Client) RetrieveSubscription(_ context.Context, customerID string) (*billing.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("subscription.retrieve"); err != nil {
		return nil, err
	}
	sub, ok := c.subscriptions[customerID]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (c *Client) UpdateSubscription(_ context.Context, customerID string, params billing.SubscriptionParams) (*billing.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("subscription.update"); err != nil {
		return nil, err
	}
	if _, ok := c.customers[customerID]; !ok {
		return nil, invalid("No such customer: " + customerID)
	}
	plan, ok := c.plans[params.PlanID]
	if !ok {
		return nil, missing("plan", params.PlanID)
	}

	now := c.Now()
	sub, exists := c.subscriptions[customerID]
	if !exists {
		sub = &billing.Subscription{ID: c.nextID("sub"), ItemID: c.nextID("si"), CustomerID: customerID, Start: c.unix()}
		c.subscriptions[customerID] = sub
	}
	sub.PlanID = plan.ID
	sub.PlanAmount = plan.Amount
	sub.Currency = plan.Currency
	sub.Quantity = params.Quantity
	sub.Status = "active"
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.EndedAt = nil
	start := now.Unix()
	end := now.AddDate(0, 1, 0).Unix()
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end

	switch {
	case params.TrialEndNow:
		sub.TrialStart, sub.TrialEnd = nil, nil
	case params.TrialEnd != nil && *params.TrialEnd > now.Unix():
		trialEnd := *params.TrialEnd
		sub.TrialStart = &start
		sub.TrialEnd = &trialEnd
		sub.Status = "trialing"
	}
	out := *sub
	return &out, nil
}

func (c *Client) CancelSubscription(_ context.Context, customerID string, atPeriodEnd bool) (*billing.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("subscription.cancel"); err != nil {
		return nil, err
	}
	sub, ok := c.subscriptions[customerID]
	if !ok {
		return nil, invalid("No active subscription for customer " + customerID)
	}
	sub.CanceledAt = c.unix()
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.CancelAtPeriodEnd = false
		sub.Status = "canceled"
		sub.EndedAt = c.unix()
	}
	out := *sub
	return &out, nil
}

func (c *Client) RetrieveInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("invoice.retrieve"); err != nil {
		return nil, err
	}
	inv, ok := c.invoices[id]
	if !ok {
		return nil, missing("invoice", id)
	}
	return cloneInvoice(inv), nil
}

func (c *Client) ListInvoices(_ context.Context, customerID string, page billing.Page) ([]billing.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("invoice.list"); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for id, inv := range c.invoices {
		if inv.CustomerID == customerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]billing.Invoice, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneInvoice(c.invoices[id]))
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) CreateInvoice(_ context.Context, customerID string) (*billing.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("invoice.create"); err != nil {
		return nil, err
	}
	lines := c.pending[customerID]
	if len(lines) == 0 {
		return nil, &billing.Error{
			Category: billing.CategoryInvalidRequest,
			Code:     "invoice_no_customer_line_items",
			Message:  "Nothing to invoice for customer",
			Status:   http.StatusBadRequest,
		}
	}
	delete(c.pending, customerID)

	inv := &billing.Invoice{ID: c.nextID("in"), CustomerID: customerID, Created: c.unix(), Lines: lines}
	for _, line := range lines {
		inv.Subtotal += line.Amount
		inv.Currency = line.Currency
	}
	inv.Total = inv.Subtotal
	c.invoices[inv.ID] = inv
	return cloneInvoice(inv), nil
}

// PayInvoice charges the customer's default card for the invoice total.
func (c *Client) PayInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("invoice.pay"); err != nil {
		return nil, err
	}
	inv, ok := c.invoices[id]
	if !ok {
		return nil, missing("invoice", id)
	}
	if inv.Paid {
		return nil, invalid("Invoice is already paid")
	}
	inv.Attempted = true
	cust := c.customers[inv.CustomerID]
	if cust == nil || cust.DefaultCard == nil {
		return nil, &billing.Error{Category: billing.CategoryCard, Code: "card_declined", Message: "Your card was declined.", Status: http.StatusPaymentRequired}
	}
	ch := &billing.Charge{
		ID:         c.nextID("ch"),
		CustomerID: inv.CustomerID,
		InvoiceID:  inv.ID,
		Currency:   inv.Currency,
		Amount:     inv.Total,
		Paid:       true,
		Card:       cust.DefaultCard,
		Created:    c.unix(),
	}
	c.charges[ch.ID] = ch
	inv.Paid = true
	inv.ChargeID = ch.ID
	return cloneInvoice(inv), nil
}

func (c *Client) RetrieveCharge(_ context.Context, id string) (*billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("charge.retrieve"); err != nil {
		return nil, err
	}
	ch, ok := c.charges[id]
	if !ok {
		return nil, missing("charge", id)
	}
	out := *ch
	return &out, nil
}

func (c *Client) ListCharges(_ context.Context, customerID string, page billing.Page) ([]billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("charge.list"); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for id, ch := range c.charges {
		if ch.CustomerID == customerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]billing.Charge, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.charges[id])
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) CreateCharge(_ context.Context, params billing.ChargeParams) (*billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("charge.create"); err != nil {
		return nil, err
	}
	cust, ok := c.customers[params.CustomerID]
	if !ok {
		return nil, invalid("No such customer: " + params.CustomerID)
	}
	ch := &billing.Charge{
		ID:          c.nextID("ch"),
		CustomerID:  params.CustomerID,
		Currency:    params.Currency,
		Amount:      params.Amount,
		Description: params.Description,
		Paid:        cust.DefaultCard != nil,
		Card:        cust.DefaultCard,
		Created:     c.unix(),
	}
	c.charges[ch.ID] = ch
	out := *ch
	return &out, nil
}

func (c *Client) Refund(_ context.Context, chargeID string, amount *int64) (*billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("charge.refund"); err != nil {
		return nil, err
	}
	ch, ok := c.charges[chargeID]
	if !ok {
		return nil, missing("charge", chargeID)
	}
	var refunded int64
	if ch.AmountRefunded != nil {
		refunded = *ch.AmountRefunded
	}
	remaining := ch.Amount - refunded
	value := remaining
	if amount != nil {
		value = *amount
	}
	if value <= 0 || value > remaining {
		return nil, invalid(fmt.Sprintf("Refund amount (%d) is greater than unrefunded amount on charge (%d)", value, remaining))
	}
	total := refunded + value
	ch.AmountRefunded = &total
	ch.Refunded = total == ch.Amount
	out := *ch
	return &out, nil
}

func (c *Client) RetrieveTransfer(_ context.Context, id string) (*billing.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("transfer.retrieve"); err != nil {
		return nil, err
	}
	tr, ok := c.transfers[id]
	if !ok {
		return nil, missing("transfer", id)
	}
	out := *tr
	return &out, nil
}

func (c *Client) RetrievePlan(_ context.Context, id string) (*billing.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("plan.retrieve"); err != nil {
		return nil, err
	}
	p, ok := c.plans[id]
	if !ok {
		return nil, missing("plan", id)
	}
	out := *p
	return &out, nil
}

func (c *Client) ListPlans(_ context.Context, page billing.Page) ([]billing.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("plan.list"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]billing.Plan, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.plans[id])
		if page.Limit > 0 && len(out) >= page.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) CreatePlan(_ context.Context, plan billing.Plan) (*billing.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("plan.create"); err != nil {
		return nil, err
	}
	if _, exists := c.plans[plan.ID]; exists {
		return nil, &billing.Error{Category: billing.CategoryInvalidRequest, Code: "resource_already_exists", Message: "Plan already exists.", Status: http.StatusBadRequest}
	}
	c.plans[plan.ID] = &plan
	out := plan
	return &out, nil
}

func (c *Client) UpdatePlanName(_ context.Context, id string, name string) (*billing.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("plan.update"); err != nil {
		return nil, err
	}
	p, ok := c.plans[id]
	if !ok {
		return nil, missing("plan", id)
	}
	p.Name = name
	out := *p
	return &out, nil
}

func (c *Client) RetrieveEvent(_ context.Context, id string) (*billing.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("event.retrieve"); err != nil {
		return nil, err
	}
	ev, ok := c.events[id]
	if !ok {
		return nil, missing("event", id)
	}
	out := *ev
	return &out, nil
}

func cloneInvoice(inv *billing.Invoice) *billing.Invoice {
	out := *inv
	out.Lines = append([]billing.LineItem(nil), inv.Lines...)
	return &out
}

// EventPayload builds a webhook body of the given kind wrapping object.
func EventPayload(id, kind string, object any) []byte {
	body, err := json.Marshal(map[string]any{
		"id":       id,
		"object":   "event",
		"type":     kind,
		"livemode": false,
		"created":  1700000000,
		"data":     map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return body
}

// CanonicalEvent converts a webhook body into the record RetrieveEvent would return.
func CanonicalEvent(payload []byte) billing.Event {
	var ev billing.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		panic(err)
	}
	ev.Raw = append(json.RawMessage(nil), payload...)
	return ev
}
