package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/billmirror/internal/providers/billing"
)

// The remote API has changed object shapes across versions (legacy top-level fields
// versus item-level and payment-method fields). Objects are decoded from the raw
// response body so both shapes map onto the same billing records.

// expandable holds the id of a field that is either an id string or an expanded object.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type wireCard struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Fingerprint string `json:"fingerprint"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	Type        string `json:"type"`
	Card        *struct {
		Fingerprint string `json:"fingerprint"`
		Last4       string `json:"last4"`
		Brand       string `json:"brand"`
	} `json:"card"`
}

func (c *wireCard) toCard() *billing.Card {
	if c == nil {
		return nil
	}
	card := &billing.Card{ID: c.ID, Fingerprint: c.Fingerprint, Last4: c.Last4, Brand: c.Brand}
	if card.Brand == "" {
		card.Brand = c.Type
	}
	if c.Card != nil {
		card.Fingerprint = c.Card.Fingerprint
		card.Last4 = c.Card.Last4
		card.Brand = c.Card.Brand
	}
	if card.Fingerprint == "" && card.Last4 == "" {
		return nil
	}
	return card
}

// cardField decodes only expanded card objects; bare ids carry no card data.
type cardField struct {
	card *wireCard
}

func (f *cardField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var c wireCard
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	f.card = &c
	return nil
}

type wireCustomer struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Description     string    `json:"description"`
	Deleted         bool      `json:"deleted"`
	DefaultCard     cardField `json:"default_card"`
	DefaultSource   cardField `json:"default_source"`
	InvoiceSettings struct {
		DefaultPaymentMethod cardField `json:"default_payment_method"`
	} `json:"invoice_settings"`
	Sources struct {
		Data []wireCard `json:"data"`
	} `json:"sources"`
}

func (w wireCustomer) toCustomer() *billing.Customer {
	out := &billing.Customer{ID: w.ID, Email: w.Email, Description: w.Description, Deleted: w.Deleted}
	for _, candidate := range []*wireCard{w.DefaultCard.card, w.DefaultSource.card, w.InvoiceSettings.DefaultPaymentMethod.card} {
		if card := candidate.toCard(); card != nil {
			out.DefaultCard = card
			return out
		}
	}
	if len(w.Sources.Data) > 0 {
		out.DefaultCard = w.Sources.Data[0].toCard()
	}
	return out
}

type wirePlan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Nickname        string `json:"nickname"`
	Currency        string `json:"currency"`
	Interval        string `json:"interval"`
	IntervalCount   int64  `json:"interval_count"`
	Amount          int64  `json:"amount"`
	TrialPeriodDays *int64 `json:"trial_period_days"`
}

func (w wirePlan) toPlan() *billing.Plan {
	name := w.Name
	if name == "" {
		name = w.Nickname
	}
	return &billing.Plan{
		ID:              w.ID,
		Name:            name,
		Currency:        w.Currency,
		Interval:        w.Interval,
		IntervalCount:   w.IntervalCount,
		Amount:          w.Amount,
		TrialPeriodDays: w.TrialPeriodDays,
	}
}

type wireSubscriptionItem struct {
	ID                 string    `json:"id"`
	Quantity           int64     `json:"quantity"`
	Plan               *wirePlan `json:"plan"`
	CurrentPeriodStart *int64    `json:"current_period_start"`
	CurrentPeriodEnd   *int64    `json:"current_period_end"`
}

type wireSubscription struct {
	ID                 string     `json:"id"`
	Customer           expandable `json:"customer"`
	Status             string     `json:"status"`
	Quantity           int64      `json:"quantity"`
	Plan               *wirePlan  `json:"plan"`
	Start              *int64     `json:"start"`
	StartDate          *int64     `json:"start_date"`
	CurrentPeriodStart *int64     `json:"current_period_start"`
	CurrentPeriodEnd   *int64     `json:"current_period_end"`
	TrialStart         *int64     `json:"trial_start"`
	TrialEnd           *int64     `json:"trial_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *int64     `json:"canceled_at"`
	EndedAt            *int64     `json:"ended_at"`
	Items              struct {
		Data []wireSubscriptionItem `json:"data"`
	} `json:"items"`
}

func (w wireSubscription) toSubscription() *billing.Subscription {
	out := &billing.Subscription{
		ID:                 w.ID,
		CustomerID:         string(w.Customer),
		Status:             w.Status,
		Quantity:           w.Quantity,
		Start:              firstSet(w.Start, w.StartDate),
		CurrentPeriodStart: w.CurrentPeriodStart,
		CurrentPeriodEnd:   w.CurrentPeriodEnd,
		TrialStart:         w.TrialStart,
		TrialEnd:           w.TrialEnd,
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CanceledAt:         w.CanceledAt,
		EndedAt:            w.EndedAt,
	}
	plan := w.Plan
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		out.ItemID = item.ID
		if out.Quantity == 0 {
			out.Quantity = item.Quantity
		}
		if plan == nil {
			plan = item.Plan
		}
		out.CurrentPeriodStart = firstSet(out.CurrentPeriodStart, item.CurrentPeriodStart)
		out.CurrentPeriodEnd = firstSet(out.CurrentPeriodEnd, item.CurrentPeriodEnd)
	}
	if plan != nil {
		out.PlanID = plan.ID
		out.PlanAmount = plan.Amount
		out.Currency = plan.Currency
	}
	return out
}

type wirePeriod struct {
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
}

type wireLineItem struct {
	ID          string     `json:"id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Proration   *bool      `json:"proration"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Quantity    int64      `json:"quantity"`
	Plan        *wirePlan  `json:"plan"`
	Period      wirePeriod `json:"period"`
	Parent      *struct {
		Type                    string `json:"type"`
		SubscriptionItemDetails *struct {
			Proration bool `json:"proration"`
		} `json:"subscription_item_details"`
	} `json:"parent"`
}

func (w wireLineItem) toLineItem() billing.LineItem {
	out := billing.LineItem{
		ID:          w.ID,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Type:        w.Type,
		Description: w.Description,
		Quantity:    w.Quantity,
		PeriodStart: w.Period.Start,
		PeriodEnd:   w.Period.End,
	}
	if w.Proration != nil {
		out.Proration = *w.Proration
	}
	if w.Parent != nil {
		if out.Type == "" {
			out.Type = w.Parent.Type
		}
		if w.Parent.SubscriptionItemDetails != nil {
			out.Proration = out.Proration || w.Parent.SubscriptionItemDetails.Proration
		}
	}
	if w.Plan != nil {
		out.PlanID = w.Plan.ID
	}
	return out
}

type wireInvoice struct {
	ID          string     `json:"id"`
	Customer    expandable `json:"customer"`
	Attempted   bool       `json:"attempted"`
	Closed      *bool      `json:"closed"`
	Paid        *bool      `json:"paid"`
	Status      string     `json:"status"`
	Currency    string     `json:"currency"`
	PeriodStart *int64     `json:"period_start"`
	PeriodEnd   *int64     `json:"period_end"`
	Subtotal    int64      `json:"subtotal"`
	Total       int64      `json:"total"`
	Charge      expandable `json:"charge"`
	Created     *int64     `json:"created"`
	Date        *int64     `json:"date"`
	Lines       struct {
		Data []wireLineItem `json:"data"`
	} `json:"lines"`
}

func (w wireInvoice) toInvoice() *billing.Invoice {
	out := &billing.Invoice{
		ID:          w.ID,
		CustomerID:  string(w.Customer),
		Attempted:   w.Attempted,
		Currency:    w.Currency,
		PeriodStart: w.PeriodStart,
		PeriodEnd:   w.PeriodEnd,
		Subtotal:    w.Subtotal,
		Total:       w.Total,
		ChargeID:    string(w.Charge),
		Created:     firstSet(w.Date, w.Created),
		Lines:       make([]billing.LineItem, 0, len(w.Lines.Data)),
	}
	if w.Paid != nil {
		out.Paid = *w.Paid
	} else {
		out.Paid = w.Status == "paid"
	}
	if w.Closed != nil {
		out.Closed = *w.Closed
	} else {
		out.Closed = w.Status == "void" || w.Status == "uncollectible"
	}
	for _, line := range w.Lines.Data {
		out.Lines = append(out.Lines, line.toLineItem())
	}
	return out
}

type wireCharge struct {
	ID                 string     `json:"id"`
	Customer           expandable `json:"customer"`
	Invoice            expandable `json:"invoice"`
	Currency           string     `json:"currency"`
	Amount             int64      `json:"amount"`
	AmountRefunded     *int64     `json:"amount_refunded"`
	Description        string     `json:"description"`
	Paid               bool       `json:"paid"`
	Refunded           bool       `json:"refunded"`
	Disputed           bool       `json:"disputed"`
	Fee                *int64     `json:"fee"`
	Created            *int64     `json:"created"`
	Card               *wireCard  `json:"card"`
	BalanceTransaction cardFee    `json:"balance_transaction"`
	PaymentDetails     *struct {
		Card *wireCard `json:"card"`
	} `json:"payment_method_details"`
}

// cardFee reads the fee of an expanded balance transaction.
type cardFee struct {
	fee *int64
}

func (f *cardFee) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var tx struct {
		Fee *int64 `json:"fee"`
	}
	if err := json.Unmarshal(data, &tx); err != nil {
		return err
	}
	f.fee = tx.Fee
	return nil
}

func (w wireCharge) toCharge() *billing.Charge {
	out := &billing.Charge{
		ID:             w.ID,
		CustomerID:     string(w.Customer),
		InvoiceID:      string(w.Invoice),
		Currency:       w.Currency,
		Amount:         w.Amount,
		AmountRefunded: w.AmountRefunded,
		Description:    w.Description,
		Paid:           w.Paid,
		Refunded:       w.Refunded,
		Disputed:       w.Disputed,
		Fee:            firstSet(w.Fee, w.BalanceTransaction.fee),
		Created:        w.Created,
		Card:           w.Card.toCard(),
	}
	if out.Card == nil && w.PaymentDetails != nil {
		out.Card = w.PaymentDetails.Card.toCard()
	}
	return out
}

type wireTransfer struct {
	ID          string                   `json:"id"`
	Amount      int64                    `json:"amount"`
	Currency    string                   `json:"currency"`
	Status      string                   `json:"status"`
	Date        *int64                   `json:"date"`
	Created     *int64                   `json:"created"`
	Description string                   `json:"description"`
	Summary     *billing.TransferSummary `json:"summary"`
}

func (w wireTransfer) toTransfer() *billing.Transfer {
	status := w.Status
	if status == "" {
		status = "paid"
	}
	return &billing.Transfer{
		ID:          w.ID,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Status:      status,
		Date:        firstSet(w.Date, w.Created),
		Description: w.Description,
		Summary:     w.Summary,
	}
}

type wireEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Livemode bool            `json:"livemode"`
	Created  int64           `json:"created"`
	Data     json.RawMessage `json:"data"`
}

func decodeEvent(raw []byte) (*billing.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &billing.Event{
		ID:       w.ID,
		Type:     w.Type,
		Livemode: w.Livemode,
		Created:  w.Created,
		Data:     w.Data,
		Raw:      append(json.RawMessage(nil), raw...),
	}, nil
}

func decode[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

func firstSet(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
