package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/billmirror/internal/invoice/domain"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func line(id string, end *int64) billing.LineItem {
	return billing.LineItem{ID: id, Amount: 500, Currency: "usd", Type: "subscription", Quantity: 1, PeriodEnd: end}
}

func TestApplyTakesLatestLinePeriodEnd(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	jan := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	remote := &billing.Invoice{
		ID:         "in_1",
		CustomerID: "cus_1",
		Currency:   "usd",
		PeriodEnd:  unix(mirrortest.Epoch),
		Lines:      []billing.LineItem{line("il_b", unix(feb)), line("il_a", unix(jan)), line("il_c", nil)},
	}
	result, err := h.Invoices.Apply(ctx, nil, customer, remote)
	require.NoError(t, err)
	require.NotNil(t, result.Invoice.PeriodEnd)
	assert.True(t, result.Invoice.PeriodEnd.Equal(feb))
	assert.Len(t, result.Items, 3)
	assert.Nil(t, result.Charge)

	// Re-applying updates lines in place.
	remote.Lines[0].Amount = 900
	_, err = h.Invoices.Apply(ctx, nil, customer, remote)
	require.NoError(t, err)
	items, err := h.Invoices.ListItems(ctx, nil, *result.Invoice)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestApplyKeepsRemotePeriodWithoutLinePeriods(t *testing.T) {
	h := mirrortest.New(t)
	customer := h.Customer(t, "cus_1", false)

	result, err := h.Invoices.Apply(context.Background(), nil, customer, &billing.Invoice{
		ID:         "in_1",
		CustomerID: "cus_1",
		PeriodEnd:  unix(mirrortest.Epoch),
		Lines:      []billing.LineItem{line("il_1", nil)},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Invoice.PeriodEnd)
	assert.True(t, result.Invoice.PeriodEnd.Equal(mirrortest.Epoch))
}

func TestSyncLinksCharge(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	h.Customer(t, "cus_1", false)
	h.Billing.PutInvoice(billing.Invoice{ID: "in_1", CustomerID: "cus_1", Paid: true, Total: 500, ChargeID: "ch_1"})
	h.Billing.PutCharge(billing.Charge{ID: "ch_1", CustomerID: "cus_1", InvoiceID: "in_1", Amount: 500, Paid: true})

	result, err := h.Invoices.Sync(ctx, nil, "in_1")
	require.NoError(t, err)
	require.NotNil(t, result.Charge)
	require.NotNil(t, result.Charge.InvoiceID)
	assert.Equal(t, result.Invoice.ID, *result.Charge.InvoiceID)
	assert.Equal(t, "ch_1", result.Invoice.ChargeProviderID)
}

func TestSyncUnknownCustomer(t *testing.T) {
	h := mirrortest.New(t)
	h.Billing.PutInvoice(billing.Invoice{ID: "in_1", CustomerID: "cus_ghost"})

	_, err := h.Invoices.Sync(context.Background(), nil, "in_1")
	assert.ErrorIs(t, err, domain.ErrUnknownCustomer)
}

func TestListOpenAndPay(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	h.Billing.PutCustomer(billing.Customer{ID: "cus_1", DefaultCard: &billing.Card{Fingerprint: "fp", Last4: "4242", Brand: "Visa"}})
	h.Billing.PutInvoice(billing.Invoice{ID: "in_open", CustomerID: "cus_1", Total: 300})
	h.Billing.PutInvoice(billing.Invoice{ID: "in_closed", CustomerID: "cus_1", Closed: true, Total: 300})
	h.Billing.PutInvoice(billing.Invoice{ID: "in_paid", CustomerID: "cus_1", Paid: true, Total: 300})

	_, err := h.Invoices.SyncAll(ctx, nil, customer)
	require.NoError(t, err)

	open, err := h.Invoices.ListOpen(ctx, nil, customer)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "in_open", open[0].ProviderID)

	require.NoError(t, h.Invoices.Pay(ctx, "in_open"))
	require.NoError(t, h.Invoices.Pay(ctx, "in_open"))
	assert.Equal(t, 2, h.Billing.Calls("invoice.pay"))
}

func TestCreateWithNothingPending(t *testing.T) {
	h := mirrortest.New(t)
	customer := h.Customer(t, "cus_1", false)

	_, err := h.Invoices.Create(context.Background(), customer)
	require.Error(t, err)
	assert.True(t, billing.IsNothingToInvoice(err))
}
