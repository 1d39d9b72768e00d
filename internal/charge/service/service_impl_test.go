package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billmirror/internal/charge/domain"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chargeable(t *testing.T, h *mirrortest.Harness, providerID string, withAccount bool) customerdomain.Customer {
	t.Helper()
	customer := h.Customer(t, providerID, withAccount)
	card := &billing.Card{Fingerprint: "fp_" + providerID, Last4: "4242", Brand: "Visa"}
	h.Billing.PutCustomer(billing.Customer{ID: providerID, DefaultCard: card})
	require.NoError(t, h.Customers.ApplyCard(context.Background(), nil, &customer, card.Fingerprint, card.Last4, card.Brand))
	return customer
}

func TestCreateCharge(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := chargeable(t, h, "cus_1", false)

	charge, err := h.Charges.Create(ctx, customer, domain.CreateChargeRequest{
		Amount:      decimal.RequireFromString("12.50"),
		Currency:    " USD ",
		Description: "One-off setup",
	})
	require.NoError(t, err)
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "usd", charge.Currency)
	require.NotNil(t, charge.Paid)
	assert.True(t, *charge.Paid)
	assert.Equal(t, "4242", charge.CardLast4)
	assert.Nil(t, charge.InvoiceID)
}

func TestCreateChargeGuards(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	noCard := h.Customer(t, "cus_1", false)

	_, err := h.Charges.Create(ctx, noCard, domain.CreateChargeRequest{Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, domain.ErrCannotCharge)

	customer := chargeable(t, h, "cus_2", false)
	_, err = h.Charges.Create(ctx, customer, domain.CreateChargeRequest{Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Zero(t, h.Billing.Calls("charge.create"))
}

func TestRefundClampsToRemaining(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := chargeable(t, h, "cus_1", false)

	charge, err := h.Charges.Create(ctx, customer, domain.CreateChargeRequest{Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	partial := decimal.NewFromInt(4)
	charge, err = h.Charges.Refund(ctx, *charge, &partial)
	require.NoError(t, err)
	require.True(t, charge.AmountRefunded.Valid)
	assert.True(t, charge.AmountRefunded.Decimal.Equal(partial))
	assert.True(t, charge.Refundable().Equal(decimal.NewFromInt(6)))

	tooMuch := decimal.NewFromInt(100)
	charge, err = h.Charges.Refund(ctx, *charge, &tooMuch)
	require.NoError(t, err)
	require.NotNil(t, charge.Refunded)
	assert.True(t, *charge.Refunded)
	assert.True(t, charge.Refundable().IsZero())

	_, err = h.Charges.Refund(ctx, *charge, nil)
	assert.ErrorIs(t, err, domain.ErrNothingToRefund)
	assert.Equal(t, 2, h.Billing.Calls("charge.refund"))
}

func TestSyncUnknownCustomer(t *testing.T) {
	h := mirrortest.New(t)
	h.Billing.PutCharge(billing.Charge{ID: "ch_1", CustomerID: "cus_ghost", Amount: 100, Currency: "usd"})

	_, err := h.Charges.Sync(context.Background(), nil, "ch_1")
	assert.ErrorIs(t, err, domain.ErrUnknownCustomer)
}

func TestApplyTriStateFlags(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	h.Billing.PutCharge(billing.Charge{ID: "ch_1", CustomerID: "cus_1", Amount: 700, Currency: "usd", Refunded: true})

	charge, err := h.Charges.Sync(ctx, nil, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, charge.CustomerID)
	require.NotNil(t, charge.Paid)
	assert.False(t, *charge.Paid)
	require.True(t, charge.AmountRefunded.Valid)
	assert.True(t, charge.AmountRefunded.Decimal.Equal(decimal.NewFromInt(7)))
	assert.False(t, charge.Fee.Valid)
}

func TestSendReceiptAtMostOnce(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := chargeable(t, h, "cus_1", true)
	charge, err := h.Charges.Create(ctx, customer, domain.CreateChargeRequest{Amount: decimal.NewFromInt(20), Description: "Seats"})
	require.NoError(t, err)

	sent, err := h.Charges.SendReceipt(ctx, *charge)
	require.NoError(t, err)
	assert.True(t, sent)

	// A stale copy still carries ReceiptSent=false; the claim stops the second send.
	sent, err = h.Charges.SendReceipt(ctx, *charge)
	require.NoError(t, err)
	assert.False(t, sent)

	messages := h.Outbox.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"cus_1@example.com"}, messages[0].To)
	assert.Contains(t, messages[0].Text, "20.00 USD")
	assert.Contains(t, messages[0].Text, "Seats")
}

func TestSendReceiptReleasesClaimOnFailure(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := chargeable(t, h, "cus_1", true)
	charge, err := h.Charges.Create(ctx, customer, domain.CreateChargeRequest{Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)

	h.Outbox.FailWith = errors.New("smtp down")
	_, err = h.Charges.SendReceipt(ctx, *charge)
	require.Error(t, err)

	stored, err := h.Charges.GetByProviderID(ctx, nil, charge.ProviderID)
	require.NoError(t, err)
	assert.False(t, stored.ReceiptSent)

	h.Outbox.FailWith = nil
	sent, err := h.Charges.SendReceipt(ctx, *stored)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestSendReceiptSkips(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	orphan := chargeable(t, h, "cus_1", false)
	charge, err := h.Charges.Create(ctx, orphan, domain.CreateChargeRequest{Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	sent, err := h.Charges.SendReceipt(ctx, *charge)
	require.NoError(t, err)
	assert.False(t, sent)

	unpaid := *charge
	paid := false
	unpaid.Paid = &paid
	sent, err = h.Charges.SendReceipt(ctx, unpaid)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, h.Outbox.Messages())
}
