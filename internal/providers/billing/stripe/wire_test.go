package stripe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInvoiceLegacyShape(t *testing.T) {
	raw := []byte(`{
		"id": "in_1",
		"customer": "cus_1",
		"attempted": true,
		"closed": false,
		"paid": true,
		"currency": "usd",
		"subtotal": 2000,
		"total": 2000,
		"charge": "ch_1",
		"date": 1704067200,
		"lines": {"data": [
			{"id": "ii_1", "amount": 1000, "currency": "usd", "proration": false, "type": "subscription",
			 "plan": {"id": "pro"}, "quantity": 1, "period": {"start": 1704067200, "end": 1706659200}}
		]}
	}`)

	w, err := decode[wireInvoice](raw)
	require.NoError(t, err)
	inv := w.toInvoice()

	assert.Equal(t, "cus_1", inv.CustomerID)
	assert.True(t, inv.Paid)
	assert.False(t, inv.Closed)
	assert.Equal(t, "ch_1", inv.ChargeID)
	require.NotNil(t, inv.Created)
	assert.EqualValues(t, 1704067200, *inv.Created)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, "pro", inv.Lines[0].PlanID)
	assert.EqualValues(t, 1706659200, *inv.Lines[0].PeriodEnd)
}

func TestDecodeInvoiceCurrentShape(t *testing.T) {
	raw := []byte(`{
		"id": "in_2",
		"customer": {"id": "cus_2", "object": "customer"},
		"status": "void",
		"currency": "usd",
		"lines": {"data": [
			{"id": "il_1", "amount": 500, "currency": "usd",
			 "parent": {"type": "subscription_item_details", "subscription_item_details": {"proration": true}},
			 "period": {"start": 1, "end": 2}}
		]}
	}`)

	w, err := decode[wireInvoice](raw)
	require.NoError(t, err)
	inv := w.toInvoice()

	assert.Equal(t, "cus_2", inv.CustomerID)
	assert.False(t, inv.Paid)
	assert.True(t, inv.Closed)
	assert.Empty(t, inv.ChargeID)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].Proration)
	assert.Equal(t, "subscription_item_details", inv.Lines[0].Type)
}

func TestDecodeSubscriptionFallsBackToItems(t *testing.T) {
	raw := []byte(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "trialing",
		"start_date": 100,
		"trial_start": 100,
		"trial_end": 200,
		"items": {"data": [
			{"id": "si_1", "quantity": 3, "current_period_start": 100, "current_period_end": 300,
			 "plan": {"id": "team", "amount": 1500, "currency": "usd"}}
		]}
	}`)

	w, err := decode[wireSubscription](raw)
	require.NoError(t, err)
	sub := w.toSubscription()

	assert.Equal(t, "si_1", sub.ItemID)
	assert.Equal(t, "team", sub.PlanID)
	assert.EqualValues(t, 1500, sub.PlanAmount)
	assert.EqualValues(t, 3, sub.Quantity)
	assert.EqualValues(t, 100, *sub.Start)
	assert.EqualValues(t, 300, *sub.CurrentPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
}

func TestDecodeCustomerCard(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "legacy default card",
			raw:  `{"id":"cus_1","default_card":{"id":"card_1","fingerprint":"fp1","last4":"4242","brand":"Visa"}}`,
			want: "fp1",
		},
		{
			name: "default source id only falls back to sources",
			raw:  `{"id":"cus_1","default_source":"card_2","sources":{"data":[{"id":"card_2","fingerprint":"fp2","last4":"1111","brand":"Visa"}]}}`,
			want: "fp2",
		},
		{
			name: "payment method",
			raw:  `{"id":"cus_1","invoice_settings":{"default_payment_method":{"id":"pm_1","type":"card","card":{"fingerprint":"fp3","last4":"0005","brand":"amex"}}}}`,
			want: "fp3",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := decode[wireCustomer]([]byte(tc.raw))
			require.NoError(t, err)
			cust := w.toCustomer()
			require.NotNil(t, cust.DefaultCard)
			assert.Equal(t, tc.want, cust.DefaultCard.Fingerprint)
		})
	}

	w, err := decode[wireCustomer]([]byte(`{"id":"cus_9","default_source":null}`))
	require.NoError(t, err)
	assert.Nil(t, w.toCustomer().DefaultCard)
}

func TestDecodeChargeFeeFromBalanceTransaction(t *testing.T) {
	raw := []byte(`{
		"id": "ch_1", "customer": "cus_1", "invoice": "in_1", "amount": 2000, "currency": "usd",
		"paid": true, "refunded": false,
		"balance_transaction": {"id": "txn_1", "fee": 88},
		"payment_method_details": {"card": {"fingerprint": "fp", "last4": "4242", "brand": "visa"}}
	}`)

	w, err := decode[wireCharge](raw)
	require.NoError(t, err)
	ch := w.toCharge()

	require.NotNil(t, ch.Fee)
	assert.EqualValues(t, 88, *ch.Fee)
	assert.Nil(t, ch.AmountRefunded)
	require.NotNil(t, ch.Card)
	assert.Equal(t, "4242", ch.Card.Last4)
	assert.Equal(t, "in_1", ch.InvoiceID)
}

func TestDecodeTransferSummary(t *testing.T) {
	raw := []byte(`{
		"id": "tr_1", "amount": 9000, "currency": "usd", "date": 1700000000,
		"summary": {"charge_count": 2, "charge_gross": 10000, "charge_fees": 1000, "net": 9000,
			"charge_fee_details": [{"amount": 1000, "currency": "usd", "type": "stripe_fee", "description": "Stripe processing fees"}]}
	}`)

	w, err := decode[wireTransfer](raw)
	require.NoError(t, err)
	tr := w.toTransfer()

	assert.Equal(t, "paid", tr.Status)
	require.NotNil(t, tr.Summary)
	assert.EqualValues(t, 2, tr.Summary.ChargeCount)
	require.Len(t, tr.Summary.ChargeFeeDetails, 1)
	assert.Equal(t, "stripe_fee", tr.Summary.ChargeFeeDetails[0].Type)
}

func TestDecodeEventKeepsRawBody(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"charge.succeeded","livemode":false,"created":5,"data":{"object":{"id":"ch_1"}}}`)

	ev, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "charge.succeeded", ev.Type)
	assert.JSONEq(t, string(raw), string(ev.Raw))

	var data map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Contains(t, data, "object")
}

func TestDecodeEmptyBody(t *testing.T) {
	_, err := decode[wireInvoice](nil)
	assert.Error(t, err)
}
