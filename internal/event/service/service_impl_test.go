package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/event/domain"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/notify"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/providers/billing/billingtest"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// deliver registers the canonical copy remotely and ingests the same body.
func deliver(t *testing.T, h *mirrortest.Harness, id, kind string, object any) domain.IngestResult {
	t.Helper()
	payload := billingtest.EventPayload(id, kind, object)
	h.Billing.PutEvent(billingtest.CanonicalEvent(payload))
	result, err := h.Events.Ingest(context.Background(), payload, "")
	require.NoError(t, err)
	require.NotNil(t, result.Event)
	return result
}

func countRows(t *testing.T, h *mirrortest.Harness, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.DB.Table(table).Count(&n).Error)
	return n
}

func seedInvoice(h *mirrortest.Harness, ends ...time.Time) {
	lines := make([]billing.LineItem, 0, len(ends))
	for i, end := range ends {
		lines = append(lines, billing.LineItem{
			ID:          fmt.Sprintf("il_%d", i+1),
			Amount:      1000,
			Currency:    "usd",
			Type:        "subscription",
			PlanID:      "pro",
			Quantity:    1,
			PeriodStart: unix(end.AddDate(0, -1, 0)),
			PeriodEnd:   unix(end),
		})
	}
	h.Billing.PutInvoice(billing.Invoice{
		ID:         "in_1",
		CustomerID: "cus_1",
		Attempted:  true,
		Paid:       true,
		Currency:   "usd",
		PeriodEnd:  unix(day(2024, 1, 1)),
		Subtotal:   int64(1000 * len(ends)),
		Total:      int64(1000 * len(ends)),
		ChargeID:   "ch_1",
		Lines:      lines,
	})
	h.Billing.PutCharge(billing.Charge{
		ID:         "ch_1",
		CustomerID: "cus_1",
		InvoiceID:  "in_1",
		Currency:   "usd",
		Amount:     int64(1000 * len(ends)),
		Paid:       true,
		Card:       &billing.Card{Last4: "4242", Brand: "Visa"},
	})
}

func TestInvoicePaymentSucceededUsesLatestLinePeriod(t *testing.T) {
	cases := map[string][]time.Time{
		"response order": {day(2024, 1, 31), day(2024, 2, 28)},
		"reversed order": {day(2024, 2, 28), day(2024, 1, 31)},
	}
	for name, ends := range cases {
		t.Run(name, func(t *testing.T) {
			h := mirrortest.New(t)
			ctx := context.Background()
			customer := h.Customer(t, "cus_1", true)
			seedInvoice(h, ends...)
			rec := h.Record()

			result := deliver(t, h, "evt_1", "invoice.payment_succeeded", map[string]any{
				"id": "in_1", "object": "invoice", "customer": "cus_1",
			})

			assert.False(t, result.Duplicate)
			assert.Equal(t, domain.StatusProcessed, result.Event.Status)
			assert.True(t, result.Event.Processed)
			require.NotNil(t, result.Event.CustomerID)
			assert.Equal(t, customer.ID, *result.Event.CustomerID)

			inv, err := h.Invoices.GetByProviderID(ctx, nil, "in_1")
			require.NoError(t, err)
			require.NotNil(t, inv)
			require.NotNil(t, inv.PeriodEnd)
			assert.True(t, inv.PeriodEnd.Equal(day(2024, 2, 28)))

			items, err := h.Invoices.ListItems(ctx, nil, *inv)
			require.NoError(t, err)
			assert.Len(t, items, 2)

			charge, err := h.Charges.GetByProviderID(ctx, nil, "ch_1")
			require.NoError(t, err)
			require.NotNil(t, charge)
			require.NotNil(t, charge.InvoiceID)
			assert.Equal(t, inv.ID, *charge.InvoiceID)
			assert.True(t, charge.ReceiptSent)
			assert.Len(t, h.Outbox.Messages(), 1)

			assert.Equal(t, []string{"invoice.payment_succeeded"}, rec.Names())
		})
	}
}

func TestDuplicateDeliveryIsRecordedOnce(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	h.Customer(t, "cus_1", false)

	object := map[string]any{"id": "cus_1", "object": "customer"}
	first := deliver(t, h, "evt_dup", "customer.updated", object)
	assert.False(t, first.Duplicate)

	payload := billingtest.EventPayload("evt_dup", "customer.updated", object)
	second, err := h.Events.Ingest(ctx, payload, "")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)

	assert.EqualValues(t, 1, countRows(t, h, "events"))
	detail, err := h.Events.Get(ctx, first.Event.ID)
	require.NoError(t, err)
	require.Len(t, detail.Exceptions, 1)
	assert.Equal(t, "duplicate event", detail.Exceptions[0].Message)
}

func TestTamperedPayloadIsNeverDispatched(t *testing.T) {
	kinds := []string{
		"invoice.payment_succeeded",
		"charge.succeeded",
		"transfer.created",
		"customer.subscription.updated",
		"customer.deleted",
		"plan.created",
	}
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			h := mirrortest.New(t)
			h.Customer(t, "cus_1", true)
			seedInvoice(h, day(2024, 1, 31))
			rec := h.Record()

			object := map[string]any{"id": "obj_1", "customer": "cus_1"}
			payload := billingtest.EventPayload("evt_1", kind, object)
			canonical := billingtest.CanonicalEvent(payload)
			canonical.Data = json.RawMessage(`{"object":{"id":"obj_1","customer":"cus_2"}}`)
			h.Billing.PutEvent(canonical)

			result, err := h.Events.Ingest(context.Background(), payload, "")
			require.NoError(t, err)

			require.NotNil(t, result.Event.Valid)
			assert.False(t, *result.Event.Valid)
			assert.Equal(t, domain.StatusInvalid, result.Event.Status)
			assert.False(t, result.Event.Processed)
			for _, op := range []string{"invoice.retrieve", "charge.retrieve", "transfer.retrieve", "subscription.retrieve", "customer.delete"} {
				assert.Zero(t, h.Billing.Calls(op), op)
			}
			assert.Empty(t, rec.Names())

			_, err = h.Events.Retry(context.Background(), result.Event.ID)
			assert.ErrorIs(t, err, domain.ErrNotValid)
		})
	}
}

func TestRemoteFailureLeavesEventRetryable(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	h.Customer(t, "cus_1", false)
	seedInvoice(h, day(2024, 1, 31))
	rec := h.Record()

	h.Billing.Fail("invoice.retrieve", &billing.Error{
		Category: billing.CategoryAPI,
		Message:  "upstream unavailable",
		Status:   http.StatusInternalServerError,
		Body:     []byte(`{"error":{"type":"api_error"}}`),
	})

	result := deliver(t, h, "evt_fail", "invoice.payment_failed", map[string]any{"id": "in_1", "customer": "cus_1"})
	assert.Equal(t, domain.StatusFailed, result.Event.Status)
	assert.False(t, result.Event.Processed)
	assert.Equal(t, 1, result.Event.Attempts)
	assert.Contains(t, result.Event.LastError, "upstream unavailable")

	detail, err := h.Events.Get(ctx, result.Event.ID)
	require.NoError(t, err)
	require.Len(t, detail.Exceptions, 1)
	assert.Equal(t, `{"error":{"type":"api_error"}}`, detail.Exceptions[0].Data)
	assert.NotEmpty(t, detail.Exceptions[0].Traceback)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.WebhookProcessingError, last.Name)
	assert.Error(t, last.Err)

	inv, err := h.Invoices.GetByProviderID(ctx, nil, "in_1")
	require.NoError(t, err)
	assert.Nil(t, inv)

	retried, err := h.Events.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Processed)

	detail, err = h.Events.Get(ctx, result.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, detail.Event.Status)
	assert.Equal(t, 2, detail.Event.Attempts)
	assert.Empty(t, detail.Event.LastError)

	inv, err = h.Invoices.GetByProviderID(ctx, nil, "in_1")
	require.NoError(t, err)
	assert.NotNil(t, inv)
}

func TestUnreachableValidationIsRetried(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	payload := billingtest.EventPayload("evt_v", "ping", map[string]any{"id": "x"})
	h.Billing.PutEvent(billingtest.CanonicalEvent(payload))
	h.Billing.Fail("event.retrieve", errors.New("connection reset"))

	result, err := h.Events.Ingest(ctx, payload, "")
	require.NoError(t, err)
	assert.Nil(t, result.Event.Valid)
	assert.Equal(t, domain.StatusReceived, result.Event.Status)

	event, err := h.Events.Retry(ctx, result.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, event.Status)
}

func TestCustomerDeletedPurgesButKeepsHistory(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", true)
	require.NoError(t, h.Customers.ApplyCard(ctx, nil, &customer, "fp_1", "4242", "Visa"))
	seedInvoice(h, day(2024, 1, 31))
	_, err := h.Invoices.Sync(ctx, nil, "in_1")
	require.NoError(t, err)

	result := deliver(t, h, "evt_del", "customer.deleted", map[string]any{"id": "cus_1", "object": "customer"})
	assert.Equal(t, domain.StatusProcessed, result.Event.Status)

	purged, err := h.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, purged.IsPurged())
	assert.False(t, purged.CanCharge())
	assert.Nil(t, purged.AccountID)
	assert.Empty(t, purged.CardFingerprint)

	charges, err := h.Charges.ListByCustomer(ctx, nil, purged)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, purged.ID, charges[0].CustomerID)
}

func TestSubscriptionEventAppliesPolicy(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.CancelAtPeriodEnd = false
	h := mirrortest.New(t, mirrortest.WithPolicy(policy))
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)

	h.Billing.PutSubscription(billing.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		PlanID:             "pro",
		PlanAmount:         1500,
		Currency:           "usd",
		Quantity:           2,
		Status:             "active",
		CurrentPeriodStart: unix(day(2024, 1, 1)),
		CurrentPeriodEnd:   unix(day(2024, 2, 1)),
		TrialStart:         unix(day(2024, 1, 1)),
		CancelAtPeriodEnd:  true,
	})

	result := deliver(t, h, "evt_sub", "customer.subscription.updated", map[string]any{
		"id": "sub_1", "object": "subscription", "customer": "cus_1",
	})
	assert.Equal(t, domain.StatusProcessed, result.Event.Status)

	sub, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "pro", sub.PlanID)
	assert.EqualValues(t, 2, sub.Quantity)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.TrialStart)
	assert.Nil(t, sub.TrialEnd)
}

func TestSubscriptionEventForUnknownCustomerFails(t *testing.T) {
	h := mirrortest.New(t)

	result := deliver(t, h, "evt_sub", "customer.subscription.created", map[string]any{
		"id": "sub_1", "customer": "cus_missing",
	})
	assert.Equal(t, domain.StatusFailed, result.Event.Status)
	assert.Nil(t, result.Event.CustomerID)
	assert.Contains(t, result.Event.LastError, domain.ErrUnknownCustomer.Error())
}

func TestTransferEventsShareOneRow(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	h.Billing.PutTransfer(billing.Transfer{
		ID:       "tr_1",
		Amount:   9000,
		Currency: "usd",
		Status:   "pending",
		Summary: &billing.TransferSummary{
			ChargeCount: 3,
			ChargeGross: 10000,
			ChargeFees:  1000,
			Net:         9000,
			ChargeFeeDetails: []billing.FeeDetail{
				{Amount: 700, Currency: "usd", Type: "stripe_fee"},
				{Amount: 300, Currency: "usd", Type: "application_fee", Application: "ca_1"},
			},
		},
	})
	created := deliver(t, h, "evt_tr1", "transfer.created", map[string]any{"id": "tr_1", "object": "transfer"})

	h.Billing.PutTransfer(billing.Transfer{
		ID:       "tr_1",
		Amount:   9000,
		Currency: "usd",
		Status:   "paid",
		Summary: &billing.TransferSummary{
			ChargeFeeDetails: []billing.FeeDetail{{Amount: 1, Currency: "usd", Type: "stripe_fee"}},
		},
	})
	deliver(t, h, "evt_tr2", "transfer.paid", map[string]any{"id": "tr_1", "object": "transfer"})

	assert.EqualValues(t, 1, countRows(t, h, "transfers"))
	tr, err := h.Transfers.GetByProviderID(ctx, nil, "tr_1")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "paid", tr.Status)
	require.NotNil(t, tr.EventID)
	assert.Equal(t, created.Event.ID, *tr.EventID)

	fees, err := h.Transfers.ListFees(ctx, nil, *tr)
	require.NoError(t, err)
	assert.Len(t, fees, 2)
}

func TestUnroutedKindsStillNotify(t *testing.T) {
	h := mirrortest.New(t)
	rec := h.Record()

	for i, kind := range []string{"ping", "plan.created", "coupon.deleted", "customer.created"} {
		result := deliver(t, h, "evt_"+string(rune('a'+i)), kind, map[string]any{"id": "obj"})
		assert.Equal(t, domain.StatusProcessed, result.Event.Status, kind)
	}
	assert.Equal(t, []string{"ping", "plan.created", "coupon.deleted", "customer.created"}, rec.Names())
}

func TestCustomerLinkUsesObjectIDForCustomerKinds(t *testing.T) {
	h := mirrortest.New(t)
	customer := h.Customer(t, "cus_1", false)

	byID := deliver(t, h, "evt_c", "customer.updated", map[string]any{"id": "cus_1", "customer": "cus_other"})
	require.NotNil(t, byID.Event.CustomerID)
	assert.Equal(t, customer.ID, *byID.Event.CustomerID)

	byField := deliver(t, h, "evt_d", "plan.updated", map[string]any{"id": "pro", "customer": map[string]any{"id": "cus_1"}})
	require.NotNil(t, byField.Event.CustomerID)
	assert.Equal(t, customer.ID, *byField.Event.CustomerID)

	unknown := deliver(t, h, "evt_e", "coupon.created", map[string]any{"id": "co_1", "customer": "cus_nobody"})
	assert.Nil(t, unknown.Event.CustomerID)
	assert.Equal(t, domain.StatusProcessed, unknown.Event.Status)
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	h := mirrortest.New(t)

	for _, body := range []string{`not json`, `{"id":"","type":"ping","data":{"object":{}}}`, `{"id":"evt_1","type":"ping"}`} {
		_, err := h.Events.Ingest(context.Background(), []byte(body), "")
		assert.ErrorIs(t, err, domain.ErrMalformedPayload, body)
	}
	assert.EqualValues(t, 0, countRows(t, h, "events"))
}

type rejectAll struct{}

func (rejectAll) Verify([]byte, string) error { return errors.New("bad signature") }

func TestInvalidSignatureRecordsNothing(t *testing.T) {
	h := mirrortest.New(t, mirrortest.WithVerifier(rejectAll{}))

	payload := billingtest.EventPayload("evt_1", "ping", map[string]any{"id": "x"})
	_, err := h.Events.Ingest(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.EqualValues(t, 0, countRows(t, h, "events"))
}

func TestDispatchSkipsLockedEvent(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	payload := billingtest.EventPayload("evt_lock", "ping", map[string]any{"id": "x"})
	h.Billing.PutEvent(billingtest.CanonicalEvent(payload))
	h.Billing.Fail("event.retrieve", errors.New("timeout"))
	result, err := h.Events.Ingest(ctx, payload, "")
	require.NoError(t, err)

	_, held, err := h.Locker.TryLock(ctx, "billmirror:event:evt_lock", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = h.Events.Retry(ctx, result.Event.ID)
	assert.ErrorIs(t, err, domain.ErrLocked)
}

func TestEventHeldDuringIngestIsRetriedLater(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	key := "billmirror:event:evt_held"
	token, held, err := h.Locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	result := deliver(t, h, "evt_held", "ping", map[string]any{"id": "x"})
	assert.Equal(t, domain.StatusValid, result.Event.Status)
	assert.False(t, result.Event.Processed)

	require.NoError(t, h.Locker.Release(ctx, key, token))

	retried, err := h.Events.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Attempted)
	assert.Equal(t, 1, retried.Processed)

	detail, err := h.Events.Get(ctx, result.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, detail.Event.Status)
	assert.True(t, detail.Event.Processed)
	assert.Empty(t, detail.Exceptions)
}

type flakyLocker struct {
	ratelimit.Locker
	failures int
}

func (l *flakyLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.failures > 0 {
		l.failures--
		return "", false, errors.New("dial tcp: connection refused")
	}
	return l.Locker.TryLock(ctx, key, ttl)
}

func TestLockOutageIsRecordedAndRetried(t *testing.T) {
	locker := &flakyLocker{Locker: ratelimit.NewLocalLocker(), failures: 1}
	h := mirrortest.New(t, mirrortest.WithEventLocker(locker))
	ctx := context.Background()

	result := deliver(t, h, "evt_outage", "ping", map[string]any{"id": "x"})
	assert.Equal(t, domain.StatusFailed, result.Event.Status)
	assert.Equal(t, 1, result.Event.Attempts)
	assert.Contains(t, result.Event.LastError, "acquire event lock")

	detail, err := h.Events.Get(ctx, result.Event.ID)
	require.NoError(t, err)
	require.Len(t, detail.Exceptions, 1)
	assert.Contains(t, detail.Exceptions[0].Message, "connection refused")

	retried, err := h.Events.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Processed)

	detail, err = h.Events.Get(ctx, result.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, detail.Event.Status)
	assert.Equal(t, 2, detail.Event.Attempts)
}
