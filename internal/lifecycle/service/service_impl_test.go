package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	lifecyclesvc "github.com/smallbiznis/billmirror/internal/lifecycle/service"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/notify"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func int64Ptr(v int64) *int64 { return &v }

func seedPlans(h *mirrortest.Harness) {
	h.Billing.PutPlan(billing.Plan{ID: "pro", Name: "Pro", Currency: "usd", Interval: "month", IntervalCount: 1, Amount: 2000, TrialPeriodDays: int64Ptr(14)})
	h.Billing.PutPlan(billing.Plan{ID: "basic", Name: "Basic", Currency: "usd", Interval: "month", IntervalCount: 1, Amount: 900})
}

func pendingLine(h *mirrortest.Harness, customer customerdomain.Customer, amount int64) {
	h.Billing.AddPendingItem(customer.ProviderID, billing.LineItem{
		ID:       "ii_" + customer.ProviderID,
		Amount:   amount,
		Currency: "usd",
		Type:     "invoiceitem",
	})
}

func TestSubscribeUsesPlanTrial(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)
	rec := h.Record()

	sub, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "pro", Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialEnd.Equal(mirrortest.Epoch.AddDate(0, 0, 14)))
	assert.True(t, sub.InTrial(h.Clock.Now()))
	assert.True(t, sub.IsValid(h.Clock.Now()))
	assert.Equal(t, []string{notify.SubscriptionMade}, rec.Names())

	stored, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sub.ID, stored.ID)
}

func TestSubscribeTrialOverride(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)

	sub, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "pro", TrialDays: int64Ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.TrialStart)
	assert.EqualValues(t, 1, sub.Quantity)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)

	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "missing"})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "basic", Quantity: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = h.Lifecycle.ChangePlan(ctx, customer, domain.ChangePlanRequest{PlanID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
	assert.Zero(t, h.Billing.Calls("subscription.update"))
}

func TestSubscribeChargeImmediately(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", true)
	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_visa"))
	pendingLine(h, customer, 900)

	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{
		PlanID:            "basic",
		TrialDays:         int64Ptr(0),
		ChargeImmediately: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.Billing.Calls("invoice.pay"))
	charges, err := h.Charges.ListByCustomer(ctx, nil, customer)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Amount.Equal(decimal.NewFromInt(9)))
	assert.Len(t, h.Outbox.Messages(), 1)
}

func TestChangePlanKeepsTrial(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)

	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "pro"})
	require.NoError(t, err)

	sub, err := h.Lifecycle.ChangePlan(ctx, customer, domain.ChangePlanRequest{PlanID: "basic", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "basic", sub.PlanID)
	assert.EqualValues(t, 3, sub.Quantity)
	require.NotNil(t, sub.TrialEnd)
}

func TestCancelDuringTrialIsImmediate(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)
	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "pro"})
	require.NoError(t, err)
	rec := h.Record()

	h.Clock.Advance(24 * time.Hour)
	sub, err := h.Lifecycle.CancelSubscription(ctx, customer, true)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.EndedAt)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(h.Clock.Now()))
	assert.False(t, sub.IsValid(h.Clock.Now()))
	assert.Equal(t, []string{notify.SubscriptionCancelled}, rec.Names())
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)
	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "basic"})
	require.NoError(t, err)

	sub, err := h.Lifecycle.CancelSubscription(ctx, customer, true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.IsValid(h.Clock.Now()))

	h.Clock.Set(sub.CurrentPeriodEnd.Add(time.Second))
	assert.False(t, sub.IsValid(h.Clock.Now()))
}

func TestCancelWithoutSubscription(t *testing.T) {
	h := mirrortest.New(t)
	customer := h.Customer(t, "cus_1", false)

	_, err := h.Lifecycle.CancelSubscription(context.Background(), customer, false)
	assert.ErrorIs(t, err, domain.ErrNoSubscription)
	assert.Zero(t, h.Billing.Calls("subscription.cancel"))
}

func TestCancelRejectedRemotely(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	seedPlans(h)
	customer := h.Customer(t, "cus_1", false)
	_, err := h.Lifecycle.Subscribe(ctx, customer, domain.SubscribeRequest{PlanID: "basic"})
	require.NoError(t, err)

	h.Billing.Fail("subscription.cancel", &billing.Error{
		Category: billing.CategoryInvalidRequest,
		Message:  "No active subscription",
		Status:   http.StatusBadRequest,
	})
	_, err = h.Lifecycle.CancelSubscription(ctx, customer, false)
	assert.ErrorIs(t, err, domain.ErrCancellationFailed)

	sub, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestFirstCardInvoicesPendingItems(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", true)
	pendingLine(h, customer, 1500)
	rec := h.Record()

	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_1"))
	assert.Equal(t, "fp_1", customer.CardFingerprint)
	assert.True(t, customer.CanCharge())
	assert.Equal(t, 1, h.Billing.Calls("invoice.create"))
	assert.Equal(t, 1, h.Billing.Calls("invoice.pay"))
	assert.Equal(t, []string{notify.CardChanged}, rec.Names())

	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_2"))
	assert.Equal(t, 1, h.Billing.Calls("invoice.create"))

	stored, err := h.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp_2", stored.CardFingerprint)
}

func TestFirstCardWithNothingToInvoice(t *testing.T) {
	h := mirrortest.New(t)
	customer := h.Customer(t, "cus_1", false)

	require.NoError(t, h.Lifecycle.UpdateCard(context.Background(), &customer, "fp_1"))
	assert.Equal(t, 1, h.Billing.Calls("invoice.create"))
	assert.Zero(t, h.Billing.Calls("invoice.pay"))
}

func TestUpdateCardValidation(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)

	assert.ErrorIs(t, h.Lifecycle.UpdateCard(ctx, &customer, "  "), domain.ErrInvalidToken)

	require.NoError(t, h.Customers.Purge(ctx, nil, &customer))
	assert.ErrorIs(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_1"), domain.ErrCustomerPurged)
	assert.Zero(t, h.Billing.Calls("customer.update_card"))
}

func TestGetOrCreateCustomerIsIdempotent(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.DefaultPlan = "pro"
	policy.DefaultTrialDays = int64Ptr(30)
	h := mirrortest.New(t, mirrortest.WithPolicy(policy))
	ctx := context.Background()
	seedPlans(h)

	account, err := h.Accounts.Create(ctx, accountdomain.CreateAccountRequest{Email: "owner@example.com", Name: "Owner"})
	require.NoError(t, err)

	first, err := h.Lifecycle.GetOrCreateCustomer(ctx, account)
	require.NoError(t, err)
	second, err := h.Lifecycle.GetOrCreateCustomer(ctx, account)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, first.AccountID)
	assert.Equal(t, account.ID, *first.AccountID)
	assert.Equal(t, 1, h.Billing.Calls("customer.create"))

	remote, ok := h.Billing.Customer(first.ProviderID)
	require.True(t, ok)
	assert.Equal(t, "owner@example.com", remote.Email)

	sub, err := h.Subscriptions.GetByCustomerID(ctx, nil, first.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "pro", sub.PlanID)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialEnd.Equal(mirrortest.Epoch.AddDate(0, 0, 30)))
}

func TestRetryUnpaidInvoices(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", true)
	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_1"))

	start, end := h.Clock.Now().Add(-30*24*time.Hour).Unix(), h.Clock.Now().Unix()
	h.Billing.PutInvoice(billing.Invoice{
		ID: "in_open", CustomerID: "cus_1", Currency: "usd", Attempted: true,
		Subtotal: 2000, Total: 2000, PeriodStart: &start, PeriodEnd: &end,
	})
	h.Billing.PutInvoice(billing.Invoice{
		ID: "in_paid", CustomerID: "cus_1", Currency: "usd", Paid: true,
		Subtotal: 500, Total: 500, PeriodStart: &start, PeriodEnd: &end,
	})
	h.Billing.Fail("invoice.pay", &billing.Error{Category: billing.CategoryRateLimit, Message: "slow down", Status: http.StatusTooManyRequests})

	require.NoError(t, h.Lifecycle.RetryUnpaidInvoices(ctx, customer))

	inv, err := h.Invoices.GetByProviderID(ctx, nil, "in_open")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.True(t, inv.Paid)
	assert.Equal(t, 2, h.Billing.Calls("invoice.pay"))

	open, err := h.Invoices.ListOpen(ctx, nil, customer)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Len(t, h.Outbox.Messages(), 1)
}

func TestRetryUnpaidInvoicesSwallowsAlreadyPaid(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &customer, "fp_1"))

	h.Billing.PutInvoice(billing.Invoice{ID: "in_1", CustomerID: "cus_1", Currency: "usd", Total: 100, Subtotal: 100})
	h.Billing.Fail("invoice.pay", &billing.Error{
		Category: billing.CategoryInvalidRequest,
		Message:  "Invoice is already paid",
		Status:   http.StatusBadRequest,
	})

	assert.NoError(t, h.Lifecycle.RetryUnpaidInvoices(ctx, customer))
}

func TestRetryAllSkipsCustomersWithoutCard(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	withCard := h.Customer(t, "cus_1", false)
	require.NoError(t, h.Lifecycle.UpdateCard(ctx, &withCard, "fp_1"))
	h.Customer(t, "cus_2", false)

	var seen []string
	result, err := h.Lifecycle.RetryAllUnpaidInvoices(ctx, func(c customerdomain.Customer, err error) {
		seen = append(seen, c.ProviderID)
		assert.NoError(t, err)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BulkResult{Total: 2, Succeeded: 2}, result)
	assert.ElementsMatch(t, []string{"cus_1", "cus_2"}, seen)
	assert.Equal(t, 1, h.Billing.Calls("invoice.list"))
}

func TestResyncOverwritesMirror(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)

	h.Billing.PutCustomer(billing.Customer{ID: "cus_1", DefaultCard: &billing.Card{Fingerprint: "fp_r", Last4: "1111", Brand: "MasterCard"}})
	start, end := mirrortest.Epoch.Unix(), mirrortest.Epoch.AddDate(0, 1, 0).Unix()
	h.Billing.PutSubscription(billing.Subscription{
		ID: "sub_1", CustomerID: "cus_1", PlanID: "basic", Quantity: 1, Status: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	})
	h.Billing.PutInvoice(billing.Invoice{ID: "in_1", CustomerID: "cus_1", Currency: "usd", Paid: true, Total: 900, ChargeID: "ch_1"})
	h.Billing.PutCharge(billing.Charge{ID: "ch_1", CustomerID: "cus_1", InvoiceID: "in_1", Currency: "usd", Amount: 900, Paid: true})
	h.Billing.PutCharge(billing.Charge{ID: "ch_2", CustomerID: "cus_1", Currency: "usd", Amount: 100, Paid: true})

	result, err := h.Lifecycle.ResyncAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	stored, err := h.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp_r", stored.CardFingerprint)
	assert.Equal(t, "1111", stored.CardLast4)

	sub, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "basic", sub.PlanID)

	charges, err := h.Charges.ListByCustomer(ctx, nil, customer)
	require.NoError(t, err)
	assert.Len(t, charges, 2)
	assert.Empty(t, h.Outbox.Messages())
}

func TestResyncPurgedCustomer(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	require.NoError(t, h.Customers.Purge(ctx, nil, &customer))

	assert.ErrorIs(t, h.Lifecycle.Resync(ctx, customer), domain.ErrCustomerPurged)
}

func TestEnsureCustomers(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := h.Accounts.Create(ctx, accountdomain.CreateAccountRequest{Email: email})
		require.NoError(t, err)
	}
	h.Customer(t, "cus_existing", true)

	result, err := h.Lifecycle.EnsureCustomers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BulkResult{Total: 4, Succeeded: 4}, result)
	assert.Equal(t, 3, h.Billing.Calls("customer.create"))

	again, err := h.Lifecycle.EnsureCustomers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, again.Succeeded)
	assert.Equal(t, 3, h.Billing.Calls("customer.create"))
}

// staleAccountLookup misses the first account lookup, as a caller racing another
// GetOrCreateCustomer would.
type staleAccountLookup struct {
	customerdomain.Service
	missed bool
}

func (s *staleAccountLookup) FindByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*customerdomain.Customer, error) {
	if !s.missed {
		s.missed = true
		return nil, nil
	}
	return s.Service.FindByAccountID(ctx, db, accountID)
}

func TestGetOrCreateCustomerReusesConcurrentWinner(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	account, err := h.Accounts.Create(ctx, accountdomain.CreateAccountRequest{Email: "owner@example.com", Name: "Owner"})
	require.NoError(t, err)
	winner, err := h.Customers.Create(ctx, nil, customerdomain.CreateCustomerRequest{ProviderID: "cus_winner", AccountID: &account.ID})
	require.NoError(t, err)

	svc := lifecyclesvc.New(lifecyclesvc.Params{
		Log: zap.NewNop(), Clock: h.Clock, Billing: h.Billing, Policy: h.Policy, Notifier: h.Hub,
		AccountSvc: h.Accounts, CustomerSvc: &staleAccountLookup{Service: h.Customers},
		SubscriptionSvc: h.Subscriptions, InvoiceSvc: h.Invoices, ChargeSvc: h.Charges, PlanSvc: h.Plans,
	})

	got, err := svc.GetOrCreateCustomer(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, 1, h.Billing.Calls("customer.create"))
	assert.Equal(t, 1, h.Billing.Calls("customer.delete"))

	customers, err := h.Customers.List(ctx, customerdomain.ListCustomerFilter{IncludePurged: true})
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}
