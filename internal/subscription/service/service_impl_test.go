package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func remoteSubscription(periodEnd time.Time) billing.Subscription {
	return billing.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		PlanID:             "pro",
		PlanAmount:         2500,
		Currency:           "usd",
		Quantity:           1,
		Status:             "active",
		CurrentPeriodStart: unix(periodEnd.AddDate(0, -1, 0)),
		CurrentPeriodEnd:   unix(periodEnd),
		CancelAtPeriodEnd:  true,
	}
}

func TestApplyHonoursPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy domain.Policy
		want   bool
	}{
		{name: "policy allows", policy: domain.Policy{CancelAtPeriodEnd: true}, want: true},
		{name: "policy forbids", policy: domain.Policy{CancelAtPeriodEnd: false}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := mirrortest.New(t)
			customer := h.Customer(t, "cus_1", false)
			remote := remoteSubscription(mirrortest.Epoch.AddDate(0, 0, 10))

			sub, err := h.Subscriptions.Apply(context.Background(), nil, customer, &remote, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sub.CancelAtPeriodEnd)
			assert.True(t, sub.Amount.Equal(decimal.NewFromInt(25)))
		})
	}
}

func TestIsValidAroundPeriodEnd(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	end := mirrortest.Epoch.Add(time.Hour)
	remote := remoteSubscription(end)

	sub, err := h.Subscriptions.Apply(ctx, nil, customer, &remote, domain.Policy{CancelAtPeriodEnd: true})
	require.NoError(t, err)

	assert.True(t, sub.IsValid(end.Add(-time.Second)))
	assert.False(t, sub.IsValid(end))
	assert.False(t, sub.IsValid(end.Add(time.Second)))

	sub.Status = domain.SubscriptionStatusPastDue
	assert.False(t, sub.IsValid(mirrortest.Epoch))
}

func TestApplyClearsPartialTrial(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)

	remote := remoteSubscription(mirrortest.Epoch.AddDate(0, 1, 0))
	remote.TrialStart = unix(mirrortest.Epoch)
	remote.TrialEnd = unix(mirrortest.Epoch.AddDate(0, 0, 7))
	sub, err := h.Subscriptions.Apply(ctx, nil, customer, &remote, domain.Policy{})
	require.NoError(t, err)
	assert.True(t, sub.InTrial(mirrortest.Epoch.Add(time.Hour)))

	remote.TrialEnd = nil
	sub, err = h.Subscriptions.Apply(ctx, nil, customer, &remote, domain.Policy{})
	require.NoError(t, err)
	assert.Nil(t, sub.TrialStart)
	assert.Nil(t, sub.TrialEnd)
	assert.False(t, sub.InTrial(mirrortest.Epoch.Add(time.Hour)))

	stored, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, stored.ID)
	assert.Nil(t, stored.TrialEnd)
}

func TestSyncLeavesLocalRowWhenRemoteIsGone(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	h.Billing.PutSubscription(remoteSubscription(mirrortest.Epoch.AddDate(0, 1, 0)))

	synced, err := h.Subscriptions.Sync(ctx, nil, customer, domain.Policy{CancelAtPeriodEnd: true})
	require.NoError(t, err)
	require.NotNil(t, synced)

	h.Billing.RemoveSubscription("cus_1")
	none, err := h.Subscriptions.Sync(ctx, nil, customer, domain.Policy{CancelAtPeriodEnd: true})
	require.NoError(t, err)
	assert.Nil(t, none)

	stored, err := h.Subscriptions.GetByCustomerID(ctx, nil, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, synced.ID, stored.ID)
}
