package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/plan/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSlugsNameAndPushesRemote(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	plan, err := h.Plans.Create(ctx, domain.CreatePlanRequest{
		Name:     "Team Monthly",
		Interval: "Month",
		Amount:   decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, "team-monthly", plan.ProviderID)
	assert.Equal(t, "usd", plan.Currency)
	assert.EqualValues(t, 1, plan.IntervalCount)

	remote, ok := h.Billing.Plan("team-monthly")
	require.True(t, ok)
	assert.EqualValues(t, 1999, remote.Amount)
	assert.Equal(t, "month", remote.Interval)

	_, err = h.Plans.Create(ctx, domain.CreatePlanRequest{Name: "Team Monthly", Interval: "month"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateValidation(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	_, err := h.Plans.Create(ctx, domain.CreatePlanRequest{Interval: "month"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = h.Plans.Create(ctx, domain.CreatePlanRequest{Name: "Pro", Interval: "fortnight"})
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
	_, err = h.Plans.Create(ctx, domain.CreatePlanRequest{Name: "Pro", Interval: "year", Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Zero(t, h.Billing.Calls("plan.create"))
}

func TestRenameOnlyTouchesName(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	_, err := h.Plans.Create(ctx, domain.CreatePlanRequest{ProviderID: "pro", Name: "Pro", Interval: "month", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	renamed, err := h.Plans.Rename(ctx, "pro", "Professional")
	require.NoError(t, err)
	assert.Equal(t, "Professional", renamed.Name)

	_, err = h.Plans.Rename(ctx, "pro", "Professional")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Billing.Calls("plan.update"))

	remote, _ := h.Billing.Plan("pro")
	assert.Equal(t, "Professional", remote.Name)
	assert.EqualValues(t, 1000, remote.Amount)

	_, err = h.Plans.Rename(ctx, "missing", "X")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPushCreatesImportsAndSkips(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	_, err := h.Plans.Create(ctx, domain.CreatePlanRequest{ProviderID: "local", Name: "Local", Interval: "month"})
	require.NoError(t, err)
	h.Billing.PutPlan(billing.Plan{ID: "remote", Name: "Remote Name", Currency: "usd", Interval: "year", IntervalCount: 1, Amount: 12000})

	trial := int64(14)
	catalog := []config.PlanConfig{
		{ID: "local", Name: "Local", Interval: "month", Amount: "5"},
		{ID: "remote", Name: "Changed Name", Interval: "month", Amount: "1"},
		{Name: "Brand New", Interval: "week", Amount: "2.50", TrialPeriodDays: &trial},
	}
	result, err := h.Plans.Push(ctx, catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"brand-new"}, result.Created)
	assert.Equal(t, []string{"remote"}, result.Imported)
	assert.Equal(t, []string{"local"}, result.Skipped)

	imported, err := h.Plans.GetByProviderID(ctx, "remote")
	require.NoError(t, err)
	assert.Equal(t, "Remote Name", imported.Name)
	assert.True(t, imported.Amount.Equal(decimal.NewFromInt(120)))

	created, err := h.Plans.GetByProviderID(ctx, "brand-new")
	require.NoError(t, err)
	require.NotNil(t, created.TrialPeriodDays)
	assert.EqualValues(t, 14, *created.TrialPeriodDays)

	plans, err := h.Plans.List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestPushRejectsBadAmount(t *testing.T) {
	h := mirrortest.New(t)

	_, err := h.Plans.Push(context.Background(), []config.PlanConfig{{ID: "x", Name: "X", Interval: "month", Amount: "1e3"}})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
