package service_test

import (
	"context"
	"testing"

	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	"github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/mirrortest"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsDuplicates(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	_, err := h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidProviderID)

	h.Customer(t, "cus_1", false)
	_, err = h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: "cus_1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSyncKeepsCardWhenRemoteHasNone(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", false)
	require.NoError(t, h.Customers.ApplyCard(ctx, nil, &customer, "fp_1", "4242", "Visa"))

	require.NoError(t, h.Customers.Sync(ctx, nil, &customer))
	assert.Equal(t, "fp_1", customer.CardFingerprint)

	h.Billing.PutCustomer(billing.Customer{ID: "cus_1", DefaultCard: &billing.Card{Fingerprint: "fp_2", Last4: "0005", Brand: "Amex"}})
	require.NoError(t, h.Customers.Sync(ctx, nil, &customer))

	stored, err := h.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp_2", stored.CardFingerprint)
	assert.Equal(t, "0005", stored.CardLast4)
	assert.Equal(t, "Amex", stored.CardKind)
}

func TestPurgeAnonymizesAndToleratesMissingRemote(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	customer := h.Customer(t, "cus_1", true)
	require.NoError(t, h.Customers.ApplyCard(ctx, nil, &customer, "fp_1", "4242", "Visa"))
	accountID := *customer.AccountID

	require.NoError(t, h.Customers.Purge(ctx, nil, &customer))
	_, ok := h.Billing.Customer("cus_1")
	assert.False(t, ok)

	stored, err := h.Customers.GetByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPurged())
	assert.Nil(t, stored.AccountID)
	assert.Empty(t, stored.CardLast4)

	byAccount, err := h.Customers.FindByAccountID(ctx, nil, accountID)
	require.NoError(t, err)
	assert.Nil(t, byAccount)

	// A second purge finds the remote customer already gone.
	require.NoError(t, h.Customers.Purge(ctx, nil, &stored))
}

func TestListSkipsPurgedUnlessAsked(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()
	kept := h.Customer(t, "cus_1", false)
	gone := h.Customer(t, "cus_2", false)
	require.NoError(t, h.Customers.Purge(ctx, nil, &gone))

	active, err := h.Customers.List(ctx, domain.ListCustomerFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)

	all, err := h.Customers.List(ctx, domain.ListCustomerFilter{IncludePurged: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	page, err := h.Customers.List(ctx, domain.ListCustomerFilter{IncludePurged: true, AfterID: all[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestFindByProviderIDBlank(t *testing.T) {
	h := mirrortest.New(t)

	found, err := h.Customers.FindByProviderID(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCreateAllowsOneCustomerPerAccount(t *testing.T) {
	h := mirrortest.New(t)
	ctx := context.Background()

	account, err := h.Accounts.Create(ctx, accountdomain.CreateAccountRequest{Email: "owner@example.com", Name: "Owner"})
	require.NoError(t, err)

	_, err = h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: "cus_a", AccountID: &account.ID})
	require.NoError(t, err)
	_, err = h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: "cus_b", AccountID: &account.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: "cus_c"})
	require.NoError(t, err)
	_, err = h.Customers.Create(ctx, nil, domain.CreateCustomerRequest{ProviderID: "cus_d"})
	require.NoError(t, err)
}
