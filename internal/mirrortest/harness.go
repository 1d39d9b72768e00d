// Package mirrortest wires the billing mirror services over an in-memory database and the
// fake billing client for tests.
package mirrortest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	accountrepo "github.com/smallbiznis/billmirror/internal/account/repository"
	accountsvc "github.com/smallbiznis/billmirror/internal/account/service"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	chargerepo "github.com/smallbiznis/billmirror/internal/charge/repository"
	chargesvc "github.com/smallbiznis/billmirror/internal/charge/service"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	customerrepo "github.com/smallbiznis/billmirror/internal/customer/repository"
	customersvc "github.com/smallbiznis/billmirror/internal/customer/service"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	eventrepo "github.com/smallbiznis/billmirror/internal/event/repository"
	eventsvc "github.com/smallbiznis/billmirror/internal/event/service"
	invoicedomain "github.com/smallbiznis/billmirror/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/billmirror/internal/invoice/repository"
	invoicesvc "github.com/smallbiznis/billmirror/internal/invoice/service"
	lifecycledomain "github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	lifecyclesvc "github.com/smallbiznis/billmirror/internal/lifecycle/service"
	"github.com/smallbiznis/billmirror/internal/migration"
	"github.com/smallbiznis/billmirror/internal/notify"
	plandomain "github.com/smallbiznis/billmirror/internal/plan/domain"
	planrepo "github.com/smallbiznis/billmirror/internal/plan/repository"
	plansvc "github.com/smallbiznis/billmirror/internal/plan/service"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/providers/billing/billingtest"
	"github.com/smallbiznis/billmirror/internal/providers/email"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/billmirror/internal/subscription/repository"
	subscriptionsvc "github.com/smallbiznis/billmirror/internal/subscription/service"
	transferdomain "github.com/smallbiznis/billmirror/internal/transfer/domain"
	transferrepo "github.com/smallbiznis/billmirror/internal/transfer/repository"
	transfersvc "github.com/smallbiznis/billmirror/internal/transfer/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fake clock start used by every harness.
var Epoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type Harness struct {
	DB       *gorm.DB
	Clock    *clock.FakeClock
	GenID    *snowflake.Node
	Billing  *billingtest.Client
	Outbox   *Outbox
	Hub      *notify.Hub
	Policy   *config.PolicyHolder
	Locker   *ratelimit.LocalLocker
	Config   config.Config
	Verifier billing.WebhookVerifier

	// eventLocker replaces Locker for event dispatch when set.
	eventLocker ratelimit.Locker

	Accounts      accountdomain.Service
	Customers     customerdomain.Service
	Subscriptions subscriptiondomain.Service
	Invoices      invoicedomain.Service
	Charges       chargedomain.Service
	Transfers     transferdomain.Service
	Plans         plandomain.Service
	Events        eventdomain.Service
	Lifecycle     lifecycledomain.Service
}

// Option adjusts the harness before the services are built.
type Option func(*Harness)

func WithPolicy(policy config.BillingPolicy) Option {
	return func(h *Harness) { h.Policy = config.NewStaticPolicyHolder(policy) }
}

func WithVerifier(v billing.WebhookVerifier) Option {
	return func(h *Harness) { h.Verifier = v }
}

// WithEventLocker guards event dispatch with l instead of the in-process locker.
func WithEventLocker(l ratelimit.Locker) Option {
	return func(h *Harness) { h.eventLocker = l }
}

// OpenDB returns an isolated in-memory database with the full schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h := &Harness{
		DB:      OpenDB(t),
		Clock:   clock.NewFakeClock(Epoch),
		GenID:   node,
		Billing: billingtest.New(),
		Outbox:  &Outbox{},
		Hub:     notify.NewHub(zap.NewNop(), nil),
		Policy:  config.NewStaticPolicyHolder(config.DefaultBillingPolicy()),
		Locker:  ratelimit.NewLocalLocker(),
		Config:  config.Config{AppName: "billmirror"},
	}
	h.Billing.Now = h.Clock.Now
	for _, opt := range opts {
		opt(h)
	}

	log := zap.NewNop()
	var client billing.Client = h.Billing
	var eventLocker ratelimit.Locker = h.Locker
	if h.eventLocker != nil {
		eventLocker = h.eventLocker
	}

	h.Accounts = accountsvc.New(accountsvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Repo: accountrepo.Provide(),
	})
	h.Customers = customersvc.New(customersvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Billing: client, Repo: customerrepo.Provide(),
	})
	h.Subscriptions = subscriptionsvc.New(subscriptionsvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Billing: client, Repo: subscriptionrepo.Provide(),
	})
	invoiceRepo := invoicerepo.Provide()
	h.Charges = chargesvc.New(chargesvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Cfg: h.Config, Billing: client,
		Email: h.Outbox, Repo: chargerepo.Provide(), InvoiceRepo: invoiceRepo,
		CustomerSvc: h.Customers, AccountSvc: h.Accounts,
	})
	h.Invoices = invoicesvc.New(invoicesvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Billing: client, Repo: invoiceRepo,
		CustomerSvc: h.Customers, ChargeSvc: h.Charges,
	})
	h.Transfers = transfersvc.New(transfersvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Billing: client, Repo: transferrepo.Provide(),
	})
	h.Plans = plansvc.New(plansvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Billing: client, Repo: planrepo.Provide(),
	})
	h.Events = eventsvc.New(eventsvc.Params{
		DB: h.DB, Log: log, GenID: node, Clock: h.Clock, Cfg: h.Config, Billing: client,
		Verifier: h.Verifier, Policy: h.Policy, Notifier: h.Hub, Locker: eventLocker, Repo: eventrepo.Provide(),
		CustomerSvc: h.Customers, SubscriptionSvc: h.Subscriptions, InvoiceSvc: h.Invoices,
		ChargeSvc: h.Charges, TransferSvc: h.Transfers,
	})
	h.Lifecycle = lifecyclesvc.New(lifecyclesvc.Params{
		Log: log, Clock: h.Clock, Billing: client, Policy: h.Policy, Notifier: h.Hub,
		AccountSvc: h.Accounts, CustomerSvc: h.Customers, SubscriptionSvc: h.Subscriptions,
		InvoiceSvc: h.Invoices, ChargeSvc: h.Charges, PlanSvc: h.Plans,
	})
	return h
}

// Customer creates a local customer mirrored by a remote one, optionally owned by a new account.
func (h *Harness) Customer(t testing.TB, providerID string, withAccount bool) customerdomain.Customer {
	t.Helper()
	ctx := context.Background()

	h.Billing.PutCustomer(billing.Customer{ID: providerID})
	req := customerdomain.CreateCustomerRequest{ProviderID: providerID}
	if withAccount {
		account, err := h.Accounts.Create(ctx, accountdomain.CreateAccountRequest{
			Email: providerID + "@example.com",
			Name:  "Account " + providerID,
		})
		require.NoError(t, err)
		req.AccountID = &account.ID
	}
	customer, err := h.Customers.Create(ctx, nil, req)
	require.NoError(t, err)
	return customer
}

// Record collects every notification published on the hub.
func (h *Harness) Record() *Recorder {
	r := &Recorder{}
	h.Hub.SubscribeAll(func(_ context.Context, n notify.Notification) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.items = append(r.items, n)
	})
	return r
}

type Recorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.items))
	for _, n := range r.items {
		names = append(names, n.Name)
	}
	return names
}

func (r *Recorder) Last() (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return notify.Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Outbox is an email.Provider that keeps sent messages and can be told to fail.
type Outbox struct {
	mu       sync.Mutex
	messages []email.Message
	FailWith error
}

func (o *Outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailWith != nil {
		return o.FailWith
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *Outbox) Messages() []email.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]email.Message(nil), o.messages...)
}
