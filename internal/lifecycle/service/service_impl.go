package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/billmirror/internal/invoice/domain"
	"github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	"github.com/smallbiznis/billmirror/internal/notify"
	obsmetrics "github.com/smallbiznis/billmirror/internal/observability/metrics"
	plandomain "github.com/smallbiznis/billmirror/internal/plan/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pageSize = 100

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Billing  billing.Client
	Policy   *config.PolicyHolder
	Notifier notify.Publisher

	AccountSvc      accountdomain.Service
	CustomerSvc     customerdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	ChargeSvc       chargedomain.Service
	PlanSvc         plandomain.Service

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	billing  billing.Client
	policy   *config.PolicyHolder
	notifier notify.Publisher

	accountSvc      accountdomain.Service
	customerSvc     customerdomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	chargeSvc       chargedomain.Service
	planSvc         plandomain.Service

	obsMetrics *obsmetrics.Metrics
	backOff    func() backoff.BackOff
}

func New(p Params) domain.Service {
	return &Service{
		log:             p.Log.Named("lifecycle.service"),
		clock:           p.Clock,
		billing:         p.Billing,
		policy:          p.Policy,
		notifier:        p.Notifier,
		accountSvc:      p.AccountSvc,
		customerSvc:     p.CustomerSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		chargeSvc:       p.ChargeSvc,
		planSvc:         p.PlanSvc,
		obsMetrics:      p.ObsMetrics,
		backOff:         defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

func (s *Service) currentPolicy() config.BillingPolicy {
	if s.policy == nil {
		return config.DefaultBillingPolicy()
	}
	return s.policy.Get()
}

// withRateLimitRetry retries op only while the remote reports rate limiting.
func (s *Service) withRateLimitRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || billing.IsRateLimited(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(s.backOff(), ctx))
}

func (s *Service) GetOrCreateCustomer(ctx context.Context, account accountdomain.Account) (customerdomain.Customer, error) {
	existing, err := s.customerSvc.FindByAccountID(ctx, nil, account.ID)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	remote, err := s.billing.CreateCustomer(ctx, billing.CustomerParams{
		Email:       account.Email,
		Description: account.Name,
		Metadata:    map[string]string{"account_id": account.ID.String()},
	})
	if err != nil {
		return customerdomain.Customer{}, err
	}

	accountID := account.ID
	customer, err := s.customerSvc.Create(ctx, nil, customerdomain.CreateCustomerRequest{
		ProviderID: remote.ID,
		AccountID:  &accountID,
	})
	if errors.Is(err, customerdomain.ErrAlreadyExists) {
		return s.adoptConcurrentCustomer(ctx, account, remote.ID, err)
	}
	if err != nil {
		return customerdomain.Customer{}, err
	}
	s.log.Info("customer created", zap.String("account", account.ID.String()), zap.String("customer", remote.ID))

	policy := s.currentPolicy()
	if policy.DefaultPlan != "" {
		_, err := s.Subscribe(ctx, customer, domain.SubscribeRequest{
			PlanID:    policy.DefaultPlan,
			Quantity:  1,
			TrialDays: policy.DefaultTrialDays,
		})
		if err != nil {
			return customer, fmt.Errorf("subscribe to default plan: %w", err)
		}
	}
	return customer, nil
}

// adoptConcurrentCustomer returns the customer another caller linked to the account first
// and deletes the remote customer this call created.
func (s *Service) adoptConcurrentCustomer(ctx context.Context, account accountdomain.Account, orphanID string, cause error) (customerdomain.Customer, error) {
	existing, err := s.customerSvc.FindByAccountID(ctx, nil, account.ID)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if existing == nil {
		return customerdomain.Customer{}, cause
	}
	if err := s.billing.DeleteCustomer(ctx, orphanID); err != nil && !billing.IsCustomerGone(err) {
		s.log.Warn("delete orphaned remote customer", zap.String("customer", orphanID), zap.Error(err))
	}
	s.log.Info("customer created concurrently, reusing",
		zap.String("account", account.ID.String()),
		zap.String("customer", existing.ProviderID),
	)
	return *existing, nil
}

func (s *Service) Subscribe(ctx context.Context, customer customerdomain.Customer, req domain.SubscribeRequest) (*subscriptiondomain.CurrentSubscription, error) {
	trialDays := req.TrialDays
	if trialDays == nil {
		planTrial, err := s.planTrialDays(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		trialDays = planTrial
	}

	sub, err := s.subscribe(ctx, customer, req.PlanID, req.Quantity, trialDays, req.Prorate)
	if err != nil {
		return nil, err
	}
	if req.ChargeImmediately {
		if _, err := s.invoiceNow(ctx, customer); err != nil {
			return sub, err
		}
	}
	s.notifier.Publish(ctx, notify.Notification{Name: notify.SubscriptionMade, Payload: *sub})
	return sub, nil
}

// ChangePlan moves the subscription to another plan or quantity, keeping the remote trial.
func (s *Service) ChangePlan(ctx context.Context, customer customerdomain.Customer, req domain.ChangePlanRequest) (*subscriptiondomain.CurrentSubscription, error) {
	sub, err := s.subscribe(ctx, customer, req.PlanID, req.Quantity, nil, req.Prorate)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, notify.Notification{Name: notify.SubscriptionMade, Payload: *sub})
	return sub, nil
}

func (s *Service) subscribe(ctx context.Context, customer customerdomain.Customer, planID string, quantity int64, trialDays *int64, prorate *bool) (*subscriptiondomain.CurrentSubscription, error) {
	if customer.IsPurged() {
		return nil, domain.ErrCustomerPurged
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, domain.ErrInvalidPlan
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	policy := subscriptiondomain.PolicyFromConfig(s.currentPolicy())
	if prorate != nil {
		policy.Prorate = *prorate
	}

	params := billing.SubscriptionParams{
		PlanID:   planID,
		Quantity: quantity,
		Prorate:  policy.Prorate,
	}
	if trialDays != nil {
		if *trialDays <= 0 {
			params.TrialEndNow = true
		} else {
			end := s.clock.Now().AddDate(0, 0, int(*trialDays)).Unix()
			params.TrialEnd = &end
		}
	}

	remote, err := s.billing.UpdateSubscription(ctx, customer.ProviderID, params)
	if err != nil {
		return nil, err
	}
	return s.subscriptionSvc.Apply(ctx, nil, customer, remote, policy)
}

func (s *Service) planTrialDays(ctx context.Context, planID string) (*int64, error) {
	plan, err := s.planSvc.GetByProviderID(ctx, planID)
	if err == nil {
		return plan.TrialPeriodDays, nil
	}
	if !errors.Is(err, plandomain.ErrNotFound) {
		return nil, err
	}
	remote, err := s.billing.RetrievePlan(ctx, planID)
	if err != nil {
		if billing.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidPlan, planID)
		}
		return nil, err
	}
	return remote.TrialPeriodDays, nil
}

// invoiceNow bills anything outstanding. A rejected invoice request, such as nothing to
// invoice, reports false without error.
func (s *Service) invoiceNow(ctx context.Context, customer customerdomain.Customer) (bool, error) {
	inv, err := s.invoiceSvc.Create(ctx, customer)
	if err != nil {
		if billing.IsInvalidRequest(err) {
			s.log.Info("nothing invoiced", zap.String("customer", customer.ProviderID), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	if inv.Total > 0 {
		if err := s.invoiceSvc.Pay(ctx, inv.ID); err != nil {
			return false, err
		}
	}

	result, err := s.invoiceSvc.Sync(ctx, nil, inv.ID)
	if err != nil {
		return true, err
	}
	s.sendReceipt(ctx, result.Charge)
	return true, nil
}

func (s *Service) sendReceipt(ctx context.Context, charge *chargedomain.Charge) {
	if charge == nil || !s.currentPolicy().SendReceipts {
		return
	}
	if _, err := s.chargeSvc.SendReceipt(ctx, *charge); err != nil {
		s.log.Warn("send receipt", zap.String("charge", charge.ProviderID), zap.Error(err))
	}
}

// CancelSubscription cancels the current subscription. A subscription still in its trial
// window is always cancelled immediately.
func (s *Service) CancelSubscription(ctx context.Context, customer customerdomain.Customer, atPeriodEnd bool) (*subscriptiondomain.CurrentSubscription, error) {
	sub, err := s.subscriptionSvc.GetByCustomerID(ctx, nil, customer.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNoSubscription
	}

	now := s.clock.Now()
	if sub.InTrial(now) {
		atPeriodEnd = false
	}

	remote, err := s.billing.CancelSubscription(ctx, customer.ProviderID, atPeriodEnd)
	if err != nil {
		if billing.IsInvalidRequest(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancellationFailed, err)
		}
		return nil, err
	}

	sub.Status = subscriptiondomain.SubscriptionStatus(remote.Status)
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	sub.CanceledAt = &now
	if remote.EndedAt != nil {
		ended := time.Unix(*remote.EndedAt, 0).UTC()
		sub.EndedAt = &ended
	}
	if err := s.subscriptionSvc.Save(ctx, nil, sub); err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notify.Notification{Name: notify.SubscriptionCancelled, Payload: *sub})
	return sub, nil
}

// UpdateCard replaces the payment instrument. A customer receiving its first card is
// invoiced right away for anything queued while it could not be charged.
func (s *Service) UpdateCard(ctx context.Context, customer *customerdomain.Customer, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrInvalidToken
	}
	if customer.IsPurged() {
		return domain.ErrCustomerPurged
	}
	firstCard := customer.CardFingerprint == ""

	remote, err := s.billing.UpdateCard(ctx, customer.ProviderID, token)
	if err != nil {
		return err
	}
	if card := remote.DefaultCard; card != nil {
		if err := s.customerSvc.ApplyCard(ctx, nil, customer, card.Fingerprint, card.Last4, card.Brand); err != nil {
			return err
		}
	}

	if firstCard {
		if _, err := s.invoiceNow(ctx, *customer); err != nil {
			return err
		}
	}

	s.notifier.Publish(ctx, notify.Notification{Name: notify.CardChanged, Payload: *customer})
	return nil
}

func (s *Service) RetryUnpaidInvoices(ctx context.Context, customer customerdomain.Customer) (err error) {
	defer func() { s.obsMetrics.RecordReconciliation(ctx, "retry_unpaid_invoices", err) }()

	if _, err := s.invoiceSvc.SyncAll(ctx, nil, customer); err != nil {
		return fmt.Errorf("sync invoices: %w", err)
	}
	open, err := s.invoiceSvc.ListOpen(ctx, nil, customer)
	if err != nil {
		return err
	}

	for _, inv := range open {
		providerID := inv.ProviderID
		if err := s.withRateLimitRetry(ctx, func() error { return s.invoiceSvc.Pay(ctx, providerID) }); err != nil {
			return fmt.Errorf("pay invoice %s: %w", providerID, err)
		}
		result, err := s.invoiceSvc.Sync(ctx, nil, providerID)
		if err != nil {
			return fmt.Errorf("sync invoice %s: %w", providerID, err)
		}
		s.sendReceipt(ctx, result.Charge)
	}
	return nil
}

func (s *Service) RetryAllUnpaidInvoices(ctx context.Context, progress domain.Progress) (domain.BulkResult, error) {
	return s.eachCustomer(ctx, progress, func(customer customerdomain.Customer) error {
		if !customer.CanCharge() {
			return nil
		}
		return s.RetryUnpaidInvoices(ctx, customer)
	})
}

// Resync overwrites the customer's whole mirror from the remote service.
func (s *Service) Resync(ctx context.Context, customer customerdomain.Customer) (err error) {
	defer func() { s.obsMetrics.RecordReconciliation(ctx, "resync", err) }()

	if customer.IsPurged() {
		return domain.ErrCustomerPurged
	}
	if err := s.customerSvc.Sync(ctx, nil, &customer); err != nil {
		return fmt.Errorf("sync customer: %w", err)
	}
	policy := subscriptiondomain.PolicyFromConfig(s.currentPolicy())
	if _, err := s.subscriptionSvc.Sync(ctx, nil, customer, policy); err != nil {
		return fmt.Errorf("sync subscription: %w", err)
	}
	if _, err := s.invoiceSvc.SyncAll(ctx, nil, customer); err != nil {
		return fmt.Errorf("sync invoices: %w", err)
	}
	if _, err := s.chargeSvc.SyncAll(ctx, nil, customer); err != nil {
		return fmt.Errorf("sync charges: %w", err)
	}
	return nil
}

func (s *Service) ResyncAll(ctx context.Context, progress domain.Progress) (domain.BulkResult, error) {
	return s.eachCustomer(ctx, progress, func(customer customerdomain.Customer) error {
		return s.withRateLimitRetry(ctx, func() error { return s.Resync(ctx, customer) })
	})
}

// EnsureCustomers gives every account a billing customer.
func (s *Service) EnsureCustomers(ctx context.Context, progress domain.Progress) (domain.BulkResult, error) {
	var result domain.BulkResult
	var afterID snowflake.ID
	for {
		accounts, err := s.accountSvc.List(ctx, accountdomain.ListAccountRequest{AfterID: afterID, Limit: pageSize})
		if err != nil {
			return result, err
		}
		for _, account := range accounts {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Total++
			var customer customerdomain.Customer
			err := s.withRateLimitRetry(ctx, func() error {
				var err error
				customer, err = s.GetOrCreateCustomer(ctx, account)
				return err
			})
			if err != nil {
				result.Failed++
				s.log.Warn("ensure customer", zap.String("account", account.ID.String()), zap.Error(err))
			} else {
				result.Succeeded++
			}
			if progress != nil {
				progress(customer, err)
			}
			afterID = account.ID
		}
		if len(accounts) < pageSize {
			return result, nil
		}
	}
}

func (s *Service) eachCustomer(ctx context.Context, progress domain.Progress, fn func(customerdomain.Customer) error) (domain.BulkResult, error) {
	var result domain.BulkResult
	filter := customerdomain.ListCustomerFilter{Limit: pageSize}
	for {
		customers, err := s.customerSvc.List(ctx, filter)
		if err != nil {
			return result, err
		}
		for _, customer := range customers {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Total++
			err := fn(customer)
			if err != nil {
				result.Failed++
				s.log.Warn("customer reconciliation failed", zap.String("customer", customer.ProviderID), zap.Error(err))
			} else {
				result.Succeeded++
			}
			if progress != nil {
				progress(customer, err)
			}
			filter.AfterID = customer.ID
		}
		if len(customers) < pageSize {
			return result, nil
		}
	}
}
