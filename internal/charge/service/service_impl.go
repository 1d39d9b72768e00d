package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	"github.com/smallbiznis/billmirror/internal/charge/domain"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/billmirror/internal/invoice/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/providers/email"
	"github.com/smallbiznis/billmirror/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Billing     billing.Client
	Email       email.Provider
	Repo        domain.Repository
	InvoiceRepo invoicedomain.Repository
	CustomerSvc customerdomain.Service
	AccountSvc  accountdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	appName     string
	billing     billing.Client
	email       email.Provider
	repo        domain.Repository
	invoiceRepo invoicedomain.Repository
	customerSvc customerdomain.Service
	accountSvc  accountdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("charge.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		appName:     p.Cfg.AppName,
		billing:     p.Billing,
		email:       p.Email,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		customerSvc: p.CustomerSvc,
		accountSvc:  p.AccountSvc,
	}
}

func (s *Service) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func (s *Service) GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Charge, error) {
	return s.repo.FindByProviderID(ctx, s.conn(db), providerID)
}

func (s *Service) ListByCustomer(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]domain.Charge, error) {
	items, err := s.repo.ListByCustomer(ctx, s.conn(db), customer.ID)
	if err != nil {
		return nil, err
	}
	charges := make([]domain.Charge, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		charges = append(charges, *item)
	}
	return charges, nil
}

func (s *Service) Sync(ctx context.Context, db *gorm.DB, providerID string) (*domain.Charge, error) {
	remote, err := s.billing.RetrieveCharge(ctx, providerID)
	if err != nil {
		return nil, err
	}
	customer, err := s.customerSvc.FindByProviderID(ctx, db, remote.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCustomer, remote.CustomerID)
	}
	return s.Apply(ctx, db, *customer, remote)
}

func (s *Service) Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Charge) (*domain.Charge, error) {
	conn := s.conn(db)
	now := s.clock.Now()

	item, err := s.repo.FindByProviderID(ctx, conn, remote.ID)
	if err != nil {
		return nil, err
	}
	isNew := item == nil
	if isNew {
		item = &domain.Charge{
			ID:         s.genID.Generate(),
			ProviderID: remote.ID,
			CreatedAt:  now,
		}
	}

	item.CustomerID = customer.ID
	if remote.InvoiceID != "" {
		inv, err := s.invoiceRepo.FindByProviderID(ctx, conn, remote.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			item.InvoiceID = &inv.ID
		}
	}
	if remote.Card != nil {
		item.CardLast4 = remote.Card.Last4
		item.CardKind = remote.Card.Brand
	}
	item.Currency = remote.Currency
	item.Amount = money.ToDecimal(remote.Amount)
	item.Description = remote.Description
	item.Paid = boolPtr(remote.Paid)
	item.Disputed = boolPtr(remote.Disputed)
	item.Refunded = boolPtr(remote.Refunded)
	item.Fee = money.ToNullDecimal(remote.Fee)
	item.ChargedAt = money.ToTime(remote.Created)

	switch {
	case remote.AmountRefunded != nil && *remote.AmountRefunded > 0:
		item.AmountRefunded = money.ToNullDecimal(remote.AmountRefunded)
	case remote.Refunded:
		item.AmountRefunded = decimal.NewNullDecimal(item.Amount)
	}
	item.UpdatedAt = now

	if isNew {
		err = s.repo.Insert(ctx, conn, item)
	} else {
		err = s.repo.Update(ctx, conn, item)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) SyncAll(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]domain.Charge, error) {
	remotes, err := s.billing.ListCharges(ctx, customer.ProviderID, billing.Page{})
	if err != nil {
		return nil, err
	}
	charges := make([]domain.Charge, 0, len(remotes))
	for i := range remotes {
		item, err := s.Apply(ctx, db, customer, &remotes[i])
		if err != nil {
			return nil, err
		}
		charges = append(charges, *item)
	}
	return charges, nil
}

func (s *Service) Create(ctx context.Context, customer customerdomain.Customer, req domain.CreateChargeRequest) (*domain.Charge, error) {
	if !customer.CanCharge() {
		return nil, domain.ErrCannotCharge
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	remote, err := s.billing.CreateCharge(ctx, billing.ChargeParams{
		CustomerID:  customer.ProviderID,
		Amount:      money.FromDecimal(req.Amount),
		Currency:    currency,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, s.db, customer, remote)
}

func (s *Service) Refund(ctx context.Context, charge domain.Charge, amount *decimal.Decimal) (*domain.Charge, error) {
	remaining := charge.Refundable()
	if !remaining.IsPositive() {
		return nil, domain.ErrNothingToRefund
	}

	var minor *int64
	if amount != nil {
		if !amount.IsPositive() {
			return nil, domain.ErrInvalidAmount
		}
		value := money.FromDecimal(decimal.Min(*amount, remaining))
		minor = &value
	}

	remote, err := s.billing.Refund(ctx, charge.ProviderID, minor)
	if err != nil {
		return nil, err
	}
	customer, err := s.customerSvc.GetByID(ctx, charge.CustomerID)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, s.db, customer, remote)
}

func (s *Service) SendReceipt(ctx context.Context, charge domain.Charge) (bool, error) {
	if charge.ReceiptSent || charge.Paid == nil || !*charge.Paid {
		return false, nil
	}

	customer, err := s.customerSvc.GetByID(ctx, charge.CustomerID)
	if err != nil {
		return false, err
	}
	if customer.AccountID == nil {
		s.log.Info("skip receipt for customer without account", zap.String("charge", charge.ProviderID))
		return false, nil
	}
	account, err := s.accountSvc.GetByID(ctx, *customer.AccountID)
	if err != nil {
		return false, err
	}
	if account.Email == "" {
		return false, domain.ErrNoReceiptAddress
	}

	won, err := s.repo.ClaimReceipt(ctx, s.db, charge.ID)
	if err != nil || !won {
		return false, err
	}

	if err := s.email.Send(ctx, s.receipt(account, charge)); err != nil {
		if releaseErr := s.repo.ReleaseReceipt(ctx, s.db, charge.ID); releaseErr != nil {
			s.log.Error("release receipt claim", zap.String("charge", charge.ProviderID), zap.Error(releaseErr))
		}
		return false, fmt.Errorf("send receipt: %w", err)
	}
	s.log.Info("receipt sent", zap.String("charge", charge.ProviderID))
	return true, nil
}

func (s *Service) receipt(account accountdomain.Account, charge domain.Charge) email.Message {
	var b strings.Builder
	if account.Name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", account.Name)
	}
	fmt.Fprintf(&b, "We received your payment of %s %s.\n\n", charge.Amount.StringFixed(2), strings.ToUpper(charge.Currency))
	if charge.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", charge.Description)
	}
	if charge.CardLast4 != "" {
		fmt.Fprintf(&b, "Card: %s ending in %s\n", charge.CardKind, charge.CardLast4)
	}
	if charge.ChargedAt != nil {
		fmt.Fprintf(&b, "Date: %s\n", charge.ChargedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Reference: %s\n", charge.ProviderID)

	return email.Message{
		To:      []string{account.Email},
		Subject: fmt.Sprintf("[%s] Payment received", s.appName),
		Text:    b.String(),
		Tags:    map[string]string{"category": "receipt"},
	}
}

func boolPtr(v bool) *bool {
	return &v
}
