package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	"github.com/smallbiznis/billmirror/internal/clock"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/invoice/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
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
	Billing     billing.Client
	Repo        domain.Repository
	CustomerSvc customerdomain.Service
	ChargeSvc   chargedomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billing     billing.Client
	repo        domain.Repository
	customerSvc customerdomain.Service
	chargeSvc   chargedomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		repo:        p.Repo,
		customerSvc: p.CustomerSvc,
		chargeSvc:   p.ChargeSvc,
	}
}

func (s *Service) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func (s *Service) GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Invoice, error) {
	return s.repo.FindByProviderID(ctx, s.conn(db), providerID)
}

func (s *Service) ListItems(ctx context.Context, db *gorm.DB, invoice domain.Invoice) ([]domain.InvoiceItem, error) {
	items, err := s.repo.ListItems(ctx, s.conn(db), invoice.ID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) ListOpen(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]domain.Invoice, error) {
	items, err := s.repo.ListByCustomer(ctx, s.conn(db), customer.ID, true)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) Sync(ctx context.Context, db *gorm.DB, providerID string) (domain.SyncResult, error) {
	remote, err := s.billing.RetrieveInvoice(ctx, providerID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	customer, err := s.customerSvc.FindByProviderID(ctx, db, remote.CustomerID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if customer == nil {
		return domain.SyncResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownCustomer, remote.CustomerID)
	}
	return s.Apply(ctx, db, *customer, remote)
}

// Apply upserts the invoice and its line items. The stored period end is the latest line
// item period end, so the result does not depend on line order; the remote value is kept
// only when no line carries a period.
func (s *Service) Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Invoice) (domain.SyncResult, error) {
	conn := s.conn(db)
	now := s.clock.Now()

	inv, err := s.repo.FindByProviderID(ctx, conn, remote.ID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	isNew := inv == nil
	if isNew {
		inv = &domain.Invoice{
			ID:         s.genID.Generate(),
			ProviderID: remote.ID,
			CreatedAt:  now,
		}
	}

	inv.CustomerID = customer.ID
	inv.Attempted = remote.Attempted
	inv.Closed = remote.Closed
	inv.Paid = remote.Paid
	inv.Currency = remote.Currency
	inv.PeriodStart = money.ToTime(remote.PeriodStart)
	inv.PeriodEnd = money.ToTime(remote.PeriodEnd)
	inv.Subtotal = money.ToDecimal(remote.Subtotal)
	inv.Total = money.ToDecimal(remote.Total)
	inv.ChargeProviderID = remote.ChargeID
	inv.InvoicedAt = money.ToTime(remote.Created)
	inv.UpdatedAt = now

	if isNew {
		err = s.repo.Insert(ctx, conn, inv)
	} else {
		err = s.repo.Update(ctx, conn, inv)
	}
	if err != nil {
		return domain.SyncResult{}, err
	}

	items := make([]domain.InvoiceItem, 0, len(remote.Lines))
	var latestEnd *int64
	for _, line := range remote.Lines {
		item, err := s.applyLine(ctx, conn, inv.ID, line, now)
		if err != nil {
			return domain.SyncResult{}, err
		}
		items = append(items, *item)
		if line.PeriodEnd != nil && (latestEnd == nil || *line.PeriodEnd > *latestEnd) {
			latestEnd = line.PeriodEnd
		}
	}
	if latestEnd != nil {
		inv.PeriodEnd = money.ToTime(latestEnd)
		if err := s.repo.Update(ctx, conn, inv); err != nil {
			return domain.SyncResult{}, err
		}
	}

	result := domain.SyncResult{Invoice: inv, Items: items}
	if remote.ChargeID != "" {
		charge, err := s.chargeSvc.Sync(ctx, conn, remote.ChargeID)
		if err != nil {
			return domain.SyncResult{}, fmt.Errorf("sync invoice charge %s: %w", remote.ChargeID, err)
		}
		result.Charge = charge
	}
	return result, nil
}

func (s *Service) applyLine(ctx context.Context, conn *gorm.DB, invoiceID snowflake.ID, line billing.LineItem, now time.Time) (*domain.InvoiceItem, error) {
	item, err := s.repo.FindItem(ctx, conn, invoiceID, line.ID)
	if err != nil {
		return nil, err
	}
	isNew := item == nil
	if isNew {
		item = &domain.InvoiceItem{
			ID:         s.genID.Generate(),
			InvoiceID:  invoiceID,
			ProviderID: line.ID,
			CreatedAt:  now,
		}
	}

	item.Amount = money.ToDecimal(line.Amount)
	item.Currency = line.Currency
	item.Proration = line.Proration
	item.LineType = line.Type
	item.Description = line.Description
	item.PlanID = line.PlanID
	item.Quantity = line.Quantity
	item.PeriodStart = money.ToTime(line.PeriodStart)
	item.PeriodEnd = money.ToTime(line.PeriodEnd)
	item.UpdatedAt = now

	if isNew {
		err = s.repo.InsertItem(ctx, conn, item)
	} else {
		err = s.repo.UpdateItem(ctx, conn, item)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) SyncAll(ctx context.Context, db *gorm.DB, customer customerdomain.Customer) ([]domain.SyncResult, error) {
	remotes, err := s.billing.ListInvoices(ctx, customer.ProviderID, billing.Page{})
	if err != nil {
		return nil, err
	}
	results := make([]domain.SyncResult, 0, len(remotes))
	for i := range remotes {
		result, err := s.Apply(ctx, db, customer, &remotes[i])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) Create(ctx context.Context, customer customerdomain.Customer) (*billing.Invoice, error) {
	return s.billing.CreateInvoice(ctx, customer.ProviderID)
}

func (s *Service) Pay(ctx context.Context, providerID string) error {
	if _, err := s.billing.PayInvoice(ctx, providerID); err != nil {
		if billing.IsAlreadyPaid(err) {
			s.log.Info("invoice already paid", zap.String("invoice", providerID))
			return nil
		}
		return err
	}
	return nil
}
