package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing billing.Client
	Repo    domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing billing.Client
	repo    domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("customer.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		repo:    p.Repo,
	}
}

func (s *Service) conn(db *gorm.DB) *gorm.DB {
	if db != nil {
		return db
	}
	return s.db
}

func (s *Service) Create(ctx context.Context, db *gorm.DB, req domain.CreateCustomerRequest) (domain.Customer, error) {
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return domain.Customer{}, domain.ErrInvalidProviderID
	}

	existing, err := s.repo.FindByProviderID(ctx, s.conn(db), providerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if existing != nil {
		return domain.Customer{}, domain.ErrAlreadyExists
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:         s.genID.Generate(),
		ProviderID: providerID,
		AccountID:  req.AccountID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.conn(db), &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Customer, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, nil
	}
	return s.repo.FindByProviderID(ctx, s.conn(db), providerID)
}

func (s *Service) FindByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.Customer, error) {
	return s.repo.FindByAccountID(ctx, s.conn(db), accountID)
}

func (s *Service) List(ctx context.Context, filter domain.ListCustomerFilter) ([]domain.Customer, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}
	return customers, nil
}

// Sync never creates customers and leaves the cached card untouched when the remote has none.
func (s *Service) Sync(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	remote, err := s.billing.RetrieveCustomer(ctx, customer.ProviderID)
	if err != nil {
		return err
	}
	if remote.DefaultCard == nil {
		return nil
	}
	return s.ApplyCard(ctx, db, customer, remote.DefaultCard.Fingerprint, remote.DefaultCard.Last4, remote.DefaultCard.Brand)
}

func (s *Service) ApplyCard(ctx context.Context, db *gorm.DB, customer *domain.Customer, fingerprint, last4, kind string) error {
	customer.CardFingerprint = fingerprint
	customer.CardLast4 = last4
	customer.CardKind = kind
	customer.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.conn(db), customer)
}

func (s *Service) Purge(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	if err := s.billing.DeleteCustomer(ctx, customer.ProviderID); err != nil {
		if !billing.IsCustomerGone(err) {
			return err
		}
		s.log.Info("remote customer already deleted", zap.String("provider_id", customer.ProviderID))
	}

	now := s.clock.Now()
	customer.AccountID = nil
	customer.CardFingerprint = ""
	customer.CardLast4 = ""
	customer.CardKind = ""
	customer.PurgedAt = &now
	customer.UpdatedAt = now
	return s.repo.Update(ctx, s.conn(db), customer)
}
