package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/clock"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	"github.com/smallbiznis/billmirror/pkg/money"
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
	Repo    subscriptiondomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing billing.Client
	repo    subscriptiondomain.Repository
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
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

func (s *Service) GetByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*subscriptiondomain.CurrentSubscription, error) {
	return s.repo.FindByCustomerID(ctx, s.conn(db), customerID)
}

func (s *Service) Sync(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, policy subscriptiondomain.Policy) (*subscriptiondomain.CurrentSubscription, error) {
	remote, err := s.billing.RetrieveSubscription(ctx, customer.ProviderID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		s.log.Debug("no remote subscription, keeping local row", zap.String("customer", customer.ProviderID))
		return nil, nil
	}
	return s.Apply(ctx, db, customer, remote, policy)
}

func (s *Service) Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Subscription, policy subscriptiondomain.Policy) (*subscriptiondomain.CurrentSubscription, error) {
	conn := s.conn(db)
	now := s.clock.Now()

	item, err := s.repo.FindByCustomerID(ctx, conn, customer.ID)
	if err != nil {
		return nil, err
	}
	isNew := item == nil
	if isNew {
		item = &subscriptiondomain.CurrentSubscription{
			ID:         s.genID.Generate(),
			CustomerID: customer.ID,
			CreatedAt:  now,
		}
	}

	item.PlanID = remote.PlanID
	item.Quantity = remote.Quantity
	item.Amount = money.ToDecimal(remote.PlanAmount)
	item.Currency = remote.Currency
	item.Status = subscriptiondomain.SubscriptionStatus(remote.Status)
	item.StartAt = money.ToTime(remote.Start)
	item.CurrentPeriodStart = money.ToTime(remote.CurrentPeriodStart)
	item.CurrentPeriodEnd = money.ToTime(remote.CurrentPeriodEnd)
	item.CancelAtPeriodEnd = policy.CancelAtPeriodEnd && remote.CancelAtPeriodEnd
	item.CanceledAt = money.ToTime(remote.CanceledAt)
	item.EndedAt = money.ToTime(remote.EndedAt)
	if remote.TrialStart != nil && remote.TrialEnd != nil {
		item.TrialStart = money.ToTime(remote.TrialStart)
		item.TrialEnd = money.ToTime(remote.TrialEnd)
	} else {
		item.TrialStart = nil
		item.TrialEnd = nil
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

func (s *Service) Save(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.CurrentSubscription) error {
	subscription.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.conn(db), subscription)
}
