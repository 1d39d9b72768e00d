package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/plan/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
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
		log:     p.Log.Named("plan.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		repo:    p.Repo,
	}
}

var validIntervals = map[string]struct{}{
	"day":   {},
	"week":  {},
	"month": {},
	"year":  {},
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if _, ok := validIntervals[interval]; !ok {
		return domain.Plan{}, domain.ErrInvalidInterval
	}
	if req.Amount.IsNegative() {
		return domain.Plan{}, domain.ErrInvalidAmount
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		providerID = slug.Make(name)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	intervalCount := req.IntervalCount
	if intervalCount <= 0 {
		intervalCount = 1
	}

	existing, err := s.repo.FindByProviderID(ctx, s.db, providerID)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing != nil {
		return domain.Plan{}, domain.ErrAlreadyExists
	}

	remote, err := s.billing.CreatePlan(ctx, billing.Plan{
		ID:              providerID,
		Name:            name,
		Currency:        currency,
		Interval:        interval,
		IntervalCount:   intervalCount,
		Amount:          money.FromDecimal(req.Amount),
		TrialPeriodDays: req.TrialPeriodDays,
	})
	if err != nil {
		return domain.Plan{}, err
	}
	return s.store(ctx, remote)
}

func (s *Service) store(ctx context.Context, remote *billing.Plan) (domain.Plan, error) {
	now := s.clock.Now()
	plan := domain.Plan{
		ID:              s.genID.Generate(),
		ProviderID:      remote.ID,
		Name:            remote.Name,
		Currency:        remote.Currency,
		Interval:        remote.Interval,
		IntervalCount:   remote.IntervalCount,
		Amount:          money.ToDecimal(remote.Amount),
		TrialPeriodDays: remote.TrialPeriodDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Rename(ctx context.Context, providerID, name string) (domain.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}
	plan, err := s.GetByProviderID(ctx, providerID)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan.Name == name {
		return plan, nil
	}

	if _, err := s.billing.UpdatePlanName(ctx, plan.ProviderID, name); err != nil {
		return domain.Plan{}, err
	}
	plan.Name = name
	plan.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateName(ctx, s.db, &plan); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Push(ctx context.Context, catalog []config.PlanConfig) (domain.PushResult, error) {
	var result domain.PushResult
	for _, entry := range catalog {
		providerID := strings.TrimSpace(entry.ID)
		if providerID == "" {
			providerID = slug.Make(entry.Name)
		}

		local, err := s.repo.FindByProviderID(ctx, s.db, providerID)
		if err != nil {
			return result, err
		}
		if local != nil {
			result.Skipped = append(result.Skipped, providerID)
			continue
		}

		remote, err := s.billing.RetrievePlan(ctx, providerID)
		switch {
		case err == nil:
			if _, err := s.store(ctx, remote); err != nil {
				return result, err
			}
			result.Imported = append(result.Imported, providerID)
			continue
		case !billing.IsNotFound(err):
			return result, err
		}

		amount, err := money.ParseAmount(entry.Amount)
		if err != nil {
			return result, domain.ErrInvalidAmount
		}
		if _, err := s.Create(ctx, domain.CreatePlanRequest{
			ProviderID:      providerID,
			Name:            entry.Name,
			Currency:        entry.Currency,
			Interval:        entry.Interval,
			IntervalCount:   entry.IntervalCount,
			Amount:          amount,
			TrialPeriodDays: entry.TrialPeriodDays,
		}); err != nil {
			return result, err
		}
		s.log.Info("plan pushed", zap.String("plan", providerID))
		result.Created = append(result.Created, providerID)
	}
	return result, nil
}

func (s *Service) GetByProviderID(ctx context.Context, providerID string) (domain.Plan, error) {
	plan, err := s.repo.FindByProviderID(ctx, s.db, strings.TrimSpace(providerID))
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Plan, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	plans := make([]domain.Plan, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		plans = append(plans, *item)
	}
	return plans, nil
}

