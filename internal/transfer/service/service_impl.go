package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/transfer/domain"
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
		log:     p.Log.Named("transfer.service"),
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

func (s *Service) GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Transfer, error) {
	return s.repo.FindByProviderID(ctx, s.conn(db), providerID)
}

func (s *Service) ListFees(ctx context.Context, db *gorm.DB, transfer domain.Transfer) ([]domain.TransferChargeFee, error) {
	return s.repo.ListFees(ctx, s.conn(db), transfer.ID)
}

func (s *Service) Sync(ctx context.Context, db *gorm.DB, providerID string, eventID *snowflake.ID) (*domain.Transfer, error) {
	conn := s.conn(db)
	remote, err := s.billing.RetrieveTransfer(ctx, providerID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	item, err := s.repo.FindByProviderID(ctx, conn, remote.ID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = s.fromRemote(remote, eventID, now)
		if err := s.repo.Insert(ctx, conn, item); err != nil {
			return nil, err
		}
	} else {
		item.Status = remote.Status
		item.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, conn, item); err != nil {
			return nil, err
		}
	}

	if remote.Summary == nil || len(remote.Summary.ChargeFeeDetails) == 0 {
		return item, nil
	}
	count, err := s.repo.CountFees(ctx, conn, item.ID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return item, nil
	}

	fees := make([]domain.TransferChargeFee, 0, len(remote.Summary.ChargeFeeDetails))
	for _, detail := range remote.Summary.ChargeFeeDetails {
		fees = append(fees, domain.TransferChargeFee{
			ID:          s.genID.Generate(),
			TransferID:  item.ID,
			Amount:      money.ToDecimal(detail.Amount),
			Currency:    detail.Currency,
			Application: detail.Application,
			Description: detail.Description,
			Kind:        detail.Type,
			CreatedAt:   now,
		})
	}
	if err := s.repo.InsertFees(ctx, conn, fees); err != nil {
		return nil, err
	}
	s.log.Debug("transfer fees recorded", zap.String("transfer", item.ProviderID), zap.Int("count", len(fees)))
	return item, nil
}

func (s *Service) fromRemote(remote *billing.Transfer, eventID *snowflake.ID, now time.Time) *domain.Transfer {
	item := &domain.Transfer{
		ID:            s.genID.Generate(),
		ProviderID:    remote.ID,
		EventID:       eventID,
		Amount:        money.ToDecimal(remote.Amount),
		Currency:      remote.Currency,
		Status:        remote.Status,
		TransferredAt: money.ToTime(remote.Date),
		Description:   remote.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sum := remote.Summary
	if sum == nil {
		sum = &billing.TransferSummary{}
	}
	item.AdjustmentCount = sum.AdjustmentCount
	item.AdjustmentFees = money.ToDecimal(sum.AdjustmentFees)
	item.AdjustmentGross = money.ToDecimal(sum.AdjustmentGross)
	item.ChargeCount = sum.ChargeCount
	item.ChargeFees = money.ToDecimal(sum.ChargeFees)
	item.ChargeGross = money.ToDecimal(sum.ChargeGross)
	item.CollectedFeeCount = sum.CollectedFeeCount
	item.CollectedFeeGross = money.ToDecimal(sum.CollectedFeeGross)
	item.Net = money.ToDecimal(sum.Net)
	item.RefundCount = sum.RefundCount
	item.RefundFees = money.ToDecimal(sum.RefundFees)
	item.RefundGross = money.ToDecimal(sum.RefundGross)
	item.ValidationCount = sum.ValidationCount
	item.ValidationFees = money.ToDecimal(sum.ValidationFees)
	return item
}
