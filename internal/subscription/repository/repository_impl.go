package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.CurrentSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO current_subscriptions (
			id, customer_id, plan_id, quantity, amount, currency, status, start_at,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, canceled_at, ended_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.CustomerID,
		s.PlanID,
		s.Quantity,
		s.Amount,
		s.Currency,
		s.Status,
		s.StartAt,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.TrialStart,
		s.TrialEnd,
		s.CancelAtPeriodEnd,
		s.CanceledAt,
		s.EndedAt,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, s *domain.CurrentSubscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE current_subscriptions SET
			plan_id = ?, quantity = ?, amount = ?, currency = ?, status = ?, start_at = ?,
			current_period_start = ?, current_period_end = ?, trial_start = ?, trial_end = ?,
			cancel_at_period_end = ?, canceled_at = ?, ended_at = ?, updated_at = ?
		 WHERE id = ?`,
		s.PlanID,
		s.Quantity,
		s.Amount,
		s.Currency,
		s.Status,
		s.StartAt,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.TrialStart,
		s.TrialEnd,
		s.CancelAtPeriodEnd,
		s.CanceledAt,
		s.EndedAt,
		s.UpdatedAt,
		s.ID,
	).Error
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.CurrentSubscription, error) {
	var item domain.CurrentSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, plan_id, quantity, amount, currency, status, start_at,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, canceled_at, ended_at, created_at, updated_at
		 FROM current_subscriptions WHERE customer_id = ?`,
		customerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
