package repository

import (
	"context"

	"github.com/smallbiznis/billmirror/internal/plan/domain"
	"gorm.io/gorm"
)

const planColumns = `id, provider_id, name, currency, billing_interval, interval_count, amount, trial_period_days, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.ProviderID,
		plan.Name,
		plan.Currency,
		plan.Interval,
		plan.IntervalCount,
		plan.Amount,
		plan.TrialPeriodDays,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) UpdateName(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans SET name = ?, updated_at = ? WHERE id = ?`,
		plan.Name,
		plan.UpdatedAt,
		plan.ID,
	).Error
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE provider_id = ?`,
		providerID,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT ` + planColumns + ` FROM plans ORDER BY amount ASC, id ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
