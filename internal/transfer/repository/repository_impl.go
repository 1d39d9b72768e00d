package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/transfer/domain"
	"gorm.io/gorm"
)

const transferColumns = `id, provider_id, event_id, amount, currency, status, transferred_at, description,
	adjustment_count, adjustment_fees, adjustment_gross, charge_count, charge_fees, charge_gross,
	collected_fee_count, collected_fee_gross, net, refund_count, refund_fees, refund_gross,
	validation_count, validation_fees, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, t *domain.Transfer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transfers (`+transferColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.ProviderID,
		t.EventID,
		t.Amount,
		t.Currency,
		t.Status,
		t.TransferredAt,
		t.Description,
		t.AdjustmentCount,
		t.AdjustmentFees,
		t.AdjustmentGross,
		t.ChargeCount,
		t.ChargeFees,
		t.ChargeGross,
		t.CollectedFeeCount,
		t.CollectedFeeGross,
		t.Net,
		t.RefundCount,
		t.RefundFees,
		t.RefundGross,
		t.ValidationCount,
		t.ValidationFees,
		t.CreatedAt,
		t.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, t *domain.Transfer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE transfers SET status = ?, updated_at = ? WHERE id = ?`,
		t.Status,
		t.UpdatedAt,
		t.ID,
	).Error
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Transfer, error) {
	var item domain.Transfer
	err := db.WithContext(ctx).Raw(
		`SELECT `+transferColumns+` FROM transfers WHERE provider_id = ?`,
		providerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertFees(ctx context.Context, db *gorm.DB, fees []domain.TransferChargeFee) error {
	for _, fee := range fees {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO transfer_charge_fees (id, transfer_id, amount, currency, application, description, kind, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fee.ID,
			fee.TransferID,
			fee.Amount,
			fee.Currency,
			fee.Application,
			fee.Description,
			fee.Kind,
			fee.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) CountFees(ctx context.Context, db *gorm.DB, transferID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM transfer_charge_fees WHERE transfer_id = ?`,
		transferID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListFees(ctx context.Context, db *gorm.DB, transferID snowflake.ID) ([]domain.TransferChargeFee, error) {
	var fees []domain.TransferChargeFee
	err := db.WithContext(ctx).Raw(
		`SELECT id, transfer_id, amount, currency, application, description, kind, created_at
		 FROM transfer_charge_fees WHERE transfer_id = ? ORDER BY id ASC`,
		transferID,
	).Scan(&fees).Error
	if err != nil {
		return nil, err
	}
	return fees, nil
}
