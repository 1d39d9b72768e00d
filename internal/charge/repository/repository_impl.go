package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/charge/domain"
	"gorm.io/gorm"
)

const chargeColumns = `id, provider_id, customer_id, invoice_id, card_last4, card_kind, currency, amount, amount_refunded,
	description, paid, disputed, refunded, fee, receipt_sent, charged_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, c *domain.Charge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charges (`+chargeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.ProviderID,
		c.CustomerID,
		c.InvoiceID,
		c.CardLast4,
		c.CardKind,
		c.Currency,
		c.Amount,
		c.AmountRefunded,
		c.Description,
		c.Paid,
		c.Disputed,
		c.Refunded,
		c.Fee,
		c.ReceiptSent,
		c.ChargedAt,
		c.CreatedAt,
		c.UpdatedAt,
	).Error
}

// Update never touches receipt_sent; that flag only moves through ClaimReceipt.
func (r *repo) Update(ctx context.Context, db *gorm.DB, c *domain.Charge) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges SET
			customer_id = ?, invoice_id = ?, card_last4 = ?, card_kind = ?, currency = ?, amount = ?,
			amount_refunded = ?, description = ?, paid = ?, disputed = ?, refunded = ?, fee = ?,
			charged_at = ?, updated_at = ?
		 WHERE id = ?`,
		c.CustomerID,
		c.InvoiceID,
		c.CardLast4,
		c.CardKind,
		c.Currency,
		c.Amount,
		c.AmountRefunded,
		c.Description,
		c.Paid,
		c.Disputed,
		c.Refunded,
		c.Fee,
		c.ChargedAt,
		c.UpdatedAt,
		c.ID,
	).Error
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Charge, error) {
	var item domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE provider_id = ?`,
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

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]*domain.Charge, error) {
	var items []*domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE customer_id = ? ORDER BY id ASC`,
		customerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE charges SET receipt_sent = ? WHERE id = ? AND receipt_sent = ?`,
		true,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReleaseReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges SET receipt_sent = ? WHERE id = ?`,
		false,
		id,
	).Error
}
