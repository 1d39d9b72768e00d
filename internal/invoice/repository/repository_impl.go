package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/invoice/domain"
	"gorm.io/gorm"
)

const (
	invoiceColumns = `id, provider_id, customer_id, attempted, closed, paid, currency, period_start, period_end,
		subtotal, total, charge_provider_id, invoiced_at, created_at, updated_at`
	itemColumns = `id, invoice_id, provider_id, amount, currency, proration, line_type, description, plan_id,
		quantity, period_start, period_end, created_at, updated_at`
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.ProviderID,
		inv.CustomerID,
		inv.Attempted,
		inv.Closed,
		inv.Paid,
		inv.Currency,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.Subtotal,
		inv.Total,
		inv.ChargeProviderID,
		inv.InvoicedAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET
			customer_id = ?, attempted = ?, closed = ?, paid = ?, currency = ?, period_start = ?, period_end = ?,
			subtotal = ?, total = ?, charge_provider_id = ?, invoiced_at = ?, updated_at = ?
		 WHERE id = ?`,
		inv.CustomerID,
		inv.Attempted,
		inv.Closed,
		inv.Paid,
		inv.Currency,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.Subtotal,
		inv.Total,
		inv.ChargeProviderID,
		inv.InvoicedAt,
		inv.UpdatedAt,
		inv.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE provider_id = ?`,
		providerID,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, openOnly bool) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE customer_id = ?`
	if openOnly {
		query += ` AND paid = ? AND closed = ?`
	}
	query += ` ORDER BY id ASC`

	args := []any{customerID}
	if openOnly {
		args = append(args, false, false)
	}

	var invoices []*domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *domain.InvoiceItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.InvoiceID,
		item.ProviderID,
		item.Amount,
		item.Currency,
		item.Proration,
		item.LineType,
		item.Description,
		item.PlanID,
		item.Quantity,
		item.PeriodStart,
		item.PeriodEnd,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *domain.InvoiceItem) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoice_items SET
			amount = ?, currency = ?, proration = ?, line_type = ?, description = ?, plan_id = ?,
			quantity = ?, period_start = ?, period_end = ?, updated_at = ?
		 WHERE id = ?`,
		item.Amount,
		item.Currency,
		item.Proration,
		item.LineType,
		item.Description,
		item.PlanID,
		item.Quantity,
		item.PeriodStart,
		item.PeriodEnd,
		item.UpdatedAt,
		item.ID,
	).Error
}

func (r *repo) FindItem(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, providerID string) (*domain.InvoiceItem, error) {
	var item domain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ? AND provider_id = ?`,
		invoiceID,
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

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*domain.InvoiceItem, error) {
	var items []*domain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
