package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/customer/domain"
	pkgdb "github.com/smallbiznis/billmirror/pkg/db"
	"gorm.io/gorm"
)

const customerColumns = `id, provider_id, account_id, card_fingerprint, card_last4, card_kind, purged_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert reports domain.ErrAlreadyExists when the remote id or the account is taken.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.ProviderID,
		customer.AccountID,
		customer.CardFingerprint,
		customer.CardLast4,
		customer.CardKind,
		customer.PurgedAt,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET account_id = ?, card_fingerprint = ?, card_last4 = ?, card_kind = ?, purged_at = ?, updated_at = ?
		 WHERE id = ?`,
		customer.AccountID,
		customer.CardFingerprint,
		customer.CardLast4,
		customer.CardKind,
		customer.PurgedAt,
		customer.UpdatedAt,
		customer.ID,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE `+where,
		arg,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, `provider_id = ?`, providerID)
}

func (r *repo) FindByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db, `account_id = ?`, accountID)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListCustomerFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id > ?", filter.AfterID)
	if !filter.IncludePurged {
		stmt = stmt.Where("purged_at IS NULL")
	}
	err := stmt.
		Order("id asc").
		Limit(filter.Limit).
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}
