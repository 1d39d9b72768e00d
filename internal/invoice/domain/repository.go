package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Invoice, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, openOnly bool) ([]*Invoice, error)

	InsertItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	UpdateItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	FindItem(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, providerID string) (*InvoiceItem, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*InvoiceItem, error)
}
