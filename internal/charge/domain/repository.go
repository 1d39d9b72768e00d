package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	Update(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Charge, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]*Charge, error)
	// ClaimReceipt flips receipt_sent and reports whether this caller won the flip.
	ClaimReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ReleaseReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
