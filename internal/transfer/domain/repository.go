package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, transfer *Transfer) error
	UpdateStatus(ctx context.Context, db *gorm.DB, transfer *Transfer) error
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Transfer, error)

	InsertFees(ctx context.Context, db *gorm.DB, fees []TransferChargeFee) error
	CountFees(ctx context.Context, db *gorm.DB, transferID snowflake.ID) (int64, error)
	ListFees(ctx context.Context, db *gorm.DB, transferID snowflake.ID) ([]TransferChargeFee, error)
}
