package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *CurrentSubscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *CurrentSubscription) error
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*CurrentSubscription, error)
}
