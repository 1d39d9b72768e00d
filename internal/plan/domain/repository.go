package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	UpdateName(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB) ([]*Plan, error)
}
