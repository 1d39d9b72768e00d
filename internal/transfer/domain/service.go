package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	GetByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*Transfer, error)
	ListFees(ctx context.Context, db *gorm.DB, transfer Transfer) ([]TransferChargeFee, error)

	// Sync re-fetches the transfer. The first sighting inserts the row with its fee
	// breakdown; later sightings only patch the status and add fees if none exist yet.
	Sync(ctx context.Context, db *gorm.DB, providerID string, eventID *snowflake.ID) (*Transfer, error)
}

var ErrNotFound = errors.New("transfer_not_found")
