package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"gorm.io/gorm"
)

type Service interface {
	GetByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*CurrentSubscription, error)

	// Sync re-fetches the customer's remote subscription and upserts the local row. When the
	// remote has no subscription the local row is left as it is and nil is returned.
	Sync(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, policy Policy) (*CurrentSubscription, error)
	// Apply upserts from an already fetched remote subscription.
	Apply(ctx context.Context, db *gorm.DB, customer customerdomain.Customer, remote *billing.Subscription, policy Policy) (*CurrentSubscription, error)
	// Save persists a locally modified row, used by the cancel path.
	Save(ctx context.Context, db *gorm.DB, subscription *CurrentSubscription) error
}

var (
	ErrNotFound = errors.New("subscription_not_found")
)
