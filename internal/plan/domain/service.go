package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billmirror/internal/config"
)

type CreatePlanRequest struct {
	// ProviderID defaults to a slug of Name.
	ProviderID      string
	Name            string
	Currency        string
	Interval        string
	IntervalCount   int64
	Amount          decimal.Decimal
	TrialPeriodDays *int64
}

type PushResult struct {
	Created  []string
	Imported []string
	Skipped  []string
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Rename(ctx context.Context, providerID, name string) (Plan, error)
	// Push creates every catalog plan missing remotely. Plans that already exist remotely
	// are imported locally and never modified.
	Push(ctx context.Context, catalog []config.PlanConfig) (PushResult, error)
	GetByProviderID(ctx context.Context, providerID string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidInterval = errors.New("invalid_interval")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrAlreadyExists   = errors.New("plan_already_exists")
	ErrNotFound        = errors.New("plan_not_found")
)
