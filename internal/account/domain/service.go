package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	Email string
	Name  string
}

type ListAccountRequest struct {
	AfterID snowflake.ID
	Limit   int
}

type Service interface {
	Create(context.Context, CreateAccountRequest) (Account, error)
	GetByID(context.Context, snowflake.ID) (Account, error)
	List(context.Context, ListAccountRequest) ([]Account, error)
}

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
	ErrNotFound     = errors.New("not_found")
)
