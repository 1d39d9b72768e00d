package authorization

import (
	"context"
	"errors"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidRole   = errors.New("invalid_role")
)

// Service gates the operator surface. Subjects come from ResolveToken.
type Service interface {
	ResolveToken(token string) (string, error)
	Authorize(ctx context.Context, subject string, object string, action string) error
}
