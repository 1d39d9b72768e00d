package authorization

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/billmirror/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCustomer = "customer"
	ObjectEvent    = "event"
	ObjectInvoice  = "invoice"
)

const (
	ActionCustomerResync = "customer.resync"
	ActionEventView      = "event.view"
	ActionEventRetry     = "event.retry"
	ActionInvoiceRetry   = "invoice.retry"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	tokens   map[string]string
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewService binds every configured admin token to its role.
func NewService(p Params) (Service, error) {
	s := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		tokens:   make(map[string]string, len(p.Cfg.Admin.Tokens)),
	}
	for token, role := range p.Cfg.Admin.Tokens {
		token = strings.TrimSpace(token)
		role = strings.ToLower(strings.TrimSpace(role))
		if token == "" {
			continue
		}
		if role != RoleOperator && role != RoleViewer {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
		subject := tokenSubject(token)
		if err := s.ensureGrouping(subject, "role:"+role); err != nil {
			return nil, err
		}
		s.tokens[token] = subject
	}
	return s, nil
}

func (s *ServiceImpl) ResolveToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthorized
	}
	for known, subject := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return subject, nil
		}
	}
	return "", ErrUnauthorized
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject string, object string, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	s.log.Debug("authorization granted",
		zap.String("subject", subject),
		zap.String("action", action),
	)
	return nil
}

// ensureGrouping leaves the subject with exactly one role.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

// tokenSubject never stores the token itself.
func tokenSubject(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "admin:" + hex.EncodeToString(sum[:8])
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:viewer", ObjectEvent, ActionEventView},

		{"role:operator", ObjectEvent, ActionEventView},
		{"role:operator", ObjectEvent, ActionEventRetry},
		{"role:operator", ObjectCustomer, ActionCustomerResync},
		{"role:operator", ObjectInvoice, ActionInvoiceRetry},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
