package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/go-cmp/cmp"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	"github.com/smallbiznis/billmirror/internal/clock"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/event/domain"
	invoicedomain "github.com/smallbiznis/billmirror/internal/invoice/domain"
	"github.com/smallbiznis/billmirror/internal/notify"
	obsmetrics "github.com/smallbiznis/billmirror/internal/observability/metrics"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	transferdomain "github.com/smallbiznis/billmirror/internal/transfer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLockTTL     = 2 * time.Minute
	defaultMaxAttempts = 5
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Billing  billing.Client
	Verifier billing.WebhookVerifier `optional:"true"`
	Policy   *config.PolicyHolder
	Notifier notify.Publisher
	Locker   ratelimit.Locker
	Repo     domain.Repository

	CustomerSvc     customerdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	ChargeSvc       chargedomain.Service
	TransferSvc     transferdomain.Service

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  billing.Client
	verifier billing.WebhookVerifier
	policy   *config.PolicyHolder
	notifier notify.Publisher
	locker   ratelimit.Locker
	lockTTL  time.Duration
	repo     domain.Repository

	customerSvc     customerdomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	chargeSvc       chargedomain.Service
	transferSvc     transferdomain.Service

	obsMetrics *obsmetrics.Metrics
	routes     map[domain.KindFamily]route
}

func New(p Params) domain.Service {
	lockTTL := p.Cfg.Redis.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	s := &Service{
		db:              p.DB,
		log:             p.Log.Named("event.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		billing:         p.Billing,
		verifier:        p.Verifier,
		policy:          p.Policy,
		notifier:        p.Notifier,
		locker:          p.Locker,
		lockTTL:         lockTTL,
		repo:            p.Repo,
		customerSvc:     p.CustomerSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		chargeSvc:       p.ChargeSvc,
		transferSvc:     p.TransferSvc,
		obsMetrics:      p.ObsMetrics,
	}
	s.routes = s.routingTable()
	return s
}

type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func parseEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" || env.Type == "" || len(env.Data.Object) == 0 {
		return envelope{}, domain.ErrMalformedPayload
	}
	return env, nil
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) (domain.IngestResult, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(payload, signature); err != nil {
			s.obsMetrics.RecordWebhook(ctx, obsmetrics.OutcomeRejected)
			s.log.Warn("webhook signature rejected", zap.Error(err))
			return domain.IngestResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
		}
	}

	env, err := parseEnvelope(payload)
	if err != nil {
		s.obsMetrics.RecordWebhook(ctx, obsmetrics.OutcomeInvalid)
		return domain.IngestResult{}, err
	}

	existing, err := s.repo.FindByProviderID(ctx, s.db, env.ID)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if existing != nil {
		return s.recordDuplicate(ctx, existing, payload)
	}

	now := s.clock.Now()
	event := &domain.Event{
		ID:             s.genID.Generate(),
		ProviderID:     env.ID,
		Kind:           domain.Kind(env.Type),
		Livemode:       env.Livemode,
		WebhookMessage: datatypes.JSON(payload),
		Status:         domain.StatusReceived,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, event)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if !inserted {
		existing, err = s.repo.FindByProviderID(ctx, s.db, env.ID)
		if err != nil {
			return domain.IngestResult{}, err
		}
		if existing == nil {
			return domain.IngestResult{}, domain.ErrNotFound
		}
		return s.recordDuplicate(ctx, existing, payload)
	}
	s.obsMetrics.RecordWebhook(ctx, obsmetrics.OutcomeSuccess)

	log := s.log.With(zap.String("event", event.ProviderID), zap.String("kind", string(event.Kind)))
	if err := s.validate(ctx, event); err != nil {
		log.Warn("event validation incomplete", zap.Error(err))
		s.recordException(ctx, event, err)
		return domain.IngestResult{Event: event}, nil
	}
	if !event.Dispatchable() {
		log.Warn("event failed validation, not dispatched")
		return domain.IngestResult{Event: event}, nil
	}

	if err := s.Dispatch(ctx, event); err != nil {
		log.Warn("event processing failed", zap.Error(err))
	}
	return domain.IngestResult{Event: event}, nil
}

func (s *Service) recordDuplicate(ctx context.Context, existing *domain.Event, payload []byte) (domain.IngestResult, error) {
	s.obsMetrics.RecordWebhook(ctx, obsmetrics.OutcomeDuplicate)
	s.log.Info("duplicate event", zap.String("event", existing.ProviderID))

	exception := &domain.EventProcessingException{
		ID:        s.genID.Generate(),
		EventID:   &existing.ID,
		Message:   "duplicate event",
		Data:      string(payload),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertException(ctx, s.db, exception); err != nil {
		return domain.IngestResult{}, err
	}
	return domain.IngestResult{Event: existing, Duplicate: true}, nil
}

// validate re-fetches the event from the remote service and compares its data section with
// the delivered one. Only an exact structural match is valid.
func (s *Service) validate(ctx context.Context, event *domain.Event) error {
	canonical, err := s.billing.RetrieveEvent(ctx, event.ProviderID)
	if err != nil {
		return fmt.Errorf("retrieve event: %w", err)
	}

	var delivered struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(event.WebhookMessage, &delivered); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	var pushed, fetched any
	if err := json.Unmarshal(delivered.Data, &pushed); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(canonical.Data, &fetched); err != nil {
		return fmt.Errorf("decode canonical event: %w", err)
	}

	valid := cmp.Equal(pushed, fetched)
	if !valid {
		s.log.Warn("event payload differs from remote copy",
			zap.String("event", event.ProviderID),
			zap.String("diff", cmp.Diff(fetched, pushed)),
		)
	}

	validated := canonical.Raw
	if len(validated) == 0 {
		validated, err = json.Marshal(canonical)
		if err != nil {
			return err
		}
	}

	event.ValidatedMessage = datatypes.JSON(validated)
	event.Valid = &valid
	event.Status = domain.StatusInvalid
	if valid {
		event.Status = domain.StatusValid
	}
	event.UpdatedAt = s.clock.Now()
	return s.repo.SetValidation(ctx, s.db, event)
}

// Retry re-validates an event that never finished validation and dispatches it again.
func (s *Service) Retry(ctx context.Context, id snowflake.ID) (*domain.Event, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrNotFound
	}
	if event.Processed {
		return event, nil
	}
	if event.Valid == nil {
		if err := s.validate(ctx, event); err != nil {
			s.recordFailure(ctx, event, fmt.Errorf("%w: %v", domain.ErrValidationPending, err))
			return event, err
		}
	}
	if !event.Dispatchable() {
		return event, domain.ErrNotValid
	}
	if err := s.Dispatch(ctx, event); err != nil {
		return event, err
	}
	return event, nil
}

func (s *Service) RetryFailed(ctx context.Context, limit int) (domain.RetryResult, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := s.repo.ListRetryable(ctx, s.db, defaultMaxAttempts, limit)
	if err != nil {
		return domain.RetryResult{}, err
	}

	var result domain.RetryResult
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.Retry(ctx, event.ID); err != nil {
			if isLockContention(err) {
				s.log.Debug("event busy, skipped", zap.String("event", event.ProviderID))
				continue
			}
			result.Attempted++
			result.Failed++
			s.log.Warn("event retry failed",
				zap.String("event", event.ProviderID),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		result.Attempted++
		result.Processed++
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.EventDetail, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.EventDetail{}, err
	}
	if event == nil {
		return domain.EventDetail{}, domain.ErrNotFound
	}
	exceptions, err := s.repo.ListExceptions(ctx, s.db, id)
	if err != nil {
		return domain.EventDetail{}, err
	}
	return domain.EventDetail{Event: *event, Exceptions: exceptions}, nil
}

func isLockContention(err error) bool {
	return errors.Is(err, domain.ErrLocked)
}
