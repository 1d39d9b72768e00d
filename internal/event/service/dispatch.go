package service

import (
	"context"
	"encoding/json"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	"github.com/smallbiznis/billmirror/internal/event/domain"
	"github.com/smallbiznis/billmirror/internal/notify"
	obsmetrics "github.com/smallbiznis/billmirror/internal/observability/metrics"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type route func(ctx context.Context, tx *gorm.DB, d *dispatch) error

// dispatch is the per-event working state shared by the routes of one transaction.
type dispatch struct {
	event    *domain.Event
	object   eventObject
	customer *customerdomain.Customer
	receipts []chargedomain.Charge
}

type eventObject struct {
	ID       string          `json:"id"`
	Customer json.RawMessage `json:"customer"`
}

// customerRef reads the customer field, which is either an id or an expanded object.
func (o eventObject) customerRef() string {
	if len(o.Customer) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(o.Customer, &id); err == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(o.Customer, &expanded); err == nil {
		return expanded.ID
	}
	return ""
}

func (s *Service) routingTable() map[domain.KindFamily]route {
	return map[domain.KindFamily]route{
		domain.FamilyInvoice:         s.syncInvoice,
		domain.FamilyCharge:          s.syncCharge,
		domain.FamilyTransfer:        s.syncTransfer,
		domain.FamilySubscription:    s.syncSubscription,
		domain.FamilyCustomerDeleted: s.purgeCustomer,
		domain.FamilyOther:           noop,
	}
}

func noop(context.Context, *gorm.DB, *dispatch) error { return nil }

func (s *Service) Dispatch(ctx context.Context, event *domain.Event) error {
	if event.Processed {
		return nil
	}
	if !event.Dispatchable() {
		return domain.ErrNotValid
	}

	key := "billmirror:event:" + event.ProviderID
	token, acquired, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		err = fmt.Errorf("acquire event lock: %w", err)
		s.recordFailure(ctx, event, err)
		return err
	}
	if !acquired {
		return domain.ErrLocked
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("release event lock", zap.String("event", event.ProviderID), zap.Error(err))
		}
	}()

	current, err := s.repo.FindByID(ctx, s.db, event.ID)
	if err != nil {
		err = fmt.Errorf("load event: %w", err)
		s.recordFailure(ctx, event, err)
		return err
	}
	if current == nil {
		return domain.ErrNotFound
	}
	if current.Processed {
		*event = *current
		return nil
	}

	d := &dispatch{event: event}
	var payload struct {
		Data struct {
			Object eventObject `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(event.WebhookMessage, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	d.object = payload.Data.Object

	family := event.Kind.Family()
	handle, ok := s.routes[family]
	if !ok {
		handle = noop
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.linkCustomer(ctx, tx, d); err != nil {
			return pkgerrors.Wrap(err, "link customer")
		}
		if err := handle(ctx, tx, d); err != nil {
			return pkgerrors.Wrapf(err, "dispatch %s", family)
		}
		return s.repo.MarkProcessed(ctx, tx, event.ID, s.clock.Now())
	})
	if err != nil {
		s.recordFailure(ctx, event, err)
		s.obsMetrics.RecordEvent(ctx, string(family), obsmetrics.OutcomeFailure)
		s.notifier.Publish(ctx, notify.Notification{
			Name:    notify.WebhookProcessingError,
			Payload: *event,
			Err:     err,
		})
		return err
	}

	if d.customer != nil {
		event.CustomerID = &d.customer.ID
	}
	event.Processed = true
	event.Status = domain.StatusProcessed
	event.Attempts++
	event.LastError = ""
	s.obsMetrics.RecordEvent(ctx, string(family), obsmetrics.OutcomeSuccess)

	s.afterCommit(ctx, d)
	return nil
}

// linkCustomer resolves the local customer the event refers to. An unknown customer is
// not an error: events may arrive before the customer is mirrored.
func (s *Service) linkCustomer(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	ref := d.object.customerRef()
	if d.event.Kind.LinksByObjectID() {
		ref = d.object.ID
	}
	if ref == "" {
		return nil
	}

	customer, err := s.customerSvc.FindByProviderID(ctx, tx, ref)
	if err != nil {
		return err
	}
	if customer == nil {
		return nil
	}
	d.customer = customer
	return s.repo.SetCustomer(ctx, tx, d.event.ID, customer.ID, s.clock.Now())
}

func (s *Service) syncInvoice(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	if !d.event.Kind.Resyncs() {
		return nil
	}
	result, err := s.invoiceSvc.Sync(ctx, tx, d.object.ID)
	if err != nil {
		return err
	}
	if result.Charge != nil {
		d.receipts = append(d.receipts, *result.Charge)
	}
	return nil
}

func (s *Service) syncCharge(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	if d.customer == nil {
		_, err := s.chargeSvc.Sync(ctx, tx, d.object.ID)
		return err
	}
	remote, err := s.billing.RetrieveCharge(ctx, d.object.ID)
	if err != nil {
		return err
	}
	_, err = s.chargeSvc.Apply(ctx, tx, *d.customer, remote)
	return err
}

func (s *Service) syncTransfer(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	_, err := s.transferSvc.Sync(ctx, tx, d.object.ID, &d.event.ID)
	return err
}

func (s *Service) syncSubscription(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	if d.customer == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCustomer, d.object.customerRef())
	}
	_, err := s.subscriptionSvc.Sync(ctx, tx, *d.customer, subscriptiondomain.PolicyFromConfig(s.currentPolicy()))
	return err
}

func (s *Service) purgeCustomer(ctx context.Context, tx *gorm.DB, d *dispatch) error {
	if d.customer == nil {
		s.log.Info("deleted customer is not mirrored", zap.String("customer", d.object.ID))
		return nil
	}
	if d.customer.IsPurged() {
		return nil
	}
	return s.customerSvc.Purge(ctx, tx, d.customer)
}

func (s *Service) afterCommit(ctx context.Context, d *dispatch) {
	if s.currentPolicy().SendReceipts {
		for _, charge := range d.receipts {
			if _, err := s.chargeSvc.SendReceipt(ctx, charge); err != nil {
				s.log.Warn("send receipt", zap.String("charge", charge.ProviderID), zap.Error(err))
			}
		}
	}
	s.notifier.Publish(ctx, notify.Notification{
		Name:    string(d.event.Kind),
		Payload: *d.event,
	})
}

func (s *Service) currentPolicy() config.BillingPolicy {
	if s.policy == nil {
		return config.DefaultBillingPolicy()
	}
	return s.policy.Get()
}

// recordFailure leaves the event retryable and appends the failure to its audit trail.
func (s *Service) recordFailure(ctx context.Context, event *domain.Event, cause error) {
	now := s.clock.Now()
	if err := s.repo.MarkFailed(ctx, s.db, event.ID, cause.Error(), now); err != nil {
		s.log.Error("mark event failed", zap.String("event", event.ProviderID), zap.Error(err))
	}
	event.Status = domain.StatusFailed
	event.Attempts++
	event.LastError = cause.Error()
	event.UpdatedAt = now
	s.recordException(ctx, event, cause)
}

func (s *Service) recordException(ctx context.Context, event *domain.Event, cause error) {
	data := string(event.WebhookMessage)
	if remote, ok := billing.AsError(cause); ok && len(remote.Body) > 0 {
		data = string(remote.Body)
	}
	exception := &domain.EventProcessingException{
		ID:        s.genID.Generate(),
		EventID:   &event.ID,
		Message:   cause.Error(),
		Traceback: fmt.Sprintf("%+v", cause),
		Data:      data,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertException(ctx, s.db, exception); err != nil {
		s.log.Error("record event exception", zap.String("event", event.ProviderID), zap.Error(err))
	}
}
