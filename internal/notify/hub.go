// Package notify fans out post-processing notifications to in-process subscribers.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/billmirror/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	SubscriptionMade       = "subscription.made"
	SubscriptionCancelled  = "subscription.cancelled"
	CardChanged            = "card.changed"
	WebhookProcessingError = "webhook.processing_error"
)

// Notification is named after the event kind or lifecycle step that produced it.
type Notification struct {
	Name       string    `json:"name"`
	Payload    any       `json:"payload,omitempty"`
	Err        error     `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Handler func(ctx context.Context, n Notification)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

type Hub struct {
	mu      sync.RWMutex
	byName  map[string][]Handler
	all     []Handler
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		byName:  map[string][]Handler{},
		log:     log.Named("notify"),
		metrics: m,
	}
}

func (h *Hub) Subscribe(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byName[name] = append(h.byName[name], handler)
}

func (h *Hub) SubscribeAll(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all = append(h.all, handler)
}

// Publish delivers n to every matching handler. A panicking handler is logged and does
// not affect the publisher or the other handlers.
func (h *Hub) Publish(ctx context.Context, n Notification) {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.byName[n.Name])+len(h.all))
	handlers = append(handlers, h.byName[n.Name]...)
	handlers = append(handlers, h.all...)
	h.mu.RUnlock()

	h.metrics.RecordNotification(ctx, n.Name)
	for _, handler := range handlers {
		h.deliver(ctx, handler, n)
	}
}

func (h *Hub) deliver(ctx context.Context, handler Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("notification handler panicked",
				zap.String("notification", n.Name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	handler(ctx, n)
}
