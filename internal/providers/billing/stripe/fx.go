package stripe

import (
	"github.com/smallbiznis/billmirror/internal/config"
	"github.com/smallbiznis/billmirror/internal/observability/metrics"
	"github.com/smallbiznis/billmirror/internal/providers/billing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.stripe",
	fx.Provide(NewFromConfig),
	fx.Provide(NewVerifierFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (billing.Client, error) {
	return New(Config{APIKey: cfg.Stripe.APIKey}, log, m)
}

// NewVerifierFromConfig returns nil when no signing secret is configured.
func NewVerifierFromConfig(cfg config.Config, log *zap.Logger) billing.WebhookVerifier {
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("webhook signature verification disabled: STRIPE_WEBHOOK_SECRET not set")
		return nil
	}
	return NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance)
}
