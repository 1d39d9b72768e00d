package email

import (
	"github.com/smallbiznis/billmirror/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	switch cfg.Email.Provider {
	case "resend":
		if cfg.Email.ResendAPIKey == "" {
			log.Warn("resend selected without RESEND_API_KEY, receipts disabled")
			return NoOpProvider{}
		}
		return NewResend(cfg.Email.ResendAPIKey, cfg.Email.From, log)
	case "smtp":
		return NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		})
	default:
		return NoOpProvider{}
	}
}
