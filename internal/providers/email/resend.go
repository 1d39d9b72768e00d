package email

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

type ResendProvider struct {
	client *resend.Client
	from   string
	log    *zap.Logger
}

func NewResend(apiKey, from string, log *zap.Logger) *ResendProvider {
	return &ResendProvider{
		client: resend.NewClient(apiKey),
		from:   from,
		log:    log.Named("email.resend"),
	}
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    p.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Headers: map[string]string{
			"X-Entity-Ref-ID": uuid.NewString(),
		},
		Tags: toResendTags(msg.Tags),
	}

	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	p.log.Debug("email sent", zap.String("email_id", sent.Id), zap.String("subject", msg.Subject))
	return nil
}

func toResendTags(tags map[string]string) []resend.Tag {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]resend.Tag, 0, len(names))
	for _, name := range names {
		out = append(out, resend.Tag{Name: name, Value: tags[name]})
	}
	return out
}
