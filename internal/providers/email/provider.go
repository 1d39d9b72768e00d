package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("email_no_recipients")

// Message is a rendered e-mail ready for delivery.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
	// Tags are provider-side labels, e.g. {"category": "receipt"}.
	Tags map[string]string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (NoOpProvider) Send(context.Context, Message) error {
	return nil
}

func validate(msg Message) error {
	if len(msg.To) == 0 || msg.To[0] == "" {
		return ErrNoRecipients
	}
	return nil
}
