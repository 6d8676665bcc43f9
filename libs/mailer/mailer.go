// Package mailer sends transactional e-mail through a pluggable provider.
package mailer

import (
	"context"
	"errors"
	"strings"
)

// ErrNoRecipients is returned when a message has no usable recipient address.
var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Message is a single outbound e-mail.
type Message struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

// SendResult carries the provider's identifier for an accepted message.
type SendResult struct {
	ProviderMessageID string
}

// Provider delivers messages to one backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// Mailer applies defaults and hands messages to its provider.
type Mailer struct {
	provider    Provider
	fromAddress string
}

func New(provider Provider, fromAddress string) *Mailer {
	return &Mailer{
		provider:    provider,
		fromAddress: fromAddress,
	}
}

// Send fills in the default sender, drops blank recipients and delivers the message.
func (m *Mailer) Send(ctx context.Context, msg Message) (SendResult, error) {
	if strings.TrimSpace(msg.From) == "" {
		msg.From = m.fromAddress
	}
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		if trimmed := strings.TrimSpace(to); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	if len(recipients) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	msg.To = recipients
	return m.provider.Send(ctx, msg)
}

func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}
