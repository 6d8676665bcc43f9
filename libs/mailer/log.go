package mailer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LogProvider writes messages to the logger instead of delivering them.
// It is the default in development and whenever no provider key is configured.
type LogProvider struct {
	Logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{Logger: logger}
}

func (l *LogProvider) Name() string {
	return "log"
}

func (l *LogProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	messageID := "log-" + uuid.NewString()
	l.Logger.InfoContext(ctx, "mail not delivered (log provider)",
		"message_id", messageID,
		"from", msg.From,
		"to", strings.Join(msg.To, ", "),
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return SendResult{ProviderMessageID: messageID}, nil
}
