package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/sendnforget/internal/domain"
)

// ErrNotConfigured is returned by a Sender that lacks the credentials or
// addresses it needs. Each attempt fails with it until the transport is configured.
var ErrNotConfigured = errors.New("delivery transport is not configured")

// DefaultSubjectPrefix is prepended to every notification subject.
const DefaultSubjectPrefix = "[sendNforget]"

// Sender delivers a single message to a recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SenderFunc adapts an ordinary function to the Sender interface.
type SenderFunc func(ctx context.Context, to, subject, body string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// Compose builds the subject and body delivered for a task.
// The subject is "<prefix>[<clientId>] Notification"; the body is the message itself.
func Compose(prefix string, task domain.NotificationTask) (subject, body string) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("[")
	b.WriteString(task.ClientID)
	b.WriteString("] Notification")
	return b.String(), task.Message
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("%w: empty recipient", ErrNotConfigured)
	}
	s.logger.InfoContext(ctx, "notification delivered",
		"to", to,
		"subject", subject,
		"body_length", len(body))
	return nil
}
