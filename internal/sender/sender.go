// Package sender contains the mail transport implementations. The
// execution engine only depends on the MailSender interface; which
// transport backs it is a wiring decision made in cmd/server.
package sender

import (
	"context"

	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
)

// MailSender delivers one email. Implementations must be safe for
// concurrent use: multiple mailings send through the same transport.
type MailSender interface {
	SendEmail(ctx context.Context, email *mailing.Email) error
}

// ConsoleSender logs emails instead of delivering them. Used in
// development and the default when fake_sender is set.
type ConsoleSender struct {
	log *logger.Logger
}

// NewConsoleSender creates a console transport.
func NewConsoleSender(log *logger.Logger) *ConsoleSender {
	return &ConsoleSender{log: log}
}

// SendEmail logs the email and reports success.
func (s *ConsoleSender) SendEmail(_ context.Context, email *mailing.Email) error {
	for _, rcv := range email.Receivers {
		s.log.Infof("console sender: %q to %s", email.Subject, rcv.String())
	}
	return nil
}
