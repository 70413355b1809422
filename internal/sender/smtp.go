package sender

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/ignite/bulkpost/internal/mailing"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender creates an SMTP transport. Username and password may be
// empty for an open relay.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// SendEmail builds and delivers the message over a fresh SMTP session.
func (s *SMTPSender) SendEmail(ctx context.Context, email *mailing.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)

	to := make([]string, len(email.Receivers))
	for i, rcv := range email.Receivers {
		if rcv.Name != "" {
			to[i] = msg.FormatAddress(rcv.Email, rcv.Name)
		} else {
			to[i] = rcv.Email
		}
	}
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", email.Subject)
	if email.ReplyTo != "" {
		msg.SetHeader("Reply-To", email.ReplyTo)
	}
	for name, value := range email.Headers {
		msg.SetHeader(name, value)
	}
	msg.SetBody("text/html", email.HTML)

	for _, att := range email.Attachments {
		content := att.Content
		msg.Attach(att.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
