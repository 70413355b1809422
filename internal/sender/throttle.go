package sender

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ignite/bulkpost/internal/mailing"
)

// ThrottledSender caps the send rate of the wrapped transport. The cap
// is global across mailings, protecting the relay itself; the per-
// mailing auto-pause limiter protects recipient-side reputation.
type ThrottledSender struct {
	next    MailSender
	limiter *rate.Limiter
}

// NewThrottledSender wraps next with a perSecond send cap.
func NewThrottledSender(next MailSender, perSecond int) *ThrottledSender {
	return &ThrottledSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// SendEmail waits for rate-limiter clearance and delegates.
func (s *ThrottledSender) SendEmail(ctx context.Context, email *mailing.Email) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.next.SendEmail(ctx, email)
}
