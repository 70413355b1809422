package mailing

import (
	"context"
)

// FailedReceiver is one delivery failure attributed to a mailing.
type FailedReceiver struct {
	Email  string `json:"email"`
	Status string `json:"lastStatus"`
}

// ReceiverRangeSource provides ordered receiver-list range reads.
// Indices follow Redis LRANGE conventions: stop is inclusive and -1
// means the end of the list.
type ReceiverRangeSource interface {
	GetReceivers(ctx context.Context, id int64, start, stop int64) ([]Receiver, error)
}

// StatsSource provides single address-stats lookups. A nil result with
// nil error means no stats exist for the address.
type StatsSource interface {
	GetByEmail(ctx context.Context, email string) (*AddressStats, error)
}

// FailureCounter computes the failed-receiver report for a mailing.
type FailureCounter struct {
	mailings ReceiverRangeSource
	stats    StatsSource
}

// NewFailureCounter wires a failure counter over the two repositories.
func NewFailureCounter(mailings ReceiverRangeSource, stats StatsSource) *FailureCounter {
	return &FailureCounter{mailings: mailings, stats: stats}
}

// GetFailedReceivers returns the receivers of the mailing with a
// recorded delivery status. A limit > 0 caps how many receivers are
// examined. Statuses recorded before the mailing was created belong to
// an earlier campaign and are not attributed to this one.
func (c *FailureCounter) GetFailedReceivers(ctx context.Context, m *Mailing, limit int64) ([]FailedReceiver, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	receivers, err := c.mailings.GetReceivers(ctx, m.ID, 0, stop)
	if err != nil {
		return nil, err
	}

	failed := make([]FailedReceiver, 0)
	for _, r := range receivers {
		stats, err := c.stats.GetByEmail(ctx, r.Email)
		if err != nil {
			return nil, err
		}
		if stats == nil || stats.LastStatus == "" || stats.LastStatusDate == nil {
			continue
		}
		if stats.LastStatusDate.Before(m.CreationDate) {
			continue
		}
		failed = append(failed, FailedReceiver{Email: stats.Email, Status: stats.LastStatus})
	}
	return failed, nil
}
