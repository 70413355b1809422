package mailing

import (
	"context"
)

// DefaultStatsBatchSize is how many addresses are looked up per bulk
// stats fetch when filtering a receiver list.
const DefaultStatsBatchSize = 1000

// StatsBatchSource provides bulk address-stats lookups. Results are
// positional: a nil entry means no stats exist for that address.
type StatsBatchSource interface {
	GetBatch(ctx context.Context, emails []string) ([]*AddressStats, error)
}

// ReceiverListFilter cross-references a receiver list against address
// stats to drop addresses that can never be delivered to.
type ReceiverListFilter struct {
	stats     StatsBatchSource
	batchSize int
}

// NewReceiverListFilter creates a filter fetching stats in batches of
// batchSize (DefaultStatsBatchSize when <= 0).
func NewReceiverListFilter(stats StatsBatchSource, batchSize int) *ReceiverListFilter {
	if batchSize <= 0 {
		batchSize = DefaultStatsBatchSize
	}
	return &ReceiverListFilter{stats: stats, batchSize: batchSize}
}

// GetValidReceivers returns the receivers that are worth sending to:
// syntactically valid addresses minus those with a recorded hard bounce.
// A previous 5.x.x status suppresses an address across all mailings.
// When no hard-bounced address is found, the syntactically-valid slice
// is returned as-is.
func (f *ReceiverListFilter) GetValidReceivers(ctx context.Context, receivers []Receiver) ([]Receiver, error) {
	valid := make([]Receiver, 0, len(receivers))
	for _, r := range receivers {
		if ValidEmail(r.Email) {
			valid = append(valid, r)
		}
	}

	failed := make(map[string]struct{})
	for start := 0; start < len(valid); start += f.batchSize {
		end := start + f.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		emails := make([]string, 0, end-start)
		for _, r := range valid[start:end] {
			emails = append(emails, r.Email)
		}
		statsBatch, err := f.stats.GetBatch(ctx, emails)
		if err != nil {
			return nil, err
		}
		for _, stats := range statsBatch {
			if stats != nil && stats.HardBounced() {
				failed[stats.Email] = struct{}{}
			}
		}
	}

	if len(failed) == 0 {
		return valid, nil
	}

	filtered := make([]Receiver, 0, len(valid))
	for _, r := range valid {
		if _, bad := failed[r.Email]; !bad {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}
