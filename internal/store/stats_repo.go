package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bulkpost/internal/mailing"
)

// AddressStatsRepository persists per-address delivery history, keyed by
// email address.
type AddressStatsRepository struct {
	bucket *bucket[mailing.AddressStats]
}

// NewAddressStatsRepository creates a repository over the given client.
func NewAddressStatsRepository(client *redis.Client, keys KeyConfig) *AddressStatsRepository {
	return &AddressStatsRepository{
		bucket: newBucket[mailing.AddressStats](client, keys.AddressStatsPrefix),
	}
}

// Create stores a fresh stats record for an address.
func (r *AddressStatsRepository) Create(ctx context.Context, stats *mailing.AddressStats) error {
	return r.bucket.set(ctx, stats.Email, stats, 0)
}

// CreateIfAbsent stores a fresh stats record unless one already exists,
// reporting whether the write happened. Two senders recording first
// contact with the same address cannot overwrite each other; the loser
// falls through to UpdateInTransaction.
func (r *AddressStatsRepository) CreateIfAbsent(ctx context.Context, stats *mailing.AddressStats) (bool, error) {
	return r.bucket.setAbsent(ctx, stats.Email, stats)
}

// GetByEmail returns the stats for an address, or nil when none exist.
func (r *AddressStatsRepository) GetByEmail(ctx context.Context, email string) (*mailing.AddressStats, error) {
	return r.bucket.get(ctx, email)
}

// GetBatch returns stats positionally for a batch of addresses; entries
// without a record are nil.
func (r *AddressStatsRepository) GetBatch(ctx context.Context, emails []string) ([]*mailing.AddressStats, error) {
	return r.bucket.mGet(ctx, emails)
}

// Update overwrites an existing record; unknown addresses are a no-op
// returning false.
func (r *AddressStatsRepository) Update(ctx context.Context, stats *mailing.AddressStats) (bool, error) {
	return r.bucket.setExisting(ctx, stats.Email, stats)
}

// UpdateInTransaction applies the mutation under optimistic locking.
// Returns nil without invoking the mutator when no record exists.
func (r *AddressStatsRepository) UpdateInTransaction(ctx context.Context, email string, mutate func(*mailing.AddressStats)) (*mailing.AddressStats, error) {
	return r.bucket.updateInTransaction(ctx, email, mutate)
}
