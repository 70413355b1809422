package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bulkpost/internal/mailing"
)

// SubscriptionRequestRepository persists pending double-opt-in requests,
// keyed by mailing id and address, with an expiry so abandoned requests
// clean themselves up.
type SubscriptionRequestRepository struct {
	bucket *bucket[mailing.SubscriptionRequest]
	ttl    time.Duration
}

// NewSubscriptionRequestRepository creates a repository whose records
// expire after ttl.
func NewSubscriptionRequestRepository(client *redis.Client, keys KeyConfig, ttl time.Duration) *SubscriptionRequestRepository {
	return &SubscriptionRequestRepository{
		bucket: newBucket[mailing.SubscriptionRequest](client, keys.SubscriptionPrefix),
		ttl:    ttl,
	}
}

func subscriptionKey(mailingID int64, email string) string {
	return strconv.FormatInt(mailingID, 10) + "_" + email
}

// Create stores the request, restarting its TTL. An existing request
// for the same mailing and address is overwritten.
func (r *SubscriptionRequestRepository) Create(ctx context.Context, req *mailing.SubscriptionRequest) error {
	return r.bucket.set(ctx, subscriptionKey(req.MailingID, req.Email), req, r.ttl)
}

// Get returns the pending request, or nil when none exists (including
// after expiry).
func (r *SubscriptionRequestRepository) Get(ctx context.Context, mailingID int64, email string) (*mailing.SubscriptionRequest, error) {
	return r.bucket.get(ctx, subscriptionKey(mailingID, email))
}

// Remove deletes the pending request.
func (r *SubscriptionRequestRepository) Remove(ctx context.Context, mailingID int64, email string) error {
	return r.bucket.delete(ctx, subscriptionKey(mailingID, email))
}
