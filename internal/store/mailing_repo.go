package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bulkpost/internal/mailing"
)

// MailingRepository persists mailing records and their ordered receiver
// lists. The record lives under one key, the receiver list under
// another; both are removed together. Reads of absent ids return nil
// (or false) rather than errors.
type MailingRepository struct {
	client *redis.Client
	keys   KeyConfig
	bucket *bucket[mailing.Mailing]
}

// NewMailingRepository creates a repository over the given client.
func NewMailingRepository(client *redis.Client, keys KeyConfig) *MailingRepository {
	return &MailingRepository{
		client: client,
		keys:   keys,
		bucket: newBucket[mailing.Mailing](client, keys.MailingDataPrefix),
	}
}

func (r *MailingRepository) receiverListKey(id int64) string {
	return r.keys.ReceiverListPrefix + strconv.FormatInt(id, 10)
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

// Create allocates the next mailing id and stores the record together
// with its initial receiver list in one transaction. The stored mailing
// always starts as NEW with a zero sent count.
func (r *MailingRepository) Create(ctx context.Context, properties mailing.Mailing, receivers []mailing.Receiver) (*mailing.Mailing, error) {
	id, err := r.client.Incr(ctx, r.keys.MailingIDCounterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: allocate mailing id: %w", err)
	}

	m := properties
	m.ID = id
	m.State = mailing.StateNew
	m.SentCount = 0
	if m.CreationDate.IsZero() {
		m.CreationDate = time.Now()
	}

	payload, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("store: encode mailing: %w", err)
	}
	serialized, err := serializeReceivers(receivers)
	if err != nil {
		return nil, err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.keys.MailingDataPrefix+idKey(id), payload, 0)
		if len(serialized) > 0 {
			pipe.RPush(ctx, r.receiverListKey(id), serialized...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create mailing %d: %w", id, err)
	}
	return &m, nil
}

// GetAll returns every stored mailing ordered by id. Records deleted
// between the key scan and the bulk read are skipped, as are keys above
// the id counter (half-created records from a concurrent Create).
func (r *MailingRepository) GetAll(ctx context.Context) ([]*mailing.Mailing, error) {
	maxID, err := r.client.Get(ctx, r.keys.MailingIDCounterKey).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	keys, err := r.client.Keys(ctx, r.keys.MailingDataPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*mailing.Mailing{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	mailings := make([]*mailing.Mailing, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(keys[i][len(r.keys.MailingDataPrefix):], 10, 64)
		if err != nil || id > maxID {
			continue
		}
		var m mailing.Mailing
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("store: decode mailing %d: %w", id, err)
		}
		m.ID = id
		mailings = append(mailings, &m)
	}
	sort.Slice(mailings, func(i, j int) bool { return mailings[i].ID < mailings[j].ID })
	return mailings, nil
}

// GetByID returns the mailing or nil when it does not exist.
func (r *MailingRepository) GetByID(ctx context.Context, id int64) (*mailing.Mailing, error) {
	m, err := r.bucket.get(ctx, idKey(id))
	if err != nil || m == nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

// GetByListID returns the mailing carrying the given List-Id value, or
// nil when none does.
func (r *MailingRepository) GetByListID(ctx context.Context, listID string) (*mailing.Mailing, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.ListID == listID {
			return m, nil
		}
	}
	return nil, nil
}

// GetReceivers reads a range of the ordered receiver list. Indices
// follow LRANGE: both bounds inclusive, negative values count from the
// end, so (0, -1) reads the whole list. Out-of-bounds ranges yield an
// empty slice.
func (r *MailingRepository) GetReceivers(ctx context.Context, id int64, start, stop int64) ([]mailing.Receiver, error) {
	data, err := r.client.LRange(ctx, r.receiverListKey(id), start, stop).Result()
	if err != nil {
		return nil, err
	}
	receivers := make([]mailing.Receiver, 0, len(data))
	for _, raw := range data {
		var rcv mailing.Receiver
		if err := json.Unmarshal([]byte(raw), &rcv); err != nil {
			return nil, fmt.Errorf("store: decode receiver of mailing %d: %w", id, err)
		}
		receivers = append(receivers, rcv)
	}
	return receivers, nil
}

// GetReceiverCount returns the length of the receiver list.
func (r *MailingRepository) GetReceiverCount(ctx context.Context, id int64) (int64, error) {
	return r.client.LLen(ctx, r.receiverListKey(id)).Result()
}

// SetReceivers atomically replaces the whole receiver list.
func (r *MailingRepository) SetReceivers(ctx context.Context, id int64, receivers []mailing.Receiver) error {
	serialized, err := serializeReceivers(receivers)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.receiverListKey(id))
		if len(serialized) > 0 {
			pipe.RPush(ctx, r.receiverListKey(id), serialized...)
		}
		return nil
	})
	return err
}

// AddReceiver appends a receiver to the list. Appending is always safe
// for the resume cursor; nothing below it moves.
func (r *MailingRepository) AddReceiver(ctx context.Context, id int64, rcv mailing.Receiver) error {
	payload, err := json.Marshal(&rcv)
	if err != nil {
		return fmt.Errorf("store: encode receiver: %w", err)
	}
	return r.client.RPush(ctx, r.receiverListKey(id), payload).Err()
}

// RemoveReceiver removes the first list entry equal to the serialized
// receiver, code included: callers must pass the receiver exactly as
// stored. Returns false when no entry matched. Removing a receiver that
// was already sent to shifts the resume cursor and is only safe on
// mailings that will not be resumed past it.
func (r *MailingRepository) RemoveReceiver(ctx context.Context, id int64, rcv mailing.Receiver) (bool, error) {
	payload, err := json.Marshal(&rcv)
	if err != nil {
		return false, fmt.Errorf("store: encode receiver: %w", err)
	}
	removed, err := r.client.LRem(ctx, r.receiverListKey(id), 1, payload).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// Update overwrites the mailing record. Unknown ids are a no-op
// returning false. Prefer UpdateInTransaction for anything touched by
// concurrent writers.
func (r *MailingRepository) Update(ctx context.Context, m *mailing.Mailing) (bool, error) {
	return r.bucket.setExisting(ctx, idKey(m.ID), m)
}

// UpdateInTransaction applies the mutation under optimistic locking and
// returns the committed mailing, or nil when the id does not exist (the
// mutator is not invoked in that case). The mutator may run more than
// once when writers collide; it must only modify the mailing it is
// handed.
func (r *MailingRepository) UpdateInTransaction(ctx context.Context, id int64, mutate func(*mailing.Mailing)) (*mailing.Mailing, error) {
	m, err := r.bucket.updateInTransaction(ctx, idKey(id), mutate)
	if err != nil || m == nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

// Remove deletes the mailing record and its receiver list atomically.
// Returns false when the mailing did not exist.
func (r *MailingRepository) Remove(ctx context.Context, id int64) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.keys.MailingDataPrefix+idKey(id))
		pipe.Del(ctx, r.receiverListKey(id))
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func serializeReceivers(receivers []mailing.Receiver) ([]interface{}, error) {
	serialized := make([]interface{}, 0, len(receivers))
	for i := range receivers {
		payload, err := json.Marshal(&receivers[i])
		if err != nil {
			return nil, fmt.Errorf("store: encode receiver: %w", err)
		}
		serialized = append(serialized, payload)
	}
	return serialized, nil
}
