package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// errNotFound aborts an optimistic transaction when the watched key has
// no value. It never escapes this package: callers see nil, nil.
var errNotFound = errors.New("store: record not found")

// bucket is a typed keyed-record store over Redis: JSON values under a
// common prefix. It supplies the read and write primitives the
// repositories are built from, including the optimistic
// read-mutate-commit cycle that replaces explicit locking.
type bucket[E any] struct {
	client *redis.Client
	prefix string
}

func newBucket[E any](client *redis.Client, prefix string) *bucket[E] {
	return &bucket[E]{client: client, prefix: prefix}
}

func (b *bucket[E]) redisKey(key string) string { return b.prefix + key }

// get returns the record for key, or nil without error when absent.
func (b *bucket[E]) get(ctx context.Context, key string) (*E, error) {
	data, err := b.client.Get(ctx, b.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.decode(data)
}

// mGet returns records positionally; missing keys yield nil entries.
func (b *bucket[E]) mGet(ctx context.Context, keys []string) ([]*E, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = b.redisKey(k)
	}
	values, err := b.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}
	entities := make([]*E, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		entity, err := b.decode([]byte(s))
		if err != nil {
			return nil, err
		}
		entities[i] = entity
	}
	return entities, nil
}

// set stores the record unconditionally. A ttl of zero means no expiry.
func (b *bucket[E]) set(ctx context.Context, key string, entity *E, ttl time.Duration) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", b.redisKey(key), err)
	}
	return b.client.Set(ctx, b.redisKey(key), payload, ttl).Err()
}

// setAbsent stores the record only if the key has no value yet,
// reporting whether the write happened. Losing a first-write race
// leaves the winner's record untouched.
func (b *bucket[E]) setAbsent(ctx context.Context, key string, entity *E) (bool, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return false, fmt.Errorf("store: encode %s: %w", b.redisKey(key), err)
	}
	return b.client.SetNX(ctx, b.redisKey(key), payload, 0).Result()
}

// setExisting stores the record only if it already exists, reporting
// whether the write happened. This is what makes repository update calls
// no-ops for unknown ids.
func (b *bucket[E]) setExisting(ctx context.Context, key string, entity *E) (bool, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return false, fmt.Errorf("store: encode %s: %w", b.redisKey(key), err)
	}
	return b.client.SetXX(ctx, b.redisKey(key), payload, redis.KeepTTL).Result()
}

func (b *bucket[E]) delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.redisKey(key)).Err()
}

// updateInTransaction runs the optimistic read-mutate-commit cycle on a
// single record:
//
//  1. WATCH the key and read the current value. A missing value aborts
//     the cycle; the mutator is never invoked and nil, nil is returned.
//  2. Invoke the mutator on the decoded record.
//  3. Commit with MULTI/EXEC. If a concurrent writer touched the key
//     since the WATCH, EXEC fails, the mutation is discarded and the
//     whole cycle restarts from the read.
//
// The mutator may therefore run more than once and must confine its
// effects to the record it is handed. The committed record is returned.
func (b *bucket[E]) updateInTransaction(ctx context.Context, key string, mutate func(*E)) (*E, error) {
	redisKey := b.redisKey(key)
	for {
		var committed *E
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, redisKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return errNotFound
			}
			if err != nil {
				return err
			}
			entity, err := b.decode(data)
			if err != nil {
				return err
			}
			mutate(entity)
			payload, err := json.Marshal(entity)
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", redisKey, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, redisKey, payload, redis.KeepTTL)
				return nil
			})
			if err == nil {
				committed = entity
			}
			return err
		}, redisKey)

		switch {
		case err == nil:
			return committed, nil
		case errors.Is(err, errNotFound):
			return nil, nil
		case errors.Is(err, redis.TxFailedErr):
			// Lost the race; retry from the read.
			continue
		default:
			return nil, err
		}
	}
}

func (b *bucket[E]) decode(data []byte) (*E, error) {
	var entity E
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &entity, nil
}
