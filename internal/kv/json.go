package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrContention = errors.New("too many concurrent writers")
)

// maxWatchRetries bounds optimistic retries of a WATCH transaction.
const maxWatchRetries = 10

// GetJSON decodes the JSON document stored at key into dst.
func GetJSON(ctx context.Context, c redis.Cmdable, key string, dst any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "kv: get %s", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return eris.Wrapf(err, "kv: decode %s", key)
	}
	return nil
}

// SetJSON stores v at key. A zero ttl keeps the key forever.
func SetJSON(ctx context.Context, c redis.Cmdable, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "kv: encode %s", key)
	}
	if err := c.Set(ctx, key, raw, ttl).Err(); err != nil {
		return eris.Wrapf(err, "kv: set %s", key)
	}
	return nil
}

// HGetJSON decodes one hash field into dst.
func HGetJSON(ctx context.Context, c redis.Cmdable, key, field string, dst any) error {
	raw, err := c.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "kv: hget %s %s", key, field)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return eris.Wrapf(err, "kv: decode %s %s", key, field)
	}
	return nil
}

// Marshal encodes v for a hash field or string value.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "kv: encode")
	}
	return raw, nil
}

// DecodeAll decodes every value of a hash or list reply.
func DecodeAll[T any](values []string) ([]T, error) {
	out := make([]T, 0, len(values))
	for _, v := range values {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, eris.Wrap(err, "kv: decode value")
		}
		out = append(out, item)
	}
	return out, nil
}

// HashValues returns every decoded value of the hash at key.
func HashValues[T any](ctx context.Context, c redis.Cmdable, key string) ([]T, error) {
	values, err := c.HVals(ctx, key).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "kv: hvals %s", key)
	}
	return DecodeAll[T](values)
}

// Update runs fn inside a WATCH on keys and retries when another client
// modified a watched key before EXEC. fn must queue its writes with
// tx.TxPipelined so they commit atomically.
func Update(ctx context.Context, c *redis.Client, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := c.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}
