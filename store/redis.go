/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds the optimistic-lock loop in AtomicUpdate. Contention
// on a single key is short-lived (account claims, status transitions), so a
// writer that loses this many rounds is reported rather than spun forever.
const maxTxRetries = 64

// RedisStore implements Store on Redis using WATCH/MULTI optimistic
// transactions. Redis gives linearizable updates per key, which is all the
// pool and the processor need; no cross-key transactions are used.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client as a Store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Read returns the raw value at key, or ErrKeyNotFound.
func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading key %s", key)
	}
	return value, nil
}

// AtomicUpdate runs fn against the watched value of key and commits the
// result in a MULTI/EXEC block. If another writer touches the key between
// the read and the commit the round is discarded and retried with the fresh
// value, so fn only ever commits against the state it observed.
func (s *RedisStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	var committed []byte

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			committed = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, ErrAbort) {
			return nil, ErrAbort
		}
		if err != nil {
			return nil, errors.Wrapf(err, "atomic update of key %s", key)
		}
		return committed, nil
	}
	return nil, errors.Wrapf(ErrTxConflict, "key %s", key)
}

// Keys lists keys matching pattern with SCAN, so large namespaces do not
// block the server the way KEYS would.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning keys %s", pattern)
	}
	return keys, nil
}
