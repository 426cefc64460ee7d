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
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func eachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Run("redis", func(t *testing.T) {
		run(t, newTestRedisStore(t))
	})
	t.Run("memory", func(t *testing.T) {
		run(t, NewMemoryStore())
	})
}

func TestStoreReadAbsentKey(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Read(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestStoreAtomicUpdateWritesValue(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		committed, err := s.AtomicUpdate(ctx, "greeting", func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("hello"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), committed)

		value, err := s.Read(ctx, "greeting")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), value)
	})
}

func TestStoreAtomicUpdateAbortLeavesValue(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.AtomicUpdate(ctx, "slot", func(current []byte) ([]byte, error) {
			return []byte("first"), nil
		})
		require.NoError(t, err)

		// Insert-if-absent against an existing key must be a no-op.
		_, err = s.AtomicUpdate(ctx, "slot", func(current []byte) ([]byte, error) {
			if current != nil {
				return nil, ErrAbort
			}
			return []byte("second"), nil
		})
		assert.ErrorIs(t, err, ErrAbort)

		value, err := s.Read(ctx, "slot")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), value)
	})
}

func TestStoreAtomicUpdatePropagatesFnError(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		boom := errors.New("boom")
		_, err := s.AtomicUpdate(context.Background(), "slot", func(current []byte) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Read(context.Background(), "slot")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestStoreKeysPattern(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, key := range []string{"alfajores:accounts:0xa", "alfajores:accounts:0xb", "alfajores:requests:r1"} {
			_, err := s.AtomicUpdate(ctx, key, func(current []byte) ([]byte, error) {
				return []byte("x"), nil
			})
			require.NoError(t, err)
		}

		keys, err := s.Keys(ctx, "alfajores:accounts:*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alfajores:accounts:0xa", "alfajores:accounts:0xb"}, keys)
	})
}

// Concurrent increments on one key must serialize: every update function
// sees the committed value of the previous winner.
func TestStoreAtomicUpdateSerializesWriters(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 20

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AtomicUpdate(ctx, "counter", func(current []byte) ([]byte, error) {
					n := 0
					if current != nil {
						parsed, err := strconv.Atoi(string(current))
						if err != nil {
							return nil, err
						}
						n = parsed
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		value, err := s.Read(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(writers), string(value))
	})
}
