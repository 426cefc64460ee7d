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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockerLockAndUnlock(t *testing.T) {
	client := newTestClient(t)
	locker := NewLocker(client, "sweep:alfajores", "worker-1")

	require.NoError(t, locker.Lock(context.Background(), 5*time.Second))
	assert.NoError(t, locker.Unlock(context.Background()))
}

func TestLockerRejectsSecondHolder(t *testing.T) {
	client := newTestClient(t)
	first := NewLocker(client, "sweep:alfajores", "worker-1")
	second := NewLocker(client, "sweep:alfajores", "worker-2")

	require.NoError(t, first.Lock(context.Background(), 5*time.Second))

	err := second.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key sweep:alfajores is already held")

	// A non-holder cannot release the lock either.
	assert.Error(t, second.Unlock(context.Background()))
	assert.NoError(t, first.Unlock(context.Background()))
}

func TestLockerExtendLock(t *testing.T) {
	client := newTestClient(t)
	locker := NewLocker(client, "sweep:alfajores", "worker-1")

	require.NoError(t, locker.Lock(context.Background(), time.Second))
	assert.NoError(t, locker.ExtendLock(context.Background(), 10*time.Second))

	stranger := NewLocker(client, "sweep:alfajores", "worker-2")
	assert.Error(t, stranger.ExtendLock(context.Background(), 10*time.Second))
}

func TestWaitLockAcquiresAfterRelease(t *testing.T) {
	client := newTestClient(t)
	first := NewLocker(client, "sweep:alfajores", "worker-1")
	second := NewLocker(client, "sweep:alfajores", "worker-2")

	require.NoError(t, first.Lock(context.Background(), 5*time.Second))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = first.Unlock(context.Background())
	}()

	err := second.WaitLock(context.Background(), 5*time.Second, 2*time.Second)
	assert.NoError(t, err)
}
