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

package faucet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/faucet/model"
	"github.com/blnkfinance/faucet/store"
)

const testNetwork = "alfajores"

func seedAccount(t *testing.T, s store.Store, network string, account *model.Account) {
	t.Helper()
	_, err := s.AtomicUpdate(context.Background(), accountKey(network, account.Address), func(current []byte) ([]byte, error) {
		return json.Marshal(account)
	})
	require.NoError(t, err)
}

func readAccount(t *testing.T, s store.Store, network, address string) *model.Account {
	t.Helper()
	value, err := s.Read(context.Background(), accountKey(network, address))
	require.NoError(t, err)
	var account model.Account
	require.NoError(t, json.Unmarshal(value, &account))
	return &account
}

func TestLeaseClaimsFreeAccount(t *testing.T) {
	s := store.NewMemoryStore()
	seedAccount(t, s, testNetwork, model.NewAccount("0xa"))

	pool := NewAccountPool(s, testNetwork, PoolOptions{RetryWait: 10 * time.Millisecond, LeaseTimeout: 100 * time.Millisecond})

	account, err := pool.Lease(context.Background(), "req_1")
	require.NoError(t, err)
	assert.Equal(t, "0xa", account.Address)
	assert.Equal(t, model.AccountLocked, account.State)
	assert.Equal(t, "req_1", account.LockHolder)
	assert.NotZero(t, account.LockedAt)

	stored := readAccount(t, s, testNetwork, "0xa")
	assert.Equal(t, "req_1", stored.LockHolder)
}

// With N accounts and more than N concurrent claimants, at most N leases may
// be outstanding and no account may end up with two holders.
func TestLeaseMutualExclusion(t *testing.T) {
	s := store.NewMemoryStore()
	const accounts = 3
	const claimants = 10

	for i := 0; i < accounts; i++ {
		seedAccount(t, s, testNetwork, model.NewAccount(fmt.Sprintf("0x%d", i)))
	}

	pool := NewAccountPool(s, testNetwork, PoolOptions{RetryWait: 5 * time.Millisecond, LeaseTimeout: 30 * time.Millisecond})

	var mu sync.Mutex
	leased := make(map[string]string) // address -> holder
	var wg sync.WaitGroup

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			holder := fmt.Sprintf("req_%d", n)
			account, err := pool.Lease(context.Background(), holder)
			if err != nil {
				assert.ErrorIs(t, err, ErrNoAccount)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			_, taken := leased[account.Address]
			assert.False(t, taken, "account %s leased twice", account.Address)
			leased[account.Address] = holder
		}(i)
	}
	wg.Wait()

	assert.Len(t, leased, accounts)
	for address, holder := range leased {
		stored := readAccount(t, s, testNetwork, address)
		assert.Equal(t, model.AccountLocked, stored.State)
		assert.Equal(t, holder, stored.LockHolder)
	}
}

// A lease against a fully locked pool must time out no earlier than the
// lease timeout and no later than one retry wait past it.
func TestLeaseTimeoutWindow(t *testing.T) {
	s := store.NewMemoryStore()
	locked := model.NewAccount("0xa")
	locked.Lock("req_0")
	seedAccount(t, s, testNetwork, locked)

	retryWait := 50 * time.Millisecond
	leaseTimeout := 2 * retryWait
	pool := NewAccountPool(s, testNetwork, PoolOptions{RetryWait: retryWait, LeaseTimeout: leaseTimeout})

	start := time.Now()
	_, err := pool.Lease(context.Background(), "req_1")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrNoAccount)
	assert.GreaterOrEqual(t, elapsed, leaseTimeout)
	assert.Less(t, elapsed, leaseTimeout+retryWait+100*time.Millisecond)

	// The holder's lock stays untouched.
	stored := readAccount(t, s, testNetwork, "0xa")
	assert.Equal(t, "req_0", stored.LockHolder)
}

func TestLeaseCancelledContext(t *testing.T) {
	s := store.NewMemoryStore()
	locked := model.NewAccount("0xa")
	locked.Lock("req_0")
	seedAccount(t, s, testNetwork, locked)

	pool := NewAccountPool(s, testNetwork, PoolOptions{RetryWait: 10 * time.Millisecond, LeaseTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := pool.Lease(ctx, "req_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAccount)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	locked := model.NewAccount("0xa")
	locked.Lock("req_1")
	seedAccount(t, s, testNetwork, locked)

	pool := NewAccountPool(s, testNetwork, PoolOptions{})

	require.NoError(t, pool.Release(context.Background(), "0xa"))
	require.NoError(t, pool.Release(context.Background(), "0xa"))

	stored := readAccount(t, s, testNetwork, "0xa")
	assert.Equal(t, model.AccountFree, stored.State)
	assert.Empty(t, stored.LockHolder)
	assert.Zero(t, stored.LockedAt)
}

func TestReleaseUnknownAccountIsNoop(t *testing.T) {
	pool := NewAccountPool(store.NewMemoryStore(), testNetwork, PoolOptions{})
	assert.NoError(t, pool.Release(context.Background(), "0xmissing"))
}

func TestLeaseAfterRelease(t *testing.T) {
	s := store.NewMemoryStore()
	seedAccount(t, s, testNetwork, model.NewAccount("0xa"))

	pool := NewAccountPool(s, testNetwork, PoolOptions{RetryWait: 10 * time.Millisecond, LeaseTimeout: 100 * time.Millisecond})

	first, err := pool.Lease(context.Background(), "req_1")
	require.NoError(t, err)
	require.NoError(t, pool.Release(context.Background(), first.Address))

	second, err := pool.Lease(context.Background(), "req_2")
	require.NoError(t, err)
	assert.Equal(t, "0xa", second.Address)
	assert.Equal(t, "req_2", second.LockHolder)
}

func TestAccountsSnapshot(t *testing.T) {
	s := store.NewMemoryStore()
	seedAccount(t, s, testNetwork, model.NewAccount("0xa"))
	locked := model.NewAccount("0xb")
	locked.Lock("req_1")
	seedAccount(t, s, testNetwork, locked)
	// An account on another network must not show up.
	seedAccount(t, s, "baklava", model.NewAccount("0xc"))

	pool := NewAccountPool(s, testNetwork, PoolOptions{})
	accounts, err := pool.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "0xa", accounts[0].Address)
	assert.Equal(t, "0xb", accounts[1].Address)
	assert.Equal(t, model.AccountLocked, accounts[1].State)
}
