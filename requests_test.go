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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/model"
)

func newTestFaucet(t *testing.T) (*Faucet, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})
	cnf, err := config.Fetch()
	require.NoError(t, err)

	f, err := NewFaucet(cnf)
	require.NoError(t, err)
	return f, mr
}

func TestCreateRequestInsertsPendingRecord(t *testing.T) {
	f, mr := newTestFaucet(t)
	beneficiary := gofakeit.HexUint256()

	request, created, err := f.CreateRequest(context.Background(), testNetwork, "pi_123", beneficiary, model.RequestTypeTransfer)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "pi_123", request.ID)
	assert.Equal(t, beneficiary, request.Beneficiary)
	assert.Equal(t, model.StatusPending, request.Status)
	assert.NotZero(t, request.CreatedAt)

	// A trigger task landed on the queue.
	assert.NotEmpty(t, mr.Keys())

	stored, err := f.GetRequest(context.Background(), testNetwork, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

// Duplicate webhook delivery must not produce a second record or reset the
// existing one.
func TestCreateRequestIsIdempotent(t *testing.T) {
	f, _ := newTestFaucet(t)
	ctx := context.Background()

	first, created, err := f.CreateRequest(ctx, testNetwork, "pi_123", "0xbeneficiary", model.RequestTypeTransfer)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.CreateRequest(ctx, testNetwork, "pi_123", "0xother", model.RequestTypeTransfer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Beneficiary, second.Beneficiary, "existing record must not be rewritten")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestGetRequestNotFound(t *testing.T) {
	f, _ := newTestFaucet(t)
	_, err := f.GetRequest(context.Background(), testNetwork, "pi_missing")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestGetRequestServesTerminalFromCache(t *testing.T) {
	f, _ := newTestFaucet(t)
	ctx := context.Background()

	done := model.NewRequest("pi_123", "0xbeneficiary", model.RequestTypeTransfer)
	done.Complete()
	seedRequest(t, f.store, testNetwork, done)

	// First read populates the cache, second read is served from it.
	first, err := f.GetRequest(ctx, testNetwork, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, first.Status)

	second, err := f.GetRequest(ctx, testNetwork, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestProvisionAccount(t *testing.T) {
	f, _ := newTestFaucet(t)
	ctx := context.Background()

	created, err := f.ProvisionAccount(ctx, testNetwork, "0xa")
	require.NoError(t, err)
	assert.True(t, created)

	// Provisioning is insert-if-absent: re-running never resets lock state.
	pool := NewAccountPool(f.store, testNetwork, PoolOptions{})
	leased, err := pool.Lease(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, "0xa", leased.Address)

	created, err = f.ProvisionAccount(ctx, testNetwork, "0xa")
	require.NoError(t, err)
	assert.False(t, created)

	account := readAccount(t, f.store, testNetwork, "0xa")
	assert.Equal(t, model.AccountLocked, account.State)
}
