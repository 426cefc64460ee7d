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
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/model"
	"github.com/blnkfinance/faucet/store"
)

// ErrNoAccount is returned by Lease when every account in the pool stayed
// locked for the whole lease timeout.
var ErrNoAccount = errors.New("no free account available")

// errPoolBusy drives the retry loop: a full claim pass found no free account.
var errPoolBusy = errors.New("all pool accounts are locked")

// PoolOptions carries the timing knobs of one pool instance.
type PoolOptions struct {
	// RetryWait is the delay between claim passes when the pool is busy.
	RetryWait time.Duration
	// LeaseTimeout bounds the total time Lease may spend waiting.
	LeaseTimeout time.Duration
}

// AccountPool hands out exclusive leases on the signer accounts of one
// network namespace. Several pool instances in separate processes may share
// the same namespace; mutual exclusion rests entirely on the store's atomic
// per-key updates, never on process-local state.
type AccountPool struct {
	store   store.Store
	network string
	opts    PoolOptions
}

// NewAccountPool returns a pool over the given network namespace.
func NewAccountPool(s store.Store, network string, opts PoolOptions) *AccountPool {
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Duration(config.DEFAULT_RETRY_WAIT_MS) * time.Millisecond
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = time.Duration(config.DEFAULT_LEASE_TIMEOUT_MS) * time.Millisecond
	}
	return &AccountPool{store: s, network: network, opts: opts}
}

// Lease claims a free account on behalf of holder, polling the namespace
// every RetryWait until a claim lands or LeaseTimeout expires. Accounts are
// granted first-successful-claim; no fairness between waiters is promised.
func (p *AccountPool) Lease(ctx context.Context, holder string) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "Leasing Pool Account")
	defer span.End()

	leaseCtx, cancel := context.WithTimeout(ctx, p.opts.LeaseTimeout)
	defer cancel()

	var leased *model.Account
	attempt := func() error {
		account, err := p.tryClaim(leaseCtx, holder)
		if err != nil {
			// Store trouble is not "pool busy"; stop polling and report it.
			return backoff.Permanent(err)
		}
		if account == nil {
			return errPoolBusy
		}
		leased = account
		return nil
	}

	wait := backoff.WithContext(backoff.NewConstantBackOff(p.opts.RetryWait), leaseCtx)
	if err := backoff.Retry(attempt, wait); err != nil {
		if ctx.Err() != nil {
			// The caller went away; don't dress that up as pool exhaustion.
			return nil, ctx.Err()
		}
		if errors.Is(err, errPoolBusy) || errors.Is(err, context.DeadlineExceeded) {
			logrus.Infof("lease timed out for holder %s on network %s after %s", holder, p.network, p.opts.LeaseTimeout)
			return nil, errors.Wrapf(ErrNoAccount, "network %s", p.network)
		}
		return nil, err
	}
	return leased, nil
}

// tryClaim makes one pass over the namespace and attempts to claim each
// account with an atomic FREE -> LOCKED update. Racing claimants can both
// see an account free, but only one update commits; the loser's update
// aborts on the fresh value and it moves on to the next candidate.
// Returns nil, nil when the pass found nothing free.
func (p *AccountPool) tryClaim(ctx context.Context, holder string) (*model.Account, error) {
	keys, err := p.store.Keys(ctx, accountKeyPattern(p.network))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	for _, key := range keys {
		claimed, err := p.store.AtomicUpdate(ctx, key, func(current []byte) ([]byte, error) {
			if current == nil {
				return nil, store.ErrAbort
			}
			var account model.Account
			if err := json.Unmarshal(current, &account); err != nil {
				return nil, err
			}
			if !account.IsFree() {
				return nil, store.ErrAbort
			}
			account.Lock(holder)
			return json.Marshal(&account)
		})
		if errors.Is(err, store.ErrAbort) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var account model.Account
		if err := json.Unmarshal(claimed, &account); err != nil {
			return nil, err
		}
		logrus.Infof("leased account %s on network %s to %s", account.Address, p.network, holder)
		return &account, nil
	}
	return nil, nil
}

// Release returns an account to the pool, unconditionally clearing the lock
// fields. Releasing an account that is already free is a no-op, so duplicate
// release calls on retry or cleanup paths are harmless.
func (p *AccountPool) Release(ctx context.Context, address string) error {
	_, err := p.store.AtomicUpdate(ctx, accountKey(p.network, address), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		var account model.Account
		if err := json.Unmarshal(current, &account); err != nil {
			return nil, err
		}
		if account.IsFree() {
			return nil, store.ErrAbort
		}
		account.Unlock()
		return json.Marshal(&account)
	})
	if errors.Is(err, store.ErrAbort) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "releasing account %s on network %s", address, p.network)
	}
	logrus.Infof("released account %s on network %s", address, p.network)
	return nil
}

// Accounts returns a point-in-time snapshot of every account in the
// namespace, free and locked alike.
func (p *AccountPool) Accounts(ctx context.Context) ([]*model.Account, error) {
	keys, err := p.store.Keys(ctx, accountKeyPattern(p.network))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	accounts := make([]*model.Account, 0, len(keys))
	for _, key := range keys {
		value, err := p.store.Read(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var account model.Account
		if err := json.Unmarshal(value, &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	return accounts, nil
}
