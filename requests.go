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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/faucet/model"
	"github.com/blnkfinance/faucet/store"
)

// terminalCacheTTL bounds how long finished request records are served from
// the read cache. Terminal records never change, so the TTL only limits
// cache footprint.
const terminalCacheTTL = 10 * time.Minute

// CreateRequest records a new PENDING request with an insert-if-absent
// atomic update and announces it on the trigger queue. The id is the
// originating external identifier (payment intent id, or a generated uuid
// for manual drips), which makes creation idempotent against duplicate
// webhook delivery: the insert aborts when a record already exists and the
// existing record is returned unchanged.
func (f *Faucet) CreateRequest(ctx context.Context, network, id, beneficiary, requestType string) (*model.Request, bool, error) {
	ctx, span := tracer.Start(ctx, "Creating Faucet Request")
	defer span.End()

	request := model.NewRequest(id, beneficiary, requestType)
	created := true

	_, err := f.store.AtomicUpdate(ctx, requestKey(network, id), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, store.ErrAbort
		}
		return json.Marshal(request)
	})
	if errors.Is(err, store.ErrAbort) {
		logrus.Infof("request %s already exists on network %s", id, network)
		created = false
		existing, err := f.readRequest(ctx, network, id)
		if err != nil {
			return nil, false, err
		}
		request = existing
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "creating request %s on network %s", id, network)
	}

	// Announce even when the record pre-existed: triggers are at-least-once
	// and the processor guard makes re-delivery a no-op, while a lost
	// earlier trigger gets a second chance here.
	if err := f.queue.EnqueueRequest(ctx, network, id); err != nil {
		return nil, false, errors.Wrapf(err, "enqueueing trigger for request %s", id)
	}
	return request, created, nil
}

// GetRequest returns one request record. Terminal records are immutable and
// get served through the read cache.
func (f *Faucet) GetRequest(ctx context.Context, network, id string) (*model.Request, error) {
	key := requestKey(network, id)

	var cached model.Request
	if err := f.cache.Get(ctx, key, &cached); err == nil && cached.ID != "" {
		return &cached, nil
	}

	request, err := f.readRequest(ctx, network, id)
	if err != nil {
		return nil, err
	}

	if request.IsTerminal() {
		if err := f.cache.Set(ctx, key, request, terminalCacheTTL); err != nil {
			logrus.Warnf("caching request %s: %v", id, err)
		}
	}
	return request, nil
}

func (f *Faucet) readRequest(ctx context.Context, network, id string) (*model.Request, error) {
	value, err := f.store.Read(ctx, requestKey(network, id))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, errors.Wrap(ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var request model.Request
	if err := json.Unmarshal(value, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

// ProvisionAccount registers a signer account in a network namespace with
// an insert-if-absent update. Provisioning happens once, from the accounts
// CLI command; the pool itself never creates or destroys accounts.
func (f *Faucet) ProvisionAccount(ctx context.Context, network, address string) (bool, error) {
	account := model.NewAccount(address)
	_, err := f.store.AtomicUpdate(ctx, accountKey(network, address), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, store.ErrAbort
		}
		return json.Marshal(account)
	})
	if errors.Is(err, store.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "provisioning account %s on network %s", address, network)
	}
	logrus.Infof("provisioned account %s on network %s", address, network)
	return true, nil
}
