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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/faucet/model"
	"github.com/blnkfinance/faucet/store"
)

// ErrRequestNotFound is returned by Handle when no record exists for the
// triggered request id.
var ErrRequestNotFound = errors.New("request record not found")

// Performer submits the external action for a request using a leased signer
// account. Implementations must respect ctx; the processor bounds each call
// with its action timeout.
type Performer interface {
	Perform(ctx context.Context, account *model.Account, request *model.Request) error
}

// PerformerFunc adapts a plain function to the Performer interface.
type PerformerFunc func(ctx context.Context, account *model.Account, request *model.Request) error

func (f PerformerFunc) Perform(ctx context.Context, account *model.Account, request *model.Request) error {
	return f(ctx, account, request)
}

// Processor drives one request through PENDING -> WORKING -> terminal.
// Every invocation is stateless: all coordination runs through atomic
// updates on the shared store, so duplicate triggers and concurrent
// processors for the same request are safe.
type Processor struct {
	store         store.Store
	pool          *AccountPool
	action        Performer
	network       string
	actionTimeout time.Duration
}

// NewProcessor assembles a processor for one network namespace.
// actionTimeout must stay below the hosting task's own deadline so a
// terminal status is always recorded before the invocation is killed;
// config validation enforces that ordering.
func NewProcessor(s store.Store, pool *AccountPool, action Performer, network string, actionTimeout time.Duration) *Processor {
	return &Processor{
		store:         s,
		pool:          pool,
		action:        action,
		network:       network,
		actionTimeout: actionTimeout,
	}
}

// Handle processes one request end to end. It is safe to invoke any number
// of times for the same id: only the caller that wins the PENDING -> WORKING
// transition runs the action phase, everyone else returns immediately.
func (p *Processor) Handle(ctx context.Context, requestID string) error {
	ctx, span := tracer.Start(ctx, "Processing Faucet Request")
	defer span.End()

	request, ok, err := p.claimRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else already holds or finished this request.
		logrus.Infof("skipping request %s on network %s: not pending", requestID, p.network)
		return nil
	}

	account, err := p.pool.Lease(ctx, request.ID)
	if err != nil {
		if errors.Is(err, ErrNoAccount) {
			return p.recordFailure(ctx, requestID, fmt.Sprintf("no free account available on network %s", p.network))
		}
		if ferr := p.recordFailure(ctx, requestID, err.Error()); ferr != nil {
			logrus.Errorf("recording lease failure for request %s: %v", requestID, ferr)
		}
		return err
	}

	actionCtx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	actionErr := p.action.Perform(actionCtx, account, request)
	cancel()

	// The terminal status is written before the account goes back to the
	// pool: the record is the source of truth for callers, the lease only
	// protects the signer's nonce ordering.
	var terminalErr error
	if actionErr != nil {
		reason := actionErr.Error()
		if errors.Is(actionErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("action timed out after %s", p.actionTimeout)
		}
		terminalErr = p.recordFailure(ctx, requestID, reason)
	} else {
		terminalErr = p.recordComplete(ctx, requestID)
	}

	// Released on success and failure alike, even though a timed-out action
	// may still land downstream. A later request can then reuse the signer
	// while the first transaction is in flight; StaleLeaseSweeper covers the
	// opposite case where release never happens.
	if releaseErr := p.pool.Release(ctx, account.Address); releaseErr != nil {
		logrus.Errorf("releasing account %s after request %s: %v", account.Address, requestID, releaseErr)
	}

	if terminalErr != nil {
		return terminalErr
	}
	if actionErr != nil {
		return errors.Wrapf(actionErr, "request %s on network %s", requestID, p.network)
	}
	logrus.Infof("request %s completed on network %s via account %s", requestID, p.network, account.Address)
	return nil
}

// claimRequest performs the duplicate-trigger guard: an atomic update that
// rewrites the status to WORKING only while it is exactly PENDING. ok is
// false when another processor won the transition (or already finished).
func (p *Processor) claimRequest(ctx context.Context, requestID string) (*model.Request, bool, error) {
	updated, err := p.store.AtomicUpdate(ctx, requestKey(p.network, requestID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.Wrap(ErrRequestNotFound, requestID)
		}
		var req model.Request
		if err := json.Unmarshal(current, &req); err != nil {
			return nil, err
		}
		if req.Status != model.StatusPending {
			return nil, store.ErrAbort
		}
		req.Status = model.StatusWorking
		return json.Marshal(&req)
	})
	if errors.Is(err, store.ErrAbort) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var req model.Request
	if err := json.Unmarshal(updated, &req); err != nil {
		return nil, false, err
	}
	return &req, true, nil
}

// recordTerminal writes a terminal status, guarded so a request that already
// reached COMPLETE or FAILED is never rewritten.
func (p *Processor) recordTerminal(ctx context.Context, requestID string, mutate func(*model.Request)) error {
	_, err := p.store.AtomicUpdate(ctx, requestKey(p.network, requestID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.Wrap(ErrRequestNotFound, requestID)
		}
		var req model.Request
		if err := json.Unmarshal(current, &req); err != nil {
			return nil, err
		}
		if req.IsTerminal() {
			return nil, store.ErrAbort
		}
		mutate(&req)
		return json.Marshal(&req)
	})
	if errors.Is(err, store.ErrAbort) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "recording terminal status for request %s", requestID)
	}
	return nil
}

func (p *Processor) recordComplete(ctx context.Context, requestID string) error {
	return p.recordTerminal(ctx, requestID, func(req *model.Request) {
		req.Complete()
	})
}

func (p *Processor) recordFailure(ctx context.Context, requestID, reason string) error {
	logrus.Infof("request %s failed on network %s: %s", requestID, p.network, reason)
	return p.recordTerminal(ctx, requestID, func(req *model.Request) {
		req.Fail(reason)
	})
}
