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
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	redlock "github.com/blnkfinance/faucet/internal/lock"
	"github.com/blnkfinance/faucet/model"
	"github.com/blnkfinance/faucet/store"
)

// StaleLeaseSweeper force-releases accounts whose lock outlived the stale
// threshold. A lock can only get that old when a processor died between
// leasing and recording a terminal status; the processor itself never holds
// an account past its hard task deadline. The holder request, if still stuck
// in WORKING, is failed so no request is left silently unresolved.
type StaleLeaseSweeper struct {
	store          store.Store
	network        string
	pollInterval   time.Duration
	staleThreshold time.Duration
	locker         *redlock.Locker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

// NewStaleLeaseSweeper builds a sweeper for one network namespace.
// staleThreshold must comfortably exceed the processor's hard task deadline
// so an active lease is never mistaken for an abandoned one.
func NewStaleLeaseSweeper(s store.Store, network string, pollInterval, staleThreshold time.Duration) *StaleLeaseSweeper {
	return &StaleLeaseSweeper{
		store:          s,
		network:        network,
		pollInterval:   pollInterval,
		staleThreshold: staleThreshold,
		stopCh:         make(chan struct{}),
	}
}

// WithLocker makes sweep passes mutually exclusive across worker replicas.
// A replica that loses the race simply skips its tick; the winner's pass
// covers the namespace.
func (s *StaleLeaseSweeper) WithLocker(locker *redlock.Locker) *StaleLeaseSweeper {
	s.locker = locker
	return s
}

// Start launches the background sweep loop.
func (s *StaleLeaseSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Infof("stale lease sweeper started for network %s", s.network)
}

// Stop halts the sweep loop and waits for the current pass to finish.
func (s *StaleLeaseSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Infof("stale lease sweeper stopped for network %s", s.network)
}

func (s *StaleLeaseSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.locker != nil {
				if err := s.locker.Lock(ctx, s.pollInterval); err != nil {
					continue
				}
			}
			if swept, err := s.Sweep(ctx); err != nil {
				logrus.Errorf("lease sweep on network %s: %v", s.network, err)
			} else if swept > 0 {
				logrus.Infof("lease sweep released %d stale account(s) on network %s", swept, s.network)
			}
			if s.locker != nil {
				if err := s.locker.Unlock(ctx); err != nil {
					logrus.Warnf("releasing sweep lock on network %s: %v", s.network, err)
				}
			}
		}
	}
}

// Sweep makes one pass over the namespace and returns how many stale leases
// it released.
func (s *StaleLeaseSweeper) Sweep(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, accountKeyPattern(s.network))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, key := range keys {
		holder, released, err := s.releaseIfStale(ctx, key)
		if err != nil {
			return swept, err
		}
		if !released {
			continue
		}
		swept++
		if holder != "" {
			s.failAbandonedRequest(ctx, holder)
		}
	}
	return swept, nil
}

// releaseIfStale force-releases one account when its lock age exceeds the
// threshold. The age check runs inside the atomic update, so a lease that
// was released and re-acquired between scan and update is left alone.
func (s *StaleLeaseSweeper) releaseIfStale(ctx context.Context, key string) (holder string, released bool, err error) {
	_, err = s.store.AtomicUpdate(ctx, key, func(current []byte) ([]byte, error) {
		holder = ""
		if current == nil {
			return nil, store.ErrAbort
		}
		var account model.Account
		if err := json.Unmarshal(current, &account); err != nil {
			return nil, err
		}
		if account.IsFree() || account.LockAge() < s.staleThreshold {
			return nil, store.ErrAbort
		}
		holder = account.LockHolder
		account.Unlock()
		return json.Marshal(&account)
	})
	if errors.Is(err, store.ErrAbort) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	logrus.Warnf("force-released stale lease on %s (holder %s)", key, holder)
	return holder, true, nil
}

// failAbandonedRequest marks the stale lease's holder request FAILED if it
// is still sitting in WORKING. Terminal requests are left untouched.
func (s *StaleLeaseSweeper) failAbandonedRequest(ctx context.Context, requestID string) {
	_, err := s.store.AtomicUpdate(ctx, requestKey(s.network, requestID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		var req model.Request
		if err := json.Unmarshal(current, &req); err != nil {
			return nil, err
		}
		if req.Status != model.StatusWorking {
			return nil, store.ErrAbort
		}
		req.Fail("abandoned by stale lease sweep")
		return json.Marshal(&req)
	})
	if err != nil && !errors.Is(err, store.ErrAbort) {
		logrus.Errorf("failing abandoned request %s: %v", requestID, err)
	}
}
