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

package model

import "time"

const (
	AccountFree   = "FREE"
	AccountLocked = "LOCKED"
)

// Account is one signer account in a network's shared pool. Accounts are
// provisioned once and only ever flip between FREE and LOCKED; the lock
// fields are meaningful only while the account is LOCKED.
type Account struct {
	Address    string `json:"address"`
	State      string `json:"state"`
	LockHolder string `json:"lock_holder,omitempty"`
	LockedAt   int64  `json:"locked_at,omitempty"`
}

// NewAccount returns a freshly provisioned, unlocked account.
func NewAccount(address string) *Account {
	return &Account{
		Address: address,
		State:   AccountFree,
	}
}

// IsFree reports whether the account can be leased.
func (a *Account) IsFree() bool {
	return a.State == AccountFree
}

// Lock transitions the account to LOCKED on behalf of holder.
func (a *Account) Lock(holder string) {
	a.State = AccountLocked
	a.LockHolder = holder
	a.LockedAt = time.Now().UnixMilli()
}

// Unlock returns the account to FREE and clears the lock fields.
func (a *Account) Unlock() {
	a.State = AccountFree
	a.LockHolder = ""
	a.LockedAt = 0
}

// LockAge returns how long the account has been held. Zero for free accounts.
func (a *Account) LockAge() time.Duration {
	if a.IsFree() || a.LockedAt == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(a.LockedAt))
}
