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
	StatusPending  = "PENDING"
	StatusWorking  = "WORKING"
	StatusComplete = "COMPLETE"
	StatusFailed   = "FAILED"
)

const (
	// RequestTypeTransfer is the only request type in the current scope:
	// a native-token transfer to the beneficiary.
	RequestTypeTransfer = "faucet:native-transfer"
)

// Request is one payment-triggered funding request. The id is assigned by
// whoever creates the record (the payment intent id for webhook-created
// requests, a generated uuid for manual drips) and doubles as the lock
// holder while an account is leased for it.
type Request struct {
	ID            string `json:"id"`
	Beneficiary   string `json:"beneficiary"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	CompletedAt   int64  `json:"completed_at,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewRequest returns a PENDING request record for the given beneficiary.
func NewRequest(id, beneficiary, requestType string) *Request {
	return &Request{
		ID:          id,
		Beneficiary: beneficiary,
		Type:        requestType,
		Status:      StatusPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
}

// IsTerminal reports whether the request has reached COMPLETE or FAILED.
// Terminal statuses never change again.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusComplete || r.Status == StatusFailed
}

// Complete marks the request COMPLETE and stamps completed_at.
func (r *Request) Complete() {
	r.Status = StatusComplete
	r.CompletedAt = time.Now().UnixMilli()
}

// Fail marks the request FAILED with a human-readable reason.
func (r *Request) Fail(reason string) {
	r.Status = StatusFailed
	r.CompletedAt = time.Now().UnixMilli()
	r.FailureReason = reason
}
