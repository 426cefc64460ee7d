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

	"github.com/pkg/errors"
)

var (
	// ErrAbort is returned from an UpdateFunc to abandon an atomic update
	// without writing anything. AtomicUpdate surfaces it unchanged so
	// callers can tell a lost precondition from a store failure.
	ErrAbort = errors.New("store: update aborted")

	// ErrKeyNotFound is returned by Read when the key has no value.
	ErrKeyNotFound = errors.New("store: key not found")

	// ErrTxConflict is returned when an atomic update keeps losing against
	// concurrent writers and runs out of retries.
	ErrTxConflict = errors.New("store: too many transaction conflicts")
)

// UpdateFunc computes the next value of a key from its current value.
// current is nil when the key is absent. Returning ErrAbort leaves the key
// untouched; any other error aborts the update and is reported to the caller.
// The function may run several times and must be free of side effects.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the only persistence interface the faucet core requires: point
// reads, key listing, and an atomic compare-and-update on a single key.
// Updates by concurrent writers to the same key serialize; a failed or
// aborted update leaves the prior value in place.
type Store interface {
	// Read returns the value at key, or ErrKeyNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// AtomicUpdate applies fn to the current value of key and commits the
	// result only if no concurrent writer intervened, retrying internally
	// on interference. It returns the committed value, or ErrAbort when fn
	// declined to write.
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)

	// Keys lists the keys matching a glob-style pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
