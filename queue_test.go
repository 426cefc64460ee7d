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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/faucet/config"
)

func TestEnqueueRequest(t *testing.T) {
	f, mr := newTestFaucet(t)

	err := f.Queue().EnqueueRequest(context.Background(), testNetwork, "pi_123")
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())

	cnf, err := config.Fetch()
	require.NoError(t, err)

	task, err := f.Queue().Inspector.GetTaskInfo(cnf.Queue.RequestQueue, testNetwork+":pi_123")
	require.NoError(t, err)
	assert.Contains(t, string(task.Payload), "pi_123")
	assert.Contains(t, string(task.Payload), testNetwork)
}

// Re-announcing a request while its trigger is still queued collapses into
// one task instead of erroring.
func TestEnqueueRequestDeduplicates(t *testing.T) {
	f, _ := newTestFaucet(t)
	ctx := context.Background()

	require.NoError(t, f.Queue().EnqueueRequest(ctx, testNetwork, "pi_123"))
	assert.NoError(t, f.Queue().EnqueueRequest(ctx, testNetwork, "pi_123"))
}
