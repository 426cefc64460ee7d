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
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/internal/cache"
	redis_db "github.com/blnkfinance/faucet/internal/redis-db"
	"github.com/blnkfinance/faucet/store"
)

var tracer = otel.Tracer("faucet")

// Faucet is the main struct for the faucet service. It owns the shared
// transactional store, the trigger queue, and the read cache; account pools
// and processors are built per network on top of it.
type Faucet struct {
	store store.Store
	queue *Queue
	redis redis.UniversalClient
	cache cache.Cache
}

// NewFaucet initializes a new Faucet instance from the configuration:
// Redis client, store adapter, trigger queue, and request read cache.
func NewFaucet(conf *config.Configuration) (*Faucet, error) {
	redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	client := redisClient.Client()

	return &Faucet{
		store: store.NewRedisStore(client),
		queue: NewQueue(conf),
		redis: client,
		cache: cache.NewCache(client),
	}, nil
}

// Store exposes the transactional store adapter, primarily for the worker
// wiring in cmd.
func (f *Faucet) Store() store.Store {
	return f.store
}

// Queue exposes the trigger queue.
func (f *Faucet) Queue() *Queue {
	return f.queue
}

// Redis exposes the underlying client for components that need raw
// commands, like the sweep lock.
func (f *Faucet) Redis() redis.UniversalClient {
	return f.redis
}

// accountKey returns the store key of one account in a network namespace.
func accountKey(network, address string) string {
	return fmt.Sprintf("%s:accounts:%s", network, address)
}

// accountKeyPattern matches every account key of a network namespace.
func accountKeyPattern(network string) string {
	return fmt.Sprintf("%s:accounts:*", network)
}

// requestKey returns the store key of one request in a network namespace.
func requestKey(network, id string) string {
	return fmt.Sprintf("%s:requests:%s", network, id)
}
