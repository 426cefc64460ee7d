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
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/blnkfinance/faucet/config"
	redis_db "github.com/blnkfinance/faucet/internal/redis-db"
)

// Queue is the trigger dispatcher: every created request is announced here
// and a worker picks it up. Delivery is at-least-once; the processor's
// PENDING -> WORKING guard absorbs duplicates.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// RequestTaskPayload is the task body for a request trigger.
type RequestTaskPayload struct {
	Network   string `json:"network"`
	RequestID string `json:"request_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueRequest enqueues a trigger for one request. The task id is derived
// from the request id, so re-announcing the same request while a trigger is
// still queued collapses into one task; the guard in the processor covers
// the remaining duplicate-delivery window.
func (q *Queue) EnqueueRequest(ctx context.Context, network, requestID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(RequestTaskPayload{Network: network, RequestID: requestID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", network, requestID)),
		asynq.Queue(cfg.Queue.RequestQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
		asynq.Timeout(cfg.Pool.HardTimeout()),
	}
	task := asynq.NewTask(cfg.Queue.RequestQueue, payload, taskOptions...)

	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Trigger for request %s already queued", requestID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued request trigger: %s on %s", requestID, network)
	return nil
}
