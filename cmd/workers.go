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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/faucet"
	"github.com/blnkfinance/faucet/chain"
	"github.com/blnkfinance/faucet/config"
	redlock "github.com/blnkfinance/faucet/internal/lock"
	"github.com/blnkfinance/faucet/internal/notification"
	redis_db "github.com/blnkfinance/faucet/internal/redis-db"
)

// requestWorker holds one processor per configured network. Processors are
// stateless, so a single instance per network serves every task.
type requestWorker struct {
	processors map[string]*faucet.Processor
	sweepers   []*faucet.StaleLeaseSweeper
}

// newRequestWorker dials every configured network and assembles its
// processing pipeline: account pool, transfer performer, processor, and
// stale-lease sweeper.
func newRequestWorker(b *faucetInstance) (*requestWorker, error) {
	w := &requestWorker{processors: make(map[string]*faucet.Processor)}

	for network, networkCnf := range b.cnf.Networks {
		transfer, err := chain.NewTransfer(network, networkCnf)
		if err != nil {
			return nil, fmt.Errorf("initializing network %s: %v", network, err)
		}

		pool := faucet.NewAccountPool(b.faucet.Store(), network, faucet.PoolOptions{
			RetryWait:    b.cnf.Pool.RetryWait(),
			LeaseTimeout: b.cnf.Pool.LeaseTimeout(),
		})
		w.processors[network] = faucet.NewProcessor(b.faucet.Store(), pool, transfer, network, b.cnf.Pool.ActionTimeout())

		// One sweep per network per tick across all worker replicas.
		locker := redlock.NewLocker(b.faucet.Redis(), fmt.Sprintf("sweep:%s", network), uuid.New().String())
		sweeper := faucet.NewStaleLeaseSweeper(b.faucet.Store(), network, b.cnf.Pool.StaleLease(), b.cnf.Pool.StaleLease()).WithLocker(locker)
		w.sweepers = append(w.sweepers, sweeper)
	}

	return w, nil
}

// processRequest handles a request trigger from the queue. The processor is
// idempotent, so redeliveries and retries of already-settled requests are
// no-ops.
func (w *requestWorker) processRequest(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("faucet.worker").Start(ctx, "Process Request From Queue")
	defer span.End()

	var payload faucet.RequestTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	processor, ok := w.processors[payload.Network]
	if !ok {
		// A task for a network this worker is not configured for will
		// never succeed here. Fail it without retrying.
		return fmt.Errorf("no processor configured for network %s: %w", payload.Network, asynq.SkipRetry)
	}

	if err := processor.Handle(ctx, payload.RequestID); err != nil {
		notification.NotifyError(err)
		logrus.Infof("Request %s on %s pushed back for retry due to error: %v", payload.RequestID, payload.Network, err)
		return err
	}

	log.Println(" [*] Request Processed", payload.RequestID)
	return nil
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				conf.Queue.RequestQueue: 1,
			},
		},
	), nil
}

// workerCommands defines the "workers" command. Workers consume request
// triggers from the queue and run the background stale-lease sweepers.
func workerCommands(b *faucetInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start faucet workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			worker, err := newRequestWorker(b)
			if err != nil {
				notification.NotifyError(err)
				log.Fatal(err)
			}

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.RequestQueue, worker.processRequest)

			for _, sweeper := range worker.sweepers {
				sweeper.Start(context.Background())
				defer sweeper.Stop()
			}

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
