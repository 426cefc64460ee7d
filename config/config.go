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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// Defaults mirror the processing windows the faucet was tuned with:
	// poll every second, give up on a lease after 20s, bound the chain
	// action at 90s inside a 120s task deadline, sweep locks older than 5m.
	DEFAULT_RETRY_WAIT_MS     = 1000
	DEFAULT_LEASE_TIMEOUT_MS  = 20000
	DEFAULT_ACTION_TIMEOUT_MS = 90000
	DEFAULT_HARD_TIMEOUT_MS   = 120000
	DEFAULT_STALE_LEASE_MS    = 300000
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"FAUCET_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"FAUCET_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"FAUCET_SERVER_PORT"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"FAUCET_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"FAUCET_REDIS_SKIP_TLS_VERIFY"`
}

// PoolConfig carries the timing knobs of the account pool and the request
// processor, all in milliseconds.
type PoolConfig struct {
	RetryWaitMS     int `json:"retry_wait_ms" envconfig:"FAUCET_POOL_RETRY_WAIT_MS"`
	LeaseTimeoutMS  int `json:"lease_timeout_ms" envconfig:"FAUCET_POOL_LEASE_TIMEOUT_MS"`
	ActionTimeoutMS int `json:"action_timeout_ms" envconfig:"FAUCET_POOL_ACTION_TIMEOUT_MS"`
	HardTimeoutMS   int `json:"hard_timeout_ms" envconfig:"FAUCET_POOL_HARD_TIMEOUT_MS"`
	StaleLeaseMS    int `json:"stale_lease_ms" envconfig:"FAUCET_POOL_STALE_LEASE_MS"`
}

func (p PoolConfig) RetryWait() time.Duration {
	return time.Duration(p.RetryWaitMS) * time.Millisecond
}

func (p PoolConfig) LeaseTimeout() time.Duration {
	return time.Duration(p.LeaseTimeoutMS) * time.Millisecond
}

func (p PoolConfig) ActionTimeout() time.Duration {
	return time.Duration(p.ActionTimeoutMS) * time.Millisecond
}

func (p PoolConfig) HardTimeout() time.Duration {
	return time.Duration(p.HardTimeoutMS) * time.Millisecond
}

func (p PoolConfig) StaleLease() time.Duration {
	return time.Duration(p.StaleLeaseMS) * time.Millisecond
}

type QueueConfig struct {
	RequestQueue     string `json:"request_queue" envconfig:"FAUCET_QUEUE_REQUEST_QUEUE"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"FAUCET_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"FAUCET_QUEUE_MONITORING_PORT"`
}

// NetworkConfig describes one logical network namespace: where to submit
// transactions, how much to drip, and which signer keys back the pool.
type NetworkConfig struct {
	NodeUrl      string   `json:"node_url"`
	ChainID      int64    `json:"chain_id"`
	FaucetAmount string   `json:"faucet_amount"`
	PrivateKeys  []string `json:"private_keys"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"FAUCET_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"FAUCET_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"FAUCET_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string                   `json:"project_name" envconfig:"FAUCET_PROJECT_NAME"`
	Server       ServerConfig             `json:"server"`
	Redis        RedisConfig              `json:"redis"`
	Pool         PoolConfig               `json:"pool"`
	Queue        QueueConfig              `json:"queue"`
	Networks     map[string]NetworkConfig `json:"networks"`
	RateLimit    RateLimitConfig          `json:"rate_limit"`
	Notification Notification             `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("faucet", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called faucet.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Faucet Server"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Pool.RetryWaitMS <= 0 {
		cnf.Pool.RetryWaitMS = DEFAULT_RETRY_WAIT_MS
	}
	if cnf.Pool.LeaseTimeoutMS <= 0 {
		cnf.Pool.LeaseTimeoutMS = DEFAULT_LEASE_TIMEOUT_MS
	}
	if cnf.Pool.ActionTimeoutMS <= 0 {
		cnf.Pool.ActionTimeoutMS = DEFAULT_ACTION_TIMEOUT_MS
	}
	if cnf.Pool.HardTimeoutMS <= 0 {
		cnf.Pool.HardTimeoutMS = DEFAULT_HARD_TIMEOUT_MS
	}
	if cnf.Pool.StaleLeaseMS <= 0 {
		cnf.Pool.StaleLeaseMS = DEFAULT_STALE_LEASE_MS
	}

	// The action must be cut off while the worker invocation still has time
	// to record a terminal status; enforce the ordering up front.
	if cnf.Pool.ActionTimeoutMS >= cnf.Pool.HardTimeoutMS {
		return fmt.Errorf("action timeout (%dms) must be less than the hard task timeout (%dms)", cnf.Pool.ActionTimeoutMS, cnf.Pool.HardTimeoutMS)
	}

	if cnf.Queue.RequestQueue == "" {
		cnf.Queue.RequestQueue = "new:faucet_request"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	for name, network := range cnf.Networks {
		if network.NodeUrl == "" {
			return fmt.Errorf("network %s: node_url is required", name)
		}
		if network.ChainID == 0 {
			return fmt.Errorf("network %s: chain_id is required", name)
		}
		if network.FaucetAmount == "" {
			return fmt.Errorf("network %s: faucet_amount is required", name)
		}
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Warnf("mock config validation: %v", err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
