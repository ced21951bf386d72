/*
Copyright 2024 Tally Authors.

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
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT        = "5001"
	DEFAULT_LEDGER_PORT = "5002"

	PublishModeDirect = "direct"
	PublishModeOutbox = "outbox"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"TALLY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"TALLY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"TALLY_SERVER_SECRET_KEY"`
	// LedgerSecretKey guards the ledger API. It defaults to SecretKey.
	LedgerSecretKey string `json:"ledger_secret_key" envconfig:"TALLY_SERVER_LEDGER_SECRET_KEY"`
	Domain          string `json:"domain" envconfig:"TALLY_SERVER_SSL_DOMAIN"`
	Email           string `json:"ssl_email" envconfig:"TALLY_SERVER_SSL_EMAIL"`
	Port            string `json:"port" envconfig:"TALLY_SERVER_PORT"`
	LedgerPort      string `json:"ledger_port" envconfig:"TALLY_SERVER_LEDGER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"TALLY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"TALLY_REDIS_SKIP_TLS_VERIFY"`
}

// StreamConfig describes the partitioned message channel that carries transaction events.
type StreamConfig struct {
	Topic         string `json:"topic" envconfig:"TALLY_STREAM_TOPIC"`
	Partitions    int    `json:"partitions" envconfig:"TALLY_STREAM_PARTITIONS"`
	ConsumerGroup string `json:"consumer_group" envconfig:"TALLY_STREAM_CONSUMER_GROUP"`
	// ConsumerName must be unique per ledger instance. It is also the partition lease token.
	ConsumerName string `json:"consumer_name" envconfig:"TALLY_STREAM_CONSUMER_NAME"`
	BatchSize    int64  `json:"batch_size" envconfig:"TALLY_STREAM_BATCH_SIZE"`
	BlockMs      int    `json:"block_ms" envconfig:"TALLY_STREAM_BLOCK_MS"`
	LeaseTTLSec  int    `json:"lease_ttl_sec" envconfig:"TALLY_STREAM_LEASE_TTL_SEC"`
	// MaxPartitions caps how many partitions one consumer owns. Zero means no cap.
	MaxPartitions int `json:"max_partitions" envconfig:"TALLY_STREAM_MAX_PARTITIONS"`
}

type MutationConfig struct {
	MaxRetries   int `json:"max_retries" envconfig:"TALLY_MUTATION_MAX_RETRIES"`
	RetryDelayMs int `json:"retry_delay_ms" envconfig:"TALLY_MUTATION_RETRY_DELAY_MS"`
}

type PublisherConfig struct {
	Mode string `json:"mode" envconfig:"TALLY_PUBLISHER_MODE"`
}

type OutboxConfig struct {
	IntervalSec    int    `json:"interval_sec" envconfig:"TALLY_OUTBOX_INTERVAL_SEC"`
	BatchSize      int    `json:"batch_size" envconfig:"TALLY_OUTBOX_BATCH_SIZE"`
	LockTTLSec     int    `json:"lock_ttl_sec" envconfig:"TALLY_OUTBOX_LOCK_TTL_SEC"`
	Queue          string `json:"queue" envconfig:"TALLY_OUTBOX_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"TALLY_OUTBOX_MONITORING_PORT"`
}

type ConsumerConfig struct {
	Deduplicate         bool `json:"deduplicate" envconfig:"TALLY_CONSUMER_DEDUPLICATE"`
	MaxPersistAttempts  int  `json:"max_persist_attempts" envconfig:"TALLY_CONSUMER_MAX_PERSIST_ATTEMPTS"`
	PersistRetryDelayMs int  `json:"persist_retry_delay_ms" envconfig:"TALLY_CONSUMER_PERSIST_RETRY_DELAY_MS"`
	FailureBackoffMs    int  `json:"failure_backoff_ms" envconfig:"TALLY_CONSUMER_FAILURE_BACKOFF_MS"`
}

type CacheConfig struct {
	AccountTTLSec int `json:"account_ttl_sec" envconfig:"TALLY_CACHE_ACCOUNT_TTL_SEC"`
}

// RateLimitConfig limits each client address on both APIs and, separately, the deposits and
// withdrawals aimed at one account. A nil rate disables that limiter.
type RateLimitConfig struct {
	RequestsPerSecond        *float64 `json:"requests_per_second" envconfig:"TALLY_RATE_LIMIT_RPS"`
	Burst                    *int     `json:"burst" envconfig:"TALLY_RATE_LIMIT_BURST"`
	AccountRequestsPerSecond *float64 `json:"account_requests_per_second" envconfig:"TALLY_RATE_LIMIT_ACCOUNT_RPS"`
	AccountBurst             *int     `json:"account_burst" envconfig:"TALLY_RATE_LIMIT_ACCOUNT_BURST"`
	CleanupIntervalSec       *int     `json:"cleanup_interval_sec" envconfig:"TALLY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"TALLY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"TALLY_PROJECT_NAME"`
	Server             ServerConfig     `json:"server"`
	AccountsDataSource DataSourceConfig `json:"accounts_data_source" split_words:"true"`
	LedgerDataSource   DataSourceConfig `json:"ledger_data_source" split_words:"true"`
	Redis              RedisConfig      `json:"redis"`
	Stream             StreamConfig     `json:"stream"`
	Mutation           MutationConfig   `json:"mutation"`
	Publisher          PublisherConfig  `json:"publisher"`
	Outbox             OutboxConfig     `json:"outbox"`
	Consumer           ConsumerConfig   `json:"consumer"`
	Cache              CacheConfig      `json:"cache"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry    bool             `json:"enable_telemetry" envconfig:"TALLY_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tally", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called tally.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tally Server"
	}

	if cnf.AccountsDataSource.Dns == "" {
		log.Println("Error: Accounts data source DNS is empty. It's a required field.")
		return errors.New("accounts data source DNS is required")
	}

	if cnf.LedgerDataSource.Dns == "" {
		log.Println("Error: Ledger data source DNS is empty. It's a required field.")
		return errors.New("ledger data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.AccountsDataSource.Dns = strings.TrimSpace(cnf.AccountsDataSource.Dns)
	cnf.LedgerDataSource.Dns = strings.TrimSpace(cnf.LedgerDataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}
	if cnf.Server.LedgerPort == "" {
		cnf.Server.LedgerPort = DEFAULT_LEDGER_PORT
	}

	cnf.setStreamDefaults()
	cnf.setMutationDefaults()

	switch cnf.Publisher.Mode {
	case "":
		cnf.Publisher.Mode = PublishModeDirect
	case PublishModeDirect, PublishModeOutbox:
	default:
		return errors.New("publisher mode must be one of direct, outbox")
	}

	if cnf.Outbox.IntervalSec <= 0 {
		cnf.Outbox.IntervalSec = 2
	}
	if cnf.Outbox.BatchSize <= 0 {
		cnf.Outbox.BatchSize = 100
	}
	if cnf.Outbox.LockTTLSec <= 0 {
		cnf.Outbox.LockTTLSec = 30
	}
	if cnf.Outbox.Queue == "" {
		cnf.Outbox.Queue = "outbox_relay"
	}
	if cnf.Outbox.MonitoringPort == "" {
		cnf.Outbox.MonitoringPort = "5004"
	}

	if cnf.Consumer.MaxPersistAttempts <= 0 {
		cnf.Consumer.MaxPersistAttempts = 1
	}
	if cnf.Consumer.PersistRetryDelayMs <= 0 {
		cnf.Consumer.PersistRetryDelayMs = 100
	}
	if cnf.Consumer.FailureBackoffMs <= 0 {
		cnf.Consumer.FailureBackoffMs = 1000
	}

	if cnf.Server.LedgerSecretKey == "" {
		cnf.Server.LedgerSecretKey = cnf.Server.SecretKey
	}

	if cnf.Cache.AccountTTLSec <= 0 {
		cnf.Cache.AccountTTLSec = 30
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
	if cnf.RateLimit.AccountRequestsPerSecond != nil && cnf.RateLimit.AccountBurst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.AccountRequestsPerSecond)
		if defaultBurst < 1 {
			defaultBurst = 1
		}
		cnf.RateLimit.AccountBurst = &defaultBurst
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setStreamDefaults() {
	if cnf.Stream.Topic == "" {
		cnf.Stream.Topic = "transaction-events"
	}
	if cnf.Stream.Partitions <= 0 {
		cnf.Stream.Partitions = 4
	}
	if cnf.Stream.ConsumerGroup == "" {
		cnf.Stream.ConsumerGroup = "transaction-service"
	}
	if cnf.Stream.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "tally"
		}
		cnf.Stream.ConsumerName = host
	}
	if cnf.Stream.BatchSize <= 0 {
		cnf.Stream.BatchSize = 10
	}
	if cnf.Stream.BlockMs <= 0 {
		cnf.Stream.BlockMs = 5000
	}
	if cnf.Stream.LeaseTTLSec <= 0 {
		cnf.Stream.LeaseTTLSec = 30
	}
}

func (cnf *Configuration) setMutationDefaults() {
	if cnf.Mutation.MaxRetries <= 0 {
		cnf.Mutation.MaxRetries = 3
	}
	if cnf.Mutation.RetryDelayMs <= 0 {
		cnf.Mutation.RetryDelayMs = 50
	}
}

// RetryDelay is the fixed pause between two optimistic write attempts.
func (m MutationConfig) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelayMs) * time.Millisecond
}

func (s StreamConfig) BlockDuration() time.Duration {
	return time.Duration(s.BlockMs) * time.Millisecond
}

func (s StreamConfig) LeaseTTL() time.Duration {
	return time.Duration(s.LeaseTTLSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
