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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Configuration {
	return Configuration{
		ProjectName:        "Test Project",
		AccountsDataSource: DataSourceConfig{Dns: "postgres://localhost:5432/accounts"},
		LedgerDataSource:   DataSourceConfig{Dns: "postgres://localhost:5432/ledger"},
		Redis:              RedisConfig{Dns: "localhost:6379"},
	}
}

func TestValidateAndAddDefaults_RequiredFields(t *testing.T) {
	cnf := validConfig()
	cnf.AccountsDataSource.Dns = ""
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "accounts data source DNS is required" {
		t.Errorf("Expected accounts data source DNS required error, got %v", err)
	}

	cnf = validConfig()
	cnf.LedgerDataSource.Dns = ""
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "ledger data source DNS is required" {
		t.Errorf("Expected ledger data source DNS required error, got %v", err)
	}

	cnf = validConfig()
	cnf.Redis.Dns = ""
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = validConfig()
	assert.NoError(t, cnf.validateAndAddDefaults())
}

func TestValidateAndAddDefaults_Defaults(t *testing.T) {
	cnf := validConfig()
	cnf.ProjectName = ""
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "Tally Server", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, DEFAULT_LEDGER_PORT, cnf.Server.LedgerPort)
	assert.Equal(t, "transaction-events", cnf.Stream.Topic)
	assert.Equal(t, 4, cnf.Stream.Partitions)
	assert.Equal(t, "transaction-service", cnf.Stream.ConsumerGroup)
	assert.NotEmpty(t, cnf.Stream.ConsumerName)
	assert.Equal(t, 30*time.Second, cnf.Stream.LeaseTTL())
	assert.Zero(t, cnf.Stream.MaxPartitions)
	assert.Equal(t, 3, cnf.Mutation.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cnf.Mutation.RetryDelay())
	assert.Equal(t, PublishModeDirect, cnf.Publisher.Mode)
	assert.Equal(t, 1, cnf.Consumer.MaxPersistAttempts)
	assert.False(t, cnf.Consumer.Deduplicate)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
}

func TestValidateAndAddDefaults_KeepsExplicitValues(t *testing.T) {
	cnf := validConfig()
	cnf.Mutation = MutationConfig{MaxRetries: 5, RetryDelayMs: 20}
	cnf.Publisher.Mode = PublishModeOutbox
	cnf.Stream.Partitions = 16
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, 5, cnf.Mutation.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, cnf.Mutation.RetryDelay())
	assert.Equal(t, PublishModeOutbox, cnf.Publisher.Mode)
	assert.Equal(t, 16, cnf.Stream.Partitions)
}

func TestValidateAndAddDefaults_RejectsUnknownPublishMode(t *testing.T) {
	cnf := validConfig()
	cnf.Publisher.Mode = "kafka"
	assert.EqualError(t, cnf.validateAndAddDefaults(), "publisher mode must be one of direct, outbox")
}

func TestValidateAndAddDefaults_RateLimitBurst(t *testing.T) {
	cnf := validConfig()
	rps := 10.0
	cnf.RateLimit.RequestsPerSecond = &rps
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestValidateAndAddDefaults_LedgerKeyAndAccountLimit(t *testing.T) {
	cnf := validConfig()
	cnf.Server.SecretKey = "accounts-key"
	rps := 5.0
	cnf.RateLimit.AccountRequestsPerSecond = &rps
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "accounts-key", cnf.Server.LedgerSecretKey)
	require.NotNil(t, cnf.RateLimit.AccountBurst)
	assert.Equal(t, 10, *cnf.RateLimit.AccountBurst)

	cnf = validConfig()
	cnf.Server.SecretKey = "accounts-key"
	cnf.Server.LedgerSecretKey = "ledger-key"
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "ledger-key", cnf.Server.LedgerSecretKey)
	assert.Nil(t, cnf.RateLimit.AccountBurst)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tally.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := validConfig()
	sampleConfig.ProjectName = "Temp Project"
	sampleConfig.AccountsDataSource.Dns = "temp-dns"
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("TALLY_PROJECT_NAME", "Env Project")
	t.Setenv("TALLY_MUTATION_MAX_RETRIES", "7")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.AccountsDataSource.Dns)
	assert.Equal(t, 7, loadedConfig.Mutation.MaxRetries)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tally.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := validConfig()
	sampleConfig.ProjectName = "InitConfig Test"
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "postgres://localhost:5432/ledger", loadedConfig.LedgerDataSource.Dns)
}
