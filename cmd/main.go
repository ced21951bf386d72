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

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/cache"
	redis_db "github.com/tallyfinance/tally/internal/redis-db"
	"github.com/tallyfinance/tally/internal/retry"
	"github.com/tallyfinance/tally/internal/stream"
)

// Tally represents the CLI application, encapsulating the root Cobra command.
type Tally struct {
	cmd *cobra.Command
}

// tallyInstance holds what every command needs after the config is loaded.
// Commands connect to the databases they use themselves since each service owns its own.
type tallyInstance struct {
	cnf   *config.Configuration
	stats *retry.Stats
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *tallyInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		app.cnf = cnf
		app.stats = retry.NewStats()
		return nil
	}
}

func connectRedis(cnf *config.Configuration) (*redis_db.Redis, error) {
	client, err := redis_db.FromConfig(cnf.Redis)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}
	return client, nil
}

// setupTally wires the account service: account store, message channel producer and read cache.
func setupTally(app *tallyInstance, db *database.Datasource, rdb *redis_db.Redis) *tally.Tally {
	cnf := app.cnf
	producer := stream.NewProducer(rdb.Client(), cnf.Stream.Partitions)
	publisher := tally.NewEventPublisher(producer, cnf.Stream.Topic, app.stats)
	ttl := time.Duration(cnf.Cache.AccountTTLSec) * time.Second

	return tally.NewTally(db, publisher, cnf,
		tally.WithStats(app.stats),
		tally.WithCache(cache.NewRedisCache(rdb.Client()), ttl),
	)
}

func NewCLI() *Tally {
	var configFile string
	app := &tallyInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tally",
		Short: "Account balances with an event-fed transaction ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./tally.json", "Configuration file for tally")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(ledgerCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &Tally{cmd: rootCmd}
}

func (t Tally) executeCLI() {
	if err := t.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
