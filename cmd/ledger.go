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
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/api"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/stream"
)

func newSubscriber(cnf *config.Configuration, client redis.UniversalClient) *stream.Subscriber {
	return stream.NewSubscriber(client, stream.SubscriberConfig{
		Topic:          cnf.Stream.Topic,
		Partitions:     cnf.Stream.Partitions,
		Group:          cnf.Stream.ConsumerGroup,
		Consumer:       cnf.Stream.ConsumerName,
		BatchSize:      cnf.Stream.BatchSize,
		Block:          cnf.Stream.BlockDuration(),
		LeaseTTL:       cnf.Stream.LeaseTTL(),
		MaxPartitions:  cnf.Stream.MaxPartitions,
		FailureBackoff: time.Duration(cnf.Consumer.FailureBackoffMs) * time.Millisecond,
	})
}

// ledgerCommands returns the `ledger` command: the transaction ledger API plus the
// consumer that turns transaction events into ledger entries.
func ledgerCommands(app *tallyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "start the transaction ledger service and its event consumer",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg := app.cnf

			shutdown, err := initializeObservability(ctx, cfg, "tally-ledger")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			db, err := database.NewLedgerDataSource(cfg)
			if err != nil {
				log.Fatalf("error getting ledger datasource: %v", err)
			}
			defer db.Close()

			rdb, err := connectRedis(cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer rdb.Close()

			writer := tally.NewLedgerWriter(db, cfg, app.stats)
			subscriber := newSubscriber(cfg, rdb.Client())

			go func() {
				logrus.Infof("consuming %s as %s/%s", cfg.Stream.Topic, cfg.Stream.ConsumerGroup, cfg.Stream.ConsumerName)
				if err := writer.Consume(ctx, subscriber); err != nil {
					logrus.Errorf("ledger consumer stopped: %v", err)
					stop()
				}
			}()

			go func() {
				router := api.NewLedgerAPI(writer).Router()
				if err := startServer(router, cfg.Server, cfg.Server.LedgerPort); err != nil {
					logrus.Errorf("ledger api stopped: %v", err)
					stop()
				}
			}()

			<-ctx.Done()
			logrus.Info("ledger service shutting down")
		},
	}

	return cmd
}
