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
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	redlock "github.com/tallyfinance/tally/internal/lock"
	"github.com/tallyfinance/tally/internal/stream"
	"github.com/tallyfinance/tally/model"
)

const outboxLockKey = "tally:outbox-relay"

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeWorkerServer(redisOpt asynq.RedisClientOpt, conf *config.Configuration) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{conf.Outbox.Queue: 1},
		},
	)
}

// initializeScheduler enqueues one relay task every interval. The redis lock inside the
// task keeps overlapping runs from publishing the same rows twice.
func initializeScheduler(redisOpt asynq.RedisClientOpt, conf *config.Configuration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, nil)
	every := fmt.Sprintf("@every %ds", conf.Outbox.IntervalSec)
	if _, err := scheduler.Register(every, tally.NewOutboxRelayTask(conf.Outbox.Queue)); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func startMonitoring(redisOpt asynq.RedisClientOpt, port string) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOpt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", port)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command, which relays outbox rows to the message channel.
func workerCommands(app *tallyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start the outbox relay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf
			if conf.Publisher.Mode != config.PublishModeOutbox {
				logrus.Warnf("publisher mode is %q; the relay only has work in %q mode", conf.Publisher.Mode, config.PublishModeOutbox)
			}

			shutdown, err := initializeObservability(ctx, conf, "tally-workers")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			db, err := database.NewAccountDataSource(conf)
			if err != nil {
				log.Fatalf("error getting accounts datasource: %v", err)
			}
			defer db.Close()

			rdb, err := connectRedis(conf)
			if err != nil {
				log.Fatal(err)
			}
			defer rdb.Close()

			redisOpt, err := tally.QueueRedisOpt(conf)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			relay := tally.NewOutboxRelay(
				db,
				stream.NewProducer(rdb.Client(), conf.Stream.Partitions),
				redlock.NewLocker(rdb.Client(), outboxLockKey, model.GenerateUUIDWithSuffix(conf.Stream.ConsumerName)),
				conf,
				app.stats,
			)

			scheduler, err := initializeScheduler(redisOpt, conf)
			if err != nil {
				log.Fatalf("could not register outbox relay: %v", err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			startMonitoring(redisOpt, conf.Outbox.MonitoringPort)

			mux := asynq.NewServeMux()
			mux.HandleFunc(tally.TypeOutboxRelay, relay.ProcessTask)

			srv := initializeWorkerServer(redisOpt, conf)
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
