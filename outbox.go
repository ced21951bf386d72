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

package tally

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/retry"
)

const TypeOutboxRelay = "outbox:relay"

// Locker runs fn only when no other process holds the lock. Extend keeps a held lock alive.
type Locker interface {
	RunExclusive(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
	Extend(ctx context.Context, ttl time.Duration) error
}

// OutboxRelay moves events stored next to balance writes onto the message channel.
type OutboxRelay struct {
	store     database.AccountStore
	producer  Producer
	policy    retry.Policy
	stats     *retry.Stats
	batchSize int
	locker    Locker
	lockTTL   time.Duration
}

func NewOutboxRelay(store database.AccountStore, producer Producer, locker Locker, cnf *config.Configuration, stats *retry.Stats) *OutboxRelay {
	policy := retry.NewPolicy(cnf.Mutation.MaxRetries, cnf.Mutation.RetryDelay(), stats)
	policy.Exponential = true
	return &OutboxRelay{
		store:     store,
		producer:  producer,
		policy:    policy,
		stats:     stats,
		batchSize: cnf.Outbox.BatchSize,
		locker:    locker,
		lockTTL:   time.Duration(cnf.Outbox.LockTTLSec) * time.Second,
	}
}

// RelayPending publishes pending events in the order they were written and marks each one
// after the channel accepted it. The first event that cannot be published ends the batch so
// later events for the same account do not overtake it.
func (r *OutboxRelay) RelayPending(ctx context.Context) (int, error) {
	return r.relay(ctx, nil)
}

// relay calls renew before each event so a held lock outlives a slow batch. A failed
// renewal ends the batch because another relay may now own the rows.
func (r *OutboxRelay) relay(ctx context.Context, renew func(ctx context.Context) error) (int, error) {
	events, err := r.store.GetPendingOutboxEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	relayed := 0
	for _, event := range events {
		if renew != nil {
			if err := renew(ctx); err != nil {
				logrus.WithField("outbox_id", event.ID).Warnf("outbox relay lost its lock: %v", err)
				return relayed, err
			}
		}

		err := r.policy.Do(ctx, "OutboxRelay", func(ctx context.Context, attempt int) error {
			_, err := r.producer.Publish(ctx, event.Topic, PartitionKey(event.AccountID), event.Payload)
			return retry.Retryable(err)
		})
		if err != nil {
			r.stats.RecordPublishFailure(ctx, event.Topic)
			logrus.WithFields(logrus.Fields{
				"outbox_id":  event.ID,
				"account_id": event.AccountID,
			}).Errorf("outbox relay stopped: %v", err)
			return relayed, err
		}

		if err := r.store.MarkOutboxEventPublished(ctx, event.ID); err != nil {
			return relayed, err
		}
		relayed++
	}

	if relayed > 0 {
		logrus.Infof("relayed %d outbox events", relayed)
	}
	return relayed, nil
}

// ProcessTask implements asynq.Handler for TypeOutboxRelay tasks.
func (r *OutboxRelay) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if r.locker == nil {
		_, err := r.RelayPending(ctx)
		return err
	}

	run := func(ctx context.Context) error {
		_, err := r.relay(ctx, func(ctx context.Context) error {
			return r.locker.Extend(ctx, r.lockTTL)
		})
		return err
	}
	ran, err := r.locker.RunExclusive(ctx, r.lockTTL, run)
	if !ran && err == nil {
		logrus.Debug("outbox relay already running elsewhere")
	}
	return err
}

// NewOutboxRelayTask builds the periodic relay task for queue.
func NewOutboxRelayTask(queue string) *asynq.Task {
	return asynq.NewTask(TypeOutboxRelay, nil, asynq.Queue(queue), asynq.MaxRetry(0))
}
