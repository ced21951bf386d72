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
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallyfinance/tally/internal/notification"
	"github.com/tallyfinance/tally/internal/retry"
	"github.com/tallyfinance/tally/internal/wire"
	"github.com/tallyfinance/tally/model"
)

// Producer appends a keyed payload to a topic of the message channel.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload []byte) (string, error)
}

// EventSink receives committed transaction events. It never reports failure to the caller.
type EventSink interface {
	Publish(ctx context.Context, event model.TransactionEvent)
}

const defaultPublishTimeout = 5 * time.Second

// EventPublisher makes one attempt to put each event on the channel. Failures are logged,
// counted and reported through the error notifier; they are not retried.
type EventPublisher struct {
	producer Producer
	topic    string
	stats    *retry.Stats
	timeout  time.Duration
	notify   func(error)
}

func NewEventPublisher(producer Producer, topic string, stats *retry.Stats) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		topic:    topic,
		stats:    stats,
		timeout:  defaultPublishTimeout,
		notify:   notification.NotifyError,
	}
}

// PartitionKey is the channel key of an account's events.
func PartitionKey(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}

func (p *EventPublisher) Publish(ctx context.Context, event model.TransactionEvent) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	offset, err := p.producer.Publish(ctx, p.topic, PartitionKey(event.AccountID), wire.Marshal(event))
	if err != nil {
		p.stats.RecordPublishFailure(ctx, p.topic)
		logrus.WithFields(logrus.Fields{
			"account_id": event.AccountID,
			"type":       event.Type,
			"amount":     event.Amount,
			"topic":      p.topic,
		}).Errorf("failed to publish transaction event: %v", err)
		if p.notify != nil {
			p.notify(fmt.Errorf("transaction event for account %d was not published: %w", event.AccountID, err))
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"account_id": event.AccountID,
		"offset":     offset,
	}).Debug("transaction event published")
}
