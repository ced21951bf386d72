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

package retry

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tallyfinance/tally"

// Snapshot is a point-in-time copy of the failure counters.
type Snapshot struct {
	Conflicts       int64
	Exhausted       int64
	PublishFailures int64
	Dropped         int64
	Duplicates      int64
	PersistFailures int64
}

// Stats counts failures in process and mirrors them to OpenTelemetry counters.
// A nil *Stats is valid and records nothing.
type Stats struct {
	conflicts       atomic.Int64
	exhausted       atomic.Int64
	publishFailures atomic.Int64
	dropped         atomic.Int64
	duplicates      atomic.Int64
	persistFailures atomic.Int64

	conflictCounter  metric.Int64Counter
	exhaustedCounter metric.Int64Counter
	publishCounter   metric.Int64Counter
	droppedCounter   metric.Int64Counter
	persistCounter   metric.Int64Counter
}

func NewStats() *Stats {
	meter := otel.Meter(meterName)
	s := &Stats{}
	s.conflictCounter = counter(meter, "tally.mutation.conflicts", "Optimistic writes rejected because of a newer version")
	s.exhaustedCounter = counter(meter, "tally.retry.exhausted", "Operations that ran out of retry attempts, by reason")
	s.publishCounter = counter(meter, "tally.publish.failures", "Transaction events the channel did not accept")
	s.droppedCounter = counter(meter, "tally.consumer.dropped", "Messages dropped by the ledger consumer")
	s.persistCounter = counter(meter, "tally.consumer.persist_failures", "Ledger appends that failed and were left for redelivery")
	return s
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		logrus.Errorf("failed to create counter %s: %v", name, err)
		return nil
	}
	return c
}

func add(ctx context.Context, c metric.Int64Counter, reason string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *Stats) RecordConflict(ctx context.Context, op string) {
	if s == nil {
		return
	}
	s.conflicts.Add(1)
	add(ctx, s.conflictCounter, op)
}

func (s *Stats) RecordExhausted(ctx context.Context, op string) {
	if s == nil {
		return
	}
	s.exhausted.Add(1)
	add(ctx, s.exhaustedCounter, op)
}

func (s *Stats) RecordPublishFailure(ctx context.Context, topic string) {
	if s == nil {
		return
	}
	s.publishFailures.Add(1)
	add(ctx, s.publishCounter, topic)
}

func (s *Stats) RecordDropped(ctx context.Context, reason string) {
	if s == nil {
		return
	}
	s.dropped.Add(1)
	add(ctx, s.droppedCounter, reason)
}

// RecordDuplicate counts a redelivered event that the ledger already holds.
func (s *Stats) RecordDuplicate(ctx context.Context) {
	if s == nil {
		return
	}
	s.duplicates.Add(1)
	add(ctx, s.droppedCounter, "duplicate")
}

func (s *Stats) RecordPersistFailure(ctx context.Context) {
	if s == nil {
		return
	}
	s.persistFailures.Add(1)
	add(ctx, s.persistCounter, "persist")
}

func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		Conflicts:       s.conflicts.Load(),
		Exhausted:       s.exhausted.Load(),
		PublishFailures: s.publishFailures.Load(),
		Dropped:         s.dropped.Load(),
		Duplicates:      s.duplicates.Load(),
		PersistFailures: s.persistFailures.Load(),
	}
}
