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

package stream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/tallyfinance/tally/internal/lock"
)

const defaultLeaseTTL = 30 * time.Second

// Handler processes one message. A nil return acknowledges it; an error leaves it
// pending so it is delivered again.
type Handler func(ctx context.Context, msg Message) error

type SubscriberConfig struct {
	Topic      string
	Partitions int
	Group      string
	// Consumer names this subscriber in the group and holds its partition leases.
	Consumer  string
	BatchSize int64
	// Block is how long a read for new messages waits. It is kept under a third of LeaseTTL
	// so leases are renewed in time.
	Block time.Duration
	// LeaseTTL is how long a partition stays owned without renewal. Only the owner of a
	// partition reads it, so one key is never handled by two consumers at once.
	LeaseTTL time.Duration
	// MaxPartitions caps the partitions this subscriber owns. Zero means no cap.
	MaxPartitions int
	// FailureBackoff is the pause after a poll in which a handler failed.
	FailureBackoff time.Duration
}

type Subscriber struct {
	client redis.UniversalClient
	cfg    SubscriberConfig
	leases map[int]*redlock.Locker
}

// PollResult reports what one poll did.
type PollResult struct {
	Handled int
	Failed  int
}

func NewSubscriber(client redis.UniversalClient, cfg SubscriberConfig) *Subscriber {
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.Block <= 0 || cfg.Block > cfg.LeaseTTL/3 {
		cfg.Block = cfg.LeaseTTL / 3
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = time.Second
	}
	return &Subscriber{client: client, cfg: cfg, leases: make(map[int]*redlock.Locker)}
}

func (s *Subscriber) streams() []string {
	names := make([]string, s.cfg.Partitions)
	for i := range names {
		names[i] = StreamName(s.cfg.Topic, i)
	}
	return names
}

func (s *Subscriber) leaseKey(partition int) string {
	return fmt.Sprintf("%s:%s:owner", StreamName(s.cfg.Topic, partition), s.cfg.Group)
}

// Owned lists the partitions this subscriber currently holds, in ascending order.
func (s *Subscriber) Owned() []int {
	owned := make([]int, 0, len(s.leases))
	for p := range s.leases {
		owned = append(owned, p)
	}
	sort.Ints(owned)
	return owned
}

// Setup creates the consumer group on every partition stream.
func (s *Subscriber) Setup(ctx context.Context) error {
	for _, stream := range s.streams() {
		err := s.client.XGroupCreateMkStream(ctx, stream, s.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "failed to create consumer group on %s", stream)
		}
	}
	return nil
}

// Run polls until ctx is done, then hands its partitions back.
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}
	defer s.Release(context.WithoutCancel(ctx))

	logrus.WithFields(logrus.Fields{
		"topic":      s.cfg.Topic,
		"partitions": s.cfg.Partitions,
		"group":      s.cfg.Group,
		"consumer":   s.cfg.Consumer,
	}).Info("subscriber started")

	for {
		if ctx.Err() != nil {
			logrus.Infof("subscriber stopping: %s", s.cfg.Topic)
			return nil
		}

		res, err := s.Poll(ctx, handler)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logrus.Errorf("error reading messages: %v", err)
		}
		if err != nil || res.Failed > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.FailureBackoff):
			}
		}
	}
}

// Poll renews or takes partition leases, then delivers this consumer's pending messages on
// the partitions it owns. When none are pending it reads new ones. Within a partition, a
// failed message stops the rest of that partition's batch so nothing overtakes it.
func (s *Subscriber) Poll(ctx context.Context, handler Handler) (PollResult, error) {
	if err := s.acquire(ctx); err != nil {
		return PollResult{}, err
	}

	owned := s.ownedStreams()
	if len(owned) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.Block):
		}
		return PollResult{}, nil
	}

	pending, err := s.read(ctx, owned, "0", -1)
	if err != nil {
		return PollResult{}, err
	}
	if countMessages(pending) > 0 {
		return s.dispatch(ctx, pending, handler), nil
	}

	fresh, err := s.read(ctx, owned, ">", s.cfg.Block)
	if err != nil {
		return PollResult{}, err
	}
	return s.dispatch(ctx, fresh, handler), nil
}

// acquire extends the leases this consumer holds and tries to take free partitions up to
// MaxPartitions. A lease that cannot be extended is dropped.
func (s *Subscriber) acquire(ctx context.Context) error {
	for _, p := range s.Owned() {
		if err := s.leases[p].Extend(ctx, s.cfg.LeaseTTL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithField("partition", p).Warnf("partition lease lost: %v", err)
			delete(s.leases, p)
		}
	}

	for p := 0; p < s.cfg.Partitions; p++ {
		if s.cfg.MaxPartitions > 0 && len(s.leases) >= s.cfg.MaxPartitions {
			return nil
		}
		if _, ok := s.leases[p]; ok {
			continue
		}

		lease := redlock.NewLocker(s.client, s.leaseKey(p), s.cfg.Consumer)
		err := lease.Lock(ctx, s.cfg.LeaseTTL)
		if errors.Is(err, redlock.ErrLockHeld) {
			// Still ours from an earlier run under the same consumer name?
			if lease.Extend(ctx, s.cfg.LeaseTTL) != nil {
				continue
			}
		} else if err != nil {
			return errors.Wrapf(err, "failed to lease partition %d", p)
		}

		if err := s.takeOver(ctx, p); err != nil {
			if uerr := lease.Unlock(context.WithoutCancel(ctx)); uerr != nil {
				logrus.Warnf("failed to release partition %d: %v", p, uerr)
			}
			return err
		}
		s.leases[p] = lease
		logrus.WithFields(logrus.Fields{
			"partition": p,
			"consumer":  s.cfg.Consumer,
		}).Info("partition leased")
	}
	return nil
}

// takeOver moves every message still pending in the partition to this consumer. They came
// before anything it will read with ">" and are delivered first.
func (s *Subscriber) takeOver(ctx context.Context, partition int) error {
	stream := StreamName(s.cfg.Topic, partition)
	start := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Start:    start,
			Count:    s.cfg.BatchSize,
		}).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to claim pending messages on %s", stream)
		}
		if len(msgs) == 0 || next == "0-0" {
			return nil
		}
		start = next
	}
}

// Release gives up every partition this consumer owns so another one can take it at once.
func (s *Subscriber) Release(ctx context.Context) {
	for p, lease := range s.leases {
		if err := lease.Unlock(ctx); err != nil {
			logrus.Warnf("failed to release partition %d: %v", p, err)
		}
		delete(s.leases, p)
	}
}

func (s *Subscriber) ownedStreams() []string {
	owned := s.Owned()
	names := make([]string, len(owned))
	for i, p := range owned {
		names[i] = StreamName(s.cfg.Topic, p)
	}
	return names
}

func (s *Subscriber) read(ctx context.Context, streams []string, from string, block time.Duration) ([]redis.XStream, error) {
	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for range streams {
		args = append(args, from)
	}

	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  args,
		Count:    s.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read from stream")
	}
	return res, nil
}

func (s *Subscriber) dispatch(ctx context.Context, streams []redis.XStream, handler Handler) PollResult {
	var res PollResult
	for _, st := range streams {
		partition := s.partitionOf(st.Stream)
		for _, entry := range st.Messages {
			msg := Message{
				Topic:     s.cfg.Topic,
				Partition: partition,
				Offset:    entry.ID,
			}
			if key, ok := entry.Values[fieldKey].(string); ok {
				msg.Key = key
			}
			if payload, ok := entry.Values[fieldPayload].(string); ok {
				msg.Payload = []byte(payload)
			}

			if err := handler(ctx, msg); err != nil {
				logrus.WithFields(logrus.Fields{
					"stream":     st.Stream,
					"message_id": entry.ID,
				}).Warnf("message left pending: %v", err)
				res.Failed++
				break
			}

			if err := s.client.XAck(ctx, st.Stream, s.cfg.Group, entry.ID).Err(); err != nil {
				logrus.Errorf("failed to ACK message %s: %v", entry.ID, err)
			}
			res.Handled++
		}
	}
	return res
}

func (s *Subscriber) partitionOf(stream string) int {
	for i, name := range s.streams() {
		if name == stream {
			return i
		}
	}
	return -1
}

func countMessages(streams []redis.XStream) int {
	n := 0
	for _, st := range streams {
		n += len(st.Messages)
	}
	return n
}
