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

// Package stream is the partitioned, at-least-once message channel built on Redis Streams.
//
// A topic is split into a fixed number of streams named "<topic>:<n>". A message key always
// hashes to the same stream, so messages sharing a key are delivered in publish order.
package stream

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

type Message struct {
	Topic     string
	Partition int
	Key       string
	Payload   []byte
	// Offset is the stream entry id.
	Offset string
}

func StreamName(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

// Partition maps key onto one of n partitions.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

type Producer struct {
	client     redis.UniversalClient
	partitions int
}

func NewProducer(client redis.UniversalClient, partitions int) *Producer {
	if partitions < 1 {
		partitions = 1
	}
	return &Producer{client: client, partitions: partitions}
}

// Publish appends payload to the partition of key and returns the assigned offset.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) (string, error) {
	stream := StreamName(topic, Partition(key, p.partitions))
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to publish to %s", stream)
	}
	return id, nil
}
