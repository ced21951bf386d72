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
	"embed"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/cache"
	"github.com/tallyfinance/tally/internal/retry"
)

//go:embed sql/accounts/*.sql
var AccountsSQLFiles embed.FS

//go:embed sql/ledger/*.sql
var LedgerSQLFiles embed.FS

var tracer = otel.Tracer("tally.accounts")

// Tally is the account service: account lifecycle plus the balance mutation engine.
type Tally struct {
	accounts  database.AccountStore
	publisher EventSink
	cache     cache.Cache
	cacheTTL  time.Duration
	policy    retry.Policy
	stats     *retry.Stats
	mode      string
	topic     string
	now       func() time.Time
}

type Option func(*Tally)

// WithCache serves account lookups from c for up to ttl. Writes always invalidate the entry.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(t *Tally) {
		t.cache = c
		t.cacheTTL = ttl
	}
}

func WithStats(stats *retry.Stats) Option {
	return func(t *Tally) {
		t.stats = stats
		t.policy.Stats = stats
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tally) { t.now = now }
}

// NewTally builds the account service. In outbox mode publisher may be nil because events
// are written next to the balance and relayed later.
func NewTally(accounts database.AccountStore, publisher EventSink, cnf *config.Configuration, opts ...Option) *Tally {
	stats := retry.NewStats()
	t := &Tally{
		accounts:  accounts,
		publisher: publisher,
		policy:    retry.NewPolicy(cnf.Mutation.MaxRetries, cnf.Mutation.RetryDelay(), stats),
		stats:     stats,
		mode:      cnf.Publisher.Mode,
		topic:     cnf.Stream.Topic,
		cacheTTL:  time.Duration(cnf.Cache.AccountTTLSec) * time.Second,
		now:       time.Now,
	}
	if t.mode == "" {
		t.mode = config.PublishModeDirect
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tally) Stats() retry.Snapshot {
	return t.stats.Snapshot()
}
