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
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/internal/notification"
	"github.com/tallyfinance/tally/internal/retry"
	"github.com/tallyfinance/tally/internal/stream"
	"github.com/tallyfinance/tally/internal/wire"
	"github.com/tallyfinance/tally/model"
)

var ledgerTracer = otel.Tracer("tally.ledger")

// MessageSource delivers channel messages to a handler until ctx ends.
type MessageSource interface {
	Run(ctx context.Context, handler stream.Handler) error
}

// LedgerWriter is the transaction service: it appends ledger entries from the channel and
// from direct requests, and serves them back per account.
type LedgerWriter struct {
	store       database.LedgerStore
	policy      retry.Policy
	stats       *retry.Stats
	deduplicate bool
	now         func() time.Time
	notify      func(error)
}

func NewLedgerWriter(store database.LedgerStore, cnf *config.Configuration, stats *retry.Stats) *LedgerWriter {
	delay := time.Duration(cnf.Consumer.PersistRetryDelayMs) * time.Millisecond
	return &LedgerWriter{
		store:       store,
		policy:      retry.NewPolicy(cnf.Consumer.MaxPersistAttempts, delay, stats),
		stats:       stats,
		deduplicate: cnf.Consumer.Deduplicate,
		now:         time.Now,
		notify:      notification.NotifyError,
	}
}

// EventKey identifies a delivered payload for deduplication.
func EventKey(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// LogTransaction writes an entry directly, stamped with this service's clock.
func (w *LedgerWriter) LogTransaction(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LogTransaction")
	defer span.End()

	if entry.Amount.IsNegative() {
		return model.LedgerEntry{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must not be negative", nil)
	}
	if !model.FitsScale(entry.Amount) {
		return model.LedgerEntry{}, scaleError("Amount")
	}
	entry.ID = 0
	entry.EventKey = ""
	entry.Timestamp = model.StripOffset(w.now())

	if _, err := w.store.RecordEntry(ctx, &entry); err != nil {
		span.RecordError(err)
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

func (w *LedgerWriter) ListTransactionsByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "ListTransactionsByAccount")
	defer span.End()

	return w.store.GetEntriesByAccount(ctx, accountID)
}

// HandleMessage takes one delivered message through RECEIVED, PARSED and then PERSISTED or
// DROPPED. Undecodable messages are dropped and acknowledged. A failed append returns an
// error so the message stays pending and is delivered again.
func (w *LedgerWriter) HandleMessage(ctx context.Context, msg stream.Message) error {
	ctx, span := ledgerTracer.Start(ctx, "HandleMessage")
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       msg.Key,
	})

	event, err := wire.Unmarshal(msg.Payload)
	var entry model.LedgerEntry
	if err == nil {
		entry, err = event.ToLedgerEntry()
	}
	if err == nil && !model.FitsScale(entry.Amount) {
		err = fmt.Errorf("amount %s has more than %d decimal places", entry.Amount, model.AmountScale)
	}
	if err != nil {
		w.stats.RecordDropped(ctx, "decode")
		log.Errorf("dropping undecodable transaction event: %v", err)
		if w.notify != nil {
			w.notify(fmt.Errorf("ledger consumer dropped message %s: %w", msg.Offset, err))
		}
		return nil
	}

	if w.deduplicate {
		entry.EventKey = EventKey(msg.Payload)
	}

	inserted := true
	err = w.policy.Do(ctx, "PersistLedgerEntry", func(ctx context.Context, attempt int) error {
		ok, err := w.store.RecordEntry(ctx, &entry)
		if err != nil {
			return retry.Retryable(err)
		}
		inserted = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		w.stats.RecordPersistFailure(ctx)
		log.Errorf("failed to persist ledger entry: %v", err)
		return err
	}

	if !inserted {
		w.stats.RecordDuplicate(ctx)
		log.WithField("account_id", entry.AccountID).Info("duplicate transaction event ignored")
		return nil
	}
	log.WithFields(logrus.Fields{
		"account_id": entry.AccountID,
		"entry_id":   entry.ID,
	}).Debug("ledger entry persisted")
	return nil
}

// Consume drains source into the ledger until ctx ends.
func (w *LedgerWriter) Consume(ctx context.Context, source MessageSource) error {
	return source.Run(ctx, w.HandleMessage)
}
