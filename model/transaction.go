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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "DEPOSIT"
	TransactionTypeWithdraw TransactionType = "WITHDRAW"
)

const (
	DepositDescription  = "Deposit to account"
	WithdrawDescription = "Withdraw from account"
)

// TimestampLayout is the producer timestamp format: ISO-8601 with offset.
const TimestampLayout = time.RFC3339Nano

// minuteLayout is ISO-8601 with offset and no seconds, as written when they are zero.
const minuteLayout = "2006-01-02T15:04Z07:00"

// ParseTimestamp reads an ISO-8601 date-time with offset, with or without seconds.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return ts, nil
	}
	if short, serr := time.Parse(minuteLayout, s); serr == nil {
		return short, nil
	}
	return time.Time{}, err
}

// TransactionEvent is the message published for every committed balance mutation.
// It only lives on the channel; the producer never stores it.
type TransactionEvent struct {
	AccountID   int64           `json:"account_id"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Timestamp   string          `json:"timestamp"`
}

// NewTransactionEvent builds the event for a committed mutation, stamped with the producer clock.
func NewTransactionEvent(accountID int64, amount decimal.Decimal, direction Direction, now time.Time) TransactionEvent {
	event := TransactionEvent{
		AccountID:   accountID,
		Amount:      amount.InexactFloat64(),
		Type:        TransactionTypeDeposit,
		Description: DepositDescription,
		Timestamp:   now.Format(TimestampLayout),
	}
	if direction == Debit {
		event.Type = TransactionTypeWithdraw
		event.Description = WithdrawDescription
	}
	return event
}

// LedgerEntry is a row of the append-only transaction store.
// EventKey is only set when the consumer runs with deduplication enabled.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	EventKey    string          `json:"-"`
}

// ToLedgerEntry converts a consumed event into a ledger row. The producer offset is
// dropped and the wall-clock reading is kept as a local instant.
func (e TransactionEvent) ToLedgerEntry() (LedgerEntry, error) {
	ts, err := ParseTimestamp(e.Timestamp)
	if err != nil {
		return LedgerEntry{}, err
	}
	return LedgerEntry{
		AccountID:   e.AccountID,
		Type:        e.Type,
		Amount:      decimal.NewFromFloat(e.Amount),
		Description: e.Description,
		Timestamp:   StripOffset(ts),
	}, nil
}

// StripOffset keeps the wall-clock fields of t and discards its zone, the way a
// TIMESTAMP WITHOUT TIME ZONE column stores it.
func StripOffset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// OutboxEvent is an encoded TransactionEvent written in the same database
// transaction as the balance change it describes.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	Topic       string     `json:"topic"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
