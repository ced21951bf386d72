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

package database

import (
	"context"

	"github.com/tallyfinance/tally/model"
)

// AccountStore is the primary store. Every write to an account is conditional on the
// version the writer read.
type AccountStore interface {
	CreateAccount(ctx context.Context, account model.Account) (model.Account, error)
	// GetAccountByID returns soft-deleted rows too; callers decide visibility.
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error)
	// UpdateAccount writes balance, status and deleted only if the stored version still equals
	// expectedVersion. It reports false when another writer got there first.
	UpdateAccount(ctx context.Context, account *model.Account, expectedVersion int64) (bool, error)
	// UpdateAccountWithOutbox performs UpdateAccount and stores event in the same transaction.
	UpdateAccountWithOutbox(ctx context.Context, account *model.Account, expectedVersion int64, event *model.OutboxEvent) (bool, error)
	outbox
}

type outbox interface {
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxEventPublished(ctx context.Context, id int64) error
}

// LedgerStore is the append-only transaction store.
type LedgerStore interface {
	// RecordEntry appends entry. With a non-empty EventKey an existing entry for the same
	// account and key wins and RecordEntry reports false.
	RecordEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error)
	GetEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
}
