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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tallyfinance/tally/model"
)

// MockAccountStore is a testify mock of database.AccountStore.
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockAccountStore) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*model.Account)
	return account, args.Error(1)
}

func (m *MockAccountStore) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *MockAccountStore) UpdateAccount(ctx context.Context, account *model.Account, expectedVersion int64) (bool, error) {
	args := m.Called(ctx, account, expectedVersion)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountStore) UpdateAccountWithOutbox(ctx context.Context, account *model.Account, expectedVersion int64, event *model.OutboxEvent) (bool, error) {
	args := m.Called(ctx, account, expectedVersion, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountStore) GetPendingOutboxEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]model.OutboxEvent)
	return events, args.Error(1)
}

func (m *MockAccountStore) MarkOutboxEventPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockLedgerStore is a testify mock of database.LedgerStore.
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) RecordEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) GetEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, accountID)
	entries, _ := args.Get(0).([]model.LedgerEntry)
	return entries, args.Error(1)
}
