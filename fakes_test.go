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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/model"
)

var fixedNow = time.Date(2024, 5, 1, 10, 15, 30, 0, time.FixedZone("WAT", 3600))

func testConfig() *config.Configuration {
	return &config.Configuration{
		Stream:    config.StreamConfig{Topic: "transaction-events", Partitions: 2},
		Mutation:  config.MutationConfig{MaxRetries: 3, RetryDelayMs: 1},
		Publisher: config.PublisherConfig{Mode: config.PublishModeDirect},
		Outbox:    config.OutboxConfig{BatchSize: 100, LockTTLSec: 30},
		Consumer:  config.ConsumerConfig{MaxPersistAttempts: 1, PersistRetryDelayMs: 1},
		Cache:     config.CacheConfig{AccountTTLSec: 30},
	}
}

// memoryStore is an in-memory AccountStore with a real version check.
type memoryStore struct {
	mu        sync.Mutex
	accounts  map[int64]model.Account
	nextID    int64
	conflicts int
	writes    int
	outbox    []model.OutboxEvent
	getErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: map[int64]model.Account{}}
}

func (s *memoryStore) seed(balance string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.accounts[s.nextID] = model.Account{
		ID:            s.nextID,
		AccountHolder: fmt.Sprintf("holder-%d", s.nextID),
		Type:          model.AccountTypeChecking,
		Balance:       decimal.RequireFromString(balance),
		Status:        model.AccountStatusActive,
	}
	return s.nextID
}

// injectConflicts makes the next n conditional writes lose.
func (s *memoryStore) injectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *memoryStore) snapshot(id int64) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memoryStore) set(account model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
}

func (s *memoryStore) CreateAccount(_ context.Context, account model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	account.ID = s.nextID
	account.Version = 0
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	s.accounts[account.ID] = account
	return account, nil
}

func (s *memoryStore) GetAccountByID(_ context.Context, id int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "not found", nil)
	}
	return &account, nil
}

func (s *memoryStore) GetAllAccounts(_ context.Context, limit, offset int) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var visible []model.Account
	for _, account := range s.accounts {
		if !account.Deleted {
			visible = append(visible, account)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })
	if offset >= len(visible) {
		return []model.Account{}, nil
	}
	end := offset + limit
	if end > len(visible) {
		end = len(visible)
	}
	return visible[offset:end], nil
}

func (s *memoryStore) write(account *model.Account, expectedVersion int64) bool {
	if s.conflicts > 0 {
		s.conflicts--
		return false
	}
	stored, ok := s.accounts[account.ID]
	if !ok || stored.Version != expectedVersion {
		return false
	}
	stored.Balance = account.Balance
	stored.Status = account.Status
	stored.Deleted = account.Deleted
	stored.Version++
	stored.UpdatedAt = time.Now()
	s.accounts[account.ID] = stored
	account.Version = stored.Version
	s.writes++
	return true
}

func (s *memoryStore) UpdateAccount(_ context.Context, account *model.Account, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(account, expectedVersion), nil
}

func (s *memoryStore) UpdateAccountWithOutbox(_ context.Context, account *model.Account, expectedVersion int64, event *model.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.write(account, expectedVersion) {
		return false, nil
	}
	event.ID = int64(len(s.outbox) + 1)
	event.CreatedAt = time.Now()
	s.outbox = append(s.outbox, *event)
	return true, nil
}

func (s *memoryStore) GetPendingOutboxEvents(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []model.OutboxEvent
	for _, event := range s.outbox {
		if event.PublishedAt == nil && len(pending) < limit {
			pending = append(pending, event)
		}
	}
	return pending, nil
}

func (s *memoryStore) MarkOutboxEventPublished(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			now := time.Now()
			s.outbox[i].PublishedAt = &now
			return nil
		}
	}
	return errors.New("outbox event not found")
}

func (s *memoryStore) pendingOutbox() int {
	pending, _ := s.GetPendingOutboxEvents(context.Background(), 1<<30)
	return len(pending)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.TransactionEvent
}

func (r *recordingSink) Publish(_ context.Context, event model.TransactionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) published() []model.TransactionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TransactionEvent(nil), r.events...)
}

type publishCall struct {
	topic   string
	key     string
	payload []byte
}

// scriptedProducer fails the calls whose index (from zero) is listed in failOn.
type scriptedProducer struct {
	mu     sync.Mutex
	calls  []publishCall
	failOn map[int]bool
	always bool
}

func (p *scriptedProducer) Publish(_ context.Context, topic, key string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.calls)
	p.calls = append(p.calls, publishCall{topic: topic, key: key, payload: payload})
	if p.always || p.failOn[n] {
		return "", errors.New("channel unavailable")
	}
	return fmt.Sprintf("%d-0", n+1), nil
}

// memoryLedger is an in-memory LedgerStore with the same uniqueness rule as the table.
type memoryLedger struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
}

func (l *memoryLedger) RecordEntry(_ context.Context, entry *model.LedgerEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.EventKey != "" {
		for _, existing := range l.entries {
			if existing.AccountID == entry.AccountID && existing.EventKey == entry.EventKey {
				return false, nil
			}
		}
	}
	entry.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, *entry)
	return true, nil
}

func (l *memoryLedger) GetEntriesByAccount(_ context.Context, accountID int64) ([]model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.LedgerEntry
	for _, entry := range l.entries {
		if entry.AccountID == accountID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
