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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/api/middleware"
	model2 "github.com/tallyfinance/tally/api/model"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database/mocks"
	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response == nil {
		return resp, nil
	}
	err := json.NewDecoder(resp.Body).Decode(s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type nopSink struct{ events []model.TransactionEvent }

func (n *nopSink) Publish(_ context.Context, event model.TransactionEvent) {
	n.events = append(n.events, event)
}

func testConfig() *config.Configuration {
	cnf := &config.Configuration{
		Mutation:  config.MutationConfig{MaxRetries: 3, RetryDelayMs: 1},
		Publisher: config.PublisherConfig{Mode: config.PublishModeDirect},
		Stream:    config.StreamConfig{Topic: "transaction-events"},
		Consumer:  config.ConsumerConfig{MaxPersistAttempts: 1},
	}
	config.MockConfig(cnf)
	return cnf
}

func setupRouter() (*gin.Engine, *mocks.MockAccountStore, *nopSink) {
	cnf := testConfig()
	store := new(mocks.MockAccountStore)
	sink := &nopSink{}
	return NewAPI(tally.NewTally(store, sink, cnf)).Router(), store, sink
}

func setupLedgerRouter() (*gin.Engine, *mocks.MockLedgerStore) {
	cnf := testConfig()
	store := new(mocks.MockLedgerStore)
	return NewLedgerAPI(tally.NewLedgerWriter(store, cnf, nil)).Router(), store
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func activeAccount(id int64, balance string) *model.Account {
	return &model.Account{
		ID:            id,
		AccountHolder: gofakeit.Name(),
		Type:          model.AccountTypeChecking,
		Balance:       decimal.RequireFromString(balance),
		Status:        model.AccountStatusActive,
		Version:       2,
	}
}

func TestCreateAccount(t *testing.T) {
	router, store, _ := setupRouter()
	holder := gofakeit.Name()

	store.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a model.Account) bool {
		return a.AccountHolder == holder && a.Status == model.AccountStatusActive && a.Balance.Equal(decimal.NewFromInt(100))
	})).Return(model.Account{ID: 1, AccountHolder: holder, Type: model.AccountTypeSavings, Status: model.AccountStatusActive}, nil)

	var response model.Account
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, model2.CreateAccount{AccountHolder: holder, Type: "SAVINGS", Balance: 100}),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/accounts",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, int64(1), response.ID)
	assert.Equal(t, holder, response.AccountHolder)
}

func TestCreateAccount_Invalid(t *testing.T) {
	router, store, _ := setupRouter()

	tests := []struct {
		name    string
		payload interface{}
	}{
		{"missing holder", model2.CreateAccount{Type: "SAVINGS"}},
		{"negative balance", model2.CreateAccount{AccountHolder: "x", Type: "SAVINGS", Balance: -1}},
		{"bad type", model2.CreateAccount{AccountHolder: "x", Type: "GOLD"}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := SetUpTestRequest(TestRequest{
				Payload: jsonBody(t, tt.payload),
				Router:  router,
				Method:  http.MethodPost,
				Route:   "/accounts",
			})
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
	store.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
}

func TestGetAccount(t *testing.T) {
	router, store, _ := setupRouter()
	store.On("GetAccountByID", mock.Anything, int64(5)).Return(activeAccount(5, "40"), nil)
	store.On("GetAccountByID", mock.Anything, int64(6)).Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "missing", nil))

	var found model.Account
	resp, err := SetUpTestRequest(TestRequest{Router: router, Response: &found, Method: http.MethodGet, Route: "/accounts/5"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "40", found.Balance.String())

	var missing map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{Router: router, Response: &missing, Method: http.MethodGet, Route: "/accounts/6"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Account 6 not found or not active", missing["error"])

	resp, _ = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/accounts/abc"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetAllAccounts_Pagination(t *testing.T) {
	router, store, _ := setupRouter()
	store.On("GetAllAccounts", mock.Anything, 10, 0).Return([]model.Account{*activeAccount(1, "1")}, nil)
	store.On("GetAllAccounts", mock.Anything, 5, 10).Return([]model.Account{}, nil)

	var first []model.Account
	resp, err := SetUpTestRequest(TestRequest{Router: router, Response: &first, Method: http.MethodGet, Route: "/accounts"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, first, 1)

	var third []model.Account
	resp, err = SetUpTestRequest(TestRequest{Router: router, Response: &third, Method: http.MethodGet, Route: "/accounts?page=2&size=5"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, third)

	resp, _ = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/accounts?size=0"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetAllAccounts_SizeIsCappedAndOffsetCannotOverflow(t *testing.T) {
	router, store, _ := setupRouter()
	store.On("GetAllAccounts", mock.Anything, tally.MaxPageSize, tally.MaxPageSize).Return([]model.Account{}, nil)

	resp, err := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/accounts?page=1&size=100000"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	resp, _ = SetUpTestRequest(TestRequest{Router: router, Response: &body, Method: http.MethodGet, Route: "/accounts?page=4611686018427387904&size=10"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	store.AssertNumberOfCalls(t, "GetAllAccounts", 1)
}

func TestDeposit(t *testing.T) {
	router, store, sink := setupRouter()
	store.On("GetAccountByID", mock.Anything, int64(3)).Return(activeAccount(3, "100"), nil)
	store.On("UpdateAccount", mock.Anything, mock.AnythingOfType("*model.Account"), int64(2)).Run(func(args mock.Arguments) {
		args.Get(1).(*model.Account).Version = 3
	}).Return(true, nil)

	var account model.Account
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, model2.BalanceChange{AccountID: 3, Amount: 25.5}),
		Router:   router,
		Response: &account,
		Method:   http.MethodPost,
		Route:    "/accounts/deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "125.5", account.Balance.String())
	assert.Equal(t, int64(3), account.Version)
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.TransactionTypeDeposit, sink.events[0].Type)
}

func TestWithdraw_ErrorMapping(t *testing.T) {
	router, store, sink := setupRouter()
	store.On("GetAccountByID", mock.Anything, int64(3)).Return(activeAccount(3, "10"), nil)
	closed := activeAccount(4, "10")
	closed.Status = model.AccountStatusClosed
	store.On("GetAccountByID", mock.Anything, int64(4)).Return(closed, nil)
	store.On("GetAccountByID", mock.Anything, int64(9)).Return(activeAccount(9, "10"), nil)
	store.On("UpdateAccount", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	tests := []struct {
		name     string
		payload  model2.BalanceChange
		expected int
		code     string
	}{
		{"insufficient funds", model2.BalanceChange{AccountID: 3, Amount: 11}, http.StatusBadRequest, string(apierror.ErrInsufficientFunds)},
		{"closed account", model2.BalanceChange{AccountID: 4, Amount: 1}, http.StatusNotFound, string(apierror.ErrNotActive)},
		{"exhausted retries", model2.BalanceChange{AccountID: 9, Amount: 1}, http.StatusServiceUnavailable, string(apierror.ErrConcurrencyExhausted)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var response map[string]interface{}
			resp, err := SetUpTestRequest(TestRequest{
				Payload:  jsonBody(t, tt.payload),
				Router:   router,
				Response: &response,
				Method:   http.MethodPost,
				Route:    "/accounts/withdraw",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.Code)
			assert.Equal(t, tt.code, response["code"])
		})
	}
	assert.Empty(t, sink.events)
}

func TestWithdraw_RejectsNonPositiveAmount(t *testing.T) {
	router, store, _ := setupRouter()

	resp, _ := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.BalanceChange{AccountID: 3, Amount: -2}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/accounts/withdraw",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	store.AssertNotCalled(t, "GetAccountByID", mock.Anything, mock.Anything)
}

func TestDeleteAccount(t *testing.T) {
	router, store, sink := setupRouter()
	store.On("GetAccountByID", mock.Anything, int64(8)).Return(activeAccount(8, "10"), nil)
	store.On("UpdateAccount", mock.Anything, mock.MatchedBy(func(a *model.Account) bool {
		return a.Deleted && a.Status == model.AccountStatusClosed
	}), int64(2)).Return(true, nil)

	resp, err := SetUpTestRequest(TestRequest{Router: router, Response: &map[string]interface{}{}, Method: http.MethodDelete, Route: "/accounts/8"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	store.AssertExpectations(t)
	assert.Empty(t, sink.events)
}

func TestSecureRouterRequiresKey(t *testing.T) {
	cnf := testConfig()
	cnf.Server.Secure = true
	cnf.Server.SecretKey = "k"
	router := NewAPI(tally.NewTally(new(mocks.MockAccountStore), &nopSink{}, cnf)).Router()

	resp, _ := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/accounts/1"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp, _ = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/", Header: map[string]string{middleware.SecretKeyHeader: "k"}})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSecureLedgerRouterUsesLedgerKey(t *testing.T) {
	cnf := testConfig()
	cnf.Server.Secure = true
	cnf.Server.SecretKey = "accounts-key"
	cnf.Server.LedgerSecretKey = "ledger-key"
	router := NewLedgerAPI(tally.NewLedgerWriter(new(mocks.MockLedgerStore), cnf, nil)).Router()

	resp, _ := SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/", Header: map[string]string{middleware.SecretKeyHeader: "accounts-key"}})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp, _ = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/", Header: map[string]string{middleware.SecretKeyHeader: "ledger-key"}})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestMutationRoutesAreLimitedPerAccount(t *testing.T) {
	cnf := testConfig()
	rps := 1.0
	burst := 1
	cnf.RateLimit = config.RateLimitConfig{AccountRequestsPerSecond: &rps, AccountBurst: &burst}
	store := new(mocks.MockAccountStore)
	router := NewAPI(tally.NewTally(store, &nopSink{}, cnf)).Router()
	store.On("GetAccountByID", mock.Anything, int64(3)).Return(activeAccount(3, "100"), nil)
	store.On("UpdateAccount", mock.Anything, mock.AnythingOfType("*model.Account"), int64(2)).Return(true, nil)

	resp, _ := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.BalanceChange{AccountID: 3, Amount: 1}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/accounts/deposit",
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp, _ = SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.BalanceChange{AccountID: 3, Amount: 1}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/accounts/withdraw",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	store.AssertNumberOfCalls(t, "UpdateAccount", 1)

	// Reads are not throttled per account.
	resp, _ = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/accounts/3"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestLogTransaction(t *testing.T) {
	router, store := setupLedgerRouter()
	store.On("RecordEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.AccountID == 2 && e.Type == model.TransactionTypeWithdraw && e.Amount.Equal(decimal.NewFromInt(7))
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*model.LedgerEntry).ID = 41
	}).Return(true, nil)

	var entry model.LedgerEntry
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, model2.RecordTransaction{AccountID: 2, Type: "WITHDRAW", Amount: 7, Description: "atm"}),
		Router:   router,
		Response: &entry,
		Method:   http.MethodPost,
		Route:    "/transactions",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, int64(41), entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	resp, _ = SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.RecordTransaction{AccountID: 2, Type: "DEPOSIT", Amount: -1}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/transactions",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetTransactionsByAccount(t *testing.T) {
	router, store := setupLedgerRouter()
	store.On("GetEntriesByAccount", mock.Anything, int64(2)).Return([]model.LedgerEntry{
		{ID: 2, AccountID: 2, Type: model.TransactionTypeWithdraw, Amount: decimal.NewFromInt(1)},
		{ID: 1, AccountID: 2, Type: model.TransactionTypeDeposit, Amount: decimal.NewFromInt(5)},
	}, nil)

	var entries []model.LedgerEntry
	resp, err := SetUpTestRequest(TestRequest{Router: router, Response: &entries, Method: http.MethodGet, Route: "/transactions/account/2"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].ID)
}
