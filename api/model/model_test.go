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
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/tallyfinance/tally/model"
)

func TestValidateCreateAccount(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateAccount
		wantErr bool
	}{
		{"valid", CreateAccount{AccountHolder: gofakeit.Name(), Type: "SAVINGS", Balance: 10}, false},
		{"zero balance", CreateAccount{AccountHolder: gofakeit.Name(), Type: "CHECKING"}, false},
		{"missing holder", CreateAccount{Type: "SAVINGS"}, true},
		{"missing type", CreateAccount{AccountHolder: gofakeit.Name()}, true},
		{"unknown type", CreateAccount{AccountHolder: gofakeit.Name(), Type: "CRYPTO"}, true},
		{"negative balance", CreateAccount{AccountHolder: gofakeit.Name(), Type: "BUSINESS", Balance: -1}, true},
		{"balance beyond 4 places", CreateAccount{AccountHolder: gofakeit.Name(), Type: "BUSINESS", Balance: 1.00001}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.ValidateCreateAccount()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateAccount_ToAccount(t *testing.T) {
	dto := CreateAccount{AccountHolder: "Ada", CustomerID: 9, Type: "SAVINGS", Balance: 12.34}
	account := dto.ToAccount()
	assert.Equal(t, "Ada", account.AccountHolder)
	assert.Equal(t, int64(9), account.CustomerID)
	assert.Equal(t, model.AccountTypeSavings, account.Type)
	assert.Equal(t, "12.34", account.Balance.String())
}

func TestValidateBalanceChange(t *testing.T) {
	assert.NoError(t, (&BalanceChange{AccountID: 1, Amount: 0.01}).ValidateBalanceChange())
	assert.Error(t, (&BalanceChange{AccountID: 1, Amount: 0}).ValidateBalanceChange())
	assert.Error(t, (&BalanceChange{AccountID: 1, Amount: -5}).ValidateBalanceChange())
	assert.Error(t, (&BalanceChange{Amount: 5}).ValidateBalanceChange())
	assert.NoError(t, (&BalanceChange{AccountID: 1, Amount: 0.0001}).ValidateBalanceChange())
	assert.Error(t, (&BalanceChange{AccountID: 1, Amount: 0.00001}).ValidateBalanceChange())
}

func TestValidateRecordTransaction(t *testing.T) {
	assert.NoError(t, (&RecordTransaction{AccountID: 1, Type: "DEPOSIT", Amount: 0}).ValidateRecordTransaction())
	assert.NoError(t, (&RecordTransaction{AccountID: 1, Type: "WITHDRAW", Amount: 3}).ValidateRecordTransaction())
	assert.Error(t, (&RecordTransaction{AccountID: 1, Type: "REFUND", Amount: 3}).ValidateRecordTransaction())
	assert.Error(t, (&RecordTransaction{AccountID: 1, Type: "DEPOSIT", Amount: -3}).ValidateRecordTransaction())
	assert.Error(t, (&RecordTransaction{Type: "DEPOSIT", Amount: 3}).ValidateRecordTransaction())
	assert.Error(t, (&RecordTransaction{AccountID: 1, Type: "DEPOSIT", Amount: 3.14159}).ValidateRecordTransaction())

	entry := (&RecordTransaction{AccountID: 4, Type: "DEPOSIT", Amount: 2.5, Description: "cash"}).ToLedgerEntry()
	assert.Equal(t, model.TransactionTypeDeposit, entry.Type)
	assert.Equal(t, "2.5", entry.Amount.String())
}
