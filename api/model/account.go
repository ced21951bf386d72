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
	"github.com/shopspring/decimal"

	"github.com/tallyfinance/tally/model"
)

type CreateAccount struct {
	AccountHolder string  `json:"account_holder"`
	CustomerID    int64   `json:"customer_id"`
	Type          string  `json:"type"`
	Balance       float64 `json:"balance"`
}

func (a *CreateAccount) ToAccount() model.Account {
	return model.Account{
		AccountHolder: a.AccountHolder,
		CustomerID:    a.CustomerID,
		Type:          model.AccountType(a.Type),
		Balance:       decimal.NewFromFloat(a.Balance),
	}
}

// BalanceChange is the body of a deposit or withdrawal.
type BalanceChange struct {
	AccountID int64   `json:"account_id"`
	Amount    float64 `json:"amount"`
}

func (b *BalanceChange) DecimalAmount() decimal.Decimal {
	return decimal.NewFromFloat(b.Amount)
}
