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

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeBusiness AccountType = "BUSINESS"
)

// AmountScale is the number of decimal places balances and ledger amounts are stored with.
const AmountScale = 4

// FitsScale reports whether d can be stored at AmountScale without rounding.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}

// Direction is the side of a balance mutation.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// Account is the primary record owned by the account service.
// Version is the optimistic-concurrency fencing token: every successful write
// advances it by exactly one.
type Account struct {
	ID            int64           `json:"id"`
	AccountHolder string          `json:"account_holder"`
	CustomerID    int64           `json:"customer_id"`
	Type          AccountType     `json:"type"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	Deleted       bool            `json:"deleted"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Visible reports whether the account can be looked up or mutated at all.
func (a *Account) Visible() bool {
	return a != nil && !a.Deleted
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Apply returns the balance that results from moving amount in the given direction.
func (a *Account) Apply(amount decimal.Decimal, direction Direction) decimal.Decimal {
	if direction == Debit {
		return a.Balance.Sub(amount)
	}
	return a.Balance.Add(amount)
}

func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeBusiness:
		return true
	}
	return false
}
