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

type RecordTransaction struct {
	AccountID   int64   `json:"account_id"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

func (t *RecordTransaction) ToLedgerEntry() model.LedgerEntry {
	return model.LedgerEntry{
		AccountID:   t.AccountID,
		Type:        model.TransactionType(t.Type),
		Amount:      decimal.NewFromFloat(t.Amount),
		Description: t.Description,
	}
}
