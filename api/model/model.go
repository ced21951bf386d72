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
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/tallyfinance/tally/model"
)

func accountTypeValidation(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !model.ValidAccountType(model.AccountType(s)) {
		return errors.New("must be one of CHECKING, SAVINGS, BUSINESS")
	}
	return nil
}

func amountScaleValidation(value interface{}) error {
	f, _ := value.(float64)
	if !model.FitsScale(decimal.NewFromFloat(f)) {
		return fmt.Errorf("must have at most %d decimal places", model.AmountScale)
	}
	return nil
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.AccountHolder, validation.Required),
		validation.Field(&a.Type, validation.Required, validation.By(accountTypeValidation)),
		validation.Field(&a.Balance, validation.Min(0.0), validation.By(amountScaleValidation)),
	)
}

func (b *BalanceChange) ValidateBalanceChange() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.AccountID, validation.Required),
		validation.Field(&b.Amount, validation.Required, validation.Min(0.0).Exclusive(), validation.By(amountScaleValidation)),
	)
}

func (t *RecordTransaction) ValidateRecordTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.AccountID, validation.Required),
		validation.Field(&t.Type, validation.Required, validation.In(
			string(model.TransactionTypeDeposit),
			string(model.TransactionTypeWithdraw),
		)),
		validation.Field(&t.Amount, validation.Min(0.0), validation.By(amountScaleValidation)),
	)
}
