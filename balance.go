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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/internal/retry"
	"github.com/tallyfinance/tally/internal/wire"
	"github.com/tallyfinance/tally/model"
)

func (t *Tally) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "Deposit")
	defer span.End()
	return t.mutate(ctx, accountID, amount, model.Credit)
}

func (t *Tally) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "Withdraw")
	defer span.End()
	return t.mutate(ctx, accountID, amount, model.Debit)
}

func scaleError(field string) error {
	return apierror.NewAPIError(apierror.ErrInvalidInput,
		fmt.Sprintf("%s must have at most %d decimal places", field, model.AmountScale), nil)
}

func (t *Tally) mutate(ctx context.Context, id int64, amount decimal.Decimal, direction model.Direction) (*model.Account, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int64("account.id", id), attribute.String("direction", string(direction)))

	if !amount.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must be greater than zero", nil)
	}
	if !model.FitsScale(amount) {
		return nil, scaleError("Amount")
	}

	var event model.TransactionEvent
	change := func(account *model.Account) error {
		if !account.IsActive() {
			return accountUnavailable(id, apierror.ErrNotActive)
		}
		newBalance := account.Apply(amount, direction)
		if direction == model.Debit && newBalance.IsNegative() {
			return apierror.NewAPIError(apierror.ErrInsufficientFunds, fmt.Sprintf("Insufficient funds in account %d", id), nil)
		}
		account.Balance = newBalance
		event = model.NewTransactionEvent(id, amount, direction, t.now())
		return nil
	}

	var outbox func(*model.Account) *model.OutboxEvent
	if t.mode == config.PublishModeOutbox {
		outbox = func(*model.Account) *model.OutboxEvent {
			return &model.OutboxEvent{AccountID: id, Topic: t.topic, Payload: wire.Marshal(event)}
		}
	}

	op := "Deposit"
	if direction == model.Debit {
		op = "Withdraw"
	}
	account, err := t.withVersionRetry(ctx, op, id, change, outbox)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("Balance committed", trace.WithAttributes(attribute.Int64("account.version", account.Version)))

	if t.mode == config.PublishModeDirect && t.publisher != nil {
		t.publisher.Publish(context.WithoutCancel(ctx), event)
	}
	return account, nil
}

// withVersionRetry reads the account, applies change and writes it back only if nobody
// else wrote in between, retrying on version conflicts. When outbox is non-nil its event
// is stored in the same transaction as the account.
func (t *Tally) withVersionRetry(
	ctx context.Context,
	op string,
	id int64,
	change func(account *model.Account) error,
	outbox func(account *model.Account) *model.OutboxEvent,
) (*model.Account, error) {
	var committed *model.Account

	err := t.policy.Do(ctx, op, func(ctx context.Context, attempt int) error {
		account, err := t.accounts.GetAccountByID(ctx, id)
		if err != nil {
			if apierror.HasCode(err, apierror.ErrNotFound) {
				return accountUnavailable(id, apierror.ErrNotFound)
			}
			return err
		}
		if !account.Visible() {
			return accountUnavailable(id, apierror.ErrNotFound)
		}

		expectedVersion := account.Version
		if err := change(account); err != nil {
			return err
		}

		var updated bool
		if outbox != nil {
			updated, err = t.accounts.UpdateAccountWithOutbox(ctx, account, expectedVersion, outbox(account))
		} else {
			updated, err = t.accounts.UpdateAccount(ctx, account, expectedVersion)
		}
		if err != nil {
			return err
		}
		if !updated {
			logrus.WithFields(logrus.Fields{
				"account_id": id,
				"attempt":    attempt,
				"version":    expectedVersion,
			}).Debug("version conflict")
			return retry.ErrVersionConflict
		}

		committed = account
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return nil, apierror.NewAPIError(apierror.ErrConcurrencyExhausted,
				fmt.Sprintf("Account %d is being updated concurrently, please retry", id), err)
		}
		return nil, err
	}

	t.invalidate(ctx, id)
	return committed, nil
}
