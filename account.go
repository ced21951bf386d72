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
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/internal/cache"
	"github.com/tallyfinance/tally/model"
)

// accountUnavailable hides whether an account is missing, deleted or closed.
func accountUnavailable(id int64, code apierror.ErrorCode) error {
	return apierror.NewAPIError(code, fmt.Sprintf("Account %d not found or not active", id), nil)
}

func (t *Tally) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	ctx, span := tracer.Start(ctx, "CreateAccount")
	defer span.End()

	if !model.ValidAccountType(account.Type) {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid account type '%s'", account.Type), nil)
	}
	if account.Balance.IsNegative() {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Initial balance must not be negative", nil)
	}
	if !model.FitsScale(account.Balance) {
		return model.Account{}, scaleError("Initial balance")
	}
	account.Status = model.AccountStatusActive

	created, err := t.accounts.CreateAccount(ctx, account)
	if err != nil {
		span.RecordError(err)
		return model.Account{}, err
	}
	logrus.WithField("account_id", created.ID).Info("account created")
	return created, nil
}

// GetAccount returns a visible account, from the cache when one is configured.
func (t *Tally) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	ctx, span := tracer.Start(ctx, "GetAccount")
	defer span.End()

	if account, ok := t.cachedAccount(ctx, id); ok {
		return account, nil
	}

	account, err := t.accounts.GetAccountByID(ctx, id)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, accountUnavailable(id, apierror.ErrNotFound)
		}
		return nil, err
	}
	if !account.Visible() {
		return nil, accountUnavailable(id, apierror.ErrNotFound)
	}

	t.cacheAccount(ctx, account)
	return account, nil
}

// MaxPageSize caps one page of GetAllAccounts. Larger sizes are clamped to it.
const MaxPageSize = 2000

// GetAllAccounts lists non-deleted accounts, page counting from zero.
func (t *Tally) GetAllAccounts(ctx context.Context, page, size int) ([]model.Account, error) {
	ctx, span := tracer.Start(ctx, "GetAllAccounts")
	defer span.End()

	if page < 0 || size <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "page must be >= 0 and size > 0", nil)
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > math.MaxInt/size {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("page %d is out of range", page), nil)
	}
	return t.accounts.GetAllAccounts(ctx, size, page*size)
}

// DeleteAccount closes the account and hides it. The row is kept.
func (t *Tally) DeleteAccount(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "DeleteAccount")
	defer span.End()

	_, err := t.withVersionRetry(ctx, "SoftDelete", id, func(account *model.Account) error {
		account.Status = model.AccountStatusClosed
		account.Deleted = true
		return nil
	}, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithField("account_id", id).Info("account soft deleted")
	return nil
}

func (t *Tally) cachedAccount(ctx context.Context, id int64) (*model.Account, bool) {
	if t.cache == nil {
		return nil, false
	}
	raw, found, err := t.cache.Get(ctx, cache.AccountKey(id))
	if err != nil {
		logrus.Warnf("account cache read failed: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var account model.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, false
	}
	if !account.Visible() {
		return nil, false
	}
	return &account, true
}

func (t *Tally) cacheAccount(ctx context.Context, account *model.Account) {
	if t.cache == nil {
		return
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := t.cache.Add(ctx, cache.AccountKey(account.ID), raw, t.cacheTTL); err != nil {
		logrus.Warnf("account cache write failed: %v", err)
	}
}

// invalidationHold outlasts the gap between a lookup's store read and its cache write.
const invalidationHold = 2 * time.Second

func (t *Tally) invalidate(ctx context.Context, id int64) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Invalidate(ctx, cache.AccountKey(id), invalidationHold); err != nil {
		logrus.WithField("account_id", id).Warnf("account cache invalidation failed: %v", err)
	}
}
