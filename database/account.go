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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/model"
)

const accountColumns = "id, account_holder, customer_id, type, balance, status, deleted, version, created_at, updated_at"

func (d Datasource) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Saving account to db")
	defer span.End()

	if account.Status == "" {
		account.Status = model.AccountStatusActive
	}
	account.Version = 0
	account.Deleted = false

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO accounts (account_holder, customer_id, type, balance, status, deleted, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, account.AccountHolder, account.CustomerID, account.Type, account.Balance.String(), account.Status, account.Deleted, account.Version).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}
	return account, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*model.Account, error) {
	account := &model.Account{}
	err := row.Scan(&account.ID, &account.AccountHolder, &account.CustomerID, &account.Type, &account.Balance,
		&account.Status, &account.Deleted, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (d Datasource) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Fetching account from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%d' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}
	return account, nil
}

func (d Datasource) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Listing accounts from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE deleted = false
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account data", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over accounts", err)
	}
	return accounts, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateAccount(ctx context.Context, db execer, account *model.Account, expectedVersion int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $2, status = $3, deleted = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
	`, account.ID, account.Balance.String(), account.Status, account.Deleted, expectedVersion)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	account.Version = expectedVersion + 1
	return true, nil
}

func (d Datasource) UpdateAccount(ctx context.Context, account *model.Account, expectedVersion int64) (bool, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Updating account in db")
	defer span.End()

	return updateAccount(ctx, d.Conn, account, expectedVersion)
}

func (d Datasource) UpdateAccountWithOutbox(ctx context.Context, account *model.Account, expectedVersion int64, event *model.OutboxEvent) (bool, error) {
	ctx, span := otel.Tracer("Account").Start(ctx, "Updating account with outbox event")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	updated, err := updateAccount(ctx, tx, account, expectedVersion)
	if err != nil || !updated {
		return false, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO outbox_events (account_id, topic, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, event.AccountID, event.Topic, event.Payload).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		account.Version = expectedVersion
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		account.Version = expectedVersion
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return true, nil
}
