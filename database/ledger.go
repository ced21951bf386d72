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

	"go.opentelemetry.io/otel"

	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/model"
)

func (d Datasource) RecordEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Saving ledger entry to db")
	defer span.End()

	var eventKey sql.NullString
	query := `
		INSERT INTO ledger_entries (account_id, type, amount, description, timestamp, event_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if entry.EventKey != "" {
		eventKey = sql.NullString{String: entry.EventKey, Valid: true}
		query = `
		INSERT INTO ledger_entries (account_id, type, amount, description, timestamp, event_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, event_key) DO NOTHING
		RETURNING id
	`
	}

	err := d.Conn.QueryRowContext(ctx, query,
		entry.AccountID, entry.Type, entry.Amount.String(), entry.Description, entry.Timestamp, eventKey).
		Scan(&entry.ID)
	if errors.Is(err, sql.ErrNoRows) && eventKey.Valid {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}
	return true, nil
}

// GetEntriesByAccount returns the account's entries, newest first.
func (d Datasource) GetEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Fetching ledger entries from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, account_id, type, amount, description, timestamp
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY timestamp DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		var entry model.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Type, &entry.Amount, &entry.Description, &entry.Timestamp); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}
