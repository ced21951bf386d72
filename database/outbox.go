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
	"time"

	"github.com/tallyfinance/tally/internal/apierror"
	"github.com/tallyfinance/tally/model"
)

// GetPendingOutboxEvents returns unpublished events, oldest first.
func (d Datasource) GetPendingOutboxEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, account_id, topic, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve outbox events", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.ID, &event.AccountID, &event.Topic, &event.Payload, &event.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outbox event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over outbox events", err)
	}
	return events, nil
}

func (d Datasource) MarkOutboxEventPublished(ctx context.Context, id int64) error {
	_, err := d.Conn.ExecContext(ctx, `UPDATE outbox_events SET published_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox event published", err)
	}
	return nil
}
