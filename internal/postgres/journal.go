package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/saga"
)

var JournalSchema = []string{
	`CREATE TABLE IF NOT EXISTS saga_transitions (
		id             BIGSERIAL PRIMARY KEY,
		transaction_id TEXT        NOT NULL,
		from_status    TEXT        NOT NULL DEFAULT '',
		to_status      TEXT        NOT NULL,
		event          TEXT        NOT NULL DEFAULT '',
		reason         TEXT        NOT NULL DEFAULT '',
		occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS saga_transitions_txn_idx ON saga_transitions (transaction_id, id)`,
}

// Journal is the append-only saga audit trail.
type Journal struct{ DB Querier }

func (j *Journal) Record(ctx context.Context, t saga.Transition) error {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := j.DB.Exec(ctx, `
		INSERT INTO saga_transitions(transaction_id, from_status, to_status, event, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TransactionID, string(t.From), string(t.To), t.Event, t.Reason, at,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (j *Journal) History(ctx context.Context, transactionID string) ([]saga.Transition, error) {
	rows, err := j.DB.Query(ctx, `
		SELECT transaction_id, from_status, to_status, event, reason, occurred_at
		FROM saga_transitions WHERE transaction_id=$1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []saga.Transition
	for rows.Next() {
		var t saga.Transition
		var from, to string
		if err := rows.Scan(&t.TransactionID, &from, &to, &t.Event, &t.Reason, &t.At); err != nil {
			return nil, err
		}
		t.From, t.To = saga.Status(from), saga.Status(to)
		out = append(out, t)
	}
	return out, rows.Err()
}
