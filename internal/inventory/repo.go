package inventory

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id    TEXT PRIMARY KEY,
		stock INT  NOT NULL CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		transaction_id TEXT NOT NULL,
		product_id     TEXT NOT NULL REFERENCES products(id),
		qty            INT  NOT NULL,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (transaction_id, product_id)
	)`,
}

// Shortage describes one product that could not be reserved.
type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type ReservationRepo struct{ DB *pgxpool.Pool }

// Reserved reports whether the transaction already holds reservations.
func (r *ReservationRepo) Reserved(ctx context.Context, transactionID string) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE transaction_id = $1 AND status = 'RESERVED'`, transactionID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReserveAll locks each product row (FOR UPDATE), decrements stock and records
// the reservation. Any shortage rolls the whole transaction back.
func (r *ReservationRepo) ReserveAll(ctx context.Context, transactionID string, items []events.StockItem) (ok bool, shortages []Shortage, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback(ctx)

	for _, it := range items {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Required: it.Quantity})
			continue
		}
		if err != nil {
			return false, nil, err
		}
		if stock < it.Quantity {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Required: it.Quantity, Available: stock})
			continue
		}

		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id=$1`, it.ProductID, it.Quantity); err != nil {
			return false, nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(transaction_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')
			ON CONFLICT (transaction_id, product_id) DO NOTHING
		`, transactionID, it.ProductID, it.Quantity); err != nil {
			return false, nil, err
		}
	}

	if len(shortages) > 0 {
		return false, shortages, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// ReleaseAll returns every RESERVED quantity of the transaction to stock.
// Releasing twice is a no-op.
func (r *ReservationRepo) ReleaseAll(ctx context.Context, transactionID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT product_id, qty FROM reservations WHERE transaction_id=$1 AND status='RESERVED' FOR UPDATE`, transactionID)
	if err != nil {
		return err
	}
	type rec struct {
		pid string
		qty int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id=$1`, x.pid, x.qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status='RELEASED' WHERE transaction_id=$1 AND status='RESERVED'`, transactionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
