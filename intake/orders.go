// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CreateOrder opens a new payment order for a session. Any prior
// pending order for the same session is marked superseded in the same
// transaction, so at most one order per session can ever reach
// verified through ClaimOrderVerified.
func (s *Store) CreateOrder(ctx context.Context, intakeID string, amount int64, currency string) (*PaymentOrder, error) {
	lock := s.sessionLock(intakeID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if _, err := s.sessionStatus(conn, intakeID); err != nil {
		return nil, err
	}

	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn,
		`UPDATE payment_order SET status = ? WHERE intake_id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(OrderSuperseded), intakeID, string(OrderPending),
		}})
	if err != nil {
		return nil, fmt.Errorf("intake: superseding prior orders for %s: %w", intakeID, err)
	}

	now := s.clock.Now()
	order := &PaymentOrder{
		OrderID:   uuid.NewString(),
		IntakeID:  intakeID,
		Amount:    amount,
		Currency:  currency,
		Status:    OrderPending,
		CreatedAt: now.UTC(),
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO payment_order (order_id, intake_id, amount, currency, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			order.OrderID, intakeID, amount, currency, string(OrderPending), now.Unix(),
		}})
	if err != nil {
		return nil, fmt.Errorf("intake: creating order for %s: %w", intakeID, err)
	}

	s.logger.Info("payment order created",
		"intake_id", intakeID,
		"order_id", order.OrderID,
		"amount", amount,
		"currency", currency,
	)
	return order, nil
}

// GetOrder loads one payment order by ID. Returns ErrNotFound for
// unknown IDs.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return loadOrder(conn, orderID)
}

func loadOrder(conn *sqlite.Conn, orderID string) (*PaymentOrder, error) {
	var order *PaymentOrder
	err := sqlitex.Execute(conn,
		`SELECT intake_id, amount, currency, status, payment_id, signature, created_at, verified_at
		 FROM payment_order WHERE order_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{orderID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				order = &PaymentOrder{
					OrderID:   orderID,
					IntakeID:  stmt.ColumnText(0),
					Amount:    stmt.ColumnInt64(1),
					Currency:  stmt.ColumnText(2),
					Status:    OrderStatus(stmt.ColumnText(3)),
					PaymentID: stmt.ColumnText(4),
					Signature: stmt.ColumnText(5),
					CreatedAt: time.Unix(stmt.ColumnInt64(6), 0).UTC(),
				}
				if stmt.ColumnType(7) != sqlite.TypeNull {
					verifiedAt := time.Unix(stmt.ColumnInt64(7), 0).UTC()
					order.VerifiedAt = &verifiedAt
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("intake: loading order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("intake: order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

// ClaimOrderVerified attempts the pending→verified compare-and-swap
// for an order, recording the payment ID and signature that won. The
// returned flag is true for exactly one caller per order; every later
// caller gets false plus the already-verified order so it can decide
// whether the duplicate matches.
func (s *Store) ClaimOrderVerified(ctx context.Context, orderID, paymentID, signature string) (claimed bool, order *PaymentOrder, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, nil, err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`UPDATE payment_order
		 SET status = ?, payment_id = ?, signature = ?, verified_at = ?
		 WHERE order_id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(OrderVerified), paymentID, signature, now.Unix(),
			orderID, string(OrderPending),
		}})
	if err != nil {
		return false, nil, fmt.Errorf("intake: claiming order %s: %w", orderID, err)
	}
	claimed = conn.Changes() == 1

	order, err = loadOrder(conn, orderID)
	if err != nil {
		return false, nil, err
	}
	return claimed, order, nil
}

// MarkOrderStatus records a non-verified outcome (signature_invalid or
// provider_failed) on a pending order. Verified orders are immutable;
// attempting to overwrite one is a conflict.
func (s *Store) MarkOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE payment_order SET status = ? WHERE order_id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(status), orderID, string(OrderPending),
		}})
	if err != nil {
		return fmt.Errorf("intake: marking order %s %s: %w", orderID, status, err)
	}
	if conn.Changes() == 0 {
		order, err := loadOrder(conn, orderID)
		if err != nil {
			return err
		}
		return fmt.Errorf("intake: order %s already %s: %w", orderID, order.Status, ErrConflict)
	}
	return nil
}
