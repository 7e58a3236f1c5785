package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TickLease is a database-row advisory lock preventing concurrent scheduler
// ticks across processes. The lock is session-scoped, so the lease pins one
// connection until released.
type TickLease struct {
	conn *sql.Conn
}

const tickLeaseName = "pipeline_tick"

// TryAcquireTickLease attempts to take the tick lease without blocking.
// Returns (nil, nil) when another holder has it.
func (db *DB) TryAcquireTickLease(ctx context.Context) (*TickLease, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, tickLeaseName).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring tick lease: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, nil
	}
	return &TickLease{conn: conn}, nil
}

// Release gives the lease back and returns the connection to the pool
func (l *TickLease) Release(ctx context.Context) error {
	defer l.conn.Close()
	if _, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, tickLeaseName); err != nil {
		return fmt.Errorf("releasing tick lease: %w", err)
	}
	return nil
}
