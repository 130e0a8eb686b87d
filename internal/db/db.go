// Package db provides the optional Postgres audit store for state-transition
// events. The service runs without it; when DATABASE_URL is set, every
// published event is also recorded for offline analysis.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tripletake/tripletake/internal/events"
	"github.com/tripletake/tripletake/internal/logger"
)

// insertTimeout bounds a single audit insert so a slow database cannot
// stall the request path that published the event.
const insertTimeout = 5 * time.Second

// AuditStore wraps a PostgreSQL connection used to record events.
type AuditStore struct {
	conn *sql.DB
}

// Connect establishes a connection to PostgreSQL and ensures the audit
// table exists.
func Connect(dsn string) (*AuditStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(20 * time.Minute)

	store := &AuditStore{conn: conn}
	if err := store.ensureSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection
func (s *AuditStore) Close() error {
	return s.conn.Close()
}

// ensureSchema creates the audit table if it does not exist. The table is
// append-only, so there is no migration surface beyond creation.
func (s *AuditStore) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transition_events (
			id          BIGSERIAL PRIMARY KEY,
			event_type  TEXT NOT NULL,
			group_id    TEXT,
			session_id  TEXT,
			owner_id    TEXT,
			detail      TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create transition_events table: %w", err)
	}
	return nil
}

// Publish records the event. Implements events.Sink; failures are logged,
// never propagated, so auditing cannot fail a state transition.
func (s *AuditStore) Publish(ctx context.Context, ev events.Event) {
	// Detach from the request context so an aborted request still records
	// the transition that already happened.
	insertCtx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	_, err := s.conn.ExecContext(insertCtx, `
		INSERT INTO transition_events (event_type, group_id, session_id, owner_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(ev.Type), ev.GroupID, ev.SessionID, ev.OwnerID, ev.Detail, ev.At,
	)
	if err != nil {
		logger.Ctx(ctx).Error("failed to record transition event",
			"error", err,
			"event_type", string(ev.Type),
			"group_id", ev.GroupID,
			"session_id", ev.SessionID,
		)
	}
}
