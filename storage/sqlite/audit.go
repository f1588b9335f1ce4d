package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// AuditRepository implements storage.AuditLog.
type AuditRepository struct {
	db *DB
}

var _ storage.AuditLog = (*AuditRepository)(nil)

// NewAuditRepository creates an audit log backed by db.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append stores event.
func (r *AuditRepository) Append(ctx context.Context, event *core.AuditEvent) error {
	_, err := r.db.sqlDB.ExecContext(ctx,
		"INSERT INTO audit_events (id, actor, action, target, occurred_at) VALUES (?, ?, ?, ?, ?)",
		event.ID,
		event.Actor,
		string(event.Action),
		event.Target,
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]*core.AuditEvent, error) {
	query := "SELECT id, actor, action, target, occurred_at FROM audit_events ORDER BY seq DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []*core.AuditEvent{}
	for rows.Next() {
		var (
			event      core.AuditEvent
			action     string
			occurredAt string
		)
		if err := rows.Scan(&event.ID, &event.Actor, &action, &event.Target, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Action = core.AuditAction(action)
		if event.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("invalid audit time %q: %w", occurredAt, err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (r *AuditRepository) Close() error {
	return r.db.Close()
}
