package repository

import (
	"context"
	"fmt"
	"time"

	"vault-service/internal/domain"
)

// AppendEvent writes one audit row inside the caller's transaction, so the
// event and the state change it records commit or roll back together.
func (t *pgTx) AppendEvent(ctx context.Context, ev *domain.VaultLockEvent) error {
	const q = `
		INSERT INTO vault_lock_events (user_id, event_type, reason, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return t.tx.QueryRow(ctx, q, ev.UserID, ev.EventType, ev.Reason, ev.CreatedAt).Scan(&ev.ID)
}

// ListEvents is the operator/audit read surface. Rows are immutable, so no
// lock is needed.
func (s *pgStore) ListEvents(ctx context.Context, userID string, from, to *time.Time, limit int) ([]*domain.VaultLockEvent, error) {
	q := `
		SELECT id, user_id, event_type, reason, created_at
		FROM vault_lock_events
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	argIdx := 2

	if from != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		q += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}
	q += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.VaultLockEvent
	for rows.Next() {
		var ev domain.VaultLockEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
