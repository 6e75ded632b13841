package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/fieldline/internal/client/audit"
)

// Append stores one journal entry.
// Returns false if an entry with the same id is already journaled: the
// primary key makes repeated exports idempotent.
func (s *Storage) Append(ctx context.Context, entry *audit.Entry) (bool, error) {
	query := `
		INSERT OR IGNORE INTO sync_audit (
			id, kind, entity_type, entity_id, detail,
			occurred_at, exported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.EntityType,
		entry.EntityID,
		entry.Detail,
		entry.OccurredAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Entries returns journaled entries, newest first
func (s *Storage) Entries(ctx context.Context, kind audit.Kind, limit int) ([]*audit.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, kind, entity_type, entity_id, detail, occurred_at
		FROM sync_audit
	`)

	var args []any
	if kind != "" {
		sb.WriteString(" WHERE kind = ?")
		args = append(args, string(kind))
	}
	sb.WriteString(" ORDER BY occurred_at DESC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*audit.Entry, error) {
	var entries []*audit.Entry

	for rows.Next() {
		entry := &audit.Entry{}
		var kind string
		var occurredAt int64

		if err := rows.Scan(
			&entry.ID,
			&kind,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Detail,
			&occurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Kind = audit.Kind(kind)
		entry.OccurredAt = time.Unix(occurredAt, 0)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}
