package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/input"
)

// LogEntry is one immutable record per successful extraction event,
// linked to its resolved condition card. Never mutated after creation.
type LogEntry struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       string     `json:"owner_id"`
	CardID        uuid.UUID  `json:"card_id"`
	ConditionName string     `json:"condition_name"`
	Severity      int        `json:"severity"`
	Locations     []string   `json:"locations"`
	Details       string     `json:"details"`
	OccurredAt    string     `json:"occurred_at"`
	InputMode     input.Mode `json:"input_mode"`
	ResponseText  string     `json:"response_text"`
	ExtraNotes    []string   `json:"extra_notes"`
	CreatedAt     time.Time  `json:"created_at"`
}

const logColumns = "id, owner_id, card_id, condition_name, severity, locations, details, occurred_at, input_mode, response_text, extra_notes, created_at"

func scanLog(row pgx.Row) (LogEntry, error) {
	var l LogEntry
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.CardID, &l.ConditionName, &l.Severity,
		&l.Locations, &l.Details, &l.OccurredAt, &l.InputMode,
		&l.ResponseText, &l.ExtraNotes, &l.CreatedAt,
	)
	return l, err
}

// CreateLog maps an extraction result plus its resolved card into one
// immutable log entry and persists it.
func (s *Store) CreateLog(ctx context.Context, ownerID string, result *extractor.Result, mode input.Mode, cardID uuid.UUID) (LogEntry, error) {
	locations := result.Data.Locations
	if locations == nil {
		locations = []string{}
	}
	notes := result.Data.ExtraNotes
	if notes == nil {
		notes = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO condition_logs (id, owner_id, card_id, condition_name, severity, locations, details, occurred_at, input_mode, response_text, extra_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+logColumns,
		uuid.New(), ownerID, cardID, NormalizeConditionName(result.ConditionName),
		result.Data.Severity, locations, result.Data.Details, result.Data.OccurredAt,
		mode, result.ResponseText, notes,
	)
	l, err := scanLog(row)
	if err != nil {
		return LogEntry{}, fmt.Errorf("insert log: %w", err)
	}
	return l, nil
}

// GetLog fetches a single log entry by id.
func (s *Store) GetLog(ctx context.Context, id uuid.UUID) (LogEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM condition_logs WHERE id = $1`, id)
	l, err := scanLog(row)
	if err != nil {
		return LogEntry{}, notFound(err)
	}
	return l, nil
}

// ListLogsForUser returns a user's log entries, newest first.
func (s *Store) ListLogsForUser(ctx context.Context, ownerID string, limit, offset int) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+logColumns+` FROM condition_logs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	return collectLogs(rows)
}

// ListLogsForCard returns the log entries linked to one card, newest first.
func (s *Store) ListLogsForCard(ctx context.Context, cardID uuid.UUID, limit, offset int) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+logColumns+` FROM condition_logs
		WHERE card_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		cardID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs for card: %w", err)
	}
	defer rows.Close()
	return collectLogs(rows)
}

func collectLogs(rows pgx.Rows) ([]LogEntry, error) {
	var logs []LogEntry
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountLogsForUser counts all log entries for a user.
func (s *Store) CountLogsForUser(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM condition_logs WHERE owner_id = $1`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// DeleteLog removes a single log entry. Returns true if one was removed.
func (s *Store) DeleteLog(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM condition_logs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete log: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteLogsForUser removes all log entries for a user (account deletion).
func (s *Store) DeleteLogsForUser(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM condition_logs WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
