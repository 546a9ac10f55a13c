package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kodacare/koda/internal/persona"
)

const memoryColumns = "user_id, tone, name_used, mascot_name, summary, created_at, updated_at"

// PreferencesPatch carries a partial preferences update; nil fields are
// left unchanged.
type PreferencesPatch struct {
	Tone       *string
	NameUsed   *string
	MascotName *string
}

func scanMemory(row pgx.Row) (persona.Memory, error) {
	var m persona.Memory
	err := row.Scan(
		&m.UserID,
		&m.Preferences.Tone,
		&m.Preferences.NameUsed,
		&m.Preferences.MascotName,
		&m.Summary,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// GetMemory fetches the memory record for a user.
func (s *Store) GetMemory(ctx context.Context, userID string) (persona.Memory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+memoryColumns+`
		FROM memory
		WHERE user_id = $1`,
		userID,
	)
	m, err := scanMemory(row)
	if err != nil {
		return persona.Memory{}, notFound(err)
	}
	return m, nil
}

// GetOrCreateMemory returns the existing record or creates one with
// default preferences and an empty summary. The primary key on user_id
// keeps concurrent first calls from creating two records.
func (s *Store) GetOrCreateMemory(ctx context.Context, userID string) (persona.Memory, error) {
	defaults := persona.DefaultPreferences()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory (user_id, tone, name_used, mascot_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, defaults.Tone, defaults.NameUsed, defaults.MascotName,
	)
	if err != nil {
		return persona.Memory{}, fmt.Errorf("create memory: %w", err)
	}
	return s.GetMemory(ctx, userID)
}

// UpdatePreferences merges only the supplied fields into the user's
// preferences, creating the memory record first if needed.
func (s *Store) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (persona.Memory, error) {
	if _, err := s.GetOrCreateMemory(ctx, userID); err != nil {
		return persona.Memory{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE memory SET
			tone = COALESCE($2, tone),
			name_used = COALESCE($3, name_used),
			mascot_name = COALESCE($4, mascot_name),
			updated_at = now()
		WHERE user_id = $1
		RETURNING `+memoryColumns,
		userID, patch.Tone, patch.NameUsed, patch.MascotName,
	)
	m, err := scanMemory(row)
	if err != nil {
		return persona.Memory{}, fmt.Errorf("update preferences: %w", err)
	}
	return m, nil
}

// AppendSummaryLine concatenates a line onto the running summary,
// newline-separated. The summary is append-only from the core's point
// of view; compaction happens elsewhere via ReplaceSummary.
func (s *Store) AppendSummaryLine(ctx context.Context, userID, line string) (persona.Memory, error) {
	if _, err := s.GetOrCreateMemory(ctx, userID); err != nil {
		return persona.Memory{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE memory SET
			summary = CASE WHEN summary = '' THEN $2 ELSE summary || E'\n' || $2 END,
			updated_at = now()
		WHERE user_id = $1
		RETURNING `+memoryColumns,
		userID, line,
	)
	m, err := scanMemory(row)
	if err != nil {
		return persona.Memory{}, fmt.Errorf("append summary: %w", err)
	}
	return m, nil
}

// ReplaceSummary overwrites the running summary, for callers that have
// pre-computed a condensed version.
func (s *Store) ReplaceSummary(ctx context.Context, userID, newSummary string) (persona.Memory, error) {
	if _, err := s.GetOrCreateMemory(ctx, userID); err != nil {
		return persona.Memory{}, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE memory SET summary = $2, updated_at = now()
		WHERE user_id = $1
		RETURNING `+memoryColumns,
		userID, newSummary,
	)
	m, err := scanMemory(row)
	if err != nil {
		return persona.Memory{}, fmt.Errorf("replace summary: %w", err)
	}
	return m, nil
}

// ListOversizedSummaries returns memory records whose running summary
// has grown past minChars, least recently updated first, so compaction
// picks up the records that have waited longest.
func (s *Store) ListOversizedSummaries(ctx context.Context, minChars, limit int) ([]persona.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memoryColumns+`
		FROM memory
		WHERE length(summary) > $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		minChars, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list oversized summaries: %w", err)
	}
	defer rows.Close()

	var memories []persona.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// DeleteMemory removes a user's memory record (account deletion).
// Returns true if a record was actually removed.
func (s *Store) DeleteMemory(ctx context.Context, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
