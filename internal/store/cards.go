package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is the lifecycle state of a condition card.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusResolved:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Card is one consolidated record per (owner, normalized condition
// name): the longitudinal view of a single health condition.
type Card struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NormalizeConditionName produces the canonical identity key for a
// condition: trimmed and title-cased, so "headache", "Headache", and
// "HEADACHE" all resolve to the same card. Every code path that reads
// or writes by condition name must go through this function.
func NormalizeConditionName(raw string) string {
	return cases.Title(language.English).String(strings.TrimSpace(raw))
}

const cardColumns = "id, owner_id, name, status, occurrence_count, first_seen, last_seen, created_at, updated_at"

func scanCard(row pgx.Row) (Card, error) {
	var c Card
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.OccurrenceCount,
		&c.FirstSeen, &c.LastSeen, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// FindOrCreateCard resolves a reported condition to exactly one card.
// Existing cards get their occurrence count incremented, last_seen
// bumped, and a resolved status flipped back to active (the condition
// recurred). Otherwise a fresh card is inserted. Two concurrent calls
// for the same (owner, name) cannot create duplicates: the unique index
// makes the loser's insert a no-op, and it loops back to the update
// path instead of surfacing the conflict.
func (s *Store) FindOrCreateCard(ctx context.Context, ownerID, rawName string) (Card, bool, error) {
	name := NormalizeConditionName(rawName)

	for attempt := 0; attempt < 3; attempt++ {
		row := s.pool.QueryRow(ctx, `
			UPDATE condition_cards SET
				occurrence_count = occurrence_count + 1,
				last_seen = now(),
				status = $3,
				updated_at = now()
			WHERE owner_id = $1 AND name = $2
			RETURNING `+cardColumns,
			ownerID, name, StatusActive,
		)
		card, err := scanCard(row)
		if err == nil {
			return card, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Card{}, false, fmt.Errorf("update card: %w", err)
		}

		row = s.pool.QueryRow(ctx, `
			INSERT INTO condition_cards (id, owner_id, name, status, occurrence_count, first_seen, last_seen)
			VALUES ($1, $2, $3, $4, 1, now(), now())
			ON CONFLICT (owner_id, name) DO NOTHING
			RETURNING `+cardColumns,
			uuid.New(), ownerID, name, StatusActive,
		)
		card, err = scanCard(row)
		if err == nil {
			return card, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Card{}, false, fmt.Errorf("insert card: %w", err)
		}
		// Lost the creation race: another request inserted the card
		// between our update and insert. Retry as an update.
	}

	return Card{}, false, fmt.Errorf("find-or-create card %q: retries exhausted", name)
}

// GetCard fetches a single card by id.
func (s *Store) GetCard(ctx context.Context, id uuid.UUID) (Card, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM condition_cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if err != nil {
		return Card{}, notFound(err)
	}
	return card, nil
}

// GetCardByName fetches a card by owner and (normalized) name.
func (s *Store) GetCardByName(ctx context.Context, ownerID, rawName string) (Card, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cardColumns+` FROM condition_cards WHERE owner_id = $1 AND name = $2`,
		ownerID, NormalizeConditionName(rawName))
	card, err := scanCard(row)
	if err != nil {
		return Card{}, notFound(err)
	}
	return card, nil
}

// ListCardsForUser returns a user's cards, most recently reported
// first. A nil status returns all cards.
func (s *Store) ListCardsForUser(ctx context.Context, ownerID string, status *Status) ([]Card, error) {
	query := `SELECT ` + cardColumns + ` FROM condition_cards WHERE owner_id = $1`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// CountCardsForUser counts a user's cards, optionally by status.
func (s *Store) CountCardsForUser(ctx context.Context, ownerID string, status *Status) (int, error) {
	query := `SELECT count(*) FROM condition_cards WHERE owner_id = $1`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

// ResolveCard marks a card resolved. Resolving an already-resolved
// card is a no-op success.
func (s *Store) ResolveCard(ctx context.Context, id uuid.UUID) (Card, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE condition_cards SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+cardColumns,
		id, StatusResolved,
	)
	card, err := scanCard(row)
	if err != nil {
		return Card{}, notFound(err)
	}
	return card, nil
}

// DeleteCard removes a single card (and, via the foreign key, its
// logs). Returns true if a card was removed.
func (s *Store) DeleteCard(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM condition_cards WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete card: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteCardsForUser removes all of a user's cards (account deletion).
func (s *Store) DeleteCardsForUser(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM condition_cards WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete cards: %w", err)
	}
	return tag.RowsAffected(), nil
}
