// Package pipeline runs one patient report end to end: normalize the
// input, compose the oracle instruction from the user's persona and
// memory, invoke the extraction oracle, and, when the oracle signals a
// loggable health event, upsert the condition card, persist the log
// entry, and append to the running memory summary.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kodacare/koda/internal/events"
	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/input"
	"github.com/kodacare/koda/internal/persona"
	"github.com/kodacare/koda/internal/store"
)

// Storage is the slice of the store the pipeline needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Storage interface {
	GetOrCreateMemory(ctx context.Context, userID string) (persona.Memory, error)
	AppendSummaryLine(ctx context.Context, userID, line string) (persona.Memory, error)
	FindOrCreateCard(ctx context.Context, ownerID, rawName string) (store.Card, bool, error)
	CreateLog(ctx context.Context, ownerID string, result *extractor.Result, mode input.Mode, cardID uuid.UUID) (store.LogEntry, error)
}

// Oracle is the extraction adapter. *extractor.Extractor satisfies it.
type Oracle interface {
	Invoke(ctx context.Context, instruction string, parts []input.Part, history []extractor.Turn) (*extractor.Result, error)
}

// Publisher is the optional event side channel. *events.Client
// satisfies it; a nil Publisher disables publication.
type Publisher interface {
	Publish(subject string, data any) error
}

// Options tunes one Process call.
type Options struct {
	// ForceLog instructs the oracle to log now, inferring unset fields
	// from conversation context, even if the current input is empty.
	ForceLog bool
	// History is the prior conversation, oldest first.
	History []extractor.Turn
}

// MemoryContext tells the caller what the mascot knew when it answered.
type MemoryContext struct {
	MascotName         string `json:"mascot_name"`
	NameUsed           string `json:"name_used"`
	Tone               string `json:"tone"`
	SummaryLength      int    `json:"summary_length"`
	IsFirstInteraction bool   `json:"is_first_interaction"`
}

// Result is returned to the caller after one full pipeline run. CardID,
// WasNewCard, and LogID are present only when the oracle's action was
// update_condition.
type Result struct {
	Action        extractor.Action        `json:"action"`
	ConditionName string                  `json:"condition_name"`
	Data          extractor.ExtractedData `json:"extracted_data"`
	ResponseText  string                  `json:"response_text"`
	MemoryContext MemoryContext           `json:"memory_context"`
	CardID        *uuid.UUID              `json:"card_id,omitempty"`
	WasNewCard    *bool                   `json:"was_new_card,omitempty"`
	LogID         *uuid.UUID              `json:"log_id,omitempty"`
}

type Pipeline struct {
	storage Storage
	oracle  Oracle
	events  Publisher
	logger  *slog.Logger
}

// New builds a pipeline. events may be nil.
func New(storage Storage, oracle Oracle, events Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{storage: storage, oracle: oracle, events: events, logger: logger}
}

// Process handles one report for one user. Input validation happens
// before any external call; oracle and storage errors are propagated
// unchanged. A failure after validation leaves no card, log, or memory
// mutation behind.
func (p *Pipeline) Process(ctx context.Context, userID string, raw input.Raw, opts Options) (*Result, error) {
	parts, mode, err := input.Normalize(raw, opts.ForceLog)
	if err != nil {
		return nil, err
	}

	memory, err := p.storage.GetOrCreateMemory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}

	p.logger.Info("processing report",
		"user_id", userID,
		"input_mode", string(mode),
		"force_log", opts.ForceLog,
		"summary_len", len(memory.Summary),
	)

	instruction := persona.Compose(memory.Preferences, memory.Summary, time.Now(), opts.ForceLog)

	extracted, err := p.oracle.Invoke(ctx, instruction, parts, opts.History)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Action:        extracted.Action,
		ConditionName: extracted.ConditionName,
		Data:          extracted.Data,
		ResponseText:  extracted.ResponseText,
		MemoryContext: MemoryContext{
			MascotName:         memory.Preferences.MascotName,
			NameUsed:           memory.Preferences.NameUsed,
			Tone:               memory.Preferences.Tone,
			SummaryLength:      len(memory.Summary),
			IsFirstInteraction: memory.IsFirstInteraction(),
		},
	}

	if extracted.Action != extractor.ActionUpdateCondition || extracted.ConditionName == "" {
		return result, nil
	}

	card, wasNew, err := p.storage.FindOrCreateCard(ctx, userID, extracted.ConditionName)
	if err != nil {
		return nil, fmt.Errorf("upsert card: %w", err)
	}

	entry, err := p.storage.CreateLog(ctx, userID, extracted, mode, card.ID)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}

	// Memory is appended last: logs are authoritative, the summary is
	// advisory context for future instructions.
	if _, err := p.storage.AppendSummaryLine(ctx, userID, summaryLine(card.Name, extracted.Data)); err != nil {
		return nil, fmt.Errorf("append summary: %w", err)
	}

	result.CardID = &card.ID
	result.WasNewCard = &wasNew
	result.LogID = &entry.ID

	p.logger.Info("condition logged",
		"user_id", userID,
		"card_id", card.ID,
		"log_id", entry.ID,
		"condition_name", card.Name,
		"was_new_card", wasNew,
		"occurrence_count", card.OccurrenceCount,
	)

	p.publishLogged(userID, card, entry, wasNew, mode, extracted.ResponseText)

	return result, nil
}

// publishLogged notifies downstream consumers (e.g. the speech
// renderer). Best effort only: failures are logged and dropped.
func (p *Pipeline) publishLogged(userID string, card store.Card, entry store.LogEntry, wasNew bool, mode input.Mode, responseText string) {
	if p.events == nil {
		return
	}
	err := p.events.Publish(events.SubjectConditionLogged, events.ConditionLogged{
		UserID:        userID,
		CardID:        card.ID.String(),
		LogID:         entry.ID.String(),
		ConditionName: card.Name,
		WasNewCard:    wasNew,
		InputMode:     string(mode),
		ResponseText:  responseText,
	})
	if err != nil {
		p.logger.Warn("failed to publish condition logged event", "error", err)
	}
}

// summaryLine renders the one-line recap appended to the user's
// running memory after each logged event.
func summaryLine(name string, data extractor.ExtractedData) string {
	occurred := data.OccurredAt
	if occurred == "" {
		occurred = "unknown time"
	}
	line := fmt.Sprintf("%s: severity %d/10, locations [%s], %s (%s)",
		name, data.Severity, strings.Join(data.Locations, ", "), data.Details, occurred)
	if len(data.ExtraNotes) > 0 {
		line += fmt.Sprintf(" [notes: %s]", strings.Join(data.ExtraNotes, "; "))
	}
	return line
}
