// Package compactor keeps per-user memory summaries from growing
// without bound. Every logged condition appends a line to the running
// summary, and the whole summary rides along in every oracle
// instruction, so a long-lived user would otherwise drag months of
// history into each request. The compactor periodically condenses
// oversized summaries back down while preserving the facts the mascot
// needs: condition names, typical severities, and recent events.
package compactor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kodacare/koda/internal/gemini"
	"github.com/kodacare/koda/internal/persona"
)

const condenseInstruction = `You condense a health-tracking memory summary.
The input is a newline-separated list of logged health events for one
user, oldest first. Rewrite it as a shorter summary that keeps:
- every distinct condition name that appears,
- the typical severity and any clear trend per condition,
- the most recent few events verbatim.
Drop repetitive older entries. Respond with a JSON object containing a
single field "summary" holding the condensed text.`

const maxOutputTokens = 2048

// Config tunes one compaction run.
type Config struct {
	// Threshold is the summary length, in characters, above which a
	// record becomes a compaction candidate.
	Threshold int
	// BatchSize caps how many records one run touches.
	BatchSize int
	// DryRun condenses but does not write back.
	DryRun bool
}

// Storage is the slice of the store the compactor needs.
type Storage interface {
	ListOversizedSummaries(ctx context.Context, minChars, limit int) ([]persona.Memory, error)
	ReplaceSummary(ctx context.Context, userID, newSummary string) (persona.Memory, error)
}

// Generator produces the condensed text. *gemini.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, system string, contents []gemini.Content, maxTokens int) (string, error)
}

// Stats summarizes one compaction run.
type Stats struct {
	Candidates int `json:"candidates"`
	Compacted  int `json:"compacted"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	BytesSaved int `json:"bytes_saved"`
}

type Runner struct {
	cfg    Config
	store  Storage
	llm    Generator
	logger *slog.Logger
}

func NewRunner(cfg Config, store Storage, llm Generator, logger *slog.Logger) *Runner {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 4000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Runner{cfg: cfg, store: store, llm: llm, logger: logger}
}

// Run compacts one batch of oversized summaries. A failure on one
// record is logged and counted but does not stop the batch.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	candidates, err := r.store.ListOversizedSummaries(ctx, r.cfg.Threshold, r.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	stats := &Stats{Candidates: len(candidates)}
	r.logger.Info("compaction run starting",
		"candidates", len(candidates),
		"threshold", r.cfg.Threshold,
		"dry_run", r.cfg.DryRun,
	)

	for _, m := range candidates {
		condensed, err := r.condense(ctx, m.Summary)
		if err != nil {
			r.logger.Warn("failed to condense summary", "user_id", m.UserID, "error", err)
			stats.Failed++
			continue
		}
		if len(condensed) >= len(m.Summary) {
			// The model produced nothing shorter. Keep the original.
			r.logger.Info("condensed summary not smaller, keeping original", "user_id", m.UserID)
			stats.Skipped++
			continue
		}

		if r.cfg.DryRun {
			r.logger.Info("dry run, would compact",
				"user_id", m.UserID,
				"before", len(m.Summary),
				"after", len(condensed),
			)
			stats.Skipped++
			continue
		}

		if _, err := r.store.ReplaceSummary(ctx, m.UserID, condensed); err != nil {
			r.logger.Warn("failed to replace summary", "user_id", m.UserID, "error", err)
			stats.Failed++
			continue
		}

		stats.Compacted++
		stats.BytesSaved += len(m.Summary) - len(condensed)
		r.logger.Info("summary compacted",
			"user_id", m.UserID,
			"before", len(m.Summary),
			"after", len(condensed),
		)
	}

	return stats, nil
}

// RunPeriodically runs compaction on a fixed interval until the context
// is cancelled.
func (r *Runner) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("compaction run failed", "error", err)
			}
		}
	}
}

func (r *Runner) condense(ctx context.Context, summary string) (string, error) {
	contents := []gemini.Content{
		{Role: "user", Parts: []gemini.Part{{Text: summary}}},
	}
	raw, err := r.llm.Generate(ctx, condenseInstruction, contents, maxOutputTokens)
	if err != nil {
		return "", err
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("decode condensed summary: %w", err)
	}
	condensed := strings.TrimSpace(out.Summary)
	if condensed == "" {
		return "", fmt.Errorf("condensed summary is empty")
	}
	return condensed, nil
}
