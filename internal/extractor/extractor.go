// Package extractor invokes the extraction oracle and validates its
// structured response. It performs no retries: a malformed or empty
// response is terminal for the current request, and retry policy
// belongs to the caller.
package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kodacare/koda/internal/gemini"
	"github.com/kodacare/koda/internal/input"
)

// ErrEmptyResponse means the oracle returned no text at all.
var ErrEmptyResponse = errors.New("oracle returned an empty response")

// ErrMalformedResponse means the oracle's text did not decode to the
// expected structure. Structured output is requested from the provider,
// but the adapter re-parses rather than trusting that guarantee.
var ErrMalformedResponse = errors.New("oracle returned a malformed response")

const maxOutputTokens = 1024

// Fixed captions appended after media parts so the oracle is told what
// kind of media precedes them.
const (
	audioCaption = "(The user just sent a voice message — listen to it and respond.)"
	imageCaption = "(The user just sent a photo — describe what you see and log it.)"

	// Sent as the whole turn when the caller forces finalization with
	// no new content.
	finalizeNudge = "Please log everything we've discussed so far."
)

type Extractor struct {
	llm     *gemini.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func New(llm *gemini.Client, logger *slog.Logger) *Extractor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Extractor{llm: llm, breaker: breaker, logger: logger}
}

// rawResult mirrors Result but keeps required fields as pointers so a
// missing field can be told apart from a zero value.
type rawResult struct {
	Action        *string       `json:"action"`
	ConditionName *string       `json:"condition_name"`
	Data          ExtractedData `json:"extracted_data"`
	ResponseText  *string       `json:"response_text"`
}

// Invoke sends the composed instruction plus the normalized content
// parts (preceded by any prior turns) to the oracle and returns its
// validated structured response.
func (e *Extractor) Invoke(ctx context.Context, instruction string, parts []input.Part, history []Turn) (*Result, error) {
	contents := buildContents(parts, history)

	e.logger.Info("invoking oracle",
		"parts", len(parts),
		"history_turns", len(history),
		"instruction_len", len(instruction),
	)

	raw, err := e.breaker.Execute(func() (any, error) {
		return e.llm.Generate(ctx, instruction, contents, maxOutputTokens)
	})
	if errors.Is(err, gemini.ErrNoContent) {
		return nil, ErrEmptyResponse
	}
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}

	text := raw.(string)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var resp rawResult
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		e.logger.Error("failed to parse oracle response", "error", err, "raw", truncate(text, 200))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result, err := resp.validate()
	if err != nil {
		e.logger.Error("oracle response failed validation", "error", err, "raw", truncate(text, 200))
		return nil, err
	}

	e.logger.Info("extraction complete",
		"action", string(result.Action),
		"condition_name", result.ConditionName,
	)
	return result, nil
}

func (r rawResult) validate() (*Result, error) {
	if r.Action == nil {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedResponse)
	}
	if r.ResponseText == nil || *r.ResponseText == "" {
		return nil, fmt.Errorf("%w: missing response_text", ErrMalformedResponse)
	}
	action := Action(*r.Action)
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, *r.Action)
	}
	name := ""
	if r.ConditionName != nil {
		name = *r.ConditionName
	}
	if action == ActionUpdateCondition && name == "" {
		return nil, fmt.Errorf("%w: update_condition without condition_name", ErrMalformedResponse)
	}
	return &Result{
		Action:        action,
		ConditionName: name,
		Data:          r.Data,
		ResponseText:  *r.ResponseText,
	}, nil
}

// buildContents assembles the multi-turn request: prior turns first,
// then one user turn holding the current content parts. Media parts are
// each followed by a short caption.
func buildContents(parts []input.Part, history []Turn) []gemini.Content {
	var contents []gemini.Content
	for _, turn := range history {
		role := "model"
		if turn.Role == "user" {
			role = "user"
		}
		contents = append(contents, gemini.Content{
			Role:  role,
			Parts: []gemini.Part{{Text: turn.Text}},
		})
	}

	var current []gemini.Part
	for _, p := range parts {
		switch p.Kind {
		case input.KindAudio:
			current = append(current,
				gemini.Part{InlineData: &gemini.InlineData{
					MIMEType: p.ContentType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				}},
				gemini.Part{Text: audioCaption},
			)
		case input.KindImage:
			current = append(current,
				gemini.Part{InlineData: &gemini.InlineData{
					MIMEType: p.ContentType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				}},
				gemini.Part{Text: imageCaption},
			)
		default:
			current = append(current, gemini.Part{Text: string(p.Data)})
		}
	}
	if len(current) == 0 {
		current = append(current, gemini.Part{Text: finalizeNudge})
	}

	return append(contents, gemini.Content{Role: "user", Parts: current})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
