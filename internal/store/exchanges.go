// ABOUTME: Exchange records for the activity log
// ABOUTME: Provides the Exchange struct plus insert and recent-history queries

package store

import (
	"context"
	"fmt"
	"time"
)

// Outcome describes how an exchange with the agent ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
	OutcomeBusy    Outcome = "busy"
)

// Exchange is one round trip through the agent: a chat reply or a
// heartbeat run. Prompt and reply bodies are not stored, only their
// sizes; the log is operational history, not a transcript.
type Exchange struct {
	TaskID      string        `json:"task_id"`
	Kind        string        `json:"kind"`
	ChatID      *int64        `json:"chat_id,omitempty"`
	PromptChars int           `json:"prompt_chars"`
	ReplyChars  int           `json:"reply_chars"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"-"`
	ElapsedMS   int64         `json:"elapsed_ms"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RecordExchange persists one exchange record. A zero CreatedAt is
// filled with the current time.
func (s *Store) RecordExchange(ctx context.Context, ex *Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	ex.ElapsedMS = ex.Elapsed.Milliseconds()

	query := `
		INSERT INTO exchanges (
			task_id, kind, chat_id, prompt_chars, reply_chars, outcome, error, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errText *string
	if ex.Error != "" {
		errText = &ex.Error
	}

	_, err := s.db.ExecContext(ctx, query,
		ex.TaskID,
		ex.Kind,
		ex.ChatID,
		ex.PromptChars,
		ex.ReplyChars,
		string(ex.Outcome),
		errText,
		ex.ElapsedMS,
		ex.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("recorded exchange",
		"task_id", ex.TaskID,
		"kind", ex.Kind,
		"outcome", ex.Outcome,
		"elapsed_ms", ex.ElapsedMS,
	)
	return nil
}

// RecentExchanges returns the newest exchanges first. The limit is
// clamped to 1-500 and defaults to 50 when non-positive.
func (s *Store) RecentExchanges(ctx context.Context, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT task_id, kind, chat_id, prompt_chars, reply_chars, outcome, error, elapsed_ms, created_at
		FROM exchanges
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		ex := &Exchange{}
		var outcome, createdAt string
		var errText *string

		if err := rows.Scan(
			&ex.TaskID,
			&ex.Kind,
			&ex.ChatID,
			&ex.PromptChars,
			&ex.ReplyChars,
			&outcome,
			&errText,
			&ex.ElapsedMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}

		ex.Outcome = Outcome(outcome)
		if errText != nil {
			ex.Error = *errText
		}
		ex.Elapsed = time.Duration(ex.ElapsedMS) * time.Millisecond
		ex.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}

	return exchanges, nil
}
