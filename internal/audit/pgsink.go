package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink persists audit events to PostgreSQL.
type PGSink struct {
	db *pgxpool.Pool
}

func NewPGSink(db *pgxpool.Pool) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Record(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_events (
			ts, request_id, principal_id, provider, model, operation,
			outcome_kind, latency_ms, prompt_tokens, completion_tokens, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.Timestamp, e.RequestID, e.PrincipalID, e.Provider, e.Model,
		e.Operation, e.OutcomeKind, e.LatencyMs, e.PromptTokens,
		e.CompletionTokens, e.Message,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Summary aggregates one principal's recorded invocations.
type Summary struct {
	Requests    int64 `json:"requests"`
	TotalTokens int64 `json:"total_tokens"`
	Errors      int64 `json:"errors"`
}

func (s *PGSink) Summarize(ctx context.Context, principalID string, since time.Time) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(sum(prompt_tokens + completion_tokens), 0),
		       count(*) FILTER (WHERE outcome_kind <> 'success')
		FROM audit_events
		WHERE principal_id = $1 AND ts >= $2
	`, principalID, since).Scan(&sum.Requests, &sum.TotalTokens, &sum.Errors)
	if err != nil {
		return nil, fmt.Errorf("summarize audit events: %w", err)
	}
	return &sum, nil
}
