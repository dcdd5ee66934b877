package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JournalEntry struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// Journal keeps a durable record of every event handed to the publisher.
type Journal interface {
	Record(ctx context.Context, ev Event, payload []byte) (int64, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64) error
	Unpublished(ctx context.Context, olderThan time.Time, limit int) ([]JournalEntry, error)
}

type PgJournal struct {
	pool *pgxpool.Pool
}

func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

func (j *PgJournal) Record(ctx context.Context, ev Event, payload []byte) (int64, error) {
	var apptID *uuid.UUID
	if ev.AppointmentID != uuid.Nil {
		id := ev.AppointmentID
		apptID = &id
	}

	var id int64
	err := j.pool.QueryRow(ctx, `
		INSERT INTO event_logs (event_id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, ev.ID, ev.Type, apptID, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event log: %w", err)
	}
	return id, nil
}

func (j *PgJournal) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := j.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = $2,
		    attempts = attempts + 1
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark event %d published: %w", id, err)
	}
	return nil
}

func (j *PgJournal) MarkFailed(ctx context.Context, id int64) error {
	_, err := j.pool.Exec(ctx, `UPDATE event_logs SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event %d failed: %w", id, err)
	}
	return nil
}

func (j *PgJournal) Unpublished(ctx context.Context, olderThan time.Time, limit int) ([]JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, attempts, created_at
		FROM event_logs
		WHERE published_at IS NULL
		  AND created_at < $1
		ORDER BY id
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (JournalEntry, error) {
		var e JournalEntry
		err := row.Scan(&e.ID, &e.EventType, &e.AppointmentID, &e.Payload, &e.Attempts, &e.CreatedAt)
		return e, err
	})
}
