package audit

import (
	"context"

	"backend-skatespots/internal/db"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Recorder is implemented by anything that can persist moderation events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS moderation_events (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	point_id   TEXT NOT NULL,
	actor      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (s *Service) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "audit: create schema")
	}
	return nil
}

func (s *Service) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO moderation_events (id, kind, target_id, point_id, actor, outcome, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ev.ID, ev.Kind, ev.TargetID, ev.PointID, ev.Actor, ev.Outcome, ev.Notes)
	if err != nil {
		return eris.Wrap(err, "audit: insert event")
	}
	return nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, target_id, point_id, actor, outcome, notes, created_at
		FROM moderation_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list events")
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.TargetID, &ev.PointID, &ev.Actor, &ev.Outcome, &ev.Notes, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "audit: scan event")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Nop discards events. It stands in when Postgres is not configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
