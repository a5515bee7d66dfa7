// Package moderation handles user reports against points and proposed edits
// to point metadata, plus the admin decisions on both.
package moderation

import (
	"context"
	"errors"
	"time"

	"backend-skatespots/internal/audit"
	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"
	"backend-skatespots/internal/spot"
	"backend-skatespots/internal/stream"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var ErrNotPending = apperr.Conflict("item is no longer pending")

type Service struct {
	rdb    *redis.Client
	spots  *spot.Service
	audit  audit.Recorder
	events stream.Publisher
	now    func() time.Time
}

func NewService(rdb *redis.Client, spots *spot.Service, recorder audit.Recorder, events stream.Publisher) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{rdb: rdb, spots: spots, audit: recorder, events: events, now: time.Now}
}

func (s *Service) publish(typ string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.PointsTopic, stream.Event{Type: typ, Data: data, At: s.now().UnixMilli()})
}

// record writes an audit event. Failures are logged and never fail the
// moderation action itself.
func (s *Service) record(ctx context.Context, ev audit.Event) {
	if err := s.audit.Record(ctx, ev); err != nil {
		zap.L().Warn("moderation: audit write failed",
			zap.String("kind", ev.Kind), zap.String("target", ev.TargetID), zap.Error(err))
	}
}

// owner resolves an index key like report:<id> to its point id.
func (s *Service) owner(ctx context.Context, indexKey string, notFound error) (string, error) {
	pointID, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "moderation: resolve %s", indexKey)
	}
	return pointID, nil
}

func (s *Service) pointExists(ctx context.Context, pointID string) error {
	n, err := s.rdb.Exists(ctx, kv.PointKey(pointID)).Result()
	if err != nil {
		return eris.Wrap(err, "moderation: check point")
	}
	if n == 0 {
		return spot.ErrPointNotFound
	}
	return nil
}
