package spot

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"
	"backend-skatespots/internal/shared/geo"
	"backend-skatespots/internal/stream"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	ErrPointNotFound      = apperr.NotFound("point not found")
	ErrNotOwner           = apperr.Forbidden("only the creator or an admin can do this")
	ErrNameRequired       = apperr.Invalid("name is required")
	ErrNameTooLong        = apperr.Invalid("name must be at most 100 characters")
	ErrInvalidType        = apperr.Invalid("type must be one of street, park, diy")
	ErrInvalidCoordinates = apperr.Invalid("coordinates must be [lat, lng] within valid ranges")
	ErrDescriptionTooLong = apperr.Invalid("description must be at most 1000 characters")
	ErrIdentityRequired   = apperr.Invalid("creator email is required")
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000
)

// DeleteHook runs after a point and its own collections were removed, for
// data owned by other packages (meetups).
type DeleteHook func(ctx context.Context, pointID string) error

type Service struct {
	rdb    *redis.Client
	events stream.Publisher
	now    func() time.Time
	hooks  []DeleteHook
}

func NewService(rdb *redis.Client, events stream.Publisher) *Service {
	return &Service{rdb: rdb, events: events, now: time.Now}
}

func (s *Service) OnDelete(h DeleteHook) {
	s.hooks = append(s.hooks, h)
}

func (s *Service) publish(typ string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.PointsTopic, stream.Event{Type: typ, Data: data, At: s.now().UnixMilli()})
}

func validateCreate(in CreateInput) (CreateInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))

	if in.Name == "" {
		return in, ErrNameRequired
	}
	if len([]rune(in.Name)) > maxNameLen {
		return in, ErrNameTooLong
	}
	if in.Type == "" {
		in.Type = TypeStreet
	}
	if !ValidType(in.Type) {
		return in, ErrInvalidType
	}
	if len(in.Coordinates) != 2 || !geo.ValidCoordinates(in.Coordinates[0], in.Coordinates[1]) {
		return in, ErrInvalidCoordinates
	}
	if len([]rune(in.Description)) > maxDescriptionLen {
		return in, ErrDescriptionTooLong
	}
	return in, nil
}

func (s *Service) CreatePoint(ctx context.Context, in CreateInput, createdBy string) (Point, error) {
	in, err := validateCreate(in)
	if err != nil {
		return Point{}, err
	}
	if createdBy == "" {
		return Point{}, ErrIdentityRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Point{}, eris.Wrap(err, "spot: generate id")
	}
	now := s.now().UnixMilli()
	p := Point{
		ID:          id.String(),
		Name:        in.Name,
		Type:        in.Type,
		Coordinates: [2]float64{in.Coordinates[0], in.Coordinates[1]},
		CreatedBy:   createdBy,
		CreatedAt:   now,
		LastUpdated: now,
		Description: in.Description,
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := kv.SetJSON(ctx, pipe, kv.PointKey(p.ID), p, 0); err != nil {
			return err
		}
		pipe.SAdd(ctx, kv.PointIDsKey, p.ID)
		return nil
	})
	if err != nil {
		return Point{}, eris.Wrap(err, "spot: save point")
	}

	s.publish("point.created", p)
	return p, nil
}

func (s *Service) GetPoint(ctx context.Context, id string) (Point, error) {
	var p Point
	if err := kv.GetJSON(ctx, s.rdb, kv.PointKey(id), &p); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Point{}, ErrPointNotFound
		}
		return Point{}, err
	}
	return p, nil
}

// ListPoints returns every point ordered by creation time.
func (s *Service) ListPoints(ctx context.Context) ([]Point, error) {
	ids, err := s.rdb.SMembers(ctx, kv.PointIDsKey).Result()
	if err != nil {
		return nil, eris.Wrap(err, "spot: list point ids")
	}
	points := []Point{}
	if len(ids) == 0 {
		return points, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = kv.PointKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "spot: load points")
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p Point
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			zap.L().Warn("spot: skip undecodable point", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].CreatedAt != points[j].CreatedAt {
			return points[i].CreatedAt < points[j].CreatedAt
		}
		return points[i].ID < points[j].ID
	})
	return points, nil
}

// Views loads comments, votes, pending proposals and, for admins, reports for
// each point in a single pipeline round trip.
func (s *Service) Views(ctx context.Context, points []Point, includeReports bool) ([]PointView, error) {
	views := make([]PointView, 0, len(points))
	if len(points) == 0 {
		return views, nil
	}

	type cmds struct {
		comments, likes, reports, proposals *redis.StringSliceCmd
	}
	pending := make([]cmds, len(points))
	pipe := s.rdb.Pipeline()
	for i, p := range points {
		pending[i].comments = pipe.HVals(ctx, kv.CommentsKey(p.ID))
		pending[i].likes = pipe.HVals(ctx, kv.LikesKey(p.ID))
		pending[i].proposals = pipe.HVals(ctx, kv.ProposalsKey(p.ID))
		if includeReports {
			pending[i].reports = pipe.HVals(ctx, kv.ReportsKey(p.ID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, eris.Wrap(err, "spot: load point collections")
	}

	for i, p := range points {
		comments, err := kv.DecodeAll[Comment](pending[i].comments.Val())
		if err != nil {
			return nil, err
		}
		votes, err := kv.DecodeAll[Like](pending[i].likes.Val())
		if err != nil {
			return nil, err
		}
		proposals, err := kv.DecodeAll[EditProposal](pending[i].proposals.Val())
		if err != nil {
			return nil, err
		}

		view := PointView{
			Point:           p,
			Comments:        sortComments(comments),
			Likes:           []Like{},
			Dislikes:        []Like{},
			ActiveProposals: []EditProposal{},
		}
		for _, v := range votes {
			switch v.Status {
			case VoteLike:
				view.Likes = append(view.Likes, v)
			case VoteDislike:
				view.Dislikes = append(view.Dislikes, v)
			}
		}
		for _, prop := range sortProposals(proposals) {
			if prop.Status == ProposalPending {
				view.ActiveProposals = append(view.ActiveProposals, prop)
			}
		}
		if includeReports {
			reports, err := kv.DecodeAll[Report](pending[i].reports.Val())
			if err != nil {
				return nil, err
			}
			view.Reports = SortReports(reports)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) View(ctx context.Context, id string, includeReports bool) (PointView, error) {
	p, err := s.GetPoint(ctx, id)
	if err != nil {
		return PointView{}, err
	}
	views, err := s.Views(ctx, []Point{p}, includeReports)
	if err != nil {
		return PointView{}, err
	}
	return views[0], nil
}

// UpdatePoint applies fn to the stored point under WATCH and stamps
// LastUpdated. extra is queued in the same MULTI as the point write.
func (s *Service) UpdatePoint(ctx context.Context, id string, fn func(*Point) error, extra func(redis.Pipeliner) error, watch ...string) (Point, error) {
	key := kv.PointKey(id)
	var updated Point
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		var p Point
		if err := kv.GetJSON(ctx, tx, key, &p); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrPointNotFound
			}
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.LastUpdated = s.now().UnixMilli()

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := kv.SetJSON(ctx, pipe, key, p, 0); err != nil {
				return err
			}
			if extra != nil {
				return extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	}, append([]string{key}, watch...)...)
	if err != nil {
		return Point{}, err
	}
	s.publish("point.updated", updated)
	return updated, nil
}

// DeletePoint removes a point when actorEmail is its creator or admin is set.
func (s *Service) DeletePoint(ctx context.Context, id, actorEmail string, admin bool) error {
	return s.remove(ctx, id, func(p Point) error {
		if !admin && !strings.EqualFold(p.CreatedBy, actorEmail) {
			return ErrNotOwner
		}
		return nil
	})
}

// RemovePoint deletes a point and everything hanging off it without an
// ownership check. Accepted reports use it.
func (s *Service) RemovePoint(ctx context.Context, id string) error {
	return s.remove(ctx, id, nil)
}

func (s *Service) remove(ctx context.Context, id string, check func(Point) error) error {
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		var p Point
		if err := kv.GetJSON(ctx, tx, kv.PointKey(id), &p); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrPointNotFound
			}
			return err
		}
		if check != nil {
			if err := check(p); err != nil {
				return err
			}
		}

		reportIDs, err := tx.HKeys(ctx, kv.ReportsKey(id)).Result()
		if err != nil {
			return err
		}
		proposalIDs, err := tx.HKeys(ctx, kv.ProposalsKey(id)).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queueRemoval(ctx, pipe, id, reportIDs, proposalIDs)
			return nil
		})
		return err
	}, kv.PointKey(id), kv.ReportsKey(id), kv.ProposalsKey(id))
	if err != nil {
		return err
	}

	s.afterDelete(ctx, id)
	return nil
}

// DeleteAll removes every point in one MULTI and returns how many were removed.
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	ids, err := s.rdb.SMembers(ctx, kv.PointIDsKey).Result()
	if err != nil {
		return 0, eris.Wrap(err, "spot: list point ids")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	reportCmds := make([]*redis.StringSliceCmd, len(ids))
	proposalCmds := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		reportCmds[i] = pipe.HKeys(ctx, kv.ReportsKey(id))
		proposalCmds[i] = pipe.HKeys(ctx, kv.ProposalsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrap(err, "spot: collect moderation keys")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			queueRemoval(ctx, pipe, id, reportCmds[i].Val(), proposalCmds[i].Val())
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "spot: delete all points")
	}

	for _, id := range ids {
		s.afterDelete(ctx, id)
	}
	return len(ids), nil
}

func queueRemoval(ctx context.Context, pipe redis.Pipeliner, id string, reportIDs, proposalIDs []string) {
	pipe.Del(ctx, kv.PointKey(id), kv.CommentsKey(id), kv.LikesKey(id), kv.ReportsKey(id), kv.ProposalsKey(id))
	pipe.SRem(ctx, kv.PointIDsKey, id)
	if len(reportIDs) > 0 {
		keys := make([]string, len(reportIDs))
		for i, rid := range reportIDs {
			keys[i] = kv.ReportKey(rid)
		}
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, kv.PendingReportsKey, reportIDs)
	}
	if len(proposalIDs) > 0 {
		keys := make([]string, len(proposalIDs))
		for i, pid := range proposalIDs {
			keys[i] = kv.ProposalKey(pid)
		}
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, kv.PendingProposals, proposalIDs)
	}
}

func (s *Service) afterDelete(ctx context.Context, id string) {
	for _, h := range s.hooks {
		if err := h(ctx, id); err != nil {
			zap.L().Warn("spot: delete hook failed", zap.String("point", id), zap.Error(err))
		}
	}
	s.publish("point.deleted", map[string]string{"id": id})
}

// Coordinates returns [lat, lng] for a point. It satisfies the lookup used by
// the meetup proximity search.
func (s *Service) Coordinates(ctx context.Context, id string) ([2]float64, error) {
	p, err := s.GetPoint(ctx, id)
	if err != nil {
		return [2]float64{}, err
	}
	return p.Coordinates, nil
}

func sortComments(cs []Comment) []Comment {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt != cs[j].CreatedAt {
			return cs[i].CreatedAt < cs[j].CreatedAt
		}
		return cs[i].ID < cs[j].ID
	})
	return cs
}

func SortReports(rs []Report) []Report {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt != rs[j].CreatedAt {
			return rs[i].CreatedAt < rs[j].CreatedAt
		}
		return rs[i].ID < rs[j].ID
	})
	return rs
}

func sortProposals(ps []EditProposal) []EditProposal {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt != ps[j].CreatedAt {
			return ps[i].CreatedAt < ps[j].CreatedAt
		}
		return ps[i].ID < ps[j].ID
	})
	return ps
}

// SortProposals orders proposals oldest first.
func SortProposals(ps []EditProposal) []EditProposal { return sortProposals(ps) }
