package meetup

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"backend-skatespots/internal/cache"
	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"
	"backend-skatespots/internal/spot"
	"backend-skatespots/internal/stream"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 1000
)

var (
	ErrNotFound           = apperr.NotFound("meetup not found")
	ErrForbidden          = apperr.Forbidden("only the creator or an admin can do this")
	ErrTitleRequired      = apperr.Invalid("title is required")
	ErrTitleTooLong       = apperr.Invalid("title must be at most 100 characters")
	ErrDescriptionLong    = apperr.Invalid("description must be at most 1000 characters")
	ErrDateInPast         = apperr.Invalid("date must not be in the past")
	ErrSpotRequired       = apperr.Invalid("spotId is required")
	ErrAlreadyJoined      = apperr.Conflict("already a participant")
	ErrNotParticipant     = apperr.Conflict("not a participant")
	ErrCreatorCannotLeave = apperr.Conflict("the creator cannot leave, delete the meetup instead")
	ErrMeetupOver         = apperr.Conflict("meetup is over")
)

// SpotLookup resolves spots for meetup creation and proximity search.
type SpotLookup interface {
	GetPoint(ctx context.Context, id string) (spot.Point, error)
}

type Options struct {
	SpotCacheTTL   time.Duration
	NearbyCacheTTL time.Duration
	MaxEntries     int
}

type Service struct {
	rdb    *redis.Client
	spots  SpotLookup
	events stream.Publisher
	now    func() time.Time

	coords *cache.Cache[[2]float64]
	nearby *cache.Cache[[]NearbyMeetup]
	group  singleflight.Group
	bg     sync.WaitGroup
}

func NewService(rdb *redis.Client, spots SpotLookup, events stream.Publisher, opts Options) *Service {
	if opts.SpotCacheTTL <= 0 {
		opts.SpotCacheTTL = 10 * time.Minute
	}
	if opts.NearbyCacheTTL <= 0 {
		opts.NearbyCacheTTL = 5 * time.Minute
	}
	return &Service{
		rdb:    rdb,
		spots:  spots,
		events: events,
		now:    time.Now,
		coords: cache.New[[2]float64](opts.SpotCacheTTL, opts.MaxEntries),
		nearby: cache.New[[]NearbyMeetup](opts.NearbyCacheTTL, opts.MaxEntries),
	}
}

// Wait blocks until background cleanups started by reads have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) publish(m Meetup, typ string) {
	if s.events == nil {
		return
	}
	ev := stream.Event{Type: typ, Data: m, At: s.now().UnixMilli()}
	s.events.Publish(stream.MeetupTopic(m.ID), ev)
	s.events.Publish(stream.PointsTopic, ev)
}

func validateText(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return "", "", ErrTitleRequired
	}
	if len([]rune(title)) > maxTitleLen {
		return "", "", ErrTitleTooLong
	}
	if len([]rune(description)) > maxDescriptionLen {
		return "", "", ErrDescriptionLong
	}
	return title, description, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput, userID, email string) (Meetup, error) {
	title, description, err := validateText(in.Title, in.Description)
	if err != nil {
		return Meetup{}, err
	}
	now := s.now()
	if in.Date < now.UnixMilli() {
		return Meetup{}, ErrDateInPast
	}
	if strings.TrimSpace(in.SpotID) == "" {
		return Meetup{}, ErrSpotRequired
	}
	p, err := s.spots.GetPoint(ctx, in.SpotID)
	if err != nil {
		return Meetup{}, err
	}
	s.coords.Set(p.ID, p.Coordinates)

	m := Meetup{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Date:         in.Date,
		SpotID:       p.ID,
		SpotName:     p.Name,
		CreatedBy:    userID,
		CreatorEmail: email,
		Participants: []string{userID},
		CreatedAt:    now.UnixMilli(),
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := kv.SetJSON(ctx, pipe, kv.MeetupKey(m.ID), m, 0); err != nil {
			return err
		}
		pipe.SAdd(ctx, kv.MeetupIDsKey, m.ID)
		pipe.SAdd(ctx, kv.SpotMeetupsKey(m.SpotID), m.ID)
		pipe.SAdd(ctx, kv.UserMeetupsKey(userID), m.ID)
		return nil
	})
	if err != nil {
		return Meetup{}, eris.Wrap(err, "meetup: save")
	}

	s.nearby.Purge()
	s.publish(m, "meetup.created")
	return m, nil
}

func (s *Service) Get(ctx context.Context, id string) (Meetup, error) {
	var m Meetup
	if err := kv.GetJSON(ctx, s.rdb, kv.MeetupKey(id), &m); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Meetup{}, ErrNotFound
		}
		return Meetup{}, err
	}
	return m, nil
}

// ListForSpot returns upcoming and ongoing meetups at a spot, soonest first.
// Expired ones are left out and removed in the background.
func (s *Service) ListForSpot(ctx context.Context, spotID string) ([]Meetup, error) {
	ids, err := s.rdb.SMembers(ctx, kv.SpotMeetupsKey(spotID)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "meetup: list spot index")
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	return sortByDate(s.dropExpired(all)), nil
}

// dropExpired returns the meetups that are not over and schedules the rest
// for background removal.
func (s *Service) dropExpired(all []Meetup) []Meetup {
	now := s.now()
	live := []Meetup{}
	var expired []Meetup
	for _, m := range all {
		if m.expired(now) {
			expired = append(expired, m)
			continue
		}
		live = append(live, m)
	}
	s.cleanupLater(expired)
	return live
}

// Mine returns the live meetups the user created or joined. Expired ones are
// left out and removed in the background.
func (s *Service) Mine(ctx context.Context, userID string) ([]Meetup, error) {
	ids, err := s.rdb.SMembers(ctx, kv.UserMeetupsKey(userID)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "meetup: list user index")
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return sortByDate(s.dropExpired(all)), nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput, userID string, admin bool) (Meetup, error) {
	var updated Meetup
	err := s.mutate(ctx, id, func(m *Meetup) error {
		if !admin && m.CreatedBy != userID {
			return ErrForbidden
		}
		title, description := m.Title, m.Description
		if in.Title != nil {
			title = *in.Title
		}
		if in.Description != nil {
			description = *in.Description
		}
		title, description, err := validateText(title, description)
		if err != nil {
			return err
		}
		if in.Date != nil {
			if *in.Date < s.now().UnixMilli() {
				return ErrDateInPast
			}
			m.Date = *in.Date
		}
		m.Title = title
		m.Description = description
		updated = *m
		return nil
	})
	if err != nil {
		return Meetup{}, err
	}
	s.nearby.Purge()
	s.publish(updated, "meetup.updated")
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string, admin bool) error {
	key := kv.MeetupKey(id)
	var removed Meetup
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		if err := kv.GetJSON(ctx, tx, key, &removed); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !admin && removed.CreatedBy != userID {
			return ErrForbidden
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queueRemoval(ctx, pipe, removed)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return err
	}
	s.nearby.Purge()
	s.publish(removed, "meetup.deleted")
	return nil
}

func (s *Service) Join(ctx context.Context, id, userID string) (Meetup, error) {
	var joined Meetup
	err := s.mutate(ctx, id, func(m *Meetup) error {
		if m.hasParticipant(userID) {
			return ErrAlreadyJoined
		}
		if m.expired(s.now()) {
			return ErrMeetupOver
		}
		m.Participants = append(m.Participants, userID)
		joined = *m
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, kv.UserMeetupsKey(userID), id)
	})
	if err != nil {
		return Meetup{}, err
	}
	s.nearby.Purge()
	s.publish(joined, "meetup.joined")
	return joined, nil
}

func (s *Service) Leave(ctx context.Context, id, userID string) (Meetup, error) {
	var left Meetup
	err := s.mutate(ctx, id, func(m *Meetup) error {
		if m.CreatedBy == userID {
			return ErrCreatorCannotLeave
		}
		if !m.hasParticipant(userID) {
			return ErrNotParticipant
		}
		kept := make([]string, 0, len(m.Participants)-1)
		for _, p := range m.Participants {
			if p != userID {
				kept = append(kept, p)
			}
		}
		m.Participants = kept
		left = *m
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, kv.UserMeetupsKey(userID), id)
	})
	if err != nil {
		return Meetup{}, err
	}
	s.nearby.Purge()
	s.publish(left, "meetup.left")
	return left, nil
}

// mutate applies fn to a meetup under WATCH and writes it back together with
// whatever extra queues.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Meetup) error, extra ...func(redis.Pipeliner)) error {
	key := kv.MeetupKey(id)
	return kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		var m Meetup
		if err := kv.GetJSON(ctx, tx, key, &m); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := kv.SetJSON(ctx, pipe, key, m, 0); err != nil {
				return err
			}
			for _, e := range extra {
				e(pipe)
			}
			return nil
		})
		return err
	}, key)
}

// DeleteForSpot removes every meetup held at a spot. It runs when the spot is
// deleted.
func (s *Service) DeleteForSpot(ctx context.Context, spotID string) error {
	s.coords.Invalidate(spotID)
	ids, err := s.rdb.SMembers(ctx, kv.SpotMeetupsKey(spotID)).Result()
	if err != nil {
		return eris.Wrap(err, "meetup: list spot index")
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, all); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, kv.SpotMeetupsKey(spotID)).Err(); err != nil {
		return eris.Wrap(err, "meetup: drop spot index")
	}
	s.nearby.Purge()
	return nil
}

// PurgeExpired deletes every meetup past its expiry and returns the count.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	var expired []Meetup
	for _, m := range all {
		if m.expired(now) {
			expired = append(expired, m)
		}
	}
	if err := s.remove(ctx, expired); err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.nearby.Purge()
	}
	return len(expired), nil
}

func (s *Service) cleanupLater(expired []Meetup) {
	if len(expired) == 0 {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.remove(ctx, expired); err != nil {
			zap.L().Warn("meetup: background cleanup failed", zap.Int("count", len(expired)), zap.Error(err))
			return
		}
		zap.L().Debug("meetup: removed expired meetups", zap.Int("count", len(expired)))
	}()
}

func (s *Service) remove(ctx context.Context, meetups []Meetup) error {
	if len(meetups) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range meetups {
			queueRemoval(ctx, pipe, m)
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "meetup: remove")
	}
	return nil
}

func queueRemoval(ctx context.Context, pipe redis.Pipeliner, m Meetup) {
	pipe.Del(ctx, kv.MeetupKey(m.ID))
	pipe.SRem(ctx, kv.MeetupIDsKey, m.ID)
	pipe.SRem(ctx, kv.SpotMeetupsKey(m.SpotID), m.ID)
	pipe.SRem(ctx, kv.UserMeetupsKey(m.CreatedBy), m.ID)
	for _, p := range m.Participants {
		if p != m.CreatedBy {
			pipe.SRem(ctx, kv.UserMeetupsKey(p), m.ID)
		}
	}
}

func (s *Service) loadAll(ctx context.Context) ([]Meetup, error) {
	ids, err := s.rdb.SMembers(ctx, kv.MeetupIDsKey).Result()
	if err != nil {
		return nil, eris.Wrap(err, "meetup: list ids")
	}
	return s.load(ctx, ids)
}

// load fetches meetups by id with one MGET. Ids without a document are
// skipped.
func (s *Service) load(ctx context.Context, ids []string) ([]Meetup, error) {
	if len(ids) == 0 {
		return []Meetup{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = kv.MeetupKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "meetup: load")
	}
	out := make([]Meetup, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var m Meetup
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			zap.L().Warn("meetup: skip undecodable meetup", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func sortByDate(ms []Meetup) []Meetup {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Date != ms[j].Date {
			return ms[i].Date < ms[j].Date
		}
		return ms[i].ID < ms[j].ID
	})
	return ms
}
