package meetup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"backend-skatespots/internal/shared/apperr"
	"backend-skatespots/internal/shared/geo"
	"backend-skatespots/internal/spot"
)

const (
	DefaultRadiusKm = 50.0
	MaxRadiusKm     = 500.0

	nearbyLookBack    = 6 * time.Hour
	nearbyLookAhead   = 24 * time.Hour
	nearbyScanTimeout = 10 * time.Second
)

var ErrInvalidLocation = apperr.Invalid("lat and lng must be valid coordinates")

func nearbyKey(lat, lng, radius float64) string {
	return fmt.Sprintf("%.2f:%.2f:%.0f", lat, lng, radius)
}

// Nearby finds meetups within radiusKm of (lat, lng) that started at most
// six hours ago or start within the next day, nearest first. A radius of zero
// or less means the default; larger than MaxRadiusKm is capped.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]NearbyMeetup, error) {
	if !geo.ValidCoordinates(lat, lng) {
		return nil, ErrInvalidLocation
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if radiusKm > MaxRadiusKm {
		radiusKm = MaxRadiusKm
	}

	key := nearbyKey(lat, lng, radiusKm)
	if hit, ok := s.nearby.Get(key); ok {
		return hit, nil
	}

	// The scan is shared by every caller waiting on key, so it must not die
	// with the first caller's context.
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nearbyScanTimeout)
		defer cancel()
		found, err := s.scanNearby(scanCtx, lat, lng, radiusKm)
		if err != nil {
			return nil, err
		}
		s.nearby.Set(key, found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]NearbyMeetup), nil
}

func (s *Service) scanNearby(ctx context.Context, lat, lng, radiusKm float64) ([]NearbyMeetup, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from := now.Add(-nearbyLookBack).UnixMilli()
	to := now.Add(nearbyLookAhead).UnixMilli()

	found := []NearbyMeetup{}
	var expired []Meetup
	for _, m := range all {
		if m.expired(now) {
			expired = append(expired, m)
			continue
		}
		if m.Date < from || m.Date > to {
			continue
		}
		coords, ok, err := s.spotCoordinates(ctx, m.SpotID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		d := geo.HaversineKm(lat, lng, coords[0], coords[1])
		if d <= radiusKm {
			found = append(found, NearbyMeetup{Meetup: m, Distance: d})
		}
	}
	s.cleanupLater(expired)

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Distance < found[j].Distance
	})
	return found, nil
}

// spotCoordinates resolves [lat, lng] for a spot through the coordinate
// cache. ok is false when the spot no longer exists.
func (s *Service) spotCoordinates(ctx context.Context, spotID string) ([2]float64, bool, error) {
	if c, ok := s.coords.Get(spotID); ok {
		return c, true, nil
	}
	p, err := s.spots.GetPoint(ctx, spotID)
	if errors.Is(err, spot.ErrPointNotFound) {
		return [2]float64{}, false, nil
	}
	if err != nil {
		return [2]float64{}, false, err
	}
	s.coords.Set(spotID, p.Coordinates)
	return p.Coordinates, true, nil
}
