package spot

import (
	"context"
	"errors"

	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidVote = apperr.Invalid(`status must be "like", "dislike" or null`)

// Vote sets the caller's vote on a point. A nil status, or a status equal to
// the current one, removes the vote. A different status replaces it.
func (s *Service) Vote(ctx context.Context, pointID, userID string, status *string) (VoteSummary, error) {
	if status != nil && *status != VoteLike && *status != VoteDislike {
		return VoteSummary{}, ErrInvalidVote
	}

	likesKey := kv.LikesKey(pointID)
	pointKey := kv.PointKey(pointID)
	var summary VoteSummary
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, pointKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrPointNotFound
		}

		var current Like
		hasVote := true
		if err := kv.HGetJSON(ctx, tx, likesKey, userID, &current); err != nil {
			if !errors.Is(err, kv.ErrNotFound) {
				return err
			}
			hasVote = false
		}

		var next *Like
		if status != nil && !(hasVote && current.Status == *status) {
			next = &Like{UserID: userID, Status: *status, Timestamp: s.now().UnixMilli()}
		}

		var raw []byte
		if next != nil {
			if raw, err = kv.Marshal(next); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.HDel(ctx, likesKey, userID)
			} else {
				pipe.HSet(ctx, likesKey, userID, raw)
			}
			return nil
		})
		if err != nil {
			return err
		}

		summary, err = s.summarize(ctx, likesKey, userID)
		return err
	}, likesKey, pointKey)
	if err != nil {
		return VoteSummary{}, err
	}

	s.publish("vote.changed", map[string]any{"pointId": pointID, "likes": summary.Likes, "dislikes": summary.Dislikes})
	return summary, nil
}

// Votes returns the vote counts and the caller's current status.
func (s *Service) Votes(ctx context.Context, pointID, userID string) (VoteSummary, error) {
	if _, err := s.GetPoint(ctx, pointID); err != nil {
		return VoteSummary{}, err
	}
	return s.summarize(ctx, kv.LikesKey(pointID), userID)
}

func (s *Service) summarize(ctx context.Context, likesKey, userID string) (VoteSummary, error) {
	votes, err := kv.HashValues[Like](ctx, s.rdb, likesKey)
	if err != nil {
		return VoteSummary{}, err
	}
	var out VoteSummary
	for _, v := range votes {
		switch v.Status {
		case VoteLike:
			out.Likes++
		case VoteDislike:
			out.Dislikes++
		}
		if v.UserID == userID {
			st := v.Status
			out.UserStatus = &st
		}
	}
	return out, nil
}
