package spot

import (
	"context"
	"errors"
	"strings"

	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

var (
	ErrCommentNotFound = apperr.NotFound("comment not found")
	ErrCommentEmpty    = apperr.Invalid("content is required")
	ErrCommentTooLong  = apperr.Invalid("content must be at most 1000 characters")
	ErrCommentIDNeeded = apperr.Invalid("commentId is required")
)

const maxCommentLen = 1000

func validateComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrCommentEmpty
	}
	if len([]rune(content)) > maxCommentLen {
		return "", ErrCommentTooLong
	}
	return content, nil
}

func (s *Service) ListComments(ctx context.Context, pointID string) ([]Comment, error) {
	if _, err := s.GetPoint(ctx, pointID); err != nil {
		return nil, err
	}
	comments, err := kv.HashValues[Comment](ctx, s.rdb, kv.CommentsKey(pointID))
	if err != nil {
		return nil, err
	}
	return sortComments(comments), nil
}

func (s *Service) AddComment(ctx context.Context, pointID, content, author string) (Comment, error) {
	content, err := validateComment(content)
	if err != nil {
		return Comment{}, err
	}

	c := Comment{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedBy: author,
		CreatedAt: s.now().UnixMilli(),
	}
	raw, err := kv.Marshal(c)
	if err != nil {
		return Comment{}, err
	}

	pointKey := kv.PointKey(pointID)
	err = kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, pointKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrPointNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, kv.CommentsKey(pointID), c.ID, raw)
			return nil
		})
		return err
	}, pointKey)
	if err != nil {
		return Comment{}, err
	}

	s.publish("comment.created", map[string]any{"pointId": pointID, "comment": c})
	return c, nil
}

// UpdateComment rewrites a comment's content. Only its author or an admin may.
func (s *Service) UpdateComment(ctx context.Context, pointID, commentID, content, actor string, admin bool) (Comment, error) {
	if commentID == "" {
		return Comment{}, ErrCommentIDNeeded
	}
	content, err := validateComment(content)
	if err != nil {
		return Comment{}, err
	}

	key := kv.CommentsKey(pointID)
	var updated Comment
	err = kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		var c Comment
		if err := s.loadComment(ctx, tx, pointID, commentID, &c); err != nil {
			return err
		}
		if !admin && !strings.EqualFold(c.CreatedBy, actor) {
			return ErrNotOwner
		}
		c.Content = content
		c.UpdatedAt = s.now().UnixMilli()
		raw, err := kv.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, c.ID, raw)
			return nil
		})
		if err != nil {
			return err
		}
		updated = c
		return nil
	}, key)
	if err != nil {
		return Comment{}, err
	}

	s.publish("comment.updated", map[string]any{"pointId": pointID, "comment": updated})
	return updated, nil
}

func (s *Service) DeleteComment(ctx context.Context, pointID, commentID, actor string, admin bool) error {
	if commentID == "" {
		return ErrCommentIDNeeded
	}

	key := kv.CommentsKey(pointID)
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		var c Comment
		if err := s.loadComment(ctx, tx, pointID, commentID, &c); err != nil {
			return err
		}
		if !admin && !strings.EqualFold(c.CreatedBy, actor) {
			return ErrNotOwner
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, commentID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return err
	}

	s.publish("comment.deleted", map[string]string{"pointId": pointID, "commentId": commentID})
	return nil
}

func (s *Service) loadComment(ctx context.Context, tx *redis.Tx, pointID, commentID string, dst *Comment) error {
	err := kv.HGetJSON(ctx, tx, kv.CommentsKey(pointID), commentID, dst)
	if errors.Is(err, kv.ErrNotFound) {
		exists, xerr := tx.Exists(ctx, kv.PointKey(pointID)).Result()
		if xerr != nil {
			return eris.Wrap(xerr, "spot: check point")
		}
		if exists == 0 {
			return ErrPointNotFound
		}
		return ErrCommentNotFound
	}
	return err
}
