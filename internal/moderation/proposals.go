package moderation

import (
	"context"
	"errors"
	"strings"

	"backend-skatespots/internal/audit"
	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/apperr"
	"backend-skatespots/internal/spot"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	maxProposedNameLen = 100
	maxProposedDescLen = 1000
	maxNotesLen        = 1000
)

var (
	ErrProposedNameRequired = apperr.Invalid("proposedName is required")
	ErrProposedNameTooLong  = apperr.Invalid("proposedName must be at most 100 characters")
	ErrProposedTypeInvalid  = apperr.Invalid("proposedType must be one of street, park, diy")
	ErrProposedDescTooLong  = apperr.Invalid("proposedDescription must be at most 1000 characters")
	ErrNotesTooLong         = apperr.Invalid("adminNotes must be at most 1000 characters")
	ErrInvalidStatus        = apperr.Invalid("status must be approved or rejected")
	ErrProposalNotFound     = apperr.NotFound("proposal not found")
)

type ProposalInput struct {
	ProposedName        string `json:"proposedName"`
	ProposedType        string `json:"proposedType"`
	ProposedDescription string `json:"proposedDescription"`
	Reason              string `json:"reason"`
}

// PendingProposal is a proposal in the admin queue with the live point name.
type PendingProposal struct {
	spot.EditProposal
	PointName string `json:"pointName"`
}

func validateProposal(in ProposalInput) (ProposalInput, error) {
	in.ProposedName = strings.TrimSpace(in.ProposedName)
	in.ProposedType = strings.ToLower(strings.TrimSpace(in.ProposedType))
	in.ProposedDescription = strings.TrimSpace(in.ProposedDescription)

	if in.ProposedName == "" {
		return in, ErrProposedNameRequired
	}
	if len([]rune(in.ProposedName)) > maxProposedNameLen {
		return in, ErrProposedNameTooLong
	}
	if !spot.ValidType(in.ProposedType) {
		return in, ErrProposedTypeInvalid
	}
	if len([]rune(in.ProposedDescription)) > maxProposedDescLen {
		return in, ErrProposedDescTooLong
	}
	reason, err := validateReason(in.Reason)
	if err != nil {
		return in, err
	}
	in.Reason = reason
	return in, nil
}

// SubmitProposal stores a pending edit with a snapshot of the point's current
// metadata. The point's lastUpdated is stamped in the same transaction.
func (s *Service) SubmitProposal(ctx context.Context, pointID string, in ProposalInput, userID, email string) (spot.EditProposal, error) {
	in, err := validateProposal(in)
	if err != nil {
		return spot.EditProposal{}, err
	}

	prop := spot.EditProposal{
		ID:                  uuid.NewString(),
		SpotID:              pointID,
		UserID:              userID,
		UserEmail:           email,
		ProposedName:        in.ProposedName,
		ProposedType:        in.ProposedType,
		ProposedDescription: in.ProposedDescription,
		Reason:              in.Reason,
		CreatedAt:           s.now().UnixMilli(),
		Status:              spot.ProposalPending,
	}

	_, err = s.spots.UpdatePoint(ctx, pointID, func(p *spot.Point) error {
		prop.CurrentName = p.Name
		prop.CurrentType = p.Type
		prop.CurrentDescription = p.Description
		return nil
	}, func(pipe redis.Pipeliner) error {
		raw, err := kv.Marshal(prop)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, kv.ProposalsKey(pointID), prop.ID, raw)
		pipe.Set(ctx, kv.ProposalKey(prop.ID), pointID, 0)
		pipe.SAdd(ctx, kv.PendingProposals, prop.ID)
		return nil
	})
	if err != nil {
		return spot.EditProposal{}, err
	}

	s.publish("proposal.created", map[string]string{"pointId": pointID, "proposalId": prop.ID})
	return prop, nil
}

// ListProposals returns the pending proposals of a point.
func (s *Service) ListProposals(ctx context.Context, pointID string) ([]spot.EditProposal, error) {
	if err := s.pointExists(ctx, pointID); err != nil {
		return nil, err
	}
	all, err := kv.HashValues[spot.EditProposal](ctx, s.rdb, kv.ProposalsKey(pointID))
	if err != nil {
		return nil, err
	}
	out := []spot.EditProposal{}
	for _, p := range spot.SortProposals(all) {
		if p.Status == spot.ProposalPending {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReviewProposal approves or rejects a pending proposal. Approval overwrites
// the point's name and type, and its description when one was proposed. Both
// outcomes remove the proposal from the point and from the admin queue.
func (s *Service) ReviewProposal(ctx context.Context, pointID, proposalID, status, notes, adminEmail string) (spot.EditProposal, error) {
	if status != spot.ProposalApproved && status != spot.ProposalRejected {
		return spot.EditProposal{}, ErrInvalidStatus
	}
	notes = strings.TrimSpace(notes)
	if len([]rune(notes)) > maxNotesLen {
		return spot.EditProposal{}, ErrNotesTooLong
	}

	owner, err := s.owner(ctx, kv.ProposalKey(proposalID), ErrProposalNotFound)
	if err != nil {
		return spot.EditProposal{}, err
	}
	if pointID != "" && owner != pointID {
		return spot.EditProposal{}, ErrProposalNotFound
	}

	proposalsKey := kv.ProposalsKey(owner)
	var prop spot.EditProposal
	load := func(c redis.Cmdable) error {
		if err := kv.HGetJSON(ctx, c, proposalsKey, proposalID, &prop); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrProposalNotFound
			}
			return err
		}
		if prop.Status != spot.ProposalPending {
			return ErrNotPending
		}
		return nil
	}
	unindex := func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, proposalsKey, proposalID)
		pipe.Del(ctx, kv.ProposalKey(proposalID))
		pipe.SRem(ctx, kv.PendingProposals, proposalID)
		return nil
	}

	if status == spot.ProposalApproved {
		_, err = s.spots.UpdatePoint(ctx, owner, func(p *spot.Point) error {
			if err := load(s.rdb); err != nil {
				return err
			}
			p.Name = prop.ProposedName
			if spot.ValidType(prop.ProposedType) {
				p.Type = prop.ProposedType
			}
			if prop.ProposedDescription != "" {
				p.Description = prop.ProposedDescription
			}
			return nil
		}, unindex, proposalsKey)
	} else {
		err = kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
			if err := load(tx); err != nil {
				return err
			}
			_, err := tx.TxPipelined(ctx, unindex)
			return err
		}, proposalsKey)
	}
	if err != nil {
		return spot.EditProposal{}, err
	}

	prop.Status = status
	prop.AdminNotes = notes
	s.record(ctx, audit.Event{
		Kind:     audit.KindProposal,
		TargetID: proposalID,
		PointID:  owner,
		Actor:    adminEmail,
		Outcome:  status,
		Notes:    notes,
	})
	s.publish("proposal.reviewed", map[string]string{"pointId": owner, "proposalId": proposalID, "status": status})
	zap.L().Info("moderation: proposal reviewed",
		zap.String("proposal", proposalID), zap.String("point", owner), zap.String("status", status), zap.String("admin", adminEmail))
	return prop, nil
}

// PendingProposals returns every pending proposal across points, oldest first.
func (s *Service) PendingProposals(ctx context.Context) ([]PendingProposal, error) {
	ids, err := s.rdb.SMembers(ctx, kv.PendingProposals).Result()
	if err != nil {
		return nil, eris.Wrap(err, "moderation: list pending proposals")
	}
	out := []PendingProposal{}
	if len(ids) == 0 {
		return out, nil
	}

	owners, err := s.owners(ctx, ids, kv.ProposalKey)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	propCmds := make([]*redis.StringCmd, len(ids))
	pointCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		if owners[i] == "" {
			continue
		}
		propCmds[i] = pipe.HGet(ctx, kv.ProposalsKey(owners[i]), id)
		pointCmds[i] = pipe.Get(ctx, kv.PointKey(owners[i]))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, eris.Wrap(err, "moderation: load pending proposals")
	}

	var stale []string
	var props []spot.EditProposal
	names := map[string]string{}
	for i, id := range ids {
		if propCmds[i] == nil || propCmds[i].Err() != nil {
			stale = append(stale, id)
			continue
		}
		decoded, err := kv.DecodeAll[spot.EditProposal]([]string{propCmds[i].Val()})
		if err != nil {
			return nil, err
		}
		props = append(props, decoded[0])
		if names[owners[i]] == "" {
			names[owners[i]] = pointName(pointCmds[i])
		}
	}
	s.dropStale(ctx, kv.PendingProposals, stale)

	for _, p := range spot.SortProposals(props) {
		out = append(out, PendingProposal{EditProposal: p, PointName: names[p.SpotID]})
	}
	return out, nil
}
