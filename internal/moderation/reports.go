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
	ActionAccept = "accept"
	ActionDeny   = "deny"
	ActionReview = "review"
)

const maxReasonLen = 500

var (
	ErrReasonRequired  = apperr.Invalid("reason is required")
	ErrReasonTooLong   = apperr.Invalid("reason must be at most 500 characters")
	ErrInvalidAction   = apperr.Invalid("action must be one of accept, deny, review")
	ErrReportNotFound  = apperr.NotFound("report not found")
	ErrDuplicateReport = apperr.Conflict("you already have a pending report on this point")
)

// PendingReport is a report in the admin queue with the name of its point.
type PendingReport struct {
	spot.Report
	PointName string `json:"pointName"`
}

func validateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", ErrReasonRequired
	}
	if len([]rune(reason)) > maxReasonLen {
		return "", ErrReasonTooLong
	}
	return reason, nil
}

func (s *Service) SubmitReport(ctx context.Context, pointID, reason, userID, email string) (spot.Report, error) {
	reason, err := validateReason(reason)
	if err != nil {
		return spot.Report{}, err
	}

	r := spot.Report{
		ID:        uuid.NewString(),
		PointID:   pointID,
		Reason:    reason,
		UserID:    userID,
		CreatedBy: email,
		CreatedAt: s.now().UnixMilli(),
		Status:    spot.ReportPending,
	}
	raw, err := kv.Marshal(r)
	if err != nil {
		return spot.Report{}, err
	}

	reportsKey := kv.ReportsKey(pointID)
	err = kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, kv.PointKey(pointID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return spot.ErrPointNotFound
		}

		existing, err := kv.HashValues[spot.Report](ctx, tx, reportsKey)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.UserID == userID && e.Status == spot.ReportPending {
				return ErrDuplicateReport
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, reportsKey, r.ID, raw)
			pipe.Set(ctx, kv.ReportKey(r.ID), pointID, 0)
			pipe.SAdd(ctx, kv.PendingReportsKey, r.ID)
			return nil
		})
		return err
	}, kv.PointKey(pointID), reportsKey)
	if err != nil {
		return spot.Report{}, err
	}

	s.publish("report.created", map[string]string{"pointId": pointID, "reportId": r.ID})
	return r, nil
}

func (s *Service) ListReports(ctx context.Context, pointID string) ([]spot.Report, error) {
	if err := s.pointExists(ctx, pointID); err != nil {
		return nil, err
	}
	reports, err := kv.HashValues[spot.Report](ctx, s.rdb, kv.ReportsKey(pointID))
	if err != nil {
		return nil, err
	}
	return spot.SortReports(reports), nil
}

// ResolveReport applies an admin decision to a pending report. When pointID
// is set the report must belong to that point.
//
// accept resolves the report and deletes the point with everything attached
// to it. deny drops just this report. review marks it reviewed and takes it
// out of the admin queue while leaving it on the point.
func (s *Service) ResolveReport(ctx context.Context, pointID, reportID, action, adminEmail string) (spot.Report, error) {
	switch action {
	case ActionAccept, ActionDeny, ActionReview:
	default:
		return spot.Report{}, ErrInvalidAction
	}

	owner, err := s.owner(ctx, kv.ReportKey(reportID), ErrReportNotFound)
	if err != nil {
		return spot.Report{}, err
	}
	if pointID != "" && owner != pointID {
		return spot.Report{}, ErrReportNotFound
	}

	reportsKey := kv.ReportsKey(owner)
	var report spot.Report
	err = kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		if err := kv.HGetJSON(ctx, tx, reportsKey, reportID, &report); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrReportNotFound
			}
			return err
		}
		if report.Status != spot.ReportPending {
			return ErrNotPending
		}

		report.ResolvedBy = adminEmail
		report.ResolvedAt = s.now().UnixMilli()
		switch action {
		case ActionAccept:
			// Committed before the point cascade so a concurrent transition
			// of the same report fails its EXEC.
			report.Status = spot.ReportResolved
		case ActionDeny:
			report.Status = spot.ReportRejected
		case ActionReview:
			report.Status = spot.ReportReviewed
		}

		raw, err := kv.Marshal(report)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if action == ActionDeny {
				pipe.HDel(ctx, reportsKey, reportID)
				pipe.Del(ctx, kv.ReportKey(reportID))
			} else {
				pipe.HSet(ctx, reportsKey, reportID, raw)
			}
			pipe.SRem(ctx, kv.PendingReportsKey, reportID)
			return nil
		})
		return err
	}, reportsKey)
	if err != nil {
		return spot.Report{}, err
	}

	if action == ActionAccept {
		if err := s.spots.RemovePoint(ctx, owner); err != nil && !errors.Is(err, spot.ErrPointNotFound) {
			return spot.Report{}, err
		}
	}

	s.record(ctx, audit.Event{
		Kind:     audit.KindReport,
		TargetID: reportID,
		PointID:  owner,
		Actor:    adminEmail,
		Outcome:  report.Status,
	})
	s.publish("report.resolved", map[string]string{"pointId": owner, "reportId": reportID, "status": report.Status})
	zap.L().Info("moderation: report resolved",
		zap.String("report", reportID), zap.String("point", owner), zap.String("action", action), zap.String("admin", adminEmail))
	return report, nil
}

// PendingReports returns the admin queue, oldest first. Index entries whose
// report is gone are dropped from the queue.
func (s *Service) PendingReports(ctx context.Context) ([]PendingReport, error) {
	ids, err := s.rdb.SMembers(ctx, kv.PendingReportsKey).Result()
	if err != nil {
		return nil, eris.Wrap(err, "moderation: list pending reports")
	}
	out := []PendingReport{}
	if len(ids) == 0 {
		return out, nil
	}

	owners, err := s.owners(ctx, ids, kv.ReportKey)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	reportCmds := make([]*redis.StringCmd, len(ids))
	pointCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		if owners[i] == "" {
			continue
		}
		reportCmds[i] = pipe.HGet(ctx, kv.ReportsKey(owners[i]), id)
		pointCmds[i] = pipe.Get(ctx, kv.PointKey(owners[i]))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, eris.Wrap(err, "moderation: load pending reports")
	}

	var stale []string
	var reports []spot.Report
	names := map[string]string{}
	for i, id := range ids {
		if reportCmds[i] == nil || reportCmds[i].Err() != nil {
			stale = append(stale, id)
			continue
		}
		decoded, err := kv.DecodeAll[spot.Report]([]string{reportCmds[i].Val()})
		if err != nil {
			return nil, err
		}
		reports = append(reports, decoded[0])
		if names[owners[i]] == "" {
			names[owners[i]] = pointName(pointCmds[i])
		}
	}
	s.dropStale(ctx, kv.PendingReportsKey, stale)

	for _, r := range spot.SortReports(reports) {
		out = append(out, PendingReport{Report: r, PointName: names[r.PointID]})
	}
	return out, nil
}

// owners resolves every id through its index key; missing entries are "".
func (s *Service) owners(ctx context.Context, ids []string, indexKey func(string) string) ([]string, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = indexKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "moderation: resolve owners")
	}
	out := make([]string, len(ids))
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[i] = str
		}
	}
	return out, nil
}

func (s *Service) dropStale(ctx context.Context, setKey string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.rdb.SRem(ctx, setKey, ids).Err(); err != nil {
		zap.L().Warn("moderation: drop stale index entries", zap.String("set", setKey), zap.Error(err))
	}
}

func pointName(cmd *redis.StringCmd) string {
	if cmd == nil || cmd.Err() != nil {
		return ""
	}
	decoded, err := kv.DecodeAll[spot.Point]([]string{cmd.Val()})
	if err != nil {
		return ""
	}
	return decoded[0].Name
}
