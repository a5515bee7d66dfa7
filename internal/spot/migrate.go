package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// legacyPoint is the document shape of the consolidated points:all array and
// of import feeds, with collections embedded in the point.
type legacyPoint struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Coordinates     []float64      `json:"coordinates"`
	CreatedBy       string         `json:"createdBy"`
	CreatedAt       int64          `json:"createdAt"`
	LastUpdated     int64          `json:"lastUpdated"`
	Description     string         `json:"description"`
	Comments        []Comment      `json:"comments"`
	Likes           []Like         `json:"likes"`
	Dislikes        []Like         `json:"dislikes"`
	Reports         []Report       `json:"reports"`
	ActiveReports   []Report       `json:"activeReports"`
	EditProposals   []EditProposal `json:"editProposals"`
	ActiveProposals []EditProposal `json:"activeProposals"`
}

type MigrationResult struct {
	Points    int `json:"points"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
	Comments  int `json:"comments"`
	Votes     int `json:"votes"`
	Reports   int `json:"reports"`
	Proposals int `json:"proposals"`
}

func (r *MigrationResult) add(o MigrationResult) {
	r.Points += o.Points
	r.Skipped += o.Skipped
	r.Invalid += o.Invalid
	r.Comments += o.Comments
	r.Votes += o.Votes
	r.Reports += o.Reports
	r.Proposals += o.Proposals
}

// ErrImportSource marks an import that failed at the remote feed, as opposed
// to a local store failure.
var ErrImportSource = errors.New("spot: import source failed")

func legacyID() string {
	return "legacy_" + uuid.NewString()[:8]
}

// Migrate moves the legacy points:all array into the normalized key layout and
// renames the array so it is not read again. Points whose id already exists
// are left alone.
func (s *Service) Migrate(ctx context.Context) (MigrationResult, error) {
	raw, err := s.rdb.Get(ctx, kv.LegacyPointsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return MigrationResult{}, nil
	}
	if err != nil {
		return MigrationResult{}, eris.Wrap(err, "spot: read legacy points")
	}

	var legacy []legacyPoint
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return MigrationResult{}, eris.Wrap(err, "spot: decode legacy points")
	}

	res, err := s.storeAll(ctx, legacy)
	if err != nil {
		return res, err
	}
	if err := s.rdb.Rename(ctx, kv.LegacyPointsKey, kv.MigratedPointsKey).Err(); err != nil {
		return res, eris.Wrap(err, "spot: archive legacy points")
	}

	zap.L().Info("spot: legacy migration done",
		zap.Int("points", res.Points), zap.Int("skipped", res.Skipped), zap.Int("invalid", res.Invalid))
	return res, nil
}

// Import fetches a JSON array of points from url and stores the new ones.
func (s *Service) Import(ctx context.Context, url string, timeout time.Duration) (MigrationResult, error) {
	if strings.TrimSpace(url) == "" {
		return MigrationResult{}, eris.New("spot: import url is not configured")
	}

	code, body, errs := fiber.Get(url).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return MigrationResult{}, fmt.Errorf("%w: fetch %s: %w", ErrImportSource, url, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return MigrationResult{}, fmt.Errorf("%w: fetch %s: status %d", ErrImportSource, url, code)
	}

	var feed []legacyPoint
	if err := json.Unmarshal(body, &feed); err != nil {
		return MigrationResult{}, fmt.Errorf("%w: decode feed: %w", ErrImportSource, err)
	}

	res, err := s.storeAll(ctx, feed)
	if err != nil {
		return res, err
	}
	zap.L().Info("spot: import done", zap.String("url", url),
		zap.Int("points", res.Points), zap.Int("skipped", res.Skipped), zap.Int("invalid", res.Invalid))
	return res, nil
}

func (s *Service) storeAll(ctx context.Context, items []legacyPoint) (MigrationResult, error) {
	var total MigrationResult
	for _, lp := range items {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.storeLegacy(ctx, lp)
		if err != nil {
			return total, err
		}
		total.add(res)
	}
	return total, nil
}

// legacyCollections holds a legacy point's collections with ids assigned and
// statuses normalized, ready to be queued.
type legacyCollections struct {
	comments  []Comment
	votes     []Like
	reports   []Report
	proposals []EditProposal
}

func collectLegacy(p Point, lp legacyPoint) legacyCollections {
	var out legacyCollections
	seen := map[string]bool{}
	for _, c := range lp.Comments {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.CreatedAt == 0 {
			c.CreatedAt = p.CreatedAt
		}
		out.comments = append(out.comments, c)
	}

	votes := map[string]Like{}
	for _, l := range lp.Likes {
		l.Status = VoteLike
		votes[l.UserID] = l
	}
	for _, l := range lp.Dislikes {
		l.Status = VoteDislike
		votes[l.UserID] = l
	}
	for userID, l := range votes {
		if userID != "" {
			out.votes = append(out.votes, l)
		}
	}

	for _, r := range mergeReports(lp.Reports, lp.ActiveReports) {
		r.PointID = p.ID
		if r.Status == "" {
			r.Status = ReportPending
		}
		out.reports = append(out.reports, r)
	}

	for _, e := range mergeProposals(lp.EditProposals, lp.ActiveProposals) {
		if e.Status != ProposalPending && e.Status != "" {
			continue
		}
		e.SpotID = p.ID
		e.Status = ProposalPending
		out.proposals = append(out.proposals, e)
	}
	return out
}

func (lc legacyCollections) queue(ctx context.Context, pipe redis.Pipeliner, pointID string) error {
	for _, c := range lc.comments {
		b, err := kv.Marshal(c)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, kv.CommentsKey(pointID), c.ID, b)
	}
	for _, l := range lc.votes {
		b, err := kv.Marshal(l)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, kv.LikesKey(pointID), l.UserID, b)
	}
	for _, r := range lc.reports {
		b, err := kv.Marshal(r)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, kv.ReportsKey(pointID), r.ID, b)
		pipe.Set(ctx, kv.ReportKey(r.ID), pointID, 0)
		if r.Status == ReportPending {
			pipe.SAdd(ctx, kv.PendingReportsKey, r.ID)
		}
	}
	for _, e := range lc.proposals {
		b, err := kv.Marshal(e)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, kv.ProposalsKey(pointID), e.ID, b)
		pipe.Set(ctx, kv.ProposalKey(e.ID), pointID, 0)
		pipe.SAdd(ctx, kv.PendingProposals, e.ID)
	}
	return nil
}

func (lc legacyCollections) ids() (reports, proposals []string) {
	for _, r := range lc.reports {
		reports = append(reports, r.ID)
	}
	for _, e := range lc.proposals {
		proposals = append(proposals, e.ID)
	}
	return reports, proposals
}

// storeLegacy writes one legacy point and its collections in a single MULTI
// guarded by a WATCH on the point key. A failed EXEC is undone so a later run
// retries the point instead of skipping it.
func (s *Service) storeLegacy(ctx context.Context, lp legacyPoint) (MigrationResult, error) {
	p, ok := normalizeLegacy(lp, s.now().UnixMilli())
	if !ok {
		return MigrationResult{Invalid: 1}, nil
	}
	if strings.TrimSpace(lp.ID) != "" {
		s.readLegacySiblings(ctx, p.ID, &lp)
	}
	lc := collectLegacy(p, lp)

	var res MigrationResult
	err := kv.Update(ctx, s.rdb, func(tx *redis.Tx) error {
		res = MigrationResult{}
		n, err := tx.Exists(ctx, kv.PointKey(p.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			res.Skipped = 1
			return nil
		}

		res = MigrationResult{
			Points:    1,
			Comments:  len(lc.comments),
			Votes:     len(lc.votes),
			Reports:   len(lc.reports),
			Proposals: len(lc.proposals),
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := kv.SetJSON(ctx, pipe, kv.PointKey(p.ID), p, 0); err != nil {
				return err
			}
			pipe.SAdd(ctx, kv.PointIDsKey, p.ID)
			return lc.queue(ctx, pipe, p.ID)
		})
		return err
	}, kv.PointKey(p.ID))
	if err != nil {
		if res.Points == 1 && !errors.Is(err, kv.ErrContention) {
			s.undoLegacy(ctx, p.ID, lc)
		}
		return MigrationResult{}, eris.Wrapf(err, "spot: store legacy point %s", p.ID)
	}
	return res, nil
}

// undoLegacy removes whatever part of a failed legacy write did commit.
func (s *Service) undoLegacy(ctx context.Context, pointID string, lc legacyCollections) {
	reportIDs, proposalIDs := lc.ids()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queueRemoval(ctx, pipe, pointID, reportIDs, proposalIDs)
		return nil
	})
	if err != nil {
		zap.L().Error("spot: undo partial legacy write", zap.String("point", pointID), zap.Error(err))
	}
}

// readLegacySiblings merges comments and reports the legacy store kept as JSON
// arrays under comments:<id> and reports:<id>. Keys that are missing or hold
// anything else are ignored.
func (s *Service) readLegacySiblings(ctx context.Context, pointID string, lp *legacyPoint) {
	pipe := s.rdb.Pipeline()
	comments := pipe.Get(ctx, kv.LegacyCommentsKey(pointID))
	reports := pipe.Get(ctx, kv.LegacyReportsKey(pointID))
	_, _ = pipe.Exec(ctx)

	if raw, err := comments.Bytes(); err == nil {
		var extra []Comment
		if err := json.Unmarshal(raw, &extra); err != nil {
			zap.L().Warn("spot: ignore undecodable legacy comments", zap.String("point", pointID), zap.Error(err))
		} else {
			lp.Comments = append(lp.Comments, extra...)
		}
	}
	if raw, err := reports.Bytes(); err == nil {
		var extra []Report
		if err := json.Unmarshal(raw, &extra); err != nil {
			zap.L().Warn("spot: ignore undecodable legacy reports", zap.String("point", pointID), zap.Error(err))
		} else {
			lp.Reports = append(lp.Reports, extra...)
		}
	}
}

func normalizeLegacy(lp legacyPoint, now int64) (Point, bool) {
	name := strings.TrimSpace(lp.Name)
	if name == "" || len(lp.Coordinates) != 2 || !geo.ValidCoordinates(lp.Coordinates[0], lp.Coordinates[1]) {
		return Point{}, false
	}
	p := Point{
		ID:          strings.TrimSpace(lp.ID),
		Name:        name,
		Type:        strings.ToLower(strings.TrimSpace(lp.Type)),
		Coordinates: [2]float64{lp.Coordinates[0], lp.Coordinates[1]},
		CreatedBy:   lp.CreatedBy,
		CreatedAt:   lp.CreatedAt,
		LastUpdated: lp.LastUpdated,
		Description: strings.TrimSpace(lp.Description),
	}
	if p.ID == "" {
		p.ID = legacyID()
	}
	if !ValidType(p.Type) {
		p.Type = TypeStreet
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.LastUpdated == 0 {
		p.LastUpdated = p.CreatedAt
	}
	return p, true
}

func mergeReports(lists ...[]Report) []Report {
	seen := map[string]bool{}
	var out []Report
	for _, list := range lists {
		for _, r := range list {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

func mergeProposals(lists ...[]EditProposal) []EditProposal {
	seen := map[string]bool{}
	var out []EditProposal
	for _, list := range lists {
		for _, e := range list {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}
