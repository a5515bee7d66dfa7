package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-skatespots/internal/audit"
	"backend-skatespots/internal/kv"
	"backend-skatespots/internal/spot"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (m *memRecorder) Record(_ context.Context, ev audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func newTestService(t *testing.T) (*Service, *spot.Service, *redis.Client, *memRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	spots := spot.NewService(rdb, nil)
	rec := &memRecorder{}
	return NewService(rdb, spots, rec, nil), spots, rdb, rec
}

func newPoint(t *testing.T, spots *spot.Service, name string) spot.Point {
	t.Helper()
	p, err := spots.CreatePoint(context.Background(), spot.CreateInput{
		Name:        name,
		Type:        spot.TypeStreet,
		Coordinates: []float64{40.4168, -3.7038},
		Description: "original",
	}, "owner@example.com")
	if err != nil {
		t.Fatalf("create point: %v", err)
	}
	return p
}

func TestSubmitReportValidation(t *testing.T) {
	svc, spots, _, _ := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "ledge")

	if _, err := svc.SubmitReport(ctx, p.ID, "  ", "u1", "u1@example.com"); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	if _, err := svc.SubmitReport(ctx, "missing", "gone", "u1", "u1@example.com"); !errors.Is(err, spot.ErrPointNotFound) {
		t.Fatalf("expected point not found, got %v", err)
	}

	r, err := svc.SubmitReport(ctx, p.ID, "knobbed", "u1", "u1@example.com")
	if err != nil || r.Status != spot.ReportPending {
		t.Fatalf("submit: %+v (%v)", r, err)
	}
	if _, err := svc.SubmitReport(ctx, p.ID, "again", "u1", "u1@example.com"); !errors.Is(err, ErrDuplicateReport) {
		t.Fatalf("expected duplicate report conflict, got %v", err)
	}
	if _, err := svc.SubmitReport(ctx, p.ID, "also knobbed", "u2", "u2@example.com"); err != nil {
		t.Fatalf("second user report: %v", err)
	}

	reports, err := svc.ListReports(ctx, p.ID)
	if err != nil || len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d (%v)", len(reports), err)
	}
}

func TestAcceptReportDeletesPoint(t *testing.T) {
	svc, spots, rdb, rec := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "closed plaza")
	other := newPoint(t, spots, "still open")

	r1, _ := svc.SubmitReport(ctx, p.ID, "demolished", "u1", "u1@example.com")
	r2, _ := svc.SubmitReport(ctx, p.ID, "fenced off", "u2", "u2@example.com")
	keep, _ := svc.SubmitReport(ctx, other.ID, "wet", "u1", "u1@example.com")

	resolved, err := svc.ResolveReport(ctx, "", r1.ID, ActionAccept, "admin@example.com")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if resolved.Status != spot.ReportResolved || resolved.ResolvedBy != "admin@example.com" || resolved.ResolvedAt == 0 {
		t.Fatalf("unexpected resolved report: %+v", resolved)
	}

	if _, err := spots.GetPoint(ctx, p.ID); !errors.Is(err, spot.ErrPointNotFound) {
		t.Fatalf("expected point gone, got %v", err)
	}
	if n, _ := rdb.Exists(ctx, kv.ReportsKey(p.ID), kv.ReportKey(r1.ID), kv.ReportKey(r2.ID)).Result(); n != 0 {
		t.Fatalf("expected no reports referencing the point, %d keys remain", n)
	}
	pending, err := svc.PendingReports(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != keep.ID || pending[0].PointName != "still open" {
		t.Fatalf("unexpected pending queue: %+v (%v)", pending, err)
	}
	if len(rec.events) != 1 || rec.events[0].Outcome != spot.ReportResolved || rec.events[0].PointID != p.ID {
		t.Fatalf("unexpected audit events: %+v", rec.events)
	}
}

func TestResolveAfterAcceptIsRejected(t *testing.T) {
	svc, spots, _, rec := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "gone spot")
	r, _ := svc.SubmitReport(ctx, p.ID, "demolished", "u1", "u1@example.com")

	if _, err := svc.ResolveReport(ctx, p.ID, r.ID, ActionAccept, "admin@example.com"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, action := range []string{ActionDeny, ActionReview, ActionAccept} {
		_, err := svc.ResolveReport(ctx, p.ID, r.ID, action, "other-admin@example.com")
		if !errors.Is(err, ErrNotPending) && !errors.Is(err, ErrReportNotFound) {
			t.Fatalf("%s after accept: expected terminal-state error, got %v", action, err)
		}
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected a single audit outcome, got %+v", rec.events)
	}
}

func TestConcurrentResolutionsHaveOneWinner(t *testing.T) {
	svc, spots, _, rec := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "contested")
	r, _ := svc.SubmitReport(ctx, p.ID, "cracked", "u1", "u1@example.com")

	actions := []string{ActionAccept, ActionDeny, ActionReview, ActionAccept, ActionDeny}
	errs := make([]error, len(actions))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action string) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.ResolveReport(ctx, p.ID, r.ID, action, "admin@example.com")
		}(i, action)
	}
	close(start)
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotPending), errors.Is(err, ErrReportNotFound):
		default:
			t.Fatalf("%s: unexpected error %v", actions[i], err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one resolution to win, got %d (%v)", wins, errs)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("expected one audit event, got %+v", rec.events)
	}
}

func TestDenyReportRemovesOnlyThatReport(t *testing.T) {
	svc, spots, rdb, _ := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "bank")

	r1, _ := svc.SubmitReport(ctx, p.ID, "spam", "u1", "u1@example.com")
	r2, _ := svc.SubmitReport(ctx, p.ID, "real issue", "u2", "u2@example.com")

	denied, err := svc.ResolveReport(ctx, p.ID, r1.ID, ActionDeny, "admin@example.com")
	if err != nil || denied.Status != spot.ReportRejected {
		t.Fatalf("deny: %+v (%v)", denied, err)
	}

	after, err := spots.GetPoint(ctx, p.ID)
	if err != nil || after != p {
		t.Fatalf("point changed by deny: %+v (%v)", after, err)
	}
	reports, _ := svc.ListReports(ctx, p.ID)
	if len(reports) != 1 || reports[0].ID != r2.ID || reports[0].Status != spot.ReportPending {
		t.Fatalf("expected only the other report to remain, got %+v", reports)
	}
	if n, _ := rdb.Exists(ctx, kv.ReportKey(r1.ID)).Result(); n != 0 {
		t.Fatalf("denied report index still present")
	}

	if _, err := svc.ResolveReport(ctx, "", r1.ID, ActionDeny, "admin@example.com"); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected not found for removed report, got %v", err)
	}
}

func TestReviewReportLeavesQueue(t *testing.T) {
	svc, spots, _, _ := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "stairs")
	r, _ := svc.SubmitReport(ctx, p.ID, "check it", "u1", "u1@example.com")

	if _, err := svc.ResolveReport(ctx, "", r.ID, "shrug", "admin@example.com"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected invalid action, got %v", err)
	}
	if _, err := svc.ResolveReport(ctx, "other-point", r.ID, ActionReview, "admin@example.com"); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected not found for mismatched point, got %v", err)
	}

	reviewed, err := svc.ResolveReport(ctx, p.ID, r.ID, ActionReview, "admin@example.com")
	if err != nil || reviewed.Status != spot.ReportReviewed {
		t.Fatalf("review: %+v (%v)", reviewed, err)
	}
	pending, _ := svc.PendingReports(ctx)
	if len(pending) != 0 {
		t.Fatalf("reviewed report should leave the queue, got %+v", pending)
	}
	reports, _ := svc.ListReports(ctx, p.ID)
	if len(reports) != 1 || reports[0].Status != spot.ReportReviewed {
		t.Fatalf("reviewed report should stay on the point, got %+v", reports)
	}

	if _, err := svc.ResolveReport(ctx, "", r.ID, ActionAccept, "admin@example.com"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected conflict for non-pending report, got %v", err)
	}
}

func TestAuditFailureDoesNotFailModeration(t *testing.T) {
	svc, spots, _, rec := newTestService(t)
	rec.err = errors.New("db down")
	ctx := context.Background()
	p := newPoint(t, spots, "gap")
	r, _ := svc.SubmitReport(ctx, p.ID, "bad", "u1", "u1@example.com")

	if _, err := svc.ResolveReport(ctx, "", r.ID, ActionDeny, "admin@example.com"); err != nil {
		t.Fatalf("audit failure leaked into moderation: %v", err)
	}
}

func TestProposalSnapshotAndApproval(t *testing.T) {
	svc, spots, _, rec := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "Old Name")

	if _, err := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Foo", ProposedType: "bowl", Reason: "x"}, "u1", "u1@example.com"); !errors.Is(err, ErrProposedTypeInvalid) {
		t.Fatalf("expected invalid type, got %v", err)
	}
	if _, err := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Foo", ProposedType: "park"}, "u1", "u1@example.com"); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	e, err := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Foo", ProposedType: "park", Reason: "renamed"}, "u1", "u1@example.com")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if e.CurrentName != "Old Name" || e.CurrentType != spot.TypeStreet || e.CurrentDescription != "original" {
		t.Fatalf("snapshot missing: %+v", e)
	}
	other, err := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Bar", ProposedType: "diy", Reason: "better"}, "u2", "u2@example.com")
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	stamped, _ := spots.GetPoint(ctx, p.ID)
	if stamped.LastUpdated <= p.LastUpdated {
		t.Fatalf("expected lastUpdated stamped on submit")
	}

	approved, err := svc.ReviewProposal(ctx, "", e.ID, spot.ProposalApproved, "looks right", "admin@example.com")
	if err != nil || approved.Status != spot.ProposalApproved || approved.AdminNotes != "looks right" {
		t.Fatalf("approve: %+v (%v)", approved, err)
	}

	after, _ := spots.GetPoint(ctx, p.ID)
	if after.Name != "Foo" || after.Type != spot.TypePark {
		t.Fatalf("point not updated: %+v", after)
	}
	if after.Description != "original" {
		t.Fatalf("description should stay when none proposed, got %q", after.Description)
	}

	pending, err := svc.PendingProposals(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != other.ID || pending[0].PointName != "Foo" {
		t.Fatalf("expected only the untouched proposal pending, got %+v (%v)", pending, err)
	}
	onPoint, _ := svc.ListProposals(ctx, p.ID)
	if len(onPoint) != 1 || onPoint[0].ID != other.ID {
		t.Fatalf("approved proposal should leave the point, got %+v", onPoint)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != audit.KindProposal {
		t.Fatalf("expected proposal audit event, got %+v", rec.events)
	}

	if _, err := svc.ReviewProposal(ctx, "", e.ID, spot.ProposalApproved, "", "admin@example.com"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected not found for reviewed proposal, got %v", err)
	}
}

func TestRejectProposalKeepsPoint(t *testing.T) {
	svc, spots, _, _ := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "Keep Me")

	e, _ := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Nope", ProposedType: "park", ProposedDescription: "new", Reason: "meh"}, "u1", "u1@example.com")

	if _, err := svc.ReviewProposal(ctx, "", e.ID, "maybe", "", "admin@example.com"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	rejected, err := svc.ReviewProposal(ctx, p.ID, e.ID, spot.ProposalRejected, "", "admin@example.com")
	if err != nil || rejected.Status != spot.ProposalRejected {
		t.Fatalf("reject: %+v (%v)", rejected, err)
	}

	after, _ := spots.GetPoint(ctx, p.ID)
	if after.Name != "Keep Me" || after.Description != "original" {
		t.Fatalf("rejected proposal changed the point: %+v", after)
	}
	pending, _ := svc.PendingProposals(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending)
	}
}

func TestApproveWithDescription(t *testing.T) {
	svc, spots, _, _ := newTestService(t)
	ctx := context.Background()
	p := newPoint(t, spots, "Spot")

	e, _ := svc.SubmitProposal(ctx, p.ID, ProposalInput{ProposedName: "Spot", ProposedType: "diy", ProposedDescription: "built by locals", Reason: "more detail"}, "u1", "u1@example.com")
	if _, err := svc.ReviewProposal(ctx, p.ID, e.ID, spot.ProposalApproved, "", "admin@example.com"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	after, _ := spots.GetPoint(ctx, p.ID)
	if after.Type != spot.TypeDIY || after.Description != "built by locals" {
		t.Fatalf("unexpected point after approval: %+v", after)
	}
}

func TestPendingQueueDropsStaleEntries(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()
	rdb.SAdd(ctx, kv.PendingReportsKey, "ghost")
	rdb.SAdd(ctx, kv.PendingProposals, "ghost")

	reports, err := svc.PendingReports(ctx)
	if err != nil || len(reports) != 0 {
		t.Fatalf("unexpected reports: %+v (%v)", reports, err)
	}
	proposals, err := svc.PendingProposals(ctx)
	if err != nil || len(proposals) != 0 {
		t.Fatalf("unexpected proposals: %+v (%v)", proposals, err)
	}
	if n, _ := rdb.SCard(ctx, kv.PendingReportsKey).Result(); n != 0 {
		t.Fatalf("stale report id kept")
	}
}
