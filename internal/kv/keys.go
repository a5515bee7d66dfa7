package kv

// Key layout for every map entity. Each entity has exactly one home; nested
// collections live in per-point hashes rather than embedded arrays.
const (
	PointIDsKey       = "points:ids"
	LegacyPointsKey   = "points:all"
	MigratedPointsKey = "points:all:migrated"
	PendingReportsKey = "admin:reports"
	PendingProposals  = "admin:proposals"
	MeetupIDsKey      = "meetups:ids"
)

func PointKey(id string) string     { return "point:" + id }
func CommentsKey(id string) string  { return "point:" + id + ":comments" }
func LikesKey(id string) string     { return "point:" + id + ":likes" }
func ReportsKey(id string) string   { return "point:" + id + ":reports" }
func ProposalsKey(id string) string { return "point:" + id + ":proposals" }

// Sibling keys written by the legacy store, read once by migration.
func LegacyCommentsKey(id string) string { return "comments:" + id }
func LegacyReportsKey(id string) string  { return "reports:" + id }

// ReportKey maps a report id to the point that owns it.
func ReportKey(reportID string) string { return "report:" + reportID }

// ProposalKey maps a proposal id to the point that owns it.
func ProposalKey(proposalID string) string { return "proposal:" + proposalID }

func MeetupKey(id string) string      { return "meetup:" + id }
func SpotMeetupsKey(id string) string { return "spot:" + id + ":meetups" }
func UserMeetupsKey(id string) string { return "user:" + id + ":meetups" }
func RateLimitKey(id string) string   { return "rate_limit:" + id }
