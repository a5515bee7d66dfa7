package audit

import "time"

const (
	KindReport   = "report"
	KindProposal = "proposal"
	KindPoint    = "point"
)

// Event is one admin moderation decision.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"targetId"`
	PointID   string    `json:"pointId"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
