package meetup

import "time"

// Expiry is how long after its start a meetup stays listed.
const Expiry = 24 * time.Hour

// Meetup is a scheduled session at a spot. Date and CreatedAt are epoch
// milliseconds. Participants holds user ids, creator first.
type Meetup struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Date         int64    `json:"date"`
	SpotID       string   `json:"spotId"`
	SpotName     string   `json:"spotName"`
	CreatedBy    string   `json:"createdBy"`
	CreatorEmail string   `json:"creatorEmail,omitempty"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"createdAt"`
}

func (m Meetup) expired(now time.Time) bool {
	return time.UnixMilli(m.Date).Add(Expiry).Before(now)
}

func (m Meetup) hasParticipant(userID string) bool {
	for _, p := range m.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type NearbyMeetup struct {
	Meetup
	Distance float64 `json:"distance"`
}

type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        int64  `json:"date"`
	SpotID      string `json:"spotId"`
}

type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Date        *int64  `json:"date"`
}
