package spot

const (
	TypeStreet = "street"
	TypePark   = "park"
	TypeDIY    = "diy"
)

func ValidType(t string) bool {
	switch t {
	case TypeStreet, TypePark, TypeDIY:
		return true
	}
	return false
}

const (
	VoteLike    = "like"
	VoteDislike = "dislike"
)

const (
	ReportPending  = "pending"
	ReportReviewed = "reviewed"
	ReportResolved = "resolved"
	ReportRejected = "rejected"
)

const (
	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
)

// Point is a skate spot marker. Timestamps are epoch milliseconds.
type Point struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lat, lng]
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   int64      `json:"createdAt,omitempty"`
	LastUpdated int64      `json:"lastUpdated,omitempty"`
	Description string     `json:"description,omitempty"`
}

func (p Point) Lat() float64 { return p.Coordinates[0] }
func (p Point) Lng() float64 { return p.Coordinates[1] }

type Comment struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Like is one user's vote on a point. Status is "like" or "dislike"; a
// removed vote has no entry at all.
type Like struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type Report struct {
	ID         string `json:"id"`
	PointID    string `json:"pointId"`
	Reason     string `json:"reason"`
	UserID     string `json:"userId"`
	CreatedBy  string `json:"createdBy"`
	CreatedAt  int64  `json:"createdAt"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
}

type EditProposal struct {
	ID                  string `json:"id"`
	SpotID              string `json:"spotId"`
	UserID              string `json:"userId"`
	UserEmail           string `json:"userEmail"`
	ProposedName        string `json:"proposedName"`
	ProposedType        string `json:"proposedType"`
	ProposedDescription string `json:"proposedDescription,omitempty"`
	Reason              string `json:"reason"`
	CreatedAt           int64  `json:"createdAt"`
	Status              string `json:"status"`
	AdminNotes          string `json:"adminNotes,omitempty"`
	CurrentName         string `json:"currentName"`
	CurrentType         string `json:"currentType"`
	CurrentDescription  string `json:"currentDescription,omitempty"`
}

// PointView is a point with its engagement and moderation collections, the
// shape the map client renders.
type PointView struct {
	Point
	Comments        []Comment      `json:"comments"`
	Likes           []Like         `json:"likes"`
	Dislikes        []Like         `json:"dislikes"`
	Reports         []Report       `json:"reports,omitempty"`
	ActiveProposals []EditProposal `json:"activeProposals"`
}

type CreateInput struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Description string    `json:"description"`
}

type VoteSummary struct {
	Likes      int     `json:"likes"`
	Dislikes   int     `json:"dislikes"`
	UserStatus *string `json:"userStatus"`
}
