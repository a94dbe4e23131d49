package store

import "time"

// Content item lifecycle.
const (
	ItemStatusDraft         = "draft"
	ItemStatusPendingReview = "pending_review"
	ItemStatusPublished     = "published"
	ItemStatusRejected      = "rejected"
)

// Update request outcomes.
const (
	OutcomePending  = "pending"
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)

// ActorSystem is recorded as the decision actor when a request is superseded.
const ActorSystem = "system"

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	CanBypass   bool
	CreatedAt   time.Time
}

type ContentItem struct {
	ID        string
	OwnerID   string
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Version is an immutable release snapshot. Exactly one of FileRef and
// ExternalURL is set.
type Version struct {
	ID          string
	Seq         int64
	ItemID      string
	Number      string
	Changelog   []string
	FileRef     string
	ExternalURL string
	FileSize    int64
	IsInitial   bool
	CreatedBy   string
	CreatedAt   time.Time
}

type UpdateRequest struct {
	ID          string
	ItemID      string
	SubmitterID string
	Number      string
	Changelog   []string
	FileRef     string
	ExternalURL string
	FileSize    int64
	IsInitial   bool
	Outcome     string
	Reason      string
	SubmittedAt time.Time
	DecidedAt   *time.Time
	DecidedBy   string
}

type Notification struct {
	ID          string
	Seq         int64
	RecipientID string
	Kind        string
	PayloadType string
	PayloadID   string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}

type Comment struct {
	ID         string
	ItemID     string
	ParentID   *string
	Depth      int
	AuthorID   string
	Body       string
	LikeCount  int
	ReplyCount int
	CreatedAt  time.Time
}

type NotificationFilter struct {
	RecipientID string
	// BeforeSeq pages backwards; zero means start from the newest.
	BeforeSeq  int64
	Limit      int
	UnreadOnly bool
}

type RequestFilter struct {
	ItemID  string
	Outcome string
	Limit   int
}
