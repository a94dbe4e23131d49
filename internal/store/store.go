package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrPendingExists  = errors.New("store: item already has a pending update request")
	ErrAlreadyDecided = errors.New("store: update request already decided")
	ErrDuplicate      = errors.New("store: duplicate key")
)

// ItemTx is the view of one content item inside its exclusive section.
// Nothing written through it is visible to other callers until the
// enclosing WithItem call returns nil.
type ItemTx interface {
	Item() ContentItem
	LatestVersion(ctx context.Context) (*Version, error)
	PendingRequest(ctx context.Context) (*UpdateRequest, error)
	GetRequest(ctx context.Context, requestID string) (UpdateRequest, error)
	InsertRequest(ctx context.Context, request UpdateRequest) error
	DecideRequest(ctx context.Context, requestID, outcome, reason, actor string, at time.Time) error
	AppendVersion(ctx context.Context, version Version) error
	SetItemStatus(ctx context.Context, status string, at time.Time) error
	InsertNotification(ctx context.Context, notification Notification) error
}

// ItemFunc runs inside an exclusive per-item section. Returning an error
// discards every write made through the ItemTx.
type ItemFunc func(tx ItemTx) error
