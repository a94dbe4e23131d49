package app

import (
	"time"

	"modhub/api/internal/comments"
	"modhub/api/internal/store"
)

type itemView struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type versionView struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"itemId"`
	Number      string    `json:"version"`
	Changelog   []string  `json:"changelog"`
	FileRef     string    `json:"fileRef,omitempty"`
	ExternalURL string    `json:"externalUrl,omitempty"`
	FileSize    int64     `json:"fileSize"`
	IsInitial   bool      `json:"isInitial"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type updateRequestView struct {
	ID          string     `json:"id"`
	ItemID      string     `json:"itemId"`
	SubmitterID string     `json:"submitterId"`
	Number      string     `json:"version"`
	Changelog   []string   `json:"changelog"`
	FileRef     string     `json:"fileRef,omitempty"`
	ExternalURL string     `json:"externalUrl,omitempty"`
	FileSize    int64      `json:"fileSize"`
	IsInitial   bool       `json:"isInitial"`
	Outcome     string     `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	DecidedBy   string     `json:"decidedBy,omitempty"`
}

type notificationView struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	Kind        string     `json:"kind"`
	PayloadType string     `json:"payloadType"`
	PayloadID   string     `json:"payloadId"`
	Read        bool       `json:"read"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

type commentView struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"itemId"`
	ParentID   *string   `json:"parentId"`
	Depth      int       `json:"depth"`
	AuthorID   string    `json:"authorId"`
	Body       string    `json:"body"`
	LikeCount  int       `json:"likeCount"`
	ReplyCount int       `json:"replyCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

type threadView struct {
	commentView
	Replies []threadView `json:"replies"`
}

func toItemView(item store.ContentItem) itemView {
	return itemView{
		ID:        item.ID,
		OwnerID:   item.OwnerID,
		Title:     item.Title,
		Status:    item.Status,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func toVersionView(v store.Version) versionView {
	return versionView{
		ID:          v.ID,
		ItemID:      v.ItemID,
		Number:      v.Number,
		Changelog:   nonNilStrings(v.Changelog),
		FileRef:     v.FileRef,
		ExternalURL: v.ExternalURL,
		FileSize:    v.FileSize,
		IsInitial:   v.IsInitial,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
	}
}

func toUpdateRequestView(r store.UpdateRequest) updateRequestView {
	return updateRequestView{
		ID:          r.ID,
		ItemID:      r.ItemID,
		SubmitterID: r.SubmitterID,
		Number:      r.Number,
		Changelog:   nonNilStrings(r.Changelog),
		FileRef:     r.FileRef,
		ExternalURL: r.ExternalURL,
		FileSize:    r.FileSize,
		IsInitial:   r.IsInitial,
		Outcome:     r.Outcome,
		Reason:      r.Reason,
		SubmittedAt: r.SubmittedAt,
		DecidedAt:   r.DecidedAt,
		DecidedBy:   r.DecidedBy,
	}
}

func toNotificationView(n store.Notification) notificationView {
	return notificationView{
		ID:          n.ID,
		Seq:         n.Seq,
		Kind:        n.Kind,
		PayloadType: n.PayloadType,
		PayloadID:   n.PayloadID,
		Read:        n.IsRead(),
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
	}
}

func toCommentView(c store.Comment) commentView {
	return commentView{
		ID:         c.ID,
		ItemID:     c.ItemID,
		ParentID:   c.ParentID,
		Depth:      c.Depth,
		AuthorID:   c.AuthorID,
		Body:       c.Body,
		LikeCount:  c.LikeCount,
		ReplyCount: c.ReplyCount,
		CreatedAt:  c.CreatedAt,
	}
}

func toThreadView(t comments.Thread) threadView {
	view := threadView{commentView: toCommentView(t.Comment), Replies: make([]threadView, 0, len(t.Replies))}
	for _, reply := range t.Replies {
		view.Replies = append(view.Replies, toThreadView(reply))
	}
	return view
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
