package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"modhub/api/internal/mailer"
	"modhub/api/internal/store"
	"modhub/api/internal/util"
)

const (
	KindUpdateSubmitted  = "update_submitted"
	KindUpdateApproved   = "update_approved"
	KindUpdateRejected   = "update_rejected"
	KindUpdateSuperseded = "update_superseded"
	KindNewComment       = "new_comment"
	KindCommentReply     = "comment_reply"
	KindMention          = "mention"
)

const (
	PayloadUpdateRequest = "update_request"
	PayloadVersion       = "version"
	PayloadComment       = "comment"
	PayloadItem          = "item"
)

var notificationKinds = map[string]struct{}{
	KindUpdateSubmitted:  {},
	KindUpdateApproved:   {},
	KindUpdateRejected:   {},
	KindUpdateSuperseded: {},
	KindNewComment:       {},
	KindCommentReply:     {},
	KindMention:          {},
}

var payloadTypes = map[string]struct{}{
	PayloadUpdateRequest: {},
	PayloadVersion:       {},
	PayloadComment:       {},
	PayloadItem:          {},
}

const defaultNotificationPage = 20

type PayloadRef struct {
	Type string
	ID   string
}

type NotificationQuery struct {
	Limit      int
	BeforeSeq  int64
	UnreadOnly bool
}

type NotificationPage struct {
	Items []store.Notification
	// NextCursor is the BeforeSeq for the following page; zero when done.
	NextCursor int64
}

// Notify stores one notification. Duplicates are never suppressed.
func (s *Service) Notify(ctx context.Context, recipientID, kind string, payload PayloadRef) (store.Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return store.Notification{}, validationFailed("recipient is required", nil)
	}
	if _, ok := notificationKinds[kind]; !ok {
		return store.Notification{}, validationFailed("unknown notification kind", map[string]any{"kind": kind})
	}
	if _, ok := payloadTypes[payload.Type]; !ok || strings.TrimSpace(payload.ID) == "" {
		return store.Notification{}, validationFailed("invalid notification payload", nil)
	}

	created, err := s.store.InsertNotification(ctx, store.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		Kind:        kind,
		PayloadType: payload.Type,
		PayloadID:   payload.ID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return store.Notification{}, err
	}
	s.afterCommit(ctx, []pendingNotification{{notification: created}})
	return created, nil
}

// UnreadCount serves from the cache. A value computed from the store is
// only cached if no invalidation happened since the lookup.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, gen, ok, err := s.cache.Lookup(ctx, recipientID)
	if err != nil {
		s.metrics.UnreadCacheLookup("error")
		s.log.Warn().Err(err).Str("recipient_id", recipientID).Msg("unread cache lookup failed")
		return s.store.CountUnread(ctx, recipientID)
	}
	if ok {
		s.metrics.UnreadCacheLookup("hit")
		return count, nil
	}
	s.metrics.UnreadCacheLookup("miss")

	count, err = s.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Store(ctx, recipientID, gen, count); err != nil {
		s.log.Warn().Err(err).Str("recipient_id", recipientID).Msg("unread cache store failed")
	}
	return count, nil
}

func (s *Service) ListNotifications(ctx context.Context, recipientID string, query NotificationQuery) (NotificationPage, error) {
	limit := query.Limit
	maxLimit := s.cfg.NotificationPageMax
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if query.BeforeSeq < 0 {
		return NotificationPage{}, validationFailed("cursor cannot be negative", nil)
	}

	items, err := s.store.ListNotifications(ctx, store.NotificationFilter{
		RecipientID: recipientID,
		BeforeSeq:   query.BeforeSeq,
		Limit:       limit + 1,
		UnreadOnly:  query.UnreadOnly,
	})
	if err != nil {
		return NotificationPage{}, err
	}
	page := NotificationPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].Seq
	}
	return page, nil
}

// MarkRead is idempotent. Other recipients' notifications look missing.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) (store.Notification, error) {
	notification, err := s.store.GetNotification(ctx, notificationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && notification.RecipientID != recipientID) {
		return store.Notification{}, notFound("notification")
	}
	if err != nil {
		return store.Notification{}, err
	}
	if notification.IsRead() {
		return notification, nil
	}

	now := s.now()
	changed, err := s.store.MarkNotificationRead(ctx, notificationID, now)
	if err != nil {
		return store.Notification{}, mapStoreError(err, "notification")
	}
	if changed {
		readAt := now
		notification.ReadAt = &readAt
		s.invalidate(ctx, recipientID)
	} else if fresh, err := s.store.GetNotification(ctx, notificationID); err == nil {
		notification = fresh
	}
	return notification, nil
}

// MarkAllRead only touches notifications visible when it starts; anything
// created concurrently stays unread.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	marked, err := s.store.MarkAllNotificationsRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, recipientID)
	s.log.Debug().Str("recipient_id", recipientID).Int("marked", marked).Msg("notifications marked read")
	return marked, nil
}

// afterCommit runs once the notifications are durable: invalidate first so
// the next count includes them, then hand off to mail.
func (s *Service) afterCommit(ctx context.Context, queued []pendingNotification) {
	seen := make(map[string]struct{}, len(queued))
	for _, q := range queued {
		s.metrics.NotificationCreated(q.notification.Kind)
		if _, ok := seen[q.notification.RecipientID]; ok {
			continue
		}
		seen[q.notification.RecipientID] = struct{}{}
		s.invalidate(ctx, q.notification.RecipientID)
	}
	for _, q := range queued {
		s.deliverEmail(q.notification)
	}
}

func (s *Service) invalidate(ctx context.Context, recipientID string) {
	if err := s.cache.Invalidate(ctx, recipientID); err != nil {
		s.log.Warn().Err(err).Str("recipient_id", recipientID).Msg("unread cache invalidation failed")
	}
}

func (s *Service) deliverEmail(notification store.Notification) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		user, err := s.store.GetUser(ctx, notification.RecipientID)
		if err != nil || strings.TrimSpace(user.Email) == "" {
			return
		}
		msg, err := s.mailer.Compose(user.Email, mailer.NotificationData{
			RecipientName: user.DisplayName,
			Kind:          notification.Kind,
			Link:          notificationLink(notification),
		})
		if err == nil {
			err = s.mailer.Send(msg)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("notification_id", notification.ID).Msg("notification email failed")
		}
	}()
}

func notificationLink(n store.Notification) string {
	switch n.PayloadType {
	case PayloadUpdateRequest:
		return "/updates/" + n.PayloadID
	case PayloadVersion:
		return "/versions/" + n.PayloadID
	case PayloadComment:
		return "/comments/" + n.PayloadID
	case PayloadItem:
		return "/items/" + n.PayloadID
	default:
		return ""
	}
}
