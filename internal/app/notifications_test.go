package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"modhub/api/internal/mailer"
	"modhub/api/internal/store"
	"modhub/api/internal/unread"
)

func notifyComment(t *testing.T, f *fixture, recipientID, commentID string) store.Notification {
	t.Helper()
	n, err := f.svc.Notify(context.Background(), recipientID, KindNewComment, PayloadRef{Type: PayloadComment, ID: commentID})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	return n
}

func unreadCount(t *testing.T, f *fixture, recipientID string) int {
	t.Helper()
	count, err := f.svc.UnreadCount(context.Background(), recipientID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	return count
}

func TestNotifyNeverDeduplicates(t *testing.T) {
	f := newFixture(t)
	first := notifyComment(t, f, f.owner.UserID, "cmt-1")
	second := notifyComment(t, f, f.owner.UserID, "cmt-1")
	if first.ID == second.ID || second.Seq <= first.Seq {
		t.Fatalf("expected two distinct notifications, got %+v and %+v", first, second)
	}
	if got := unreadCount(t, f, f.owner.UserID); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}
}

func TestNotifyValidatesKindAndPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Notify(ctx, f.owner.UserID, "party_invite", PayloadRef{Type: PayloadComment, ID: "cmt-1"})
	requireCode(t, err, CodeValidationFailed)
	_, err = f.svc.Notify(ctx, f.owner.UserID, KindMention, PayloadRef{Type: "planet", ID: "cmt-1"})
	requireCode(t, err, CodeValidationFailed)
	_, err = f.svc.Notify(ctx, "", KindMention, PayloadRef{Type: PayloadComment, ID: "cmt-1"})
	requireCode(t, err, CodeValidationFailed)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := notifyComment(t, f, f.owner.UserID, "cmt-1")

	first, err := f.svc.MarkRead(ctx, f.owner.UserID, n.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := f.svc.MarkRead(ctx, f.owner.UserID, n.ID)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if first.ReadAt == nil || second.ReadAt == nil || !first.ReadAt.Equal(*second.ReadAt) {
		t.Fatalf("expected the original read time to stick, got %v then %v", first.ReadAt, second.ReadAt)
	}
	if got := unreadCount(t, f, f.owner.UserID); got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
}

func TestMarkReadHidesOtherRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := notifyComment(t, f, f.owner.UserID, "cmt-1")

	_, err := f.svc.MarkRead(ctx, f.other.UserID, n.ID)
	requireCode(t, err, CodeNotFound)
	_, err = f.svc.MarkRead(ctx, f.owner.UserID, "ntf-missing")
	requireCode(t, err, CodeNotFound)

	if got := unreadCount(t, f, f.owner.UserID); got != 1 {
		t.Fatalf("expected notification to stay unread, got %d", got)
	}
}

func TestNotifyMarkAllNotifyLeavesOneUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notifyComment(t, f, f.owner.UserID, "cmt-1")
	notifyComment(t, f, f.owner.UserID, "cmt-2")
	if got := unreadCount(t, f, f.owner.UserID); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}
	marked, err := f.svc.MarkAllRead(ctx, f.owner.UserID)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}
	if got := unreadCount(t, f, f.owner.UserID); got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
	notifyComment(t, f, f.owner.UserID, "cmt-3")
	if got := unreadCount(t, f, f.owner.UserID); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
}

func TestUnreadCountServedFromCacheUntilInvalidated(t *testing.T) {
	cache := unread.NewMemoryCache(time.Hour)
	f := newFixture(t, func(o *Options) { o.Cache = cache })
	ctx := context.Background()

	notifyComment(t, f, f.owner.UserID, "cmt-1")
	if got := unreadCount(t, f, f.owner.UserID); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}

	// Written behind the service's back, so the cached value stays.
	if _, err := f.store.InsertNotification(ctx, store.Notification{
		ID: "ntf-direct", RecipientID: f.owner.UserID, Kind: KindMention,
		PayloadType: PayloadComment, PayloadID: "cmt-2", CreatedAt: f.clock.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := unreadCount(t, f, f.owner.UserID); got != 1 {
		t.Fatalf("expected cached 1, got %d", got)
	}

	notifyComment(t, f, f.owner.UserID, "cmt-3")
	if got := unreadCount(t, f, f.owner.UserID); got != 3 {
		t.Fatalf("expected 3 after invalidation, got %d", got)
	}
}

func TestListNotificationsPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"cmt-1", "cmt-2", "cmt-3", "cmt-4", "cmt-5"} {
		notifyComment(t, f, f.owner.UserID, id)
		f.clock.Advance(time.Second)
	}

	first, err := f.svc.ListNotifications(ctx, f.owner.UserID, NotificationQuery{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].PayloadID != "cmt-5" || first.NextCursor == 0 {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := f.svc.ListNotifications(ctx, f.owner.UserID, NotificationQuery{Limit: 2, BeforeSeq: first.NextCursor})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].PayloadID != "cmt-3" {
		t.Fatalf("unexpected second page: %+v", second)
	}
	third, err := f.svc.ListNotifications(ctx, f.owner.UserID, NotificationQuery{Limit: 2, BeforeSeq: second.NextCursor})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(third.Items) != 1 || third.NextCursor != 0 {
		t.Fatalf("unexpected last page: %+v", third)
	}

	if _, err := f.svc.MarkRead(ctx, f.owner.UserID, first.Items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unreadOnly, err := f.svc.ListNotifications(ctx, f.owner.UserID, NotificationQuery{UnreadOnly: true})
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unreadOnly.Items) != 4 {
		t.Fatalf("expected 4 unread, got %d", len(unreadOnly.Items))
	}
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	done chan struct{}
}

func (m *recordingMailer) IsConfigured() bool { return true }

func (m *recordingMailer) Compose(to string, data mailer.NotificationData) (mailer.Message, error) {
	return mailer.Message{To: to, Subject: data.Kind, Text: data.Link}, nil
}

func (m *recordingMailer) Send(msg mailer.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func TestNotificationEmailIsSentToRecipient(t *testing.T) {
	mail := &recordingMailer{done: make(chan struct{}, 1)}
	f := newFixture(t, func(o *Options) { o.Mailer = mail })
	ctx := context.Background()
	if _, err := f.svc.EnsureUser(ctx, Actor{UserID: "owner", Name: "Owner", Role: "member", Email: "owner@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	notifyComment(t, f, f.owner.UserID, "cmt-9")
	select {
	case <-mail.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification email")
	}

	mail.mu.Lock()
	defer mail.mu.Unlock()
	if len(mail.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mail.sent))
	}
	if mail.sent[0].To != "owner@example.com" || mail.sent[0].Text != "/comments/cmt-9" {
		t.Fatalf("unexpected email: %+v", mail.sent[0])
	}
}

type blockingMailer struct {
	recordingMailer
	release chan struct{}
}

func (m *blockingMailer) Send(msg mailer.Message) error {
	<-m.release
	return m.recordingMailer.Send(msg)
}

func TestCloseWaitsForEmailDeliveries(t *testing.T) {
	mail := &blockingMailer{
		recordingMailer: recordingMailer{done: make(chan struct{}, 1)},
		release:         make(chan struct{}),
	}
	f := newFixture(t, func(o *Options) { o.Mailer = mail })
	ctx := context.Background()
	if _, err := f.svc.EnsureUser(ctx, Actor{UserID: "owner", Name: "Owner", Role: "member", Email: "owner@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	notifyComment(t, f, f.owner.UserID, "cmt-close")

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := f.svc.Close(short); err == nil {
		t.Fatal("expected Close to time out while a delivery is blocked")
	}

	close(mail.release)
	if err := f.svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	mail.mu.Lock()
	defer mail.mu.Unlock()
	if len(mail.sent) != 1 {
		t.Fatalf("expected delivery to finish before Close returned, got %d sent", len(mail.sent))
	}
}
