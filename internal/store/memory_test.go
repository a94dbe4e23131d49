package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedItem(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	err := s.CreateItem(context.Background(), ContentItem{
		ID:        id,
		OwnerID:   "owner",
		Title:     "Better Trees",
		Status:    ItemStatusPublished,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
}

func TestWithItemDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedItem(t, s, "item-1")
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := s.WithItem(ctx, "item-1", func(tx ItemTx) error {
		if err := tx.InsertRequest(ctx, UpdateRequest{ID: "req-1", SubmitterID: "u1", Number: "1.0.0", Outcome: OutcomePending, SubmittedAt: now}); err != nil {
			return err
		}
		if err := tx.AppendVersion(ctx, Version{ID: "ver-1", Number: "1.0.0", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.SetItemStatus(ctx, ItemStatusRejected, now); err != nil {
			return err
		}
		if err := tx.InsertNotification(ctx, Notification{ID: "n1", RecipientID: "mod", Kind: "update_submitted"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetRequest(ctx, "req-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected request to be discarded, got %v", err)
	}
	versions, _ := s.ListVersions(ctx, "item-1")
	if len(versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(versions))
	}
	item, _ := s.GetItem(ctx, "item-1")
	if item.Status != ItemStatusPublished {
		t.Fatalf("expected status unchanged, got %s", item.Status)
	}
	if count, _ := s.CountUnread(ctx, "mod"); count != 0 {
		t.Fatalf("expected no notifications, got %d", count)
	}
}

func TestWithItemMissingItem(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithItem(context.Background(), "nope", func(ItemTx) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertRequestRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedItem(t, s, "item-1")
	now := time.Now().UTC()

	insert := func(id string) error {
		return s.WithItem(ctx, "item-1", func(tx ItemTx) error {
			return tx.InsertRequest(ctx, UpdateRequest{ID: id, SubmitterID: "u1", Number: "1.1.0", Outcome: OutcomePending, SubmittedAt: now})
		})
	}
	if err := insert("req-1"); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if err := insert("req-2"); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}

	err := s.WithItem(ctx, "item-1", func(tx ItemTx) error {
		if err := tx.DecideRequest(ctx, "req-1", OutcomeRejected, "superseded", ActorSystem, now); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, UpdateRequest{ID: "req-3", SubmitterID: "u2", Number: "1.2.0", Outcome: OutcomePending, SubmittedAt: now})
	})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}

	stale, _ := s.GetRequest(ctx, "req-1")
	if stale.Outcome != OutcomeRejected || stale.DecidedBy != ActorSystem || stale.DecidedAt == nil {
		t.Fatalf("unexpected stale request: %+v", stale)
	}
	pending, _ := s.ListRequests(ctx, RequestFilter{ItemID: "item-1", Outcome: OutcomePending})
	if len(pending) != 1 || pending[0].ID != "req-3" {
		t.Fatalf("expected only req-3 pending, got %+v", pending)
	}
}

func TestDecideRequestOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedItem(t, s, "item-1")
	now := time.Now().UTC()

	_ = s.WithItem(ctx, "item-1", func(tx ItemTx) error {
		return tx.InsertRequest(ctx, UpdateRequest{ID: "req-1", Number: "1.1.0", Outcome: OutcomePending})
	})
	decide := func() error {
		return s.WithItem(ctx, "item-1", func(tx ItemTx) error {
			return tx.DecideRequest(ctx, "req-1", OutcomeApproved, "", "mod", now)
		})
	}
	if err := decide(); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	if err := decide(); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestWithItemSerializesConcurrentSections(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedItem(t, s, "item-1")

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithItem(ctx, "item-1", func(tx ItemTx) error {
				pending, err := tx.PendingRequest(ctx)
				if err != nil {
					return err
				}
				if pending != nil {
					return ErrPendingExists
				}
				return tx.InsertRequest(ctx, UpdateRequest{ID: string(rune('a' + i)), Number: "2.0.0", Outcome: OutcomePending})
			})
			if err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("expected exactly one pending insert, got %d", inserted)
	}
}

func TestNotificationsReadState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	for _, id := range []string{"n1", "n2", "n3"} {
		if _, err := s.InsertNotification(ctx, Notification{ID: id, RecipientID: "u1", Kind: "mention", CreatedAt: now}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	_, _ = s.InsertNotification(ctx, Notification{ID: "other", RecipientID: "u2", Kind: "mention", CreatedAt: now})

	changed, err := s.MarkNotificationRead(ctx, "n1", now)
	if err != nil || !changed {
		t.Fatalf("first mark read: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkNotificationRead(ctx, "n1", now)
	if err != nil || changed {
		t.Fatalf("second mark read should be a no-op: changed=%v err=%v", changed, err)
	}

	unread, err := s.ListNotifications(ctx, NotificationFilter{RecipientID: "u1", UnreadOnly: true})
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 2 || unread[0].ID != "n3" {
		t.Fatalf("expected n3,n2 newest first, got %+v", unread)
	}

	page, _ := s.ListNotifications(ctx, NotificationFilter{RecipientID: "u1", BeforeSeq: unread[0].Seq, Limit: 1})
	if len(page) != 1 || page[0].ID != "n2" {
		t.Fatalf("expected cursor page [n2], got %+v", page)
	}

	marked, _ := s.MarkAllNotificationsRead(ctx, "u1", now)
	if marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}
	if count, _ := s.CountUnread(ctx, "u1"); count != 0 {
		t.Fatalf("expected 0 unread, got %d", count)
	}
	if count, _ := s.CountUnread(ctx, "u2"); count != 1 {
		t.Fatalf("expected other recipient untouched, got %d", count)
	}
}

func TestInsertReplyBumpsParent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedItem(t, s, "item-1")
	parentID := "c1"

	if err := s.InsertComment(ctx, Comment{ID: "c1", ItemID: "item-1", AuthorID: "u1", Body: "first"}); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	if err := s.InsertComment(ctx, Comment{ID: "c2", ItemID: "item-1", ParentID: &parentID, Depth: 1, AuthorID: "u2", Body: "reply"}); err != nil {
		t.Fatalf("insert reply: %v", err)
	}
	missing := "nope"
	if err := s.InsertComment(ctx, Comment{ID: "c3", ItemID: "item-1", ParentID: &missing, AuthorID: "u2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing parent, got %v", err)
	}

	parent, _ := s.GetComment(ctx, "c1")
	if parent.ReplyCount != 1 {
		t.Fatalf("expected reply count 1, got %d", parent.ReplyCount)
	}
	top, _ := s.ListTopLevelComments(ctx, "item-1")
	replies, _ := s.ListReplies(ctx, "item-1")
	if len(top) != 1 || len(replies) != 1 {
		t.Fatalf("expected 1 top-level and 1 reply, got %d and %d", len(top), len(replies))
	}
	liked, _ := s.LikeComment(ctx, "c2")
	if liked.LikeCount != 1 {
		t.Fatalf("expected like count 1, got %d", liked.LikeCount)
	}
}
