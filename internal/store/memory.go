package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every entity in process. It backs local development
// when no DATABASE_URL is configured and most of the package tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	items         map[string]ContentItem
	versions      map[string][]Version
	requests      map[string]UpdateRequest
	requestOrder  []string
	notifications map[string]Notification
	notifOrder    []string
	comments      map[string]Comment
	commentOrder  []string
	seq           int64

	lockMu    sync.Mutex
	itemLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		items:         make(map[string]ContentItem),
		versions:      make(map[string][]Version),
		requests:      make(map[string]UpdateRequest),
		notifications: make(map[string]Notification),
		comments:      make(map[string]Comment),
		itemLocks:     make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) UpsertUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok && user.CreatedAt.IsZero() {
		user.CreatedAt = existing.CreatedAt
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryStore) ListUsersByRole(_ context.Context, roles ...string) ([]User, error) {
	want := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		want[role] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]User, 0)
	for _, user := range m.users {
		if _, ok := want[user.Role]; ok {
			items = append(items, user)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) CreateItem(_ context.Context, item ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return ErrDuplicate
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, itemID string) (ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return ContentItem{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryStore) ListVersions(_ context.Context, itemID string) ([]Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.versions[itemID]
	items := make([]Version, 0, len(stored))
	for _, version := range stored {
		items = append(items, cloneVersion(version))
	}
	return items, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, requestID string) (UpdateRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	request, ok := m.requests[requestID]
	if !ok {
		return UpdateRequest{}, ErrNotFound
	}
	return cloneRequest(request), nil
}

// ListRequests returns matching requests, newest first.
func (m *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]UpdateRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]UpdateRequest, 0)
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		request := m.requests[m.requestOrder[i]]
		if filter.ItemID != "" && request.ItemID != filter.ItemID {
			continue
		}
		if filter.Outcome != "" && request.Outcome != filter.Outcome {
			continue
		}
		items = append(items, cloneRequest(request))
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, notification Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[notification.ID]; ok {
		return Notification{}, ErrDuplicate
	}
	return m.insertNotificationLocked(notification), nil
}

func (m *MemoryStore) insertNotificationLocked(notification Notification) Notification {
	m.seq++
	notification.Seq = m.seq
	notification.ReadAt = nil
	m.notifications[notification.ID] = notification
	m.notifOrder = append(m.notifOrder, notification.ID)
	return notification
}

func (m *MemoryStore) GetNotification(_ context.Context, notificationID string) (Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	notification, ok := m.notifications[notificationID]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return notification, nil
}

func (m *MemoryStore) CountUnread(_ context.Context, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, notification := range m.notifications {
		if notification.RecipientID == recipientID && notification.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, filter NotificationFilter) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Notification, 0)
	for i := len(m.notifOrder) - 1; i >= 0; i-- {
		notification := m.notifications[m.notifOrder[i]]
		if notification.RecipientID != filter.RecipientID {
			continue
		}
		if filter.BeforeSeq > 0 && notification.Seq >= filter.BeforeSeq {
			continue
		}
		if filter.UnreadOnly && notification.ReadAt != nil {
			continue
		}
		items = append(items, notification)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

// MarkNotificationRead reports whether the notification changed state.
func (m *MemoryStore) MarkNotificationRead(_ context.Context, notificationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification, ok := m.notifications[notificationID]
	if !ok {
		return false, ErrNotFound
	}
	if notification.ReadAt != nil {
		return false, nil
	}
	readAt := at
	notification.ReadAt = &readAt
	m.notifications[notificationID] = notification
	return true, nil
}

func (m *MemoryStore) MarkAllNotificationsRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for id, notification := range m.notifications {
		if notification.RecipientID != recipientID || notification.ReadAt != nil {
			continue
		}
		readAt := at
		notification.ReadAt = &readAt
		m.notifications[id] = notification
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) InsertComment(_ context.Context, comment Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[comment.ItemID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.comments[comment.ID]; ok {
		return ErrDuplicate
	}
	if comment.ParentID != nil {
		parent, ok := m.comments[*comment.ParentID]
		if !ok || parent.ItemID != comment.ItemID {
			return ErrNotFound
		}
		parent.ReplyCount++
		m.comments[parent.ID] = parent
	}
	m.comments[comment.ID] = cloneComment(comment)
	m.commentOrder = append(m.commentOrder, comment.ID)
	return nil
}

func (m *MemoryStore) GetComment(_ context.Context, commentID string) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	comment, ok := m.comments[commentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return cloneComment(comment), nil
}

func (m *MemoryStore) ListTopLevelComments(_ context.Context, itemID string) ([]Comment, error) {
	return m.listComments(itemID, true), nil
}

func (m *MemoryStore) ListReplies(_ context.Context, itemID string) ([]Comment, error) {
	return m.listComments(itemID, false), nil
}

func (m *MemoryStore) listComments(itemID string, topLevel bool) []Comment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Comment, 0)
	for _, id := range m.commentOrder {
		comment := m.comments[id]
		if comment.ItemID != itemID || (comment.ParentID == nil) != topLevel {
			continue
		}
		items = append(items, cloneComment(comment))
	}
	return items
}

func (m *MemoryStore) LikeComment(_ context.Context, commentID string) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[commentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	comment.LikeCount++
	m.comments[commentID] = comment
	return cloneComment(comment), nil
}

// WithItem serializes fn against every other WithItem call for the same item.
func (m *MemoryStore) WithItem(ctx context.Context, itemID string, fn ItemFunc) error {
	lock := m.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := m.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	tx := &memoryTx{store: m, item: item, staged: make(map[string]UpdateRequest)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) itemLock(itemID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.itemLocks[itemID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.itemLocks[itemID] = lock
	return lock
}

type memoryTx struct {
	store         *MemoryStore
	item          ContentItem
	statusChanged bool
	staged        map[string]UpdateRequest
	newRequests   []string
	versions      []Version
	notifications []Notification
}

func (tx *memoryTx) Item() ContentItem { return tx.item }

func (tx *memoryTx) LatestVersion(context.Context) (*Version, error) {
	if n := len(tx.versions); n > 0 {
		latest := cloneVersion(tx.versions[n-1])
		return &latest, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	stored := tx.store.versions[tx.item.ID]
	if len(stored) == 0 {
		return nil, nil
	}
	latest := cloneVersion(stored[len(stored)-1])
	return &latest, nil
}

func (tx *memoryTx) PendingRequest(context.Context) (*UpdateRequest, error) {
	for _, request := range tx.mergedRequests() {
		if request.Outcome == OutcomePending {
			found := cloneRequest(request)
			return &found, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) mergedRequests() []UpdateRequest {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	items := make([]UpdateRequest, 0)
	for _, id := range tx.store.requestOrder {
		request := tx.store.requests[id]
		if request.ItemID != tx.item.ID {
			continue
		}
		if staged, ok := tx.staged[id]; ok {
			request = staged
		}
		items = append(items, request)
	}
	for _, id := range tx.newRequests {
		items = append(items, tx.staged[id])
	}
	return items
}

func (tx *memoryTx) GetRequest(_ context.Context, requestID string) (UpdateRequest, error) {
	if staged, ok := tx.staged[requestID]; ok {
		return cloneRequest(staged), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	request, ok := tx.store.requests[requestID]
	if !ok || request.ItemID != tx.item.ID {
		return UpdateRequest{}, ErrNotFound
	}
	return cloneRequest(request), nil
}

func (tx *memoryTx) InsertRequest(ctx context.Context, request UpdateRequest) error {
	request.ItemID = tx.item.ID
	if request.Outcome == OutcomePending {
		pending, err := tx.PendingRequest(ctx)
		if err != nil {
			return err
		}
		if pending != nil {
			return ErrPendingExists
		}
	}
	if _, err := tx.GetRequest(ctx, request.ID); err == nil {
		return ErrDuplicate
	}
	tx.staged[request.ID] = cloneRequest(request)
	tx.newRequests = append(tx.newRequests, request.ID)
	return nil
}

func (tx *memoryTx) DecideRequest(ctx context.Context, requestID, outcome, reason, actor string, at time.Time) error {
	request, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Outcome != OutcomePending {
		return ErrAlreadyDecided
	}
	decidedAt := at
	request.Outcome = outcome
	request.Reason = reason
	request.DecidedBy = actor
	request.DecidedAt = &decidedAt
	tx.staged[requestID] = request
	return nil
}

func (tx *memoryTx) AppendVersion(_ context.Context, version Version) error {
	version.ItemID = tx.item.ID
	tx.versions = append(tx.versions, cloneVersion(version))
	return nil
}

func (tx *memoryTx) SetItemStatus(_ context.Context, status string, at time.Time) error {
	tx.item.Status = status
	tx.item.UpdatedAt = at
	tx.statusChanged = true
	return nil
}

func (tx *memoryTx) InsertNotification(_ context.Context, notification Notification) error {
	tx.notifications = append(tx.notifications, notification)
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, request := range tx.staged {
		s.requests[id] = request
	}
	s.requestOrder = append(s.requestOrder, tx.newRequests...)
	for _, version := range tx.versions {
		s.seq++
		version.Seq = s.seq
		s.versions[tx.item.ID] = append(s.versions[tx.item.ID], version)
	}
	if tx.statusChanged {
		s.items[tx.item.ID] = tx.item
	}
	for _, notification := range tx.notifications {
		s.insertNotificationLocked(notification)
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneVersion(v Version) Version {
	v.Changelog = cloneStrings(v.Changelog)
	return v
}

func cloneRequest(r UpdateRequest) UpdateRequest {
	r.Changelog = cloneStrings(r.Changelog)
	if r.DecidedAt != nil {
		at := *r.DecidedAt
		r.DecidedAt = &at
	}
	return r
}

func cloneComment(c Comment) Comment {
	if c.ParentID != nil {
		parent := *c.ParentID
		c.ParentID = &parent
	}
	return c
}
