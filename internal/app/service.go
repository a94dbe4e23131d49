package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modhub/api/internal/artifacts"
	"modhub/api/internal/config"
	"modhub/api/internal/ledger"
	"modhub/api/internal/logging"
	"modhub/api/internal/mailer"
	"modhub/api/internal/metrics"
	"modhub/api/internal/rbac"
	"modhub/api/internal/releaselog"
	"modhub/api/internal/store"
	"modhub/api/internal/unread"
)

// Actor is the authenticated caller as asserted by the identity provider.
type Actor struct {
	UserID string
	Name   string
	Role   string
	Email  string
	Bypass bool
}

// DataStore is implemented by store.PostgresStore and store.MemoryStore.
type DataStore interface {
	Ping(ctx context.Context) error
	UpsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	ListUsersByRole(context.Context, ...string) ([]store.User, error)
	CreateItem(context.Context, store.ContentItem) error
	GetItem(context.Context, string) (store.ContentItem, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	GetRequest(context.Context, string) (store.UpdateRequest, error)
	ListRequests(context.Context, store.RequestFilter) ([]store.UpdateRequest, error)
	InsertNotification(context.Context, store.Notification) (store.Notification, error)
	GetNotification(context.Context, string) (store.Notification, error)
	CountUnread(context.Context, string) (int, error)
	ListNotifications(context.Context, store.NotificationFilter) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, time.Time) (bool, error)
	MarkAllNotificationsRead(context.Context, string, time.Time) (int, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListTopLevelComments(context.Context, string) ([]store.Comment, error)
	ListReplies(context.Context, string) ([]store.Comment, error)
	LikeComment(context.Context, string) (store.Comment, error)
	WithItem(context.Context, string, store.ItemFunc) error
}

// Authorizer is the single capability check consulted at the top of every
// gate operation.
type Authorizer interface {
	CanEdit(ctx context.Context, userID string, item store.ContentItem) (bool, error)
	CanModerate(ctx context.Context, userID string) (bool, error)
	HasBypassPrivilege(ctx context.Context, userID string) (bool, error)
	// Moderators lists the users that review update requests.
	Moderators(ctx context.Context) ([]string, error)
}

type artifactStore interface {
	Stat(ctx context.Context, ref string) (artifacts.Object, error)
}

type releaseRecorder interface {
	Record(release releaselog.Release) (releaselog.Entry, error)
	History(itemID string, limit int) ([]releaselog.Entry, error)
}

type notificationMailer interface {
	IsConfigured() bool
	Compose(to string, data mailer.NotificationData) (mailer.Message, error)
	Send(msg mailer.Message) error
}

type commentLimiter interface {
	Allow(key string) bool
}

// Options carries the optional collaborators. Nil fields fall back to
// in-process defaults or disable the feature.
type Options struct {
	Authorizer Authorizer
	Cache      unread.Cache
	Artifacts  artifactStore
	Releases   releaseRecorder
	Mailer     notificationMailer
	Limiter    commentLimiter
	Metrics    *metrics.Metrics
	Logger     *zerolog.Logger
	Now        func() time.Time
}

type Service struct {
	cfg       config.Config
	store     DataStore
	authz     Authorizer
	ledger    *ledger.Ledger
	cache     unread.Cache
	artifacts artifactStore
	releases  releaseRecorder
	mailer    notificationMailer
	limiter   commentLimiter
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	// deliveries tracks in-flight notification e-mails.
	deliveries sync.WaitGroup
}

func New(cfg config.Config, dataStore DataStore, opts Options) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		authz:     opts.Authorizer,
		ledger:    ledger.New(),
		cache:     opts.Cache,
		artifacts: opts.Artifacts,
		releases:  opts.Releases,
		mailer:    opts.Mailer,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if s.authz == nil {
		s.authz = NewRoleAuthorizer(dataStore)
	}
	if s.cache == nil {
		s.cache = unread.NewMemoryCache(cfg.UnreadCacheTTL)
	}
	if opts.Logger != nil {
		s.log = logging.Component(*opts.Logger, "service")
	} else {
		s.log = logging.Nop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Close waits for background e-mail deliveries so none of them touch the
// store after it is closed. It gives up when ctx is done.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for email deliveries: %w", ctx.Err())
	}
}

// EnsureUser records the identity provider's view of the actor so role
// lookups and mentions resolve against it.
func (s *Service) EnsureUser(ctx context.Context, actor Actor) (store.User, error) {
	role := string(rbac.Normalize(actor.Role))
	existing, err := s.store.GetUser(ctx, actor.UserID)
	if err == nil && existing.Role == role && existing.CanBypass == actor.Bypass &&
		existing.DisplayName == actor.Name && (actor.Email == "" || existing.Email == actor.Email) {
		return existing, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.User{}, err
	}
	user := store.User{
		ID:          actor.UserID,
		DisplayName: actor.Name,
		Email:       actor.Email,
		Role:        role,
		CanBypass:   actor.Bypass,
		CreatedAt:   existing.CreatedAt,
	}
	if user.DisplayName == "" {
		user.DisplayName = actor.UserID
	}
	if user.Email == "" {
		user.Email = existing.Email
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

type userDirectory interface {
	GetUser(context.Context, string) (store.User, error)
	ListUsersByRole(context.Context, ...string) ([]store.User, error)
}

// RoleAuthorizer answers capability checks from stored user roles. Bypass
// is whatever the identity provider asserted for the user; no role implies it.
type RoleAuthorizer struct {
	users userDirectory
}

func NewRoleAuthorizer(users userDirectory) *RoleAuthorizer {
	return &RoleAuthorizer{users: users}
}

func (a *RoleAuthorizer) role(ctx context.Context, userID string) (rbac.Role, store.User, error) {
	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.User{}, nil
	}
	if err != nil {
		return "", store.User{}, err
	}
	return rbac.Normalize(user.Role), user, nil
}

func (a *RoleAuthorizer) CanEdit(ctx context.Context, userID string, item store.ContentItem) (bool, error) {
	role, _, err := a.role(ctx, userID)
	if err != nil || role == "" {
		return false, err
	}
	if item.OwnerID == userID {
		return rbac.Can(role, rbac.ActionSubmit), nil
	}
	return rbac.Can(role, rbac.ActionEditAny), nil
}

func (a *RoleAuthorizer) CanModerate(ctx context.Context, userID string) (bool, error) {
	role, _, err := a.role(ctx, userID)
	if err != nil || role == "" {
		return false, err
	}
	return rbac.Can(role, rbac.ActionModerate), nil
}

func (a *RoleAuthorizer) HasBypassPrivilege(ctx context.Context, userID string) (bool, error) {
	_, user, err := a.role(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.CanBypass, nil
}

func (a *RoleAuthorizer) Moderators(ctx context.Context) ([]string, error) {
	users, err := a.users.ListUsersByRole(ctx, rbac.Reviewers()...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

var (
	_ DataStore = (*store.PostgresStore)(nil)
	_ DataStore = (*store.MemoryStore)(nil)
)
