package app

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"modhub/api/internal/comments"
	"modhub/api/internal/store"
	"modhub/api/internal/util"
)

const maxCommentLength = 5000

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_\-]{1,64})`)

type CreateCommentInput struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parentId"`
}

type CommentPage struct {
	Strategy string
	Page     int
	PageSize int
	Threads  []comments.Thread
	HasMore  bool
}

// ListComments ranks the top-level comments of an item, slices out one page
// and attaches every reply below each of them.
func (s *Service) ListComments(ctx context.Context, itemID, strategy string, page, pageSize int) (CommentPage, error) {
	parsed, err := comments.ParseStrategy(strategy)
	if err != nil {
		return CommentPage{}, validationFailed(err.Error(), map[string]any{"allowed": []string{"newest", "oldest", "best"}})
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return CommentPage{}, mapStoreError(err, "content item")
	}

	top, err := s.store.ListTopLevelComments(ctx, itemID)
	if err != nil {
		return CommentPage{}, err
	}
	ranked := comments.Rank(top, parsed, s.now(), s.cfg.CommentDecayFactor)
	pageItems, hasMore := comments.Page(ranked, page, pageSize, s.cfg.CommentPageMax)

	var threads []comments.Thread
	if len(pageItems) > 0 {
		replies, err := s.store.ListReplies(ctx, itemID)
		if err != nil {
			return CommentPage{}, err
		}
		threads = comments.BuildThreads(pageItems, replies)
	} else {
		threads = []comments.Thread{}
	}
	s.metrics.CommentPageServed(parsed.String())

	if page < 1 {
		page = 1
	}
	return CommentPage{
		Strategy: parsed.String(),
		Page:     page,
		PageSize: len(pageItems),
		Threads:  threads,
		HasMore:  hasMore,
	}, nil
}

func (s *Service) CreateComment(ctx context.Context, actor Actor, itemID string, input CreateCommentInput) (store.Comment, error) {
	if s.limiter != nil && !s.limiter.Allow(actor.UserID) {
		s.metrics.RateLimited()
		return store.Comment{}, rateLimited()
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Comment{}, validationFailed("comment body is required", nil)
	}
	if len([]rune(body)) > maxCommentLength {
		return store.Comment{}, validationFailed("comment is too long", map[string]any{"max": maxCommentLength})
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return store.Comment{}, mapStoreError(err, "content item")
	}

	comment := store.Comment{
		ID:        util.NewID("cmt"),
		ItemID:    itemID,
		AuthorID:  actor.UserID,
		Body:      body,
		CreatedAt: s.now(),
	}
	var parent *store.Comment
	if input.ParentID != nil && strings.TrimSpace(*input.ParentID) != "" {
		parentID := strings.TrimSpace(*input.ParentID)
		found, err := s.store.GetComment(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && found.ItemID != itemID) {
			return store.Comment{}, notFound("parent comment")
		}
		if err != nil {
			return store.Comment{}, err
		}
		maxDepth := s.cfg.MaxCommentDepth
		if maxDepth > 0 && found.Depth+1 > maxDepth {
			return store.Comment{}, validationFailed("reply nesting is too deep", map[string]any{"maxDepth": maxDepth})
		}
		parent = &found
		comment.ParentID = &parentID
		comment.Depth = found.Depth + 1
	}

	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, mapStoreError(err, "content item")
	}
	s.log.Info().
		Str("item_id", itemID).
		Str("comment_id", comment.ID).
		Str("author_id", actor.UserID).
		Int("depth", comment.Depth).
		Msg("comment created")

	s.notifyCommentAudience(ctx, actor, item, parent, comment)
	return comment, nil
}

func (s *Service) LikeComment(ctx context.Context, actor Actor, commentID string) (store.Comment, error) {
	comment, err := s.store.LikeComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, mapStoreError(err, "comment")
	}
	s.log.Debug().Str("comment_id", commentID).Str("actor_id", actor.UserID).Int("likes", comment.LikeCount).Msg("comment liked")
	return comment, nil
}

// notifyCommentAudience sends at most one notification per recipient and
// never one to the author. A reply outranks a mention, which outranks the
// owner's new-comment notice.
func (s *Service) notifyCommentAudience(ctx context.Context, actor Actor, item store.ContentItem, parent *store.Comment, comment store.Comment) {
	type target struct {
		recipient string
		kind      string
	}
	targets := make([]target, 0, 4)
	notified := map[string]bool{actor.UserID: true}
	add := func(recipient, kind string) {
		if recipient == "" || notified[recipient] {
			return
		}
		notified[recipient] = true
		targets = append(targets, target{recipient: recipient, kind: kind})
	}

	if parent != nil {
		add(parent.AuthorID, KindCommentReply)
	}
	for _, userID := range parseMentions(comment.Body) {
		if notified[userID] {
			continue
		}
		if _, err := s.store.GetUser(ctx, userID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("mention lookup failed")
			}
			continue
		}
		add(userID, KindMention)
	}
	add(item.OwnerID, KindNewComment)

	for _, t := range targets {
		if _, err := s.Notify(ctx, t.recipient, t.kind, PayloadRef{Type: PayloadComment, ID: comment.ID}); err != nil {
			s.log.Warn().Err(err).Str("recipient_id", t.recipient).Str("kind", t.kind).Msg("comment notification failed")
		}
	}
}

func parseMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
