package app

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"modhub/api/internal/artifacts"
	"modhub/api/internal/ledger"
	"modhub/api/internal/releaselog"
	"modhub/api/internal/store"
	"modhub/api/internal/util"
)

const (
	maxTitleLength     = 200
	maxChangelogLines  = 100
	maxChangelogLength = 500
	supersededReason   = "superseded"
)

type CreateItemInput struct {
	Title string `json:"title"`
}

type SubmitUpdateInput struct {
	Number      string   `json:"version"`
	Changelog   []string `json:"changelog"`
	FileRef     string   `json:"fileRef"`
	ExternalURL string   `json:"externalUrl"`
	FileSize    int64    `json:"fileSize"`
}

type ItemView struct {
	Item           store.ContentItem
	Versions       []store.Version
	PendingRequest *store.UpdateRequest
}

// pendingNotification is queued inside an item section and fanned out to
// caches and mail only after the section commits.
type pendingNotification struct {
	notification store.Notification
}

func (s *Service) CreateItem(ctx context.Context, actor Actor, input CreateItemInput) (store.ContentItem, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.ContentItem{}, validationFailed("title is required", nil)
	}
	if len(title) > maxTitleLength {
		return store.ContentItem{}, validationFailed("title is too long", map[string]any{"max": maxTitleLength})
	}
	now := s.now()
	item := store.ContentItem{
		ID:        util.NewID("item"),
		OwnerID:   actor.UserID,
		Title:     title,
		Status:    store.ItemStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return store.ContentItem{}, err
	}
	s.log.Info().Str("item_id", item.ID).Str("owner_id", item.OwnerID).Msg("content item created")
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (ItemView, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return ItemView{}, mapStoreError(err, "content item")
	}
	versions, err := s.store.ListVersions(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	pending, err := s.store.ListRequests(ctx, store.RequestFilter{ItemID: itemID, Outcome: store.OutcomePending, Limit: 1})
	if err != nil {
		return ItemView{}, err
	}
	view := ItemView{Item: item, Versions: versions}
	if len(pending) > 0 {
		view.PendingRequest = &pending[0]
	}
	return view, nil
}

// ListUpdateRequests is visible to anyone who can edit the item and to
// moderators.
func (s *Service) ListUpdateRequests(ctx context.Context, actor Actor, itemID, outcome string, limit int) ([]store.UpdateRequest, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, mapStoreError(err, "content item")
	}
	if err := s.requireEditOrModerate(ctx, actor, item); err != nil {
		return nil, err
	}
	switch outcome {
	case "", store.OutcomePending, store.OutcomeApproved, store.OutcomeRejected:
	default:
		return nil, validationFailed("invalid outcome filter", map[string]any{"outcome": outcome})
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.ListRequests(ctx, store.RequestFilter{ItemID: itemID, Outcome: outcome, Limit: limit})
}

func (s *Service) ListReleases(ctx context.Context, itemID string, limit int) ([]releaselog.Entry, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, mapStoreError(err, "content item")
	}
	if s.releases == nil {
		return []releaselog.Entry{}, nil
	}
	return s.releases.History(itemID, limit)
}

// SubmitUpdate moves the item's gate from idle to awaiting review.
func (s *Service) SubmitUpdate(ctx context.Context, actor Actor, itemID string, input SubmitUpdateInput) (store.UpdateRequest, error) {
	input, err := normalizeSubmission(input)
	if err != nil {
		return store.UpdateRequest{}, err
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return store.UpdateRequest{}, mapStoreError(err, "content item")
	}
	allowed, err := s.authz.CanEdit(ctx, actor.UserID, item)
	if err != nil {
		return store.UpdateRequest{}, err
	}
	if !allowed {
		s.metrics.GateTransition("submit", "forbidden")
		return store.UpdateRequest{}, forbidden("you cannot submit updates for this item")
	}
	bypass, err := s.authz.HasBypassPrivilege(ctx, actor.UserID)
	if err != nil {
		return store.UpdateRequest{}, err
	}
	if input.FileRef != "" && s.artifacts != nil {
		object, err := s.artifacts.Stat(ctx, input.FileRef)
		if errors.Is(err, artifacts.ErrObjectNotFound) {
			return store.UpdateRequest{}, validationFailed("uploaded file was not found", map[string]any{"fileRef": input.FileRef})
		}
		if err != nil {
			return store.UpdateRequest{}, err
		}
		input.FileSize = object.Size
	}
	moderators, err := s.authz.Moderators(ctx)
	if err != nil {
		return store.UpdateRequest{}, err
	}

	now := s.now()
	request := store.UpdateRequest{
		ID:          util.NewID("upd"),
		ItemID:      itemID,
		SubmitterID: actor.UserID,
		Number:      input.Number,
		Changelog:   input.Changelog,
		FileRef:     input.FileRef,
		ExternalURL: input.ExternalURL,
		FileSize:    input.FileSize,
		Outcome:     store.OutcomePending,
		SubmittedAt: now,
	}
	var queued []pendingNotification
	var superseded *store.UpdateRequest

	err = s.store.WithItem(ctx, itemID, func(tx store.ItemTx) error {
		queued = queued[:0]
		superseded = nil
		current := tx.Item()
		if current.Status == store.ItemStatusPendingReview {
			return itemNotPublishedYet()
		}

		pending, err := tx.PendingRequest(ctx)
		if err != nil {
			return err
		}
		if pending != nil {
			if !bypass {
				return gateBusy(pending.ID)
			}
			if err := tx.DecideRequest(ctx, pending.ID, store.OutcomeRejected, supersededReason, store.ActorSystem, now); err != nil {
				return err
			}
			superseded = pending
			if pending.SubmitterID != actor.UserID {
				queued = append(queued, s.newNotification(pending.SubmitterID, KindUpdateSuperseded, PayloadUpdateRequest, pending.ID, now))
			}
		}

		latest, err := tx.LatestVersion(ctx)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Propose(latest, request.Number); err != nil {
			return invalidVersion(err)
		}
		request.IsInitial = latest == nil
		if err := tx.InsertRequest(ctx, request); err != nil {
			if errors.Is(err, store.ErrPendingExists) {
				return gateBusy("")
			}
			return err
		}
		if request.IsInitial {
			if err := tx.SetItemStatus(ctx, store.ItemStatusPendingReview, now); err != nil {
				return err
			}
		}

		for _, moderatorID := range moderators {
			if moderatorID == actor.UserID {
				continue
			}
			queued = append(queued, s.newNotification(moderatorID, KindUpdateSubmitted, PayloadUpdateRequest, request.ID, now))
		}
		for _, q := range queued {
			if err := tx.InsertNotification(ctx, q.notification); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.GateTransition("submit", resultLabel(err))
		return store.UpdateRequest{}, mapStoreError(err, "content item")
	}

	s.metrics.GateTransition("submit", "ok")
	if superseded != nil {
		s.metrics.GateTransition("supersede", "ok")
		s.log.Info().
			Str("item_id", itemID).
			Str("request_id", superseded.ID).
			Str("superseded_by", request.ID).
			Msg("pending update superseded")
	}
	s.log.Info().
		Str("item_id", itemID).
		Str("request_id", request.ID).
		Str("submitter_id", actor.UserID).
		Str("version", request.Number).
		Bool("initial", request.IsInitial).
		Msg("update submitted")
	s.afterCommit(ctx, queued)
	return request, nil
}

// ApproveUpdate appends the requested version and returns the gate to idle.
func (s *Service) ApproveUpdate(ctx context.Context, actor Actor, requestID string) (store.Version, error) {
	request, err := s.requireModeratedRequest(ctx, actor, requestID)
	if err != nil {
		return store.Version{}, err
	}

	now := s.now()
	var version store.Version
	var item store.ContentItem
	var queued []pendingNotification

	err = s.store.WithItem(ctx, request.ItemID, func(tx store.ItemTx) error {
		queued = queued[:0]
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Outcome != store.OutcomePending {
			return alreadyDecided(current.Outcome)
		}

		version = store.Version{
			ID:          util.NewID("ver"),
			ItemID:      current.ItemID,
			Number:      current.Number,
			Changelog:   current.Changelog,
			FileRef:     current.FileRef,
			ExternalURL: current.ExternalURL,
			FileSize:    current.FileSize,
			IsInitial:   current.IsInitial,
			CreatedBy:   current.SubmitterID,
			CreatedAt:   now,
		}
		if err := s.ledger.Append(ctx, tx, version); err != nil {
			if errors.Is(err, ledger.ErrOutOfOrder) {
				return outOfOrder(err)
			}
			return err
		}
		if err := tx.DecideRequest(ctx, requestID, store.OutcomeApproved, "", actor.UserID, now); err != nil {
			return err
		}
		if tx.Item().Status != store.ItemStatusPublished {
			if err := tx.SetItemStatus(ctx, store.ItemStatusPublished, now); err != nil {
				return err
			}
		}
		item = tx.Item()
		request = current

		q := s.newNotification(current.SubmitterID, KindUpdateApproved, PayloadVersion, version.ID, now)
		queued = append(queued, q)
		return tx.InsertNotification(ctx, q.notification)
	})
	if err != nil {
		s.metrics.GateTransition("approve", resultLabel(err))
		return store.Version{}, mapStoreError(err, "update request")
	}

	s.metrics.GateTransition("approve", "ok")
	s.log.Info().
		Str("item_id", request.ItemID).
		Str("request_id", requestID).
		Str("moderator_id", actor.UserID).
		Str("version", version.Number).
		Msg("update approved")
	s.afterCommit(ctx, queued)
	s.mirrorRelease(item, request, version, actor)
	return version, nil
}

// RejectUpdate returns the gate to idle without creating a version.
func (s *Service) RejectUpdate(ctx context.Context, actor Actor, requestID, reason string) (store.UpdateRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.UpdateRequest{}, validationFailed("reason is required", nil)
	}
	request, err := s.requireModeratedRequest(ctx, actor, requestID)
	if err != nil {
		return store.UpdateRequest{}, err
	}

	now := s.now()
	var queued []pendingNotification
	err = s.store.WithItem(ctx, request.ItemID, func(tx store.ItemTx) error {
		queued = queued[:0]
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Outcome != store.OutcomePending {
			return alreadyDecided(current.Outcome)
		}
		if err := tx.DecideRequest(ctx, requestID, store.OutcomeRejected, reason, actor.UserID, now); err != nil {
			return err
		}
		if current.IsInitial {
			if err := tx.SetItemStatus(ctx, store.ItemStatusRejected, now); err != nil {
				return err
			}
		}
		decidedAt := now
		current.Outcome = store.OutcomeRejected
		current.Reason = reason
		current.DecidedBy = actor.UserID
		current.DecidedAt = &decidedAt
		request = current

		q := s.newNotification(current.SubmitterID, KindUpdateRejected, PayloadUpdateRequest, requestID, now)
		queued = append(queued, q)
		return tx.InsertNotification(ctx, q.notification)
	})
	if err != nil {
		s.metrics.GateTransition("reject", resultLabel(err))
		return store.UpdateRequest{}, mapStoreError(err, "update request")
	}

	s.metrics.GateTransition("reject", "ok")
	s.log.Info().
		Str("item_id", request.ItemID).
		Str("request_id", requestID).
		Str("moderator_id", actor.UserID).
		Msg("update rejected")
	s.afterCommit(ctx, queued)
	return request, nil
}

func (s *Service) requireModeratedRequest(ctx context.Context, actor Actor, requestID string) (store.UpdateRequest, error) {
	allowed, err := s.authz.CanModerate(ctx, actor.UserID)
	if err != nil {
		return store.UpdateRequest{}, err
	}
	if !allowed {
		return store.UpdateRequest{}, forbidden("only moderators can decide update requests")
	}
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.UpdateRequest{}, mapStoreError(err, "update request")
	}
	return request, nil
}

func (s *Service) requireEditOrModerate(ctx context.Context, actor Actor, item store.ContentItem) error {
	canEdit, err := s.authz.CanEdit(ctx, actor.UserID, item)
	if err != nil {
		return err
	}
	if canEdit {
		return nil
	}
	canModerate, err := s.authz.CanModerate(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if !canModerate {
		return forbidden("you cannot view update requests for this item")
	}
	return nil
}

// mirrorRelease never fails the approval; the database is the source of truth.
func (s *Service) mirrorRelease(item store.ContentItem, request store.UpdateRequest, version store.Version, actor Actor) {
	if s.releases == nil {
		return
	}
	entry, err := s.releases.Record(releaselog.Release{
		ItemID:      item.ID,
		Title:       item.Title,
		Number:      version.Number,
		Changelog:   version.Changelog,
		FileRef:     version.FileRef,
		ExternalURL: version.ExternalURL,
		FileSize:    version.FileSize,
		SubmittedBy: request.SubmitterID,
		ApprovedBy:  actor.UserID,
		ReleasedAt:  version.CreatedAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("item_id", item.ID).Str("version", version.Number).Msg("release mirror failed")
		return
	}
	s.log.Debug().Str("item_id", item.ID).Str("tag", entry.Tag).Str("hash", entry.Hash).Msg("release mirrored")
}

func normalizeSubmission(input SubmitUpdateInput) (SubmitUpdateInput, error) {
	input.Number = strings.TrimSpace(input.Number)
	input.FileRef = strings.TrimSpace(input.FileRef)
	input.ExternalURL = strings.TrimSpace(input.ExternalURL)

	missing := make([]string, 0)
	if input.Number == "" {
		missing = append(missing, "version")
	}
	if input.FileRef == "" && input.ExternalURL == "" {
		missing = append(missing, "fileRef|externalUrl")
	}
	if len(missing) > 0 {
		return input, validationFailed("missing required fields", map[string]any{"fields": missing})
	}
	if input.FileRef != "" && input.ExternalURL != "" {
		return input, validationFailed("set either fileRef or externalUrl, not both", nil)
	}
	if input.ExternalURL != "" {
		parsed, err := url.Parse(input.ExternalURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return input, validationFailed("externalUrl must be an http(s) URL", nil)
		}
	}
	if input.FileSize < 0 {
		return input, validationFailed("fileSize cannot be negative", nil)
	}
	if _, err := ledger.Parse(input.Number); err != nil {
		return input, invalidVersion(err)
	}

	changelog := make([]string, 0, len(input.Changelog))
	for _, line := range input.Changelog {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxChangelogLength {
			return input, validationFailed("changelog entry is too long", map[string]any{"max": maxChangelogLength})
		}
		changelog = append(changelog, line)
	}
	if len(changelog) > maxChangelogLines {
		return input, validationFailed("too many changelog entries", map[string]any{"max": maxChangelogLines})
	}
	input.Changelog = changelog
	return input, nil
}

func (s *Service) newNotification(recipientID, kind, payloadType, payloadID string, at time.Time) pendingNotification {
	return pendingNotification{notification: store.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		Kind:        kind,
		PayloadType: payloadType,
		PayloadID:   payloadID,
		CreatedAt:   at,
	}}
}

func resultLabel(err error) string {
	if code := ErrorCode(err); code != "" {
		return strings.ToLower(code)
	}
	if errors.Is(err, store.ErrNotFound) {
		return "not_found"
	}
	return "error"
}

func mapStoreError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	case errors.Is(err, store.ErrAlreadyDecided):
		return alreadyDecided("")
	case errors.Is(err, store.ErrPendingExists):
		return gateBusy("")
	default:
		return err
	}
}
