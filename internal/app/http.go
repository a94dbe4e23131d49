package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"modhub/api/internal/auth"
	"modhub/api/internal/logging"
	"modhub/api/internal/store"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	tokenSecret []byte
	log         zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, tokenSecret []byte) *HTTPServer {
	return &HTTPServer{
		service:     service,
		corsOrigin:  corsOrigin,
		tokenSecret: tokenSecret,
		log:         logging.Component(service.log, "http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.service.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.service.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireActor)

		r.Post("/api/items", s.handleCreateItem)
		r.Get("/api/items/{itemID}", s.handleGetItem)
		r.Get("/api/items/{itemID}/updates", s.handleListUpdates)
		r.Post("/api/items/{itemID}/updates", s.handleSubmitUpdate)
		r.Get("/api/items/{itemID}/releases", s.handleListReleases)
		r.Get("/api/items/{itemID}/comments", s.handleListComments)
		r.Post("/api/items/{itemID}/comments", s.handleCreateComment)
		r.Post("/api/updates/{requestID}/approve", s.handleApprove)
		r.Post("/api/updates/{requestID}/reject", s.handleReject)
		r.Post("/api/comments/{commentID}/like", s.handleLikeComment)

		r.Get("/api/notifications", s.handleListNotifications)
		r.Get("/api/notifications/unread-count", s.handleUnreadCount)
		r.Post("/api/notifications/read-all", s.handleMarkAllRead)
		r.Post("/api/notifications/{notificationID}/read", s.handleMarkRead)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	deps := []struct {
		name string
		ping func(context.Context) error
	}{
		{name: "database", ping: s.service.Ping},
		{name: "cache", ping: s.service.PingCache},
	}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[dep.name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[dep.name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var input CreateItemInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error(), nil)
		return
	}
	item, err := s.service.CreateItem(r.Context(), actorFrom(r), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemView(item))
}

func (s *HTTPServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	versions := make([]versionView, 0, len(view.Versions))
	for _, v := range view.Versions {
		versions = append(versions, toVersionView(v))
	}
	var pending *updateRequestView
	if view.PendingRequest != nil {
		p := toUpdateRequestView(*view.PendingRequest)
		pending = &p
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":           toItemView(view.Item),
		"versions":       versions,
		"pendingRequest": pending,
	})
}

func (s *HTTPServer) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	requests, err := s.service.ListUpdateRequests(r.Context(), actorFrom(r), chi.URLParam(r, "itemID"), query.Get("outcome"), queryInt(query.Get("limit"), 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]updateRequestView, 0, len(requests))
	for _, request := range requests {
		items = append(items, toUpdateRequestView(request))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	var input SubmitUpdateInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error(), nil)
		return
	}
	request, err := s.service.SubmitUpdate(r.Context(), actorFrom(r), chi.URLParam(r, "itemID"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toUpdateRequestView(request))
}

func (s *HTTPServer) handleListReleases(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListReleases(r.Context(), chi.URLParam(r, "itemID"), queryInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.ApproveUpdate(r.Context(), actorFrom(r), chi.URLParam(r, "requestID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionView(version))
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error(), nil)
		return
	}
	request, err := s.service.RejectUpdate(r.Context(), actorFrom(r), chi.URLParam(r, "requestID"), body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUpdateRequestView(request))
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	before, err := strconv.ParseInt(firstNonEmpty(query.Get("before"), "0"), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidationFailed, "before must be a sequence number", nil)
		return
	}
	page, err := s.service.ListNotifications(r.Context(), actorFrom(r).UserID, NotificationQuery{
		Limit:      queryInt(query.Get("limit"), 0),
		BeforeSeq:  before,
		UnreadOnly: query.Get("unread") == "true" || query.Get("unread") == "1",
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]notificationView, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, toNotificationView(n))
	}
	response := map[string]any{"items": items, "nextCursor": nil}
	if page.NextCursor > 0 {
		response["nextCursor"] = strconv.FormatInt(page.NextCursor, 10)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.UnreadCount(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	notification, err := s.service.MarkRead(r.Context(), actorFrom(r).UserID, chi.URLParam(r, "notificationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationView(notification))
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	marked, err := s.service.MarkAllRead(r.Context(), actorFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := s.service.ListComments(r.Context(), chi.URLParam(r, "itemID"), query.Get("sort"),
		queryInt(query.Get("page"), 1), queryInt(query.Get("pageSize"), 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	threads := make([]threadView, 0, len(page.Threads))
	for _, thread := range page.Threads {
		threads = append(threads, toThreadView(thread))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sort":     page.Strategy,
		"page":     page.Page,
		"items":    threads,
		"hasMore":  page.HasMore,
		"pageSize": page.PageSize,
	})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var input CreateCommentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error(), nil)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), actorFrom(r), chi.URLParam(r, "itemID"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentView(comment))
}

func (s *HTTPServer) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	comment, err := s.service.LikeComment(r.Context(), actorFrom(r), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommentView(comment))
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

type actorKey struct{}

func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.FromHeader(s.tokenSecret, r.Header.Get("Authorization"))
		if errors.Is(err, auth.ErrExpiredToken) {
			s.fail(w, r, unauthorized("Token expired"))
			return
		}
		if err != nil {
			s.fail(w, r, unauthorized("Unauthorized"))
			return
		}
		actor := Actor{
			UserID: claims.Sub,
			Name:   claims.Name,
			Role:   claims.Role,
			Bypass: claims.Bypass,
		}
		if _, err := s.service.EnsureUser(r.Context(), actor); err != nil {
			s.fail(w, r, fmt.Errorf("sync user: %w", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) Actor {
	actor, _ := r.Context().Value(actorKey{}).(Actor)
	return actor
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		// Seed the route context so the matched pattern is visible after routing.
		rctx := chi.NewRouteContext()
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := rctx.RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		took := time.Since(started)
		s.service.metrics.ObserveRequest(r.Method, route, writer.status, took)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", writer.status).
			Dur("duration", took).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func firstNonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
