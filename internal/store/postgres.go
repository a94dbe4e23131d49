package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation   = "23505"
	pendingRequestIndex = "update_requests_one_pending"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, role, can_bypass)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name=EXCLUDED.display_name, email=EXCLUDED.email, role=EXCLUDED.role, can_bypass=EXCLUDED.can_bypass
	`, user.ID, user.DisplayName, user.Email, user.Role, user.CanBypass)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, can_bypass, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CanBypass, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, roles ...string) ([]User, error) {
	payload, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, can_bypass, created_at
		FROM users
		WHERE role IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY id ASC
	`, string(payload))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CanBypass, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, item ContentItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_items (id, owner_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, item.ID, item.OwnerID, item.Title, item.Status, item.CreatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (ContentItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, status, created_at, updated_at
		FROM content_items
		WHERE id=$1
	`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	if err != nil {
		return ContentItem{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, itemID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, item_id, number, changelog::text, COALESCE(file_ref, ''), COALESCE(external_url, ''), file_size, is_initial, created_by, created_at
		FROM versions
		WHERE item_id=$1
		ORDER BY seq ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

const requestColumns = `id, item_id, submitter_id, number, changelog::text, COALESCE(file_ref, ''), COALESCE(external_url, ''), file_size, is_initial, outcome, reason, submitted_at, decided_at, COALESCE(decided_by, '')`

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (UpdateRequest, error) {
	request, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM update_requests WHERE id=$1`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return UpdateRequest{}, ErrNotFound
	}
	if err != nil {
		return UpdateRequest{}, fmt.Errorf("get request: %w", err)
	}
	return request, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]UpdateRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM update_requests
		WHERE ($1 = '' OR item_id = $1)
		  AND ($2 = '' OR outcome = $2)
		ORDER BY submitted_at DESC, id DESC
		LIMIT $3
	`, filter.ItemID, filter.Outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items := make([]UpdateRequest, 0)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) (Notification, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_id, kind, payload_type, payload_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, notification.ID, notification.RecipientID, notification.Kind, notification.PayloadType, notification.PayloadID, notification.CreatedAt).Scan(&notification.Seq)
	if isUniqueViolation(err, "") {
		return Notification{}, ErrDuplicate
	}
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	notification.ReadAt = nil
	return notification, nil
}

const notificationColumns = `id, seq, recipient_id, kind, payload_type, payload_id, created_at, read_at`

func (s *PostgresStore) GetNotification(ctx context.Context, notificationID string) (Notification, error) {
	notification, err := scanNotification(s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, notificationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return notification, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read_at IS NULL
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id=$1
		  AND ($2::bigint = 0 OR seq < $2)
		  AND (NOT $3::boolean OR read_at IS NULL)
		ORDER BY seq DESC
		LIMIT $4
	`, filter.RecipientID, filter.BeforeSeq, filter.UnreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead reports whether the notification changed state.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=$2 WHERE id=$1 AND read_at IS NULL
	`, notificationID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1)`, notificationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkAllNotificationsRead marks rows up to the highest seq visible when it
// starts, so notifications created after that stay unread. It runs under
// READ COMMITTED: a row marked concurrently by MarkNotificationRead is
// simply skipped by the read_at filter instead of failing the transaction.
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin mark all read: %w", err)
	}
	var snapshot int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM notifications WHERE recipient_id=$1
	`, recipientID).Scan(&snapshot); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("read notification snapshot: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE notifications SET read_at=$2
		WHERE recipient_id=$1 AND read_at IS NULL AND seq <= $3
	`, recipientID, at, snapshot)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("mark all read rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark all read: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	if comment.ParentID != nil {
		result, err := tx.ExecContext(ctx, `
			UPDATE comments SET reply_count = reply_count + 1
			WHERE id=$1 AND item_id=$2
		`, *comment.ParentID, comment.ItemID)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump reply count: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			_ = tx.Rollback()
			return ErrNotFound
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, item_id, parent_id, depth, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.ItemID, comment.ParentID, comment.Depth, comment.AuthorID, comment.Body, comment.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit comment: %w", err)
	}
	return nil
}

const commentColumns = `id, item_id, parent_id, depth, author_id, body, like_count, reply_count, created_at`

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) ListTopLevelComments(ctx context.Context, itemID string) ([]Comment, error) {
	return s.listComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE item_id=$1 AND parent_id IS NULL ORDER BY created_at ASC, id ASC`, itemID)
}

func (s *PostgresStore) ListReplies(ctx context.Context, itemID string) ([]Comment, error) {
	return s.listComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE item_id=$1 AND parent_id IS NOT NULL ORDER BY created_at ASC, id ASC`, itemID)
}

func (s *PostgresStore) listComments(ctx context.Context, query, itemID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) LikeComment(ctx context.Context, commentID string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, `
		UPDATE comments SET like_count = like_count + 1
		WHERE id=$1
		RETURNING `+commentColumns, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("like comment: %w", err)
	}
	return comment, nil
}

// WithItem locks the item row for the duration of fn.
func (s *PostgresStore) WithItem(ctx context.Context, itemID string, fn ItemFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin item tx: %w", err)
	}
	item, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, title, status, created_at, updated_at
		FROM content_items
		WHERE id=$1
		FOR UPDATE
	`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock item: %w", err)
	}

	if err := fn(&pgItemTx{tx: tx, item: item}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit item tx: %w", err)
	}
	return nil
}

type pgItemTx struct {
	tx   *sql.Tx
	item ContentItem
}

func (t *pgItemTx) Item() ContentItem { return t.item }

func (t *pgItemTx) LatestVersion(ctx context.Context) (*Version, error) {
	version, err := scanVersion(t.tx.QueryRowContext(ctx, `
		SELECT id, seq, item_id, number, changelog::text, COALESCE(file_ref, ''), COALESCE(external_url, ''), file_size, is_initial, created_by, created_at
		FROM versions
		WHERE item_id=$1
		ORDER BY seq DESC
		LIMIT 1
	`, t.item.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (t *pgItemTx) PendingRequest(ctx context.Context) (*UpdateRequest, error) {
	request, err := scanRequest(t.tx.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM update_requests
		WHERE item_id=$1 AND outcome='pending'
	`, t.item.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending request: %w", err)
	}
	return &request, nil
}

func (t *pgItemTx) GetRequest(ctx context.Context, requestID string) (UpdateRequest, error) {
	request, err := scanRequest(t.tx.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM update_requests
		WHERE id=$1 AND item_id=$2
	`, requestID, t.item.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return UpdateRequest{}, ErrNotFound
	}
	if err != nil {
		return UpdateRequest{}, fmt.Errorf("get request: %w", err)
	}
	return request, nil
}

func (t *pgItemTx) InsertRequest(ctx context.Context, request UpdateRequest) error {
	changelog, err := marshalChangelog(request.Changelog)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO update_requests (id, item_id, submitter_id, number, changelog, file_ref, external_url, file_size, is_initial, outcome, reason, submitted_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12)
	`, request.ID, t.item.ID, request.SubmitterID, request.Number, changelog, request.FileRef, request.ExternalURL, request.FileSize, request.IsInitial, request.Outcome, request.Reason, request.SubmittedAt)
	if isUniqueViolation(err, pendingRequestIndex) {
		return ErrPendingExists
	}
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (t *pgItemTx) DecideRequest(ctx context.Context, requestID, outcome, reason, actor string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE update_requests
		SET outcome=$3, reason=$4, decided_by=$5, decided_at=$6
		WHERE id=$1 AND item_id=$2 AND outcome='pending'
	`, requestID, t.item.ID, outcome, reason, actor, at)
	if err != nil {
		return fmt.Errorf("decide request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide request rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := t.GetRequest(ctx, requestID); err != nil {
		return err
	}
	return ErrAlreadyDecided
}

func (t *pgItemTx) AppendVersion(ctx context.Context, version Version) error {
	changelog, err := marshalChangelog(version.Changelog)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO versions (id, item_id, number, changelog, file_ref, external_url, file_size, is_initial, created_by, created_at)
		VALUES ($1, $2, $3, $4::jsonb, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
	`, version.ID, t.item.ID, version.Number, changelog, version.FileRef, version.ExternalURL, version.FileSize, version.IsInitial, version.CreatedBy, version.CreatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	return nil
}

func (t *pgItemTx) SetItemStatus(ctx context.Context, status string, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE content_items SET status=$2, updated_at=$3 WHERE id=$1
	`, t.item.ID, status, at); err != nil {
		return fmt.Errorf("set item status: %w", err)
	}
	t.item.Status = status
	t.item.UpdatedAt = at
	return nil
}

func (t *pgItemTx) InsertNotification(ctx context.Context, notification Notification) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, kind, payload_type, payload_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, notification.ID, notification.RecipientID, notification.Kind, notification.PayloadType, notification.PayloadID, notification.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ContentItem, error) {
	var item ContentItem
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func scanVersion(row rowScanner) (Version, error) {
	var version Version
	var changelog string
	if err := row.Scan(
		&version.ID,
		&version.Seq,
		&version.ItemID,
		&version.Number,
		&changelog,
		&version.FileRef,
		&version.ExternalURL,
		&version.FileSize,
		&version.IsInitial,
		&version.CreatedBy,
		&version.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Version{}, err
		}
		return Version{}, fmt.Errorf("scan version: %w", err)
	}
	entries, err := unmarshalChangelog(changelog)
	if err != nil {
		return Version{}, err
	}
	version.Changelog = entries
	return version, nil
}

func scanRequest(row rowScanner) (UpdateRequest, error) {
	var request UpdateRequest
	var changelog string
	var decidedAt sql.NullTime
	if err := row.Scan(
		&request.ID,
		&request.ItemID,
		&request.SubmitterID,
		&request.Number,
		&changelog,
		&request.FileRef,
		&request.ExternalURL,
		&request.FileSize,
		&request.IsInitial,
		&request.Outcome,
		&request.Reason,
		&request.SubmittedAt,
		&decidedAt,
		&request.DecidedBy,
	); err != nil {
		return UpdateRequest{}, err
	}
	if decidedAt.Valid {
		at := decidedAt.Time
		request.DecidedAt = &at
	}
	entries, err := unmarshalChangelog(changelog)
	if err != nil {
		return UpdateRequest{}, err
	}
	request.Changelog = entries
	return request, nil
}

func scanNotification(row rowScanner) (Notification, error) {
	var notification Notification
	var readAt sql.NullTime
	if err := row.Scan(
		&notification.ID,
		&notification.Seq,
		&notification.RecipientID,
		&notification.Kind,
		&notification.PayloadType,
		&notification.PayloadID,
		&notification.CreatedAt,
		&readAt,
	); err != nil {
		return Notification{}, err
	}
	if readAt.Valid {
		at := readAt.Time
		notification.ReadAt = &at
	}
	return notification, nil
}

func scanComment(row rowScanner) (Comment, error) {
	var comment Comment
	var parentID sql.NullString
	if err := row.Scan(
		&comment.ID,
		&comment.ItemID,
		&parentID,
		&comment.Depth,
		&comment.AuthorID,
		&comment.Body,
		&comment.LikeCount,
		&comment.ReplyCount,
		&comment.CreatedAt,
	); err != nil {
		return Comment{}, err
	}
	if parentID.Valid {
		parent := parentID.String
		comment.ParentID = &parent
	}
	return comment, nil
}

func marshalChangelog(entries []string) (string, error) {
	if entries == nil {
		entries = []string{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal changelog: %w", err)
	}
	return string(payload), nil
}

func unmarshalChangelog(raw string) ([]string, error) {
	entries := make([]string, 0)
	if raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode changelog: %w", err)
	}
	return entries, nil
}

// isUniqueViolation matches 23505, optionally restricted to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
