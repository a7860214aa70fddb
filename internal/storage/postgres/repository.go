package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"strconv"
	"strings"
	"time"
)

// Ensure NotificationRepository implements the interface
var _ repo.NotificationStore = (*NotificationRepository)(nil)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const notificationColumns = `id, kind, recipient_address, recipient_name, scheduled_at, status,
	context_data, created_at, sent_at, last_error, attempt, retry_of, claimed_until`

const (
	insertNotification = `INSERT INTO notifications
	(id, kind, recipient_address, recipient_name, scheduled_at, status, context_data, created_at, attempt, retry_of)
	VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)`

	getNotification = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	findDueNotifications = `SELECT id FROM notifications
	WHERE status = 'pending' AND scheduled_at <= $1
		AND (claimed_until IS NULL OR claimed_until <= $1)
	ORDER BY scheduled_at, seq`

	claimNotification = `UPDATE notifications SET claimed_until = $2
	WHERE id = $1 AND status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $3)`

	releaseClaim = `UPDATE notifications SET claimed_until = NULL
	WHERE id = $1 AND status = 'pending'`

	markSent = `UPDATE notifications SET status = 'sent', sent_at = $2, claimed_until = NULL
	WHERE id = $1 AND status = 'pending'`

	markFailed = `UPDATE notifications SET status = 'failed', last_error = $2, claimed_until = NULL
	WHERE id = $1 AND status = 'pending'`

	cancelNotification = `UPDATE notifications SET status = 'cancelled'
	WHERE id = $1 AND status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)`

	notificationExists = `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`

	countByStatusAndKind = `SELECT status, kind, count(*) FROM notifications GROUP BY status, kind`

	countRecentSent = `SELECT count(*) FROM notifications
	WHERE status = 'sent' AND sent_at > $1 AND sent_at <= $2`
)

// NotificationRepository implements the NotificationStore interface
// using PostgreSQL as a backend.
type NotificationRepository struct {
	db     DBTX
	clock  clock.Clock
	logger zerolog.Logger
}

// NewNotificationRepository creates a new instance of the NotificationRepository
func NewNotificationRepository(db DBTX, clk clock.Clock, logger *zerolog.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		clock:  clk,
		logger: logger.With().Str("layer", "postgres_repository").Logger(),
	}
}

// Insert validates n and persists it in pending state.
func (r *NotificationRepository) Insert(ctx context.Context, n *model.ScheduledNotification) (uuid.UUID, error) {
	now := r.clock.Now()
	if err := model.ValidateForInsert(n, now); err != nil {
		return uuid.Nil, err
	}

	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	attempt := n.Attempt
	if attempt < 1 {
		attempt = 1
	}

	data, err := encodeContextData(n.ContextData)
	if err != nil {
		return uuid.Nil, err
	}

	_, err = r.db.Exec(ctx, insertNotification,
		pgtype.UUID{Bytes: id, Valid: true},
		string(n.Kind),
		n.Recipient.Address,
		n.Recipient.DisplayName,
		n.ScheduledAt.UTC(),
		data,
		now,
		int32(attempt),
		toPgUUID(n.RetryOf),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, repo.ErrDuplicateRecord
		}
		r.logger.Err(err).Msg("cannot create notification")
		return uuid.Nil, fmt.Errorf("postgres: insert notification failed: %w", err)
	}

	return id, nil
}

// Get retrieves a notification by its unique ID.
func (r *NotificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error) {
	n, err := scanNotification(r.db.QueryRow(ctx, getNotification, pgtype.UUID{Bytes: id, Valid: true}))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		r.logger.Err(err).Str("method", "Get").Msg("cannot get notification")
		return nil, fmt.Errorf("postgres: get notification failed: %w", err)
	}
	return n, nil
}

// FindDue returns unclaimed pending ids with ScheduledAt <= now, ties broken by insertion order.
func (r *NotificationRepository) FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, findDueNotifications, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: find due failed: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan due id: %w", err)
		}
		ids = append(ids, id.Bytes)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find due failed: %w", err)
	}
	return ids, nil
}

// Claim leases a pending record to the caller until the given instant. The conditional
// update makes the claim atomic across instances sharing the database.
func (r *NotificationRepository) Claim(ctx context.Context, id uuid.UUID, until time.Time) (bool, error) {
	return r.transition(ctx, id, "Claim", claimNotification, until.UTC(), r.clock.Now().UTC())
}

// Release drops the lease on a pending record.
func (r *NotificationRepository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, "Release", releaseClaim)
}

// MarkSent transitions a pending record to sent.
func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return r.transition(ctx, id, "MarkSent", markSent, sentAt.UTC())
}

// MarkFailed transitions a pending record to failed.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return r.transition(ctx, id, "MarkFailed", markFailed, errMsg)
}

// Cancel transitions a pending, unclaimed record to cancelled.
func (r *NotificationRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, "Cancel", cancelNotification, r.clock.Now().UTC())
}

// transition runs a conditional update. Zero affected rows means either the record is gone
// or its state did not allow the update, which is told apart by an existence check.
func (r *NotificationRepository) transition(ctx context.Context, id uuid.UUID, method, query string, args ...any) (bool, error) {
	pgID := pgtype.UUID{Bytes: id, Valid: true}
	tag, err := r.db.Exec(ctx, query, append([]any{pgID}, args...)...)
	if err != nil {
		r.logger.Err(err).Stringer("id", id).Str("method", method).Msg("cannot update notification")
		return false, fmt.Errorf("postgres: %s failed: %w", method, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, notificationExists, pgID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: %s existence check failed: %w", method, err)
	}
	if !exists {
		return false, repo.ErrNotFound
	}
	r.logger.Debug().Stringer("id", id).Str("method", method).Msg("update ignored, record is not pending or is claimed")
	return false, nil
}

// Query returns matching records, most recently created first.
func (r *NotificationRepository) Query(ctx context.Context, filter model.Filter) ([]model.ScheduledNotification, error) {
	query, args := buildListQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query notifications failed: %w", err)
	}
	defer rows.Close()

	result := make([]model.ScheduledNotification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query notifications failed: %w", err)
	}
	return result, nil
}

// Stats aggregates counts in the database.
func (r *NotificationRepository) Stats(ctx context.Context) (model.AggregateStats, error) {
	now := r.clock.Now()
	stats := model.NewAggregateStats()

	rows, err := r.db.Query(ctx, countByStatusAndKind)
	if err != nil {
		return stats, fmt.Errorf("postgres: stats failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, kind string
			count        int64
		)
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return stats, fmt.Errorf("postgres: scan stats: %w", err)
		}
		addCount(&stats, model.Status(status), model.Kind(kind), int(count))
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("postgres: stats failed: %w", err)
	}

	var recent int64
	if err := r.db.QueryRow(ctx, countRecentSent, now.Add(-model.RecentWindow), now).Scan(&recent); err != nil {
		return stats, fmt.Errorf("postgres: recent sent count failed: %w", err)
	}
	stats.RecentSent24h = int(recent)

	return stats, nil
}

// === Mapper Functions ===

func addCount(stats *model.AggregateStats, status model.Status, kind model.Kind, count int) {
	stats.Total += count
	stats.ByStatus[status] += count
	stats.ByKind[kind] += count
	if status == model.StatusPending {
		stats.Pending += count
	}
}

// buildListQuery renders the listing query with positional arguments for the set filters.
func buildListQuery(filter model.Filter) (string, []any) {
	var (
		b     strings.Builder
		conds []string
		args  []any
	)
	b.WriteString(`SELECT ` + notificationColumns + ` FROM notifications`)

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		conds = append(conds, "kind = $"+strconv.Itoa(len(args)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	b.WriteString(" ORDER BY created_at DESC, seq DESC")

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

// scanNotification maps one row of notificationColumns to the domain model.
func scanNotification(row pgx.Row) (*model.ScheduledNotification, error) {
	var (
		id, retryOf pgtype.UUID
		kind        string
		address     string
		name        string
		scheduledAt time.Time
		status      string
		data        []byte
		createdAt   time.Time
		sentAt      pgtype.Timestamptz
		lastError   string
		attempt     int32
		claimed     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &kind, &address, &name, &scheduledAt, &status,
		&data, &createdAt, &sentAt, &lastError, &attempt, &retryOf, &claimed); err != nil {
		return nil, err
	}

	contextData, err := decodeContextData(data)
	if err != nil {
		return nil, err
	}

	n := &model.ScheduledNotification{
		ID:          id.Bytes,
		Kind:        model.Kind(kind),
		Recipient:   model.Recipient{Address: address, DisplayName: name},
		ScheduledAt: scheduledAt.UTC(),
		Status:      model.Status(status),
		ContextData: contextData,
		CreatedAt:   createdAt.UTC(),
		LastError:   lastError,
		Attempt:     int(attempt),
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		n.SentAt = &t
	}
	if retryOf.Valid {
		parent := uuid.UUID(retryOf.Bytes)
		n.RetryOf = &parent
	}
	if claimed.Valid {
		t := claimed.Time.UTC()
		n.ClaimedUntil = &t
	}
	return n, nil
}

func encodeContextData(data map[string]string) ([]byte, error) {
	if data == nil {
		data = map[string]string{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode context data: %w", err)
	}
	return b, nil
}

func decodeContextData(b []byte) (map[string]string, error) {
	data := map[string]string{}
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("postgres: decode context data: %w", err)
	}
	return data, nil
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
