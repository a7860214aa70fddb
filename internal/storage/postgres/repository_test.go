package postgres

import (
	"context"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeRow assigns its values to the scan destinations in order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs    []execCall
	tag      pgconn.CommandTag
	execErr  error
	rows     []pgx.Row
	rowCalls int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.tag, f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported by fakeDB")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	row := f.rows[f.rowCalls]
	f.rowCalls++
	return row
}

func newTestRepo(db DBTX) *NotificationRepository {
	logger := zerolog.Nop()
	return NewNotificationRepository(db, clock.NewFake(epoch), &logger)
}

func TestBuildListQuery(t *testing.T) {
	sent := model.StatusSent
	marketing := model.KindMarketing

	tests := []struct {
		name      string
		filter    model.Filter
		wantTail  string
		wantArgs  []any
	}{
		{
			name:     "no filter",
			filter:   model.Filter{},
			wantTail: " FROM notifications ORDER BY created_at DESC, seq DESC",
		},
		{
			name:     "status only",
			filter:   model.Filter{Status: &sent},
			wantTail: " FROM notifications WHERE status = $1 ORDER BY created_at DESC, seq DESC",
			wantArgs: []any{"sent"},
		},
		{
			name:     "status kind and limit",
			filter:   model.Filter{Status: &sent, Kind: &marketing, Limit: 5},
			wantTail: " FROM notifications WHERE status = $1 AND kind = $2 ORDER BY created_at DESC, seq DESC LIMIT $3",
			wantArgs: []any{"sent", "marketing", 5},
		},
		{
			name:     "kind and limit",
			filter:   model.Filter{Kind: &marketing, Limit: 1},
			wantTail: " FROM notifications WHERE kind = $1 ORDER BY created_at DESC, seq DESC LIMIT $2",
			wantArgs: []any{"marketing", 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			assert.Equal(t, "SELECT "+notificationColumns+tt.wantTail, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestScanNotification(t *testing.T) {
	id := uuid.New()
	parent := uuid.New()
	sentAt := epoch.Add(time.Hour)

	row := fakeRow{values: []any{
		pgtype.UUID{Bytes: id, Valid: true},
		"reminder",
		"ada@example.com",
		"Ada",
		epoch,
		"sent",
		[]byte(`{"title":"Go 101","start":"2026-03-02T10:00:00Z"}`),
		epoch.Add(-time.Hour),
		pgtype.Timestamptz{Time: sentAt, Valid: true},
		"",
		int32(2),
		pgtype.UUID{Bytes: parent, Valid: true},
		pgtype.Timestamptz{},
	}}

	n, err := scanNotification(row)
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, model.KindReminder, n.Kind)
	assert.Equal(t, model.Recipient{Address: "ada@example.com", DisplayName: "Ada"}, n.Recipient)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.Equal(t, map[string]string{"title": "Go 101", "start": "2026-03-02T10:00:00Z"}, n.ContextData)
	require.NotNil(t, n.SentAt)
	assert.True(t, sentAt.Equal(*n.SentAt))
	assert.Equal(t, 2, n.Attempt)
	require.NotNil(t, n.RetryOf)
	assert.Equal(t, parent, *n.RetryOf)
}

func TestScanNotification_NullableColumns(t *testing.T) {
	row := fakeRow{values: []any{
		pgtype.UUID{Bytes: uuid.New(), Valid: true},
		"marketing", "bob@example.com", "", epoch, "pending",
		[]byte(nil), epoch, pgtype.Timestamptz{}, "", int32(1), pgtype.UUID{}, pgtype.Timestamptz{},
	}}

	n, err := scanNotification(row)
	require.NoError(t, err)
	assert.Nil(t, n.SentAt)
	assert.Nil(t, n.RetryOf)
	assert.Nil(t, n.ClaimedUntil)
	assert.NotNil(t, n.ContextData)
	assert.Empty(t, n.ContextData)
}

func TestScanNotification_BadJSON(t *testing.T) {
	row := fakeRow{values: []any{
		pgtype.UUID{Bytes: uuid.New(), Valid: true},
		"marketing", "bob@example.com", "", epoch, "pending",
		[]byte(`{not json`), epoch, pgtype.Timestamptz{}, "", int32(1), pgtype.UUID{}, pgtype.Timestamptz{},
	}}

	_, err := scanNotification(row)
	assert.Error(t, err)
}

func TestInsert_ValidatesBeforeTouchingDB(t *testing.T) {
	db := &fakeDB{}
	r := newTestRepo(db)

	past := model.NewScheduledNotification(model.KindReminder, model.Recipient{Address: "ada@example.com"}, epoch.Add(-time.Minute), nil)
	_, err := r.Insert(context.Background(), past)
	assert.ErrorIs(t, err, model.ErrReminderInPast)

	bad := model.NewScheduledNotification(model.KindMarketing, model.Recipient{Address: "nope"}, epoch, nil)
	_, err = r.Insert(context.Background(), bad)
	assert.ErrorIs(t, err, model.ErrInvalidAddress)

	assert.Empty(t, db.execs)
}

func TestInsert_WritesPendingRow(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("INSERT 0 1")}
	r := newTestRepo(db)

	n := model.NewScheduledNotification(model.KindMarketing, model.Recipient{Address: "ada@example.com", DisplayName: "Ada"},
		epoch.Add(time.Hour), map[string]string{"template": "promotion"})
	id, err := r.Insert(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, n.ID, id)

	require.Len(t, db.execs, 1)
	args := db.execs[0].args
	require.Len(t, args, 9)
	assert.Equal(t, "marketing", args[1])
	assert.Equal(t, "ada@example.com", args[2])
	assert.JSONEq(t, `{"template":"promotion"}`, string(args[5].([]byte)))
	assert.Equal(t, epoch, args[6])
	assert.Equal(t, int32(1), args[7])
	assert.Equal(t, pgtype.UUID{}, args[8])
}

func TestInsert_DuplicateKey(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation}}
	r := newTestRepo(db)

	n := model.NewScheduledNotification(model.KindMarketing, model.Recipient{Address: "ada@example.com"}, epoch, nil)
	_, err := r.Insert(context.Background(), n)
	assert.ErrorIs(t, err, repo.ErrDuplicateRecord)
}

func TestTransition_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		rows    []pgx.Row
		wantOK  bool
		wantErr error
	}{
		{name: "applied", tag: "UPDATE 1", wantOK: true},
		{name: "not pending", tag: "UPDATE 0", rows: []pgx.Row{fakeRow{values: []any{true}}}},
		{name: "missing", tag: "UPDATE 0", rows: []pgx.Row{fakeRow{values: []any{false}}}, wantErr: repo.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{tag: pgconn.NewCommandTag(tt.tag), rows: tt.rows}
			r := newTestRepo(db)

			ok, err := r.Cancel(context.Background(), uuid.New())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestMarkSent_PassesTimestamp(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	r := newTestRepo(db)
	id := uuid.New()

	ok, err := r.MarkSent(context.Background(), id, epoch)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, db.execs, 1)
	assert.Equal(t, markSent, db.execs[0].sql)
	assert.Equal(t, []any{pgtype.UUID{Bytes: id, Valid: true}, epoch}, db.execs[0].args)
}

func TestScanNotification_Claimed(t *testing.T) {
	until := epoch.Add(30 * time.Second)
	row := fakeRow{values: []any{
		pgtype.UUID{Bytes: uuid.New(), Valid: true},
		"marketing", "bob@example.com", "", epoch, "pending",
		[]byte(`{}`), epoch, pgtype.Timestamptz{}, "", int32(1), pgtype.UUID{},
		pgtype.Timestamptz{Time: until, Valid: true},
	}}

	n, err := scanNotification(row)
	require.NoError(t, err)
	require.NotNil(t, n.ClaimedUntil)
	assert.True(t, until.Equal(*n.ClaimedUntil))
	assert.True(t, n.Claimed(epoch))
}

func TestClaim_PassesLeaseAndNow(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	r := newTestRepo(db)
	id := uuid.New()
	until := epoch.Add(time.Minute)

	ok, err := r.Claim(context.Background(), id, until)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, db.execs, 1)
	assert.Equal(t, claimNotification, db.execs[0].sql)
	assert.Equal(t, []any{pgtype.UUID{Bytes: id, Valid: true}, until, epoch}, db.execs[0].args)
}

func TestClaim_HeldElsewhere(t *testing.T) {
	db := &fakeDB{
		tag:  pgconn.NewCommandTag("UPDATE 0"),
		rows: []pgx.Row{fakeRow{values: []any{true}}},
	}
	r := newTestRepo(db)

	ok, err := r.Claim(context.Background(), uuid.New(), epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_RespectsClaim(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	r := newTestRepo(db)
	id := uuid.New()

	_, err := r.Cancel(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "claimed_until IS NULL OR claimed_until <= $2")
	assert.Equal(t, []any{pgtype.UUID{Bytes: id, Valid: true}, epoch}, db.execs[0].args)
}

func TestRelease(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	r := newTestRepo(db)
	id := uuid.New()

	ok, err := r.Release(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, releaseClaim, db.execs[0].sql)
	assert.Equal(t, []any{pgtype.UUID{Bytes: id, Valid: true}}, db.execs[0].args)
}

func TestAddCount(t *testing.T) {
	stats := model.NewAggregateStats()
	addCount(&stats, model.StatusPending, model.KindReminder, 3)
	addCount(&stats, model.StatusSent, model.KindReminder, 2)
	addCount(&stats, model.StatusFailed, model.KindMarketing, 1)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 5, stats.ByKind[model.KindReminder])
	assert.Equal(t, 1, stats.ByKind[model.KindMarketing])
	assert.Equal(t, 0, stats.ByKind[model.KindFeedback])
	assert.Equal(t, 2, stats.ByStatus[model.StatusSent])
	assert.Equal(t, 0, stats.ByStatus[model.StatusCancelled])
}
