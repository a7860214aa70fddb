package service

import (
	"bytes"
	"context"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/audit"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/content"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/ilindan-dev/notification-scheduler/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

type fixture struct {
	svc    *NotificationService
	store  *memory.Store
	clock  *clock.Fake
	sink   *recordingSink
	logBuf *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  clock.NewFake(epoch),
		sink:   &recordingSink{},
		logBuf: &bytes.Buffer{},
	}
	logger := zerolog.New(f.logBuf)
	f.store = memory.NewStore(f.clock, &logger)
	f.svc = NewNotificationService(f.store, f.clock, f.sink, &logger)
	return f
}

var ada = model.Recipient{Address: "ada@example.com", DisplayName: "Ada"}

func goEvent(start time.Time) model.ReferenceEvent {
	return model.ReferenceEvent{
		ID:    "evt-1",
		Title: "Concurrency in Go",
		Start: start,
		End:   start.Add(2 * time.Hour),
	}
}

func TestScheduleReminder_DerivesTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.ScheduleReminder(ctx, ada, goEvent(epoch.Add(48*time.Hour)), 24)
	require.NoError(t, err)

	n, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.KindReminder, n.Kind)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.Equal(t, epoch.Add(24*time.Hour), n.ScheduledAt)
	assert.Equal(t, "Concurrency in Go", n.ContextData[model.DataTitle])
	assert.Equal(t, epoch.Add(48*time.Hour).Format(time.RFC3339), n.ContextData[model.DataStart])
}

func TestScheduleReminder_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		event       model.ReferenceEvent
		hoursBefore int
		recipient   model.Recipient
		wantErr     error
	}{
		{"in the past", goEvent(epoch.Add(10 * time.Hour)), 24, ada, model.ErrReminderInPast},
		{"exactly now", goEvent(epoch.Add(24 * time.Hour)), 24, ada, model.ErrReminderInPast},
		{"negative offset", goEvent(epoch.Add(48 * time.Hour)), -1, ada, model.ErrNegativeOffset},
		{"missing start", model.ReferenceEvent{Title: "x"}, 1, ada, model.ErrMissingSchedule},
		{"bad address", goEvent(epoch.Add(48 * time.Hour)), 1, model.Recipient{Address: "not-an-address"}, model.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.svc.ScheduleReminder(context.Background(), tt.recipient, tt.event, tt.hoursBefore)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, uuid.Nil, id)

			stats, err := f.svc.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
		})
	}
}

func TestScheduleReminder_PastIsLoggedAtWarn(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScheduleReminder(context.Background(), ada, goEvent(epoch.Add(time.Hour)), 2)
	require.ErrorIs(t, err, model.ErrReminderInPast)

	assert.Contains(t, f.logBuf.String(), `"level":"warn"`)
	assert.Contains(t, f.logBuf.String(), "reminder time already passed")
}

func TestScheduleFollowUp_DerivesTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := goEvent(epoch.Add(-5 * time.Hour)) // already over

	id, err := f.svc.ScheduleFollowUp(ctx, ada, event, 2)
	require.NoError(t, err, "follow-ups may be backfilled")

	n, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, event.End.Add(2*time.Hour), n.ScheduledAt)
	assert.Equal(t, model.KindFollowUp, n.Kind)

	_, err = f.svc.ScheduleFollowUp(ctx, ada, event, -3)
	assert.ErrorIs(t, err, model.ErrNegativeOffset)
}

func TestScheduleFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := epoch.Add(3 * time.Hour)

	id, err := f.svc.ScheduleFeedback(ctx, ada, goEvent(epoch), at, "https://example.com/feedback/1")
	require.NoError(t, err)

	n, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.KindFeedback, n.Kind)
	assert.Equal(t, at, n.ScheduledAt)
	assert.Equal(t, "https://example.com/feedback/1", n.ContextData[model.DataFeedbackURL])
}

func TestScheduleFeedback_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		event   model.ReferenceEvent
		url     string
		wantErr error
	}{
		{"empty url", goEvent(epoch), "", model.ErrMissingContent},
		{"blank url", goEvent(epoch), "   ", model.ErrMissingContent},
		{"relative url", goEvent(epoch), "/feedback/1", model.ErrValidation},
		{"script url", goEvent(epoch), "javascript:alert(1)", model.ErrValidation},
		{"no title", model.ReferenceEvent{Start: epoch}, "https://example.com/feedback/1", model.ErrMissingContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.svc.ScheduleFeedback(context.Background(), ada, tt.event, epoch.Add(time.Hour), tt.url)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, uuid.Nil, id)

			stats, err := f.svc.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
		})
	}
}

func TestScheduleFollowUp_EndOnlyIsDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := model.ReferenceEvent{Title: "Go workshop", End: epoch.Add(-2 * time.Hour)}

	id, err := f.svc.ScheduleFollowUp(ctx, ada, event, 1)
	require.NoError(t, err)

	n, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	_, err = content.NewTemplateBuilder("Academy").Build(ctx, n)
	assert.NoError(t, err)

	_, err = f.svc.ScheduleFollowUp(ctx, ada, model.ReferenceEvent{End: epoch}, 1)
	assert.ErrorIs(t, err, model.ErrMissingContent)
}

func TestScheduleMarketing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	extra := map[string]string{"discount_code": "SPRING", model.DataTemplate: "ignored"}

	id, err := f.svc.ScheduleMarketing(ctx, ada, content.TemplatePromotion, epoch.Add(-time.Hour), extra)
	require.NoError(t, err, "past marketing is accepted")

	n, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content.TemplatePromotion, n.ContextData[model.DataTemplate])
	assert.Equal(t, "SPRING", n.ContextData["discount_code"])
	assert.Equal(t, "ignored", extra[model.DataTemplate], "caller map must not be modified")

	_, err = f.svc.ScheduleMarketing(ctx, ada, "newsletter", epoch, nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestScheduleBulkMarketing_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recipients := []model.Recipient{
		{Address: "a@example.com"},
		{Address: "broken"},
		{Address: "c@example.com"},
	}

	result, err := f.svc.ScheduleBulkMarketing(ctx, recipients, content.TemplateAnnouncement, epoch,
		map[string]string{"headline": "Spring term"})
	require.NoError(t, err)

	assert.Len(t, result.Scheduled, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "broken", result.Failed[0].Recipient.Address)
	assert.ErrorIs(t, result.Failed[0].Err, model.ErrInvalidAddress)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByKind[model.KindMarketing])

	require.Len(t, f.sink.events, 1)
	e := f.sink.events[0]
	assert.Equal(t, audit.MsgBulkScheduled, e.Message)
	assert.Equal(t, audit.LevelWarn, e.Level)
	assert.Equal(t, 3, e.Fields["requested"])
	assert.Equal(t, 2, e.Fields["scheduled"])
	assert.Equal(t, 1, e.Fields["failed"])
}

func TestScheduleBulkMarketing_UnknownTemplate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScheduleBulkMarketing(context.Background(), []model.Recipient{ada}, "nope", epoch, nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.Empty(t, f.sink.events)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.ScheduleMarketing(ctx, ada, content.TemplatePromotion, epoch.Add(time.Hour), nil)
	require.NoError(t, err)

	ok, err := f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel is a no-op")

	_, err = f.svc.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ScheduleMarketing(ctx, ada, content.TemplatePromotion, epoch, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.ScheduleReminder(ctx, ada, goEvent(epoch.Add(48*time.Hour)), 1)
	require.NoError(t, err)

	ok, err := f.store.MarkSent(ctx, first, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	all, err := f.svc.List(ctx, model.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID, "most recent first")

	sent := model.StatusSent
	onlySent, err := f.svc.List(ctx, model.Filter{Status: &sent})
	require.NoError(t, err)
	require.Len(t, onlySent, 1)
	assert.Equal(t, first, onlySent[0].ID)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.RecentSent24h)
	assert.Equal(t, 1, stats.ByKind[model.KindReminder])
	assert.Equal(t, 0, stats.ByKind[model.KindFeedback])
}
