package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/audit"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/content"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/rs/zerolog"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrUnknownTemplate is returned when a marketing template is not one the content builder renders.
var ErrUnknownTemplate = fmt.Errorf("%w: unknown marketing template", model.ErrValidation)

// BulkFailure describes one recipient of a bulk request that could not be scheduled.
type BulkFailure struct {
	Recipient model.Recipient
	Err       error
}

// BulkResult is the outcome of ScheduleBulkMarketing. Every recipient appears in exactly one list.
type BulkResult struct {
	Scheduled []uuid.UUID
	Failed    []BulkFailure
}

// NotificationService is the lifecycle API used by the rest of the application.
// It derives schedule times and delegates validation and storage to the store.
type NotificationService struct {
	store  repo.NotificationStore
	clock  clock.Clock
	audit  audit.Sink
	logger zerolog.Logger
}

func NewNotificationService(
	store repo.NotificationStore,
	clk clock.Clock,
	sink audit.Sink,
	logger *zerolog.Logger,
) *NotificationService {
	return &NotificationService{
		store:  store,
		clock:  clk,
		audit:  sink,
		logger: logger.With().Str("layer", "service").Logger(),
	}
}

// ScheduleReminder schedules a reminder hoursBefore the event start.
func (s *NotificationService) ScheduleReminder(ctx context.Context, recipient model.Recipient, event model.ReferenceEvent, hoursBefore int) (uuid.UUID, error) {
	if hoursBefore < 0 {
		return uuid.Nil, fmt.Errorf("%w: hoursBefore=%d", model.ErrNegativeOffset, hoursBefore)
	}
	if event.Start.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: event start", model.ErrMissingSchedule)
	}
	if err := checkEvent(event); err != nil {
		return uuid.Nil, err
	}

	at := event.Start.Add(-time.Duration(hoursBefore) * time.Hour)
	id, err := s.insert(ctx, model.KindReminder, recipient, at, event.ContextData())
	if errors.Is(err, model.ErrReminderInPast) {
		s.logger.Warn().
			Str("event_id", event.ID).
			Time("event_start", event.Start).
			Int("hours_before", hoursBefore).
			Msg("reminder time already passed, not scheduled")
	}
	return id, err
}

// ScheduleFollowUp schedules a follow-up hoursAfter the event end.
func (s *NotificationService) ScheduleFollowUp(ctx context.Context, recipient model.Recipient, event model.ReferenceEvent, hoursAfter int) (uuid.UUID, error) {
	if hoursAfter < 0 {
		return uuid.Nil, fmt.Errorf("%w: hoursAfter=%d", model.ErrNegativeOffset, hoursAfter)
	}
	if event.End.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: event end", model.ErrMissingSchedule)
	}
	if err := checkEvent(event); err != nil {
		return uuid.Nil, err
	}

	at := event.End.Add(time.Duration(hoursAfter) * time.Hour)
	return s.insert(ctx, model.KindFollowUp, recipient, at, event.ContextData())
}

// ScheduleFeedback schedules a feedback request at a caller-chosen instant.
func (s *NotificationService) ScheduleFeedback(ctx context.Context, recipient model.Recipient, event model.ReferenceEvent, at time.Time, feedbackURL string) (uuid.UUID, error) {
	if err := checkEvent(event); err != nil {
		return uuid.Nil, err
	}
	if err := checkLink(feedbackURL); err != nil {
		return uuid.Nil, err
	}
	data := event.ContextData()
	data[model.DataFeedbackURL] = feedbackURL
	return s.insert(ctx, model.KindFeedback, recipient, at, data)
}

// ScheduleMarketing schedules a single marketing message rendered from templateKind.
func (s *NotificationService) ScheduleMarketing(ctx context.Context, recipient model.Recipient, templateKind string, at time.Time, extra map[string]string) (uuid.UUID, error) {
	if err := checkTemplate(templateKind); err != nil {
		return uuid.Nil, err
	}
	return s.insert(ctx, model.KindMarketing, recipient, at, marketingData(templateKind, extra))
}

// ScheduleBulkMarketing schedules one marketing message per recipient. Recipients are
// independent: an invalid address fails only its own entry.
func (s *NotificationService) ScheduleBulkMarketing(ctx context.Context, recipients []model.Recipient, templateKind string, at time.Time, extra map[string]string) (BulkResult, error) {
	if err := checkTemplate(templateKind); err != nil {
		return BulkResult{}, err
	}

	var result BulkResult
	for _, r := range recipients {
		id, err := s.insert(ctx, model.KindMarketing, r, at, marketingData(templateKind, extra))
		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{Recipient: r, Err: err})
			continue
		}
		result.Scheduled = append(result.Scheduled, id)
	}

	level := audit.LevelInfo
	if len(result.Failed) > 0 {
		level = audit.LevelWarn
	}
	s.record(ctx, level, audit.MsgBulkScheduled, map[string]any{
		"template":  templateKind,
		"requested": len(recipients),
		"scheduled": len(result.Scheduled),
		"failed":    len(result.Failed),
	})
	return result, nil
}

// Cancel cancels a pending notification. It reports false when the notification already left
// pending or its dispatch has begun.
func (s *NotificationService) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.store.Cancel(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Error().Err(err).Stringer("notification_id", id).Msg("failed to cancel notification")
		}
		return false, err
	}
	if ok {
		s.logger.Info().Stringer("notification_id", id).Msg("notification cancelled")
	}
	return ok, nil
}

// Get retrieves a notification by its ID.
func (s *NotificationService) Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error) {
	return s.store.Get(ctx, id)
}

// List returns notifications matching filter, most recent first.
func (s *NotificationService) List(ctx context.Context, filter model.Filter) ([]model.ScheduledNotification, error) {
	return s.store.Query(ctx, filter)
}

// Stats returns aggregate counts for the administrative view.
func (s *NotificationService) Stats(ctx context.Context) (model.AggregateStats, error) {
	return s.store.Stats(ctx)
}

func (s *NotificationService) insert(ctx context.Context, kind model.Kind, recipient model.Recipient, at time.Time, data map[string]string) (uuid.UUID, error) {
	n := model.NewScheduledNotification(kind, recipient, at, data)
	id, err := s.store.Insert(ctx, n)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			s.logger.Debug().Err(err).Str("kind", string(kind)).Msg("notification rejected")
		} else {
			s.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to store notification")
		}
		return uuid.Nil, err
	}

	s.logger.Info().
		Stringer("notification_id", id).
		Str("kind", string(kind)).
		Time("scheduled_at", n.ScheduledAt).
		Msg("notification scheduled")
	return id, nil
}

func (s *NotificationService) record(ctx context.Context, level audit.Level, msg string, fields map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, audit.NewEvent(level, msg, fields))
	}
}

func checkEvent(event model.ReferenceEvent) error {
	if strings.TrimSpace(event.Title) == "" {
		return fmt.Errorf("%w: event title", model.ErrMissingContent)
	}
	return nil
}

// checkLink accepts only absolute http(s) links, the ones the content builder renders.
func checkLink(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: feedback url", model.ErrMissingContent)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: feedback url %q is not an absolute http(s) link", model.ErrValidation, raw)
	}
	return nil
}

func checkTemplate(name string) error {
	if !slices.Contains(content.MarketingTemplates, name) {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return nil
}

func marketingData(templateKind string, extra map[string]string) map[string]string {
	data := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}
	data[model.DataTemplate] = templateKind
	return data
}
