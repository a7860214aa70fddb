// Package scheduler runs the periodic loop that dispatches due notifications.
package scheduler

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
	"github.com/ilindan-dev/notification-scheduler/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"sync"
	"time"
)

const (
	DefaultInterval    = time.Minute
	DefaultSendTimeout = 10 * time.Second
	// DefaultClaimMargin is added to the send timeout to size the lease a dispatch holds on a record.
	DefaultClaimMargin = 30 * time.Second
)

// ErrSendTimeout marks a send that did not finish within the per-send timeout.
var ErrSendTimeout = errors.New("scheduler: send timed out")

// Locker guards a tick against concurrent scanners in other processes.
type Locker interface {
	// TryLock returns immediately. release is non-nil only when ok is true.
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// RetryPolicy re-schedules failed sends as new pending records.
// MaxAttempts of zero disables retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// delay returns the wait before the attempt that follows attempt: BaseDelay * 2^(attempt-1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// TickReport summarizes one tick.
type TickReport struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
	Retried int
	// LockHeld is set when another instance held the tick lock and nothing was scanned.
	LockHeld bool
}

// Scheduler dispatches due notifications on a fixed interval.
type Scheduler struct {
	store     repo.NotificationStore
	builder   content.Builder
	transport transport.Transport
	audit     audit.Sink
	clock     clock.Clock
	logger    zerolog.Logger

	interval    time.Duration
	sendTimeout time.Duration
	workers     int
	claimMargin time.Duration
	locker      Locker
	retry       RetryPolicy
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between ticks.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSendTimeout bounds every transport call.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithWorkers dispatches up to n notifications of a tick concurrently.
// Sends still start in due order, but may complete out of order.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClaimMargin sets how long a dispatch lease outlives the send timeout.
func WithClaimMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimMargin = d
		}
	}
}

// WithLocker makes every tick take l first. The lock only saves redundant scans; records
// are protected from double dispatch by their claims.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

// WithRetry enables re-scheduling of transport failures.
func WithRetry(p RetryPolicy) Option {
	return func(s *Scheduler) {
		s.retry = p
	}
}

// New creates a Scheduler.
func New(
	store repo.NotificationStore,
	builder content.Builder,
	tr transport.Transport,
	sink audit.Sink,
	clk clock.Clock,
	logger *zerolog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:       store,
		builder:     builder,
		transport:   tr,
		audit:       sink,
		clock:       clk,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		interval:    DefaultInterval,
		sendTimeout: DefaultSendTimeout,
		workers:     1,
		claimMargin: DefaultClaimMargin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every interval until ctx is cancelled.
// It returns nil on cancellation and repository.ErrCorrupted when the store is inconsistent.
func (s *Scheduler) Run(ctx context.Context) error {
	s.record(ctx, audit.LevelInfo, audit.MsgLoopStarted, map[string]any{
		"interval":  s.interval.String(),
		"transport": s.transport.Name(),
		"workers":   s.workers,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			if errors.Is(err, repo.ErrCorrupted) {
				s.record(ctx, audit.LevelFatal, audit.MsgLoopAborted, map[string]any{"error": err.Error()})
				return err
			}
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		}

		select {
		case <-ctx.Done():
			s.record(ctx, audit.LevelInfo, audit.MsgLoopStopped, nil)
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one scan-and-dispatch pass.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			return report, fmt.Errorf("scheduler: acquire tick lock: %w", err)
		}
		if !ok {
			s.logger.Debug().Msg("tick lock held elsewhere, skipping")
			report.LockHeld = true
			return report, nil
		}
		defer release()
	}

	now := s.clock.Now()
	ids, err := s.store.FindDue(ctx, now)
	if err != nil {
		return report, fmt.Errorf("scheduler: find due: %w", err)
	}
	report.Due = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	s.logger.Debug().Int("due", len(ids)).Time("now", now).Msg("dispatching due notifications")

	if s.workers <= 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			res, err := s.dispatch(ctx, id, now)
			if err != nil {
				return report, err
			}
			report.add(res)
		}
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.dispatch(gctx, id, now)
			if err != nil {
				return err
			}
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return report, err
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

type dispatchResult struct {
	outcome outcome
	retried bool
}

func (r *TickReport) add(res dispatchResult) {
	switch res.outcome {
	case outcomeSent:
		r.Sent++
	case outcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	if res.retried {
		r.Retried++
	}
}

// dispatch delivers one notification due at now. Only ErrCorrupted is returned; every other
// problem is recorded on the notification or logged.
//
// The record is claimed before anything else, so a concurrent Cancel or another scheduler
// instance sees it as taken for the duration of the send.
func (s *Scheduler) dispatch(ctx context.Context, id uuid.UUID, now time.Time) (dispatchResult, error) {
	log := s.logger.With().Stringer("notification_id", id).Logger()

	claimed, err := s.store.Claim(ctx, id, s.clock.Now().Add(s.sendTimeout+s.claimMargin))
	if err != nil {
		if errors.Is(err, repo.ErrCorrupted) {
			return dispatchResult{}, err
		}
		log.Warn().Err(err).Msg("due notification could not be claimed")
		return dispatchResult{}, nil
	}
	if !claimed {
		log.Debug().Msg("notification cancelled or claimed since the scan, skipping")
		return dispatchResult{}, nil
	}

	// Re-fetch under the claim: the scan only returned ids.
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrCorrupted) {
			return dispatchResult{}, err
		}
		log.Warn().Err(err).Msg("claimed notification vanished before dispatch")
		return dispatchResult{}, nil
	}
	if n.Status != model.StatusPending {
		log.Debug().Str("status", string(n.Status)).Msg("notification no longer pending, skipping")
		return dispatchResult{}, nil
	}

	c, err := s.builder.Build(ctx, n)
	if err != nil {
		// Content errors are permanent, so they are never retried.
		return s.fail(ctx, n, fmt.Errorf("build content: %w", err), false)
	}

	msg := transport.Message{
		To:       n.Recipient.Address,
		ToName:   n.Recipient.DisplayName,
		Subject:  c.Subject,
		TextBody: c.TextBody,
		HTMLBody: c.HTMLBody,
		Tag:      string(n.Kind),
	}
	if err := s.send(ctx, msg); err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the send; the record goes back to pending for the next run.
			log.Warn().Err(err).Msg("dispatch interrupted by shutdown")
			s.release(ctx, id)
			return dispatchResult{}, nil
		}
		return s.fail(ctx, n, err, true)
	}

	ok, err := s.store.MarkSent(ctx, id, now)
	if err != nil {
		if errors.Is(err, repo.ErrCorrupted) {
			return dispatchResult{}, err
		}
		log.Error().Err(err).Msg("notification delivered but not marked sent")
		return dispatchResult{}, nil
	}
	if !ok {
		log.Warn().Msg("notification delivered after it left pending")
		return dispatchResult{}, nil
	}

	s.record(ctx, audit.LevelInfo, audit.MsgDispatched, map[string]any{
		"notification_id": id.String(),
		"kind":            string(n.Kind),
		"recipient":       n.Recipient.Address,
		"attempt":         n.Attempt,
		"transport":       s.transport.Name(),
	})
	return dispatchResult{outcome: outcomeSent}, nil
}

// release drops a claim after an interrupted send. It runs detached from the cancelled ctx.
func (s *Scheduler) release(ctx context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if _, err := s.store.Release(ctx, id); err != nil {
		s.logger.Warn().Err(err).Stringer("notification_id", id).Msg("failed to release claim, it will lapse")
	}
}

// send calls the transport, giving up after sendTimeout even if the provider ignores ctx.
func (s *Scheduler) send(ctx context.Context, msg transport.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.transport.Send(sendCtx, msg)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrSendTimeout, s.sendTimeout, err)
		}
		return err
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrSendTimeout, s.sendTimeout)
	}
}

func (s *Scheduler) fail(ctx context.Context, n *model.ScheduledNotification, cause error, retryable bool) (dispatchResult, error) {
	ok, err := s.store.MarkFailed(ctx, n.ID, cause.Error())
	if err != nil {
		if errors.Is(err, repo.ErrCorrupted) {
			return dispatchResult{}, err
		}
		s.logger.Error().Err(err).Stringer("notification_id", n.ID).Msg("failed to mark notification failed")
		return dispatchResult{}, nil
	}
	if !ok {
		return dispatchResult{}, nil
	}

	s.record(ctx, audit.LevelError, audit.MsgDispatchFailed, map[string]any{
		"notification_id": n.ID.String(),
		"kind":            string(n.Kind),
		"recipient":       n.Recipient.Address,
		"attempt":         n.Attempt,
		"error":           cause.Error(),
	})

	res := dispatchResult{outcome: outcomeFailed}
	if retryable {
		res.retried = s.scheduleRetry(ctx, n)
	}
	return res, nil
}

func (s *Scheduler) scheduleRetry(ctx context.Context, n *model.ScheduledNotification) bool {
	if s.retry.MaxAttempts <= 0 || n.Attempt >= s.retry.MaxAttempts {
		return false
	}

	parent := n.ID
	next := n.Clone()
	next.ID = uuid.New()
	next.Status = model.StatusPending
	next.SentAt = nil
	next.LastError = ""
	next.Attempt = n.Attempt + 1
	next.RetryOf = &parent
	next.ScheduledAt = s.clock.Now().Add(s.retry.delay(n.Attempt))

	id, err := s.store.Insert(ctx, next)
	if err != nil {
		s.logger.Error().Err(err).Stringer("notification_id", parent).Msg("failed to schedule retry")
		return false
	}

	s.record(ctx, audit.LevelWarn, audit.MsgRetryScheduled, map[string]any{
		"notification_id": id.String(),
		"retry_of":        parent.String(),
		"attempt":         next.Attempt,
		"scheduled_at":    next.ScheduledAt.Format(time.RFC3339),
	})
	return true
}

func (s *Scheduler) record(ctx context.Context, level audit.Level, msg string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.NewEvent(level, msg, fields))
}
