package memory

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/rs/zerolog"
	"sort"
	"sync"
	"time"
)

// Ensure Store implements the interface
var _ repo.NotificationStore = (*Store)(nil)

// Store is an in-memory implementation of the NotificationStore interface.
// A single RWMutex guards both the insertion-ordered id list and the index.
type Store struct {
	mu      sync.RWMutex
	order   []uuid.UUID
	records map[uuid.UUID]*model.ScheduledNotification

	clock      clock.Clock
	maxHistory int
	logger     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxHistory caps the number of retained records. When the cap is exceeded the oldest
// terminal records are evicted; pending records are always kept. Zero disables the cap.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// NewStore creates an empty in-memory store.
func NewStore(clk clock.Clock, logger *zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		records: make(map[uuid.UUID]*model.ScheduledNotification),
		clock:   clk,
		logger:  logger.With().Str("layer", "memory_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert validates n and appends it in pending state.
func (s *Store) Insert(_ context.Context, n *model.ScheduledNotification) (uuid.UUID, error) {
	now := s.clock.Now()
	if err := model.ValidateForInsert(n, now); err != nil {
		return uuid.Nil, err
	}

	record := n.Clone()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Attempt < 1 {
		record.Attempt = 1
	}
	record.Status = model.StatusPending
	record.CreatedAt = now
	record.SentAt = nil
	record.ClaimedUntil = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return uuid.Nil, repo.ErrDuplicateRecord
	}
	s.records[record.ID] = record
	s.order = append(s.order, record.ID)
	s.evictLocked()

	return record.ID, nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*model.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.records[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return n.Clone(), nil
}

// FindDue returns unclaimed pending ids with ScheduledAt <= now. The sort is stable over
// insertion order, so ties keep the order in which they were scheduled.
func (s *Store) FindDue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.ScheduledNotification
	for _, id := range s.order {
		n, ok := s.records[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %s indexed but missing", repo.ErrCorrupted, id)
		}
		if n.Status == model.StatusPending && !n.ScheduledAt.After(now) && !n.Claimed(now) {
			due = append(due, n)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	ids := make([]uuid.UUID, len(due))
	for i, n := range due {
		ids[i] = n.ID
	}
	return ids, nil
}

// Claim leases a pending record to a dispatcher until the given instant.
func (s *Store) Claim(_ context.Context, id uuid.UUID, until time.Time) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if n.Status != model.StatusPending || n.Claimed(now) {
		return false, nil
	}
	at := until.UTC()
	n.ClaimedUntil = &at
	return true, nil
}

// Release drops the lease on a pending record.
func (s *Store) Release(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if n.Status != model.StatusPending {
		return false, nil
	}
	n.ClaimedUntil = nil
	return true, nil
}

// MarkSent transitions a pending record to sent.
func (s *Store) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return s.transition(id, model.StatusSent, false, func(n *model.ScheduledNotification) {
		at := sentAt.UTC()
		n.SentAt = &at
	})
}

// MarkFailed transitions a pending record to failed.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return s.transition(id, model.StatusFailed, false, func(n *model.ScheduledNotification) {
		n.LastError = errMsg
	})
}

// Cancel transitions a pending, unclaimed record to cancelled.
func (s *Store) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	return s.transition(id, model.StatusCancelled, true, nil)
}

// transition moves a pending record to next. With unclaimedOnly set, a record under an
// unexpired dispatch lease is left alone.
func (s *Store) transition(id uuid.UUID, next model.Status, unclaimedOnly bool, apply func(*model.ScheduledNotification)) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if !n.Status.CanTransition(next) {
		s.logger.Debug().
			Stringer("id", id).
			Str("status", string(n.Status)).
			Str("requested", string(next)).
			Msg("transition ignored, record is not pending")
		return false, nil
	}
	if unclaimedOnly && n.Claimed(now) {
		s.logger.Debug().
			Stringer("id", id).
			Str("requested", string(next)).
			Msg("transition ignored, record is being dispatched")
		return false, nil
	}
	n.Status = next
	n.ClaimedUntil = nil
	if apply != nil {
		apply(n)
	}
	return true, nil
}

// Query returns matching records, most recently created first, with the limit applied last.
func (s *Store) Query(_ context.Context, filter model.Filter) ([]model.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ScheduledNotification, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		n, ok := s.records[s.order[i]]
		if !ok {
			return nil, fmt.Errorf("%w: id %s indexed but missing", repo.ErrCorrupted, s.order[i])
		}
		if filter.Matches(n) {
			result = append(result, *n.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Stats aggregates over every retained record, relative to the store clock.
func (s *Store) Stats(_ context.Context) (model.AggregateStats, error) {
	now := s.clock.Now()
	stats := model.NewAggregateStats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.records {
		stats.Total++
		stats.ByStatus[n.Status]++
		stats.ByKind[n.Kind]++
		if n.Status == model.StatusPending {
			stats.Pending++
		}
		if n.SentWithin(now) {
			stats.RecentSent24h++
		}
	}
	return stats, nil
}

// evictLocked drops the oldest terminal records until the store fits maxHistory.
// The caller must hold the write lock.
func (s *Store) evictLocked() {
	if s.maxHistory <= 0 || len(s.order) <= s.maxHistory {
		return
	}

	excess := len(s.order) - s.maxHistory
	kept := s.order[:0]
	evicted := 0
	for _, id := range s.order {
		n := s.records[id]
		if excess > 0 && n != nil && n.Status.Terminal() {
			delete(s.records, id)
			excess--
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Int("retained", len(s.order)).Msg("evicted terminal records")
	}
}
