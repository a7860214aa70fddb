package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	"time"
)

var (
	// ErrNotFound is returned when no notification has the requested id.
	ErrNotFound = errors.New("notification not found")
	// ErrDuplicateRecord is returned when a notification with the same id already exists.
	ErrDuplicateRecord = errors.New("notification already exists")
	// ErrCorrupted signals an internal inconsistency the scheduler cannot recover from.
	ErrCorrupted = errors.New("notification store corrupted")
)

// NotificationStore defines the contract for the authoritative collection of scheduled notifications.
//
// Transition methods report a benign race (the record is no longer pending) as false with a nil error.
type NotificationStore interface {
	// Insert validates and stores a new pending notification and returns its id.
	Insert(ctx context.Context, n *model.ScheduledNotification) (uuid.UUID, error)

	// Get retrieves a notification by its unique ID.
	Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error)

	// FindDue returns ids of pending, unclaimed notifications with ScheduledAt <= now, earliest first.
	FindDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// Claim leases a pending, unclaimed notification to the caller until the given instant.
	// A claimed notification is skipped by FindDue and cannot be cancelled until the lease ends.
	Claim(ctx context.Context, id uuid.UUID, until time.Time) (bool, error)

	// Release drops the lease on a notification that is still pending.
	Release(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkSent moves a pending notification to sent.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)

	// MarkFailed moves a pending notification to failed and records the error.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)

	// Cancel moves a pending notification to cancelled. It reports false while a dispatcher holds the claim.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// Query lists notifications, most recently created first.
	Query(ctx context.Context, filter model.Filter) ([]model.ScheduledNotification, error)

	// Stats aggregates counts over the whole store.
	Stats(ctx context.Context) (model.AggregateStats, error)
}

// NotificationCache defines the contract for a caching layer.
type NotificationCache interface {
	// Get retrieves an item from the cache.
	Get(ctx context.Context, id uuid.UUID) (*model.ScheduledNotification, error)

	// Set adds an item to the cache for a specified duration.
	Set(ctx context.Context, n *model.ScheduledNotification, expiration time.Duration) error

	// Delete removes an item from the cache.
	Delete(ctx context.Context, id uuid.UUID) error
}
