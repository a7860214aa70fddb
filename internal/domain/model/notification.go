package model

import (
	"github.com/google/uuid"
	"time"
)

// Kind represents the type of notification. It selects the content template and the default timing rule.
type Kind string

const (
	KindReminder  Kind = "reminder"
	KindFollowUp  Kind = "follow_up"
	KindMarketing Kind = "marketing"
	KindFeedback  Kind = "feedback"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindReminder, KindFollowUp, KindMarketing, KindFeedback}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindReminder, KindFollowUp, KindMarketing, KindFeedback:
		return true
	}
	return false
}

// Status represents the current state of a notification.
type Status string

const (
	StatusPending   Status = "pending"   // Waiting for its scheduled time.
	StatusSent      Status = "sent"      // Handed to the transport successfully.
	StatusFailed    Status = "failed"    // Content building or delivery failed.
	StatusCancelled Status = "cancelled" // Cancelled before dispatch.
)

// Statuses lists every status in a stable order.
var Statuses = []Status{StatusPending, StatusSent, StatusFailed, StatusCancelled}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a record may move from s to next.
// Only pending records move, and only into a terminal state.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// Recipient identifies who receives a notification.
type Recipient struct {
	Address     string
	DisplayName string
}

// ScheduledNotification is the core business entity of the application.
// It is technology-agnostic and does not contain any DB or JSON tags.
type ScheduledNotification struct {
	ID          uuid.UUID
	Kind        Kind
	Recipient   Recipient
	ScheduledAt time.Time
	Status      Status

	// ContextData is interpreted only by the content builder.
	ContextData map[string]string

	CreatedAt time.Time
	SentAt    *time.Time // Set only when Status is sent.
	LastError string

	// Attempt is 1 for an original record and grows by one for every retry copy.
	Attempt int
	RetryOf *uuid.UUID

	// ClaimedUntil is the end of a dispatcher's lease on a pending record.
	ClaimedUntil *time.Time
}

// Claimed reports whether a dispatcher holds an unexpired lease on n at now.
func (n *ScheduledNotification) Claimed(now time.Time) bool {
	return n.Status == StatusPending && n.ClaimedUntil != nil && n.ClaimedUntil.After(now)
}

// NewScheduledNotification is a factory function for a pending notification.
// CreatedAt is left to the store so it reflects the insertion instant.
func NewScheduledNotification(kind Kind, recipient Recipient, scheduledAt time.Time, data map[string]string) *ScheduledNotification {
	return &ScheduledNotification{
		ID:          uuid.New(),
		Kind:        kind,
		Recipient:   recipient,
		ScheduledAt: scheduledAt.UTC(),
		Status:      StatusPending,
		ContextData: data,
		Attempt:     1,
	}
}

// Clone returns a deep copy, so stores can hand out records without aliasing their own state.
func (n *ScheduledNotification) Clone() *ScheduledNotification {
	if n == nil {
		return nil
	}
	c := *n
	if n.ContextData != nil {
		c.ContextData = make(map[string]string, len(n.ContextData))
		for k, v := range n.ContextData {
			c.ContextData[k] = v
		}
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	if n.RetryOf != nil {
		id := *n.RetryOf
		c.RetryOf = &id
	}
	if n.ClaimedUntil != nil {
		t := *n.ClaimedUntil
		c.ClaimedUntil = &t
	}
	return &c
}

// Content is the rendered form of a notification.
type Content struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// Filter narrows a listing. Nil fields match everything; Limit <= 0 means no limit.
type Filter struct {
	Status *Status
	Kind   *Kind
	Limit  int
}

// Matches reports whether n passes the status and kind constraints of f.
func (f Filter) Matches(n *ScheduledNotification) bool {
	if f.Status != nil && n.Status != *f.Status {
		return false
	}
	if f.Kind != nil && n.Kind != *f.Kind {
		return false
	}
	return true
}

// AggregateStats summarizes the store for the administrative view.
type AggregateStats struct {
	Total         int
	ByStatus      map[Status]int
	ByKind        map[Kind]int
	Pending       int
	RecentSent24h int
}

// NewAggregateStats returns stats with every status and kind present at zero.
func NewAggregateStats() AggregateStats {
	s := AggregateStats{
		ByStatus: make(map[Status]int, len(Statuses)),
		ByKind:   make(map[Kind]int, len(Kinds)),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, k := range Kinds {
		s.ByKind[k] = 0
	}
	return s
}

// RecentWindow is the trailing window used for AggregateStats.RecentSent24h.
const RecentWindow = 24 * time.Hour

// SentWithin reports whether n was sent within the trailing RecentWindow ending at now.
func (n *ScheduledNotification) SentWithin(now time.Time) bool {
	if n.Status != StatusSent || n.SentAt == nil {
		return false
	}
	return n.SentAt.After(now.Add(-RecentWindow)) && !n.SentAt.After(now)
}
