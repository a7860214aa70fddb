package http

import (
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	"time"
)

// RecipientDTO identifies a recipient in requests and responses.
type RecipientDTO struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
}

// EventDTO is the reference event a reminder, follow-up or feedback request is about.
type EventDTO struct {
	ID         string    `json:"id"`
	Title      string    `json:"title" binding:"required"`
	Instructor string    `json:"instructor"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	JoinURL    string    `json:"join_url"`
	MeetingID  string    `json:"meeting_id"`
	Passcode   string    `json:"passcode"`
}

// ReminderRequest schedules a reminder HoursBefore the event start.
type ReminderRequest struct {
	Recipient   RecipientDTO `json:"recipient"`
	Event       EventDTO     `json:"event"`
	HoursBefore *int         `json:"hours_before" binding:"required"`
}

// FollowUpRequest schedules a follow-up HoursAfter the event end.
type FollowUpRequest struct {
	Recipient  RecipientDTO `json:"recipient"`
	Event      EventDTO     `json:"event"`
	HoursAfter *int         `json:"hours_after" binding:"required"`
}

// FeedbackRequest schedules a feedback request at a fixed instant.
type FeedbackRequest struct {
	Recipient   RecipientDTO `json:"recipient"`
	Event       EventDTO     `json:"event"`
	At          time.Time    `json:"at" binding:"required"`
	FeedbackURL string       `json:"feedback_url" binding:"required,url"`
}

// MarketingRequest schedules a marketing message for one recipient, or for every entry
// of Recipients when that list is not empty.
type MarketingRequest struct {
	Recipient  *RecipientDTO     `json:"recipient,omitempty"`
	Recipients []RecipientDTO    `json:"recipients,omitempty"`
	Template   string            `json:"template" binding:"required"`
	At         time.Time         `json:"at" binding:"required"`
	Data       map[string]string `json:"data,omitempty"`
}

// ScheduledResponse is returned after a single notification was scheduled.
type ScheduledResponse struct {
	ID uuid.UUID `json:"id"`
}

// BulkFailureDTO describes one recipient of a bulk request that was not scheduled.
type BulkFailureDTO struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

// BulkResponse is returned for bulk marketing requests.
type BulkResponse struct {
	Scheduled []uuid.UUID      `json:"scheduled"`
	Failed    []BulkFailureDTO `json:"failed"`
}

// NotificationResponse is the public view of a scheduled notification.
type NotificationResponse struct {
	ID          uuid.UUID         `json:"id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Recipient   RecipientDTO      `json:"recipient"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	CreatedAt   time.Time         `json:"created_at"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Attempt     int               `json:"attempt"`
	RetryOf     *uuid.UUID        `json:"retry_of,omitempty"`
	ContextData map[string]string `json:"context_data,omitempty"`
}

// StatsResponse is the aggregate view of the store.
type StatsResponse struct {
	Total         int            `json:"total"`
	Pending       int            `json:"pending"`
	RecentSent24h int            `json:"recent_sent_24h"`
	ByStatus      map[string]int `json:"by_status"`
	ByKind        map[string]int `json:"by_kind"`
}

// ErrorResponse defines a standard structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (r RecipientDTO) toModel() model.Recipient {
	return model.Recipient{Address: r.Address, DisplayName: r.DisplayName}
}

func (e EventDTO) toModel() model.ReferenceEvent {
	return model.ReferenceEvent{
		ID:         e.ID,
		Title:      e.Title,
		Instructor: e.Instructor,
		Start:      e.Start,
		End:        e.End,
		JoinURL:    e.JoinURL,
		MeetingID:  e.MeetingID,
		Passcode:   e.Passcode,
	}
}

func toNotificationResponse(n *model.ScheduledNotification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		Kind:        string(n.Kind),
		Status:      string(n.Status),
		Recipient:   RecipientDTO{Address: n.Recipient.Address, DisplayName: n.Recipient.DisplayName},
		ScheduledAt: n.ScheduledAt,
		CreatedAt:   n.CreatedAt,
		SentAt:      n.SentAt,
		LastError:   n.LastError,
		Attempt:     n.Attempt,
		RetryOf:     n.RetryOf,
		ContextData: n.ContextData,
	}
}

func toStatsResponse(s model.AggregateStats) StatsResponse {
	resp := StatsResponse{
		Total:         s.Total,
		Pending:       s.Pending,
		RecentSent24h: s.RecentSent24h,
		ByStatus:      make(map[string]int, len(s.ByStatus)),
		ByKind:        make(map[string]int, len(s.ByKind)),
	}
	for k, v := range s.ByStatus {
		resp.ByStatus[string(k)] = v
	}
	for k, v := range s.ByKind {
		resp.ByKind[string(k)] = v
	}
	return resp
}
