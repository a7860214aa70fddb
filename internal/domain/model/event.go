package model

import (
	"time"
)

// Context data keys shared by the service and the content builder.
const (
	DataEventID     = "event_id"
	DataTitle       = "title"
	DataInstructor  = "instructor"
	DataStart       = "start"
	DataEnd         = "end"
	DataJoinURL     = "join_url"
	DataMeetingID   = "meeting_id"
	DataPasscode    = "passcode"
	DataFeedbackURL = "feedback_url"
	DataTemplate    = "template"
)

// ReferenceEvent is the event a reminder, follow-up or feedback request is about.
type ReferenceEvent struct {
	ID         string
	Title      string
	Instructor string
	Start      time.Time
	End        time.Time
	JoinURL    string
	MeetingID  string
	Passcode   string
}

// ContextData flattens the event into the opaque payload stored with a notification.
// Empty optional fields are omitted.
func (e ReferenceEvent) ContextData() map[string]string {
	data := map[string]string{
		DataTitle: e.Title,
	}
	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set(DataEventID, e.ID)
	set(DataInstructor, e.Instructor)
	set(DataJoinURL, e.JoinURL)
	set(DataMeetingID, e.MeetingID)
	set(DataPasscode, e.Passcode)
	if !e.Start.IsZero() {
		data[DataStart] = e.Start.UTC().Format(time.RFC3339)
	}
	if !e.End.IsZero() {
		data[DataEnd] = e.End.UTC().Format(time.RFC3339)
	}
	return data
}
