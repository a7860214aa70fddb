// Package content renders the subject and bodies of a scheduled notification.
package content

import (
	"context"
	"errors"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	"strings"
	"time"
)

var (
	// ErrIncompleteData is returned when the context data lacks a field the template needs.
	ErrIncompleteData = errors.New("content: incomplete template data")
	// ErrUnknownTemplate is returned for marketing templates the builder does not know.
	ErrUnknownTemplate = errors.New("content: unknown template")
)

// Marketing template names.
const (
	TemplateAnnouncement = "announcement"
	TemplateNewCourse    = "new_course"
	TemplatePromotion    = "promotion"
)

// MarketingTemplates lists the marketing templates the builder can render.
var MarketingTemplates = []string{TemplateAnnouncement, TemplateNewCourse, TemplatePromotion}

// Builder produces the rendered message for a notification.
// Implementations must be pure functions of kind, context data and recipient.
type Builder interface {
	Build(ctx context.Context, n *model.ScheduledNotification) (model.Content, error)
}

// TemplateBuilder is the default Builder.
type TemplateBuilder struct {
	// Brand appears in subjects and footers.
	Brand string
	// Location formats event times for readers; UTC when nil.
	Location *time.Location
}

// NewTemplateBuilder creates a builder for the given brand name.
func NewTemplateBuilder(brand string) *TemplateBuilder {
	if brand == "" {
		brand = "Academy"
	}
	return &TemplateBuilder{Brand: brand, Location: time.UTC}
}

// Build implements Builder.
func (b *TemplateBuilder) Build(ctx context.Context, n *model.ScheduledNotification) (model.Content, error) {
	var (
		subject string
		v       view
		err     error
	)

	switch n.Kind {
	case model.KindReminder:
		subject, v, err = b.reminder(n)
	case model.KindFollowUp:
		subject, v, err = b.followUp(n)
	case model.KindFeedback:
		subject, v, err = b.feedback(n)
	case model.KindMarketing:
		subject, v, err = b.marketing(n)
	default:
		err = fmt.Errorf("%w: kind %q", ErrUnknownTemplate, n.Kind)
	}
	if err != nil {
		return model.Content{}, err
	}

	v.Greeting = greeting(n.Recipient)
	if v.Footer == "" {
		v.Footer = fmt.Sprintf("You receive this email because you are registered with %s.", b.Brand)
	}

	html, err := Render(ctx, layout(v))
	if err != nil {
		return model.Content{}, fmt.Errorf("content: render html: %w", err)
	}

	return model.Content{
		Subject:  subject,
		TextBody: v.text(),
		HTMLBody: html,
	}, nil
}

func (b *TemplateBuilder) reminder(n *model.ScheduledNotification) (string, view, error) {
	data := n.ContextData
	if err := requireFields(data, model.DataTitle, model.DataStart); err != nil {
		return "", view{}, err
	}
	start, err := b.formatTime(data[model.DataStart])
	if err != nil {
		return "", view{}, err
	}

	v := view{
		Heading:    data[model.DataTitle],
		Paragraphs: []string{fmt.Sprintf("This is a reminder that %q starts on %s.", data[model.DataTitle], start)},
		Details:    eventDetails(data, start),
	}
	if url := data[model.DataJoinURL]; url != "" {
		v.Action = &link{Label: "Join the session", URL: url}
	}
	return fmt.Sprintf("Reminder: %s starts %s", data[model.DataTitle], start), v, nil
}

func (b *TemplateBuilder) followUp(n *model.ScheduledNotification) (string, view, error) {
	data := n.ContextData
	if err := requireFields(data, model.DataTitle); err != nil {
		return "", view{}, err
	}

	v := view{
		Heading: "Thanks for joining " + data[model.DataTitle],
		Paragraphs: []string{
			fmt.Sprintf("Thank you for attending %q.", data[model.DataTitle]),
			"We hope the session was useful. Materials and the recording will be shared in your account.",
		},
	}
	if instructor := data[model.DataInstructor]; instructor != "" {
		v.Paragraphs = append(v.Paragraphs, fmt.Sprintf("%s is looking forward to seeing you again.", instructor))
	}
	return fmt.Sprintf("Thanks for attending %s", data[model.DataTitle]), v, nil
}

func (b *TemplateBuilder) feedback(n *model.ScheduledNotification) (string, view, error) {
	data := n.ContextData
	if err := requireFields(data, model.DataTitle, model.DataFeedbackURL); err != nil {
		return "", view{}, err
	}

	v := view{
		Heading:    "How was " + data[model.DataTitle] + "?",
		Paragraphs: []string{"Your feedback helps us improve. It only takes a minute."},
		Action:     &link{Label: "Share feedback", URL: data[model.DataFeedbackURL]},
	}
	return fmt.Sprintf("How was %s? Share your feedback", data[model.DataTitle]), v, nil
}

func (b *TemplateBuilder) marketing(n *model.ScheduledNotification) (string, view, error) {
	data := n.ContextData
	if err := requireFields(data, model.DataTemplate); err != nil {
		return "", view{}, err
	}

	switch data[model.DataTemplate] {
	case TemplateAnnouncement:
		if err := requireFields(data, "headline"); err != nil {
			return "", view{}, err
		}
		v := view{Heading: data["headline"]}
		if body := data["body"]; body != "" {
			v.Paragraphs = splitParagraphs(body)
		}
		if url := data["url"]; url != "" {
			v.Action = &link{Label: "Read more", URL: url}
		}
		return data["headline"], v, nil

	case TemplateNewCourse:
		if err := requireFields(data, "course_title"); err != nil {
			return "", view{}, err
		}
		v := view{
			Heading:    "New course: " + data["course_title"],
			Paragraphs: []string{fmt.Sprintf("%q is now open for enrollment.", data["course_title"])},
		}
		if desc := data["description"]; desc != "" {
			v.Paragraphs = append(v.Paragraphs, splitParagraphs(desc)...)
		}
		if url := data["url"]; url != "" {
			v.Action = &link{Label: "View course", URL: url}
		}
		return fmt.Sprintf("New on %s: %s", b.Brand, data["course_title"]), v, nil

	case TemplatePromotion:
		if err := requireFields(data, "discount_code"); err != nil {
			return "", view{}, err
		}
		v := view{
			Heading:    "A little something for you",
			Paragraphs: []string{"Use the code below at checkout."},
			Details:    []detail{{Label: "Code", Value: data["discount_code"]}},
		}
		if expires := data["expires"]; expires != "" {
			v.Details = append(v.Details, detail{Label: "Valid until", Value: expires})
		}
		if url := data["url"]; url != "" {
			v.Action = &link{Label: "Shop now", URL: url}
		}
		return fmt.Sprintf("Your %s discount code", b.Brand), v, nil

	default:
		return "", view{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, data[model.DataTemplate])
	}
}

func (b *TemplateBuilder) formatTime(raw string) (string, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed time %q", ErrIncompleteData, raw)
	}
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon, 02 Jan 2006 15:04 MST"), nil
}

func eventDetails(data map[string]string, start string) []detail {
	details := []detail{{Label: "Starts", Value: start}}
	if v := data[model.DataInstructor]; v != "" {
		details = append(details, detail{Label: "Instructor", Value: v})
	}
	if v := data[model.DataMeetingID]; v != "" {
		details = append(details, detail{Label: "Meeting ID", Value: v})
	}
	if v := data[model.DataPasscode]; v != "" {
		details = append(details, detail{Label: "Passcode", Value: v})
	}
	return details
}

func requireFields(data map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(data[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteData, strings.Join(missing, ", "))
	}
	return nil
}

func greeting(r model.Recipient) string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return "Hi " + name + ","
	}
	return "Hi there,"
}

func splitParagraphs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
