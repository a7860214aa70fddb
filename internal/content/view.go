package content

import (
	"net/url"
	"strings"
)

// detail is a labelled value shown in a message, e.g. "Meeting ID".
type detail struct {
	Label string
	Value string
}

// link is the call to action of a message.
type link struct {
	Label string
	URL   string
}

// view is the channel-neutral shape of a message. Both bodies are rendered from it.
type view struct {
	Heading    string
	Greeting   string
	Paragraphs []string
	Details    []detail
	Action     *link
	Footer     string
}

// safeURL accepts only absolute http(s) links.
func safeURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// text renders the plain text body.
func (v view) text() string {
	var b strings.Builder
	b.WriteString(v.Greeting)
	b.WriteString("\n\n")
	for _, p := range v.Paragraphs {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	for _, d := range v.Details {
		b.WriteString(d.Label)
		b.WriteString(": ")
		b.WriteString(d.Value)
		b.WriteString("\n")
	}
	if len(v.Details) > 0 {
		b.WriteString("\n")
	}
	if href := v.actionHref(); href != "" {
		b.WriteString(v.Action.Label)
		b.WriteString(": ")
		b.WriteString(href)
		b.WriteString("\n\n")
	}
	if v.Footer != "" {
		b.WriteString("--\n")
		b.WriteString(v.Footer)
		b.WriteString("\n")
	}
	return b.String()
}

// actionHref is the sanitized call to action link, or "" when there is none.
func (v view) actionHref() string {
	if v.Action == nil {
		return ""
	}
	href, ok := safeURL(v.Action.URL)
	if !ok {
		return ""
	}
	return href
}
