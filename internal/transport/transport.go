// Package transport delivers rendered notifications through exactly one configured provider.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNoProvider is returned by every Send when no delivery provider is configured.
	ErrNoProvider = errors.New("transport: no delivery provider configured")
	// ErrSendFailed wraps provider-level delivery failures.
	ErrSendFailed = errors.New("transport: send failed")
	// ErrInvalidConfig is returned when a provider is selected but its settings are incomplete.
	ErrInvalidConfig = errors.New("transport: invalid provider config")
)

// Message is a rendered notification addressed to a single recipient.
type Message struct {
	To       string
	ToName   string
	Subject  string
	TextBody string
	HTMLBody string
	// Tag is an optional provider-side label, e.g. the notification kind.
	Tag string
}

// Transport defines the interface for any delivery provider.
// Implementations never retry; retry policy belongs to the caller.
type Transport interface {
	// Send delivers msg or returns the provider error.
	Send(ctx context.Context, msg Message) error
	// Name identifies the provider in logs.
	Name() string
}

// Unavailable is the transport used when nothing is configured in live mode.
// Every Send fails, so notifications accumulate as failed instead of being dropped silently.
type Unavailable struct{}

func (Unavailable) Send(context.Context, Message) error {
	return ErrNoProvider
}

func (Unavailable) Name() string {
	return "unavailable"
}
