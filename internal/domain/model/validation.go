package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrValidation is the root of every schedule-time validation failure.
	ErrValidation = errors.New("validation failed")

	ErrInvalidAddress  = fmt.Errorf("%w: invalid recipient address", ErrValidation)
	ErrReminderInPast  = fmt.Errorf("%w: reminder time is not in the future", ErrValidation)
	ErrUnknownKind     = fmt.Errorf("%w: unknown notification kind", ErrValidation)
	ErrNegativeOffset  = fmt.Errorf("%w: hour offset must not be negative", ErrValidation)
	ErrMissingSchedule = fmt.Errorf("%w: scheduled time is required", ErrValidation)
	ErrMissingContent  = fmt.Errorf("%w: required content field is empty", ErrValidation)
)

// ValidateAddress checks that address is a single bare RFC 5322 mailbox.
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	// "Name <a@b>" parses too, but the display name has its own field.
	if parsed.Address != address {
		return fmt.Errorf("%w: %q is not a bare address", ErrInvalidAddress, address)
	}
	return nil
}

// ValidateForInsert checks a new record against the rules every store enforces.
func ValidateForInsert(n *ScheduledNotification, now time.Time) error {
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
	if err := ValidateAddress(n.Recipient.Address); err != nil {
		return err
	}
	if n.ScheduledAt.IsZero() {
		return ErrMissingSchedule
	}
	if n.Kind == KindReminder && !n.ScheduledAt.After(now) {
		return fmt.Errorf("%w: scheduled at %s, now %s", ErrReminderInPast,
			n.ScheduledAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return nil
}
