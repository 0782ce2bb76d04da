package status

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGate      = errors.New("gate: invalid gate for event")
	ErrAlreadyQueued    = errors.New("gate: user already has an active queue entry for this event")
	ErrInvalidToken     = errors.New("gate: invalid token")
	ErrAlreadyUsed      = errors.New("gate: token already used")
	ErrEntryExpired     = errors.New("gate: queue entry expired")
	ErrEntryReleased    = errors.New("gate: queue entry released")
	ErrAlreadyVerified  = errors.New("gate: queue entry already verified")
	ErrInvalidState     = errors.New("gate: queue entry cannot be changed in its current state")
	ErrNotFound         = errors.New("gate: not found")
	ErrEventNotFound    = errors.New("event: event not found")
	ErrInvalidPolicy    = errors.New("gate: invalid queue policy")
	ErrRateLimited      = errors.New("rate limit: too many requests")
	ErrStoreUnavailable = errors.New("store: queue store unavailable")
)

// ErrNotEntryOwner is an ErrInvalidState, callers that only care about the
// release being refused can keep checking for that.
var ErrNotEntryOwner = fmt.Errorf("%w: queue entry belongs to another user", ErrInvalidState)

// Queue store errors.
var (
	ErrDuplicateActiveEntry = errors.New("store: duplicate active entry")
	ErrDuplicateToken       = errors.New("store: duplicate token")
	ErrConflict             = errors.New("store: conditional update failed")
	ErrInvalidTransition    = errors.New("store: invalid status transition")
)

var messages = []struct {
	err     error
	code    string
	message string
}{
	{ErrInvalidGate, "invalid_gate", "Invalid gate selected"},
	{ErrAlreadyQueued, "already_queued", "You already have an active queue entry for this event"},
	{ErrInvalidToken, "invalid_token", "Invalid token"},
	{ErrAlreadyUsed, "already_used", "This token has already been used"},
	{ErrEntryExpired, "entry_expired", "This queue entry has expired"},
	{ErrEntryReleased, "entry_released", "This queue entry was released"},
	{ErrAlreadyVerified, "already_verified", "Already verified"},
	{ErrNotEntryOwner, "not_entry_owner", "Cannot release this queue entry"},
	{ErrInvalidState, "invalid_state", "Cannot release this queue entry"},
	{ErrEventNotFound, "event_not_found", "Event not found"},
	{ErrNotFound, "not_found", "Queue entry not found"},
	{ErrRateLimited, "rate_limited", "Rate limit exceeded. Please try again later."},
	{ErrInvalidPolicy, "invalid_policy", "Invalid queue policy"},
	{ErrStoreUnavailable, "store_unavailable", "Queue is temporarily unavailable, please try again"},
}

// Code returns a short stable identifier for err, used in API responses and
// metric labels. Nil maps to "ok" and unknown errors to "internal".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return "internal"
}

// Message returns the human readable reason for a gate queue error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.message
		}
	}
	return "Something went wrong, please try again"
}
