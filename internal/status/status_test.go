package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"invalid token", ErrInvalidToken, "Invalid token"},
		{"wrapped already used", fmt.Errorf("verify %q: %w", "tok", ErrAlreadyUsed), "This token has already been used"},
		{"expired", ErrEntryExpired, "This queue entry has expired"},
		{"released", ErrEntryReleased, "This queue entry was released"},
		{"already verified", ErrAlreadyVerified, "Already verified"},
		{"already queued", ErrAlreadyQueued, "You already have an active queue entry for this event"},
		{"unknown", errors.New("boom"), "Something went wrong, please try again"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Message(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ok", Code(nil))
	assert.Equal(t, "already_used", Code(fmt.Errorf("verify: %w", ErrAlreadyUsed)))
	assert.Equal(t, "invalid_gate", Code(ErrInvalidGate))
	assert.Equal(t, "internal", Code(errors.New("boom")))
}

func TestNotEntryOwnerIsInvalidState(t *testing.T) {
	assert.ErrorIs(t, ErrNotEntryOwner, ErrInvalidState)
	assert.Equal(t, "not_entry_owner", Code(ErrNotEntryOwner))
	assert.Equal(t, "invalid_state", Code(ErrInvalidState))
}
