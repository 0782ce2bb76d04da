package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"gate-admission/internal/status"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError maps a queue error to the PocketBase error response it should
// produce.
func apiError(err error) error {
	message := status.Message(err)
	switch {
	case errors.Is(err, status.ErrInvalidGate),
		errors.Is(err, status.ErrInvalidToken):
		return apis.NewBadRequestError(message, nil)
	case errors.Is(err, status.ErrEventNotFound),
		errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError(message, nil)
	case errors.Is(err, status.ErrNotEntryOwner):
		return apis.NewForbiddenError(message, nil)
	case errors.Is(err, status.ErrAlreadyQueued),
		errors.Is(err, status.ErrInvalidState),
		errors.Is(err, status.ErrAlreadyUsed),
		errors.Is(err, status.ErrAlreadyVerified),
		errors.Is(err, status.ErrEntryExpired),
		errors.Is(err, status.ErrEntryReleased):
		return apis.NewApiError(http.StatusConflict, message, nil)
	case errors.Is(err, status.ErrRateLimited):
		return apis.NewTooManyRequestsError(message, nil)
	case errors.Is(err, status.ErrStoreUnavailable):
		return apis.NewApiError(http.StatusServiceUnavailable, message, nil)
	}
	slog.Error("gate queue request failed", "error", err)
	return apis.NewInternalServerError(message, nil)
}

// isTyped reports whether err is one of the queue's own errors rather than an
// infrastructure failure.
func isTyped(err error) bool {
	return status.Code(err) != "internal"
}
