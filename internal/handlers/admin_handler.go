package handlers

import (
	"context"
	"net/http"

	"gate-admission/internal/services"
	"gate-admission/models"

	"github.com/pocketbase/pocketbase/core"
)

// GateAdmin is what gate staff can force on a queue. Routes using it are
// bound behind superuser auth.
type GateAdmin interface {
	PromoteNext(ctx context.Context, eventID, gateID string) (*models.GateQueueEntry, error)
	Recompute(ctx context.Context, eventID, gateID string) error
	ExpireEntry(ctx context.Context, entryID string) error
	Reconcile(ctx context.Context) (services.ReconcileResult, error)
}

type AdminHandler struct {
	admin GateAdmin
}

func NewAdminHandler(admin GateAdmin) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// PromoteNext - POST /api/v1/admin/events/{eventId}/gates/{gateId}/promote
func (h *AdminHandler) PromoteNext(e *core.RequestEvent) error {
	promoted, err := h.admin.PromoteNext(e.Request.Context(), e.Request.PathValue("eventId"), e.Request.PathValue("gateId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"promoted": promoted})
}

// Recompute - POST /api/v1/admin/events/{eventId}/gates/{gateId}/recompute
func (h *AdminHandler) Recompute(e *core.RequestEvent) error {
	if err := h.admin.Recompute(e.Request.Context(), e.Request.PathValue("eventId"), e.Request.PathValue("gateId")); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Wait estimates recomputed"})
}

// ExpireEntry - POST /api/v1/admin/queue/entries/{entryId}/expire
//
// Only entries whose deadline has passed are expired, anything else is left
// as it is.
func (h *AdminHandler) ExpireEntry(e *core.RequestEvent) error {
	if err := h.admin.ExpireEntry(e.Request.Context(), e.Request.PathValue("entryId")); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Expiry processed"})
}

// Reconcile - POST /api/v1/admin/reconcile
func (h *AdminHandler) Reconcile(e *core.RequestEvent) error {
	result, err := h.admin.Reconcile(e.Request.Context())
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"expired": result.Expired, "promoted": result.Promoted})
}
