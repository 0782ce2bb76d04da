package handlers

import (
	"context"
	"net/http"
	"strconv"

	"gate-admission/internal/status"
	"gate-admission/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/yeqown/go-qrcode"
)

// GateQueue is the part of the gate queue service exposed over HTTP.
type GateQueue interface {
	ListGates(ctx context.Context, eventID string) ([]string, error)
	Join(ctx context.Context, eventID, gateID, userID string) (*models.JoinResult, error)
	Verify(ctx context.Context, token string) (*models.VerifyResult, error)
	Release(ctx context.Context, entryID, requesterID string) (*models.ReleaseResult, error)
	GetMyEntry(ctx context.Context, eventID, userID string) (*models.MyEntry, error)
	GetEntry(ctx context.Context, entryID, requesterID string) (*models.GateQueueEntry, error)
	GetGateTraffic(ctx context.Context, eventID string) (map[string]models.GateTraffic, error)
}

type GateMetrics interface {
	Summary(ctx context.Context, eventID string) (*models.EventMetricsSummary, error)
	RealtimeFlow(ctx context.Context, eventID string, windowMinutes int) (*models.RealtimeGateFlow, error)
}

type QueueHandler struct {
	queue   GateQueue
	metrics GateMetrics
}

func NewQueueHandler(queue GateQueue, metrics GateMetrics) *QueueHandler {
	return &QueueHandler{queue: queue, metrics: metrics}
}

// ListGates - GET /api/v1/events/{eventId}/gates
func (h *QueueHandler) ListGates(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	gates, err := h.queue.ListGates(e.Request.Context(), eventID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"event_id": eventID, "gates": gates})
}

// JoinQueue - POST /api/v1/events/{eventId}/gates/{gateId}/queue
func (h *QueueHandler) JoinQueue(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	result, err := h.queue.Join(e.Request.Context(), e.Request.PathValue("eventId"), e.Request.PathValue("gateId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, result)
}

// GetMyEntry - GET /api/v1/events/{eventId}/queue/me
func (h *QueueHandler) GetMyEntry(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	entry, err := h.queue.GetMyEntry(e.Request.Context(), e.Request.PathValue("eventId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"entry": entry})
}

// GetGateTraffic - GET /api/v1/events/{eventId}/traffic
func (h *QueueHandler) GetGateTraffic(e *core.RequestEvent) error {
	traffic, err := h.queue.GetGateTraffic(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, traffic)
}

// VerifyToken - POST /api/v1/gate/verify
//
// Rejected tokens are answered with success=false and the reason, gate staff
// read the message off the scanner.
func (h *QueueHandler) VerifyToken(e *core.RequestEvent) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Token == "" {
		return e.JSON(http.StatusOK, models.VerifyResult{Message: status.Message(status.ErrInvalidToken)})
	}

	result, err := h.queue.Verify(e.Request.Context(), req.Token)
	if err != nil {
		if !isTyped(err) {
			return apiError(err)
		}
		return e.JSON(http.StatusOK, models.VerifyResult{Message: status.Message(err)})
	}
	return e.JSON(http.StatusOK, result)
}

// ReleaseEntry - POST /api/v1/queue/entries/{entryId}/release
func (h *QueueHandler) ReleaseEntry(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	result, err := h.queue.Release(e.Request.Context(), e.Request.PathValue("entryId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, result)
}

// GetEntryQR - GET /api/v1/queue/entries/{entryId}/qr
func (h *QueueHandler) GetEntryQR(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	entry, err := h.queue.GetEntry(e.Request.Context(), e.Request.PathValue("entryId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	if !entry.Status.IsActive() {
		return apiError(status.ErrInvalidState)
	}

	qrc, err := qrcode.New(entry.Token)
	if err != nil {
		return apis.NewInternalServerError("Failed to render token", err)
	}
	e.Response.Header().Set("Content-Type", "image/jpeg")
	e.Response.Header().Set("Cache-Control", "no-store")
	e.Response.WriteHeader(http.StatusOK)
	return qrc.SaveTo(e.Response)
}

// GetMetricsSummary - GET /api/v1/events/{eventId}/metrics/summary
func (h *QueueHandler) GetMetricsSummary(e *core.RequestEvent) error {
	summary, err := h.metrics.Summary(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, summary)
}

// GetRealtimeFlow - GET /api/v1/events/{eventId}/metrics/flow?window=60
func (h *QueueHandler) GetRealtimeFlow(e *core.RequestEvent) error {
	window := 0
	if raw := e.Request.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return apis.NewBadRequestError("window must be a positive number of minutes", nil)
		}
		window = parsed
	}

	flow, err := h.metrics.RealtimeFlow(e.Request.Context(), e.Request.PathValue("eventId"), window)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, flow)
}
