// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/model"
)

// ReconcileDependencies defines the interface for requesting passes.
type ReconcileDependencies interface {
	Trigger(ctx context.Context, reason string) (model.Trigger, error)
}

// ReconcileHandler handles pass trigger requests.
type ReconcileHandler struct {
	deps ReconcileDependencies
}

// NewReconcileHandler creates a new reconcile handler.
func NewReconcileHandler(deps ReconcileDependencies) *ReconcileHandler {
	return &ReconcileHandler{deps: deps}
}

type triggerResponse struct {
	Status      string    `json:"status"`
	TriggerID   string    `json:"trigger_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// HandlePostReconcile handles POST /reconcile requests. The pass runs
// asynchronously; 429 means a pass is already pending.
func (h *ReconcileHandler) HandlePostReconcile(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_reconcile"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	t, err := h.deps.Trigger(r.Context(), service.ReasonAPI)
	switch {
	case err == nil:
		w.Header().Set(TriggerIDHeader, t.ID)
		writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted", TriggerID: t.ID, RequestedAt: t.RequestedAt})
	case errors.Is(err, service.ErrTriggerPending):
		writeError(w, http.StatusTooManyRequests, "pending", WrapKind(op, ErrPending, err))
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrNoSource):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
