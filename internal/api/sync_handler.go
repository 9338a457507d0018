package api

import (
	"log/slog"
	"net/http"

	"github.com/driftq/driftq/internal/api/shared"
	"github.com/driftq/driftq/internal/syncer"
)

// SyncHandler exposes the durable operation log over HTTP: inspecting
// pending and failed operations, and dismissing abandoned ones.
type SyncHandler struct {
	log    syncer.OperationLog
	logger *slog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(log syncer.OperationLog, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SyncHandler")
	}

	return &SyncHandler{
		log:    log,
		logger: logger.With(slog.String("component", "sync_handler")),
	}
}

// ListOperations handles GET /sync/operations requests. The optional
// status query parameter narrows the result to one operation state.
func (h *SyncHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	var filter syncer.LogFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := syncer.OpStatus(raw)
		switch status {
		case syncer.OpStatusQueued, syncer.OpStatusInFlight,
			syncer.OpStatusRetryScheduled, syncer.OpStatusSucceeded,
			syncer.OpStatusAbandoned:
			filter.Status = status
		default:
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	ops, err := h.log.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		responses = append(responses, operationToResponse(op))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetOperation handles GET /sync/operations/{seq} requests.
func (h *SyncHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	seq, err := getPathSeq(r, "seq")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	op, err := h.log.Get(r.Context(), seq)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, operationToResponse(op))
}

// DismissOperation handles POST /sync/operations/{seq}/dismiss requests.
// Only abandoned operations can be dismissed; anything else conflicts.
func (h *SyncHandler) DismissOperation(w http.ResponseWriter, r *http.Request) {
	seq, err := getPathSeq(r, "seq")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	if err := h.log.Dismiss(r.Context(), seq); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("operation dismissed", slog.Int64("seq", seq))
	w.WriteHeader(http.StatusNoContent)
}
