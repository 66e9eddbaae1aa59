package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/opsrelay/opsrelay/internal/report"
	"github.com/opsrelay/opsrelay/internal/store"
	"github.com/opsrelay/opsrelay/pkg/types"
)

const defaultListLimit = 20

// CreateDispatch triggers a dispatch-and-wait cycle. By default the cycle runs
// in the background and the pending record is returned with 202; ?wait=true
// blocks until the cycle finishes and returns the terminal record.
func (h *Handlers) CreateDispatch(w http.ResponseWriter, r *http.Request) {
	var req types.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.Target == "" {
		h.writeError(w, http.StatusBadRequest, "target is required", nil)
		return
	}
	if req.CorrelationToken == "" {
		req.CorrelationToken = uuid.NewString()
	}

	now := time.Now().UTC()
	rec := types.DispatchRecord{
		ID:        ulid.Make().String(),
		Target:    req.Target,
		Ref:       req.Ref,
		Token:     req.CorrelationToken,
		Requester: req.Requester,
		Status:    types.DispatchPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.PutDispatch(r.Context(), rec); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create dispatch record", err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		rec = h.runCycle(r.Context(), rec, req)
		_ = json.NewEncoder(w).Encode(rec)
		return
	}

	// The cycle outlives the request; it inherits the request's values but
	// not its cancellation.
	go func() {
		h.runCycle(context.WithoutCancel(r.Context()), rec, req)
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(rec)
}

// runCycle executes the dispatch cycle and persists record transitions.
func (h *Handlers) runCycle(ctx context.Context, rec types.DispatchRecord, req types.DispatchRequest) types.DispatchRecord {
	rec.Status = types.DispatchRunning
	rec.UpdatedAt = time.Now().UTC()
	if err := h.store.PutDispatch(ctx, rec); err != nil {
		h.logger.Error("failed to update dispatch record", "id", rec.ID, "error", err)
	}

	outcome := h.dispatcher.DispatchAndWait(ctx, req)

	now := time.Now().UTC()
	rec.Status = statusFor(outcome)
	rec.Outcome = &outcome
	rec.Summary = report.Format(outcome)
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	if err := h.store.PutDispatch(ctx, rec); err != nil {
		h.logger.Error("failed to update dispatch record", "id", rec.ID, "error", err)
	}
	return rec
}

func statusFor(outcome types.PollOutcome) types.DispatchStatus {
	switch {
	case outcome.Completed:
		return types.DispatchCompleted
	case outcome.TimedOut:
		return types.DispatchTimedOut
	default:
		return types.DispatchFailed
	}
}

// ListDispatches returns recent dispatch records, newest first.
func (h *Handlers) ListDispatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	records, err := h.store.ListDispatches(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list dispatches", err)
		return
	}
	if records == nil {
		records = []types.DispatchRecord{}
	}
	_ = json.NewEncoder(w).Encode(records)
}

// GetDispatch returns a single dispatch record.
func (h *Handlers) GetDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dispatchID")
	rec, err := h.store.GetDispatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "dispatch not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get dispatch", err)
		return
	}
	_ = json.NewEncoder(w).Encode(rec)
}

// ListDispatchEvents returns the audit trail for a dispatch record.
func (h *Handlers) ListDispatchEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dispatchID")
	rec, err := h.store.GetDispatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "dispatch not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get dispatch", err)
		return
	}

	events, err := h.store.ListEvents(r.Context(), rec.Token, 0)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	_ = json.NewEncoder(w).Encode(events)
}
