// Package handlers implements HTTP request handlers for the opsrelay API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opsrelay/opsrelay/internal/store"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// Dispatcher runs one dispatch-and-wait cycle. Satisfied by dispatch.Tracker.
type Dispatcher interface {
	DispatchAndWait(ctx context.Context, req types.DispatchRequest) types.PollOutcome
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	dispatcher Dispatcher
	store      store.Store
	logger     *slog.Logger
}

// New creates a new Handlers instance.
func New(d Dispatcher, st store.Store) *Handlers {
	return &Handlers{
		dispatcher: d,
		store:      st,
		logger:     slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
