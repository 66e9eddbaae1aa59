// Package store defines the persistence interface for dispatch records and
// their audit events. The in-memory implementation lives here; the Redis
// implementation lives in the redis subpackage.
package store

import (
	"context"
	"errors"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// ErrNotFound is returned when a dispatch record does not exist.
var ErrNotFound = errors.New("dispatch not found")

// Store is the dispatch record backend. Records are keyed by their ID;
// events are keyed by the correlation token that produced them.
type Store interface {
	// Dispatch records
	PutDispatch(ctx context.Context, rec types.DispatchRecord) error
	GetDispatch(ctx context.Context, id string) (*types.DispatchRecord, error)
	ListDispatches(ctx context.Context, limit int) ([]types.DispatchRecord, error)

	// Event log — append-only audit trail
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, token string, limit int) ([]types.Event, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
