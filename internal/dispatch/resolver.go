package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// workflowCache memoizes workflow name lookups. Workflow IDs are stable for
// the lifetime of the process, so entries never expire; singleflight collapses
// concurrent lookups for the same name into one remote call.
type workflowCache struct {
	group  singleflight.Group
	mu     sync.RWMutex
	byName map[string]types.RemoteWorkflow
}

// resolveWorkflow returns the workflow definition for name, hitting the forge
// at most once per name across concurrent invocations. Failed lookups are not
// cached: a workflow created after a miss resolves on the next attempt.
func (t *Tracker) resolveWorkflow(ctx context.Context, name string) (*types.RemoteWorkflow, error) {
	t.workflows.mu.RLock()
	if wf, ok := t.workflows.byName[name]; ok {
		t.workflows.mu.RUnlock()
		return &wf, nil
	}
	t.workflows.mu.RUnlock()

	v, err, _ := t.workflows.group.Do(name, func() (any, error) {
		var wf *types.RemoteWorkflow
		err := t.call(ctx, func(ctx context.Context) error {
			w, err := t.client.GetWorkflowByName(ctx, name)
			wf = w
			return err
		})
		if err != nil {
			return nil, err
		}
		t.workflows.mu.Lock()
		if t.workflows.byName == nil {
			t.workflows.byName = make(map[string]types.RemoteWorkflow)
		}
		t.workflows.byName[name] = *wf
		t.workflows.mu.Unlock()
		return *wf, nil
	})
	if err != nil {
		return nil, err
	}
	wf := v.(types.RemoteWorkflow)
	return &wf, nil
}
