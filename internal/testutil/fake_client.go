// Package testutil provides shared test doubles.
package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/opsrelay/opsrelay/internal/forge"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// FakeClient is a scripted forge.Client. Error queues are consumed one entry
// per call; once a queue is exhausted further calls succeed. Snapshot queues
// repeat their last entry so a poll loop keeps observing the final state.
// Safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// Workflows maps workflow names to definitions; lookups for other names
	// return a 404 APIError.
	Workflows map[string]types.RemoteWorkflow

	DispatchEventErrs    []error
	DispatchWorkflowErrs []error
	ListErrs             []error
	GetRunErrs           []error

	// RunLists are returned by successive ListRuns calls, last entry repeats.
	RunLists [][]types.RemoteRun
	// RunStates holds per-run snapshot sequences for GetRun, last repeats.
	RunStates map[int64][]types.RemoteRun

	DispatchEventCalls    int
	DispatchWorkflowCalls int
	ListCalls             int
	GetRunCalls           int

	LastEventType string
	LastRef       string
	LastInputs    map[string]string
}

var _ forge.Client = (*FakeClient)(nil)

func (f *FakeClient) DispatchEvent(_ context.Context, eventType string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DispatchEventCalls++
	f.LastEventType = eventType
	return pop(&f.DispatchEventErrs)
}

func (f *FakeClient) DispatchWorkflow(_ context.Context, _ int64, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DispatchWorkflowCalls++
	f.LastRef = ref
	f.LastInputs = inputs
	return pop(&f.DispatchWorkflowErrs)
}

func (f *FakeClient) GetWorkflowByName(_ context.Context, name string) (*types.RemoteWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wf, ok := f.Workflows[name]; ok {
		return &wf, nil
	}
	return nil, &forge.APIError{StatusCode: http.StatusNotFound, Message: "workflow not found"}
}

func (f *FakeClient) ListRuns(_ context.Context, _ int64, _ string, _ int) ([]types.RemoteRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if err := pop(&f.ListErrs); err != nil {
		return nil, err
	}
	if len(f.RunLists) == 0 {
		return nil, nil
	}
	runs := f.RunLists[0]
	if len(f.RunLists) > 1 {
		f.RunLists = f.RunLists[1:]
	}
	return runs, nil
}

func (f *FakeClient) GetRun(_ context.Context, runID int64) (*types.RemoteRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetRunCalls++
	if err := pop(&f.GetRunErrs); err != nil {
		return nil, err
	}
	states := f.RunStates[runID]
	if len(states) == 0 {
		return nil, &forge.APIError{StatusCode: http.StatusNotFound, Message: "run not found"}
	}
	run := states[0]
	if len(states) > 1 {
		if f.RunStates == nil {
			f.RunStates = make(map[int64][]types.RemoteRun)
		}
		f.RunStates[runID] = states[1:]
	}
	return &run, nil
}

// SetWorkflow registers a workflow definition, simulating one that appears
// after the fake was constructed.
func (f *FakeClient) SetWorkflow(name string, wf types.RemoteWorkflow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Workflows == nil {
		f.Workflows = make(map[string]types.RemoteWorkflow)
	}
	f.Workflows[name] = wf
}

// Calls returns the total number of remote calls observed.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DispatchEventCalls + f.DispatchWorkflowCalls + f.ListCalls + f.GetRunCalls
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}
