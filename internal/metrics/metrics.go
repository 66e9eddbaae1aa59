// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	DispatchesTotal    = expvar.NewInt("dispatches_total")
	DispatchesFailed   = expvar.NewInt("dispatches_failed")
	RunsDiscovered     = expvar.NewInt("runs_discovered")
	DiscoveryFallbacks = expvar.NewInt("discovery_fallbacks")
	PollCycles         = expvar.NewInt("poll_cycles")
	PollTimeouts       = expvar.NewInt("poll_timeouts")
	RetriesScheduled   = expvar.NewInt("retries_scheduled")
	CredentialFailures = expvar.NewInt("credential_failures")
)
