// Package optimizer implements the three solver stages: feasible-sequence
// enumeration, set-partition allocation and time-slotted charge scheduling,
// plus the unified mode combining them. Each solver exists twice: the exact
// engine and a greedy fallback, selected by a process-wide capability flag.
package optimizer

import "sync"

// Solver statuses.
const (
	StatusOptimal  = "optimal"
	StatusFeasible = "feasible"
	StatusGreedy   = "greedy_fallback"
)

var (
	engineMu     sync.RWMutex
	engineActive bool
)

// SetEngineActive flips the process-wide solver capability flag. Called once
// at startup; runs consult it to pick the engine or the greedy fallback.
func SetEngineActive(active bool) {
	engineMu.Lock()
	defer engineMu.Unlock()
	engineActive = active
}

// EngineActive reports whether the exact solver engine is available.
func EngineActive() bool {
	engineMu.RLock()
	defer engineMu.RUnlock()
	return engineActive
}
