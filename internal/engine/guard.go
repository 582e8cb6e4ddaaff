package engine

import "sync/atomic"

// FinalizeGuard is the per-device latch around terminal-transition logic.
// All-complete watchers, timer-expiry watchers and explicit end actions can
// race into the finalize path within the same tick; the guard is set
// synchronously before any asynchronous finalize work is issued, so exactly
// one caller proceeds and the rest bail out.
//
// The latch is local to one device and never persisted: each device only
// has to stop itself from double-running its own finalize. Cross-device
// races on the shared phase field are harmless because the completed ->
// completed write is idempotent.
type FinalizeGuard struct {
	fired atomic.Bool
}

// TryAcquire atomically claims the finalize path. Only the first caller
// gets true.
func (g *FinalizeGuard) TryAcquire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Fired reports whether finalize has already begun.
func (g *FinalizeGuard) Fired() bool {
	return g.fired.Load()
}

// Do runs fn only if this call acquired the latch, and reports whether it
// ran.
func (g *FinalizeGuard) Do(fn func()) bool {
	if !g.TryAcquire() {
		return false
	}
	fn()
	return true
}
