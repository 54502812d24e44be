package ledger

import (
	"sync"
	"time"
)

// inflight tracks which assets have an action PROCESSING. At most one
// invocation holds an asset at a time.
type inflight struct {
	mu     sync.Mutex
	held   map[string]inflightEntry // assetID -> holder
	onSize func(n int)
}

type inflightEntry struct {
	invocationID string
	since        time.Time
}

func newInflight(onSize func(n int)) *inflight {
	if onSize == nil {
		onSize = func(int) {}
	}
	return &inflight{held: make(map[string]inflightEntry), onSize: onSize}
}

// acquire claims assetID for invocationID. It returns false, and the current
// holder, if the asset is already claimed.
func (f *inflight) acquire(assetID, invocationID string, now time.Time) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.held[assetID]; ok {
		return cur.invocationID, false
	}
	f.held[assetID] = inflightEntry{invocationID: invocationID, since: now}
	f.onSize(len(f.held))
	return invocationID, true
}

// release frees assetID if invocationID still holds it.
func (f *inflight) release(assetID, invocationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.held[assetID]; ok && cur.invocationID == invocationID {
		delete(f.held, assetID)
		f.onSize(len(f.held))
	}
}

// busy reports whether assetID is claimed.
func (f *inflight) busy(assetID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[assetID]
	return ok
}
