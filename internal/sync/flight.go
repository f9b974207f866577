package sync

import "sync"

// flightTable is the per-user single-flight guard. A run acquires its
// user's slot at entry and releases it in a deferred call; a second sync
// request for the same user while one is in flight is rejected rather than
// queued. Different users are fully independent.
type flightTable struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newFlightTable() *flightTable {
	return &flightTable{inFlight: make(map[string]struct{})}
}

// tryAcquire reports whether the caller now owns the slot for uid.
func (t *flightTable) tryAcquire(uid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[uid]; busy {
		return false
	}
	t.inFlight[uid] = struct{}{}
	return true
}

func (t *flightTable) release(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, uid)
}
