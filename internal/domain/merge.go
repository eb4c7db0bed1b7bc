package domain

// Merge applies a batch of classified readings to the current state and
// returns the resulting state plus the readings that were actually inserted or
// replaced, in batch order.
//
// The input state is never mutated. When at least one reading lands the result
// is a fresh map, so callers can treat states as immutable snapshots and key
// derived-view caches on the map reference. When nothing lands the exact input
// reference comes back, which makes re-delivery of a snapshot a no-op.
//
// Replacement requires a strictly newer ObservedAt. Equal timestamps keep the
// first-seen reading, so near-simultaneous reports for one physical location
// do not flicker between sources.
func Merge(current MergedState, incoming []StationReading) (MergedState, []StationReading) {
	next := make(MergedState, len(current)+len(incoming))
	for k, v := range current {
		next[k] = v
	}

	var changed []StationReading
	for _, r := range incoming {
		key := r.Coordinate.Key()
		if existing, ok := next[key]; ok && !r.ObservedAt.After(existing.ObservedAt) {
			continue
		}
		next[key] = r
		changed = append(changed, r)
	}

	if len(changed) == 0 {
		return current, nil
	}
	return next, changed
}
