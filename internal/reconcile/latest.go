package reconcile

import "time"

// LatestBy groups items by key and keeps, per group, the item with the
// greatest activity instant. Items whose activity cannot be determined are
// excluded entirely. On equal instants the earlier-seen item survives, so
// replaying the same batch is stable.
//
// This is the one latest-wins reducer shared by both reconciliation modes;
// the store may deliver several stale documents for the same logical trip
// and exactly one may survive.
func LatestBy[T any](items []T, key func(T) string, activity func(T) (time.Time, bool)) map[string]T {
	type winner struct {
		item T
		at   time.Time
	}
	winners := make(map[string]winner, len(items))
	for _, item := range items {
		at, ok := activity(item)
		if !ok {
			continue
		}
		k := key(item)
		if current, exists := winners[k]; exists && !at.After(current.at) {
			continue
		}
		winners[k] = winner{item: item, at: at}
	}

	out := make(map[string]T, len(winners))
	for k, w := range winners {
		out[k] = w.item
	}
	return out
}
