package merge

import (
	"sort"
	"time"

	"github.com/rickgao/sfcalls/internal/model"
)

// Filter is the active merge filter. An empty priority set means no
// priority filter; a nil viewport accepts every position.
type Filter struct {
	Priorities map[model.Priority]struct{}
	Viewport   *model.Viewport
}

// NewFilter builds a Filter from a subscription.
func NewFilter(sub model.Subscription) Filter {
	f := Filter{Viewport: sub.Viewport}
	if len(sub.Priorities) > 0 {
		f.Priorities = make(map[model.Priority]struct{}, len(sub.Priorities))
		for _, p := range sub.Priorities {
			f.Priorities[p] = struct{}{}
		}
	}
	return f
}

// allowsPriority reports whether a call's priority passes the filter.
func (f Filter) allowsPriority(p model.Priority) bool {
	if len(f.Priorities) == 0 {
		return true
	}
	if p == model.PriorityNone {
		return false
	}
	_, ok := f.Priorities[p]
	return ok
}

// inViewport reports whether a coordinate-bearing call is inside the viewport.
func (f Filter) inViewport(c *model.Coordinates) bool {
	if f.Viewport == nil {
		return true
	}
	return f.Viewport.Contains(c.Latitude, c.Longitude)
}

// Apply folds batch into current and returns the new visible set.
// Items are processed in batch order, so the last duplicate wins.
func Apply(current map[string]model.Call, batch []model.Call, f Filter) map[string]model.Call {
	result := make(map[string]model.Call, len(current)+len(batch))
	for k, v := range current {
		result[k] = v
	}

	for _, call := range batch {
		key := call.Key()

		if !f.allowsPriority(call.Priority) {
			delete(result, key)
			continue
		}

		if call.Coordinates != nil {
			if f.inViewport(call.Coordinates) {
				result[key] = call
			} else {
				delete(result, key)
			}
			continue
		}

		// No coordinates: leave any existing entry untouched.
	}

	return result
}

// Reconcile folds a REST batch into a live visible set. Unlike a reseed it
// never drops entries the batch omits, and an incoming call only replaces an
// existing entry when its ReceivedAt is strictly newer.
func Reconcile(current map[string]model.Call, batch []model.Call, f Filter) map[string]model.Call {
	fresh := make([]model.Call, 0, len(batch))
	for _, call := range batch {
		if existing, ok := current[call.Key()]; ok && !call.ReceivedAt.After(existing.ReceivedAt) {
			continue
		}
		fresh = append(fresh, call)
	}
	return Apply(current, fresh, f)
}

// Prune drops entries that no longer satisfy f. Entries without
// coordinates are only judged on priority.
func Prune(current map[string]model.Call, f Filter) map[string]model.Call {
	result := make(map[string]model.Call, len(current))
	for k, call := range current {
		if !f.allowsPriority(call.Priority) {
			continue
		}
		if call.Coordinates != nil && !f.inViewport(call.Coordinates) {
			continue
		}
		result[k] = call
	}
	return result
}

// Snapshot is an immutable, ordered view of the visible set.
type Snapshot struct {
	Calls       []model.Call // Most recent first
	LastUpdated time.Time
}

// NewSnapshot orders the visible set by received time, most recent first.
// Ties are broken by key so the order is stable.
func NewSnapshot(visible map[string]model.Call, lastUpdated time.Time) Snapshot {
	calls := make([]model.Call, 0, len(visible))
	for _, c := range visible {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool {
		if !calls[i].ReceivedAt.Equal(calls[j].ReceivedAt) {
			return calls[i].ReceivedAt.After(calls[j].ReceivedAt)
		}
		return calls[i].Key() < calls[j].Key()
	})
	return Snapshot{
		Calls:       calls,
		LastUpdated: lastUpdated,
	}
}

// Len returns the number of visible calls.
func (s Snapshot) Len() int {
	return len(s.Calls)
}

// Located returns the calls that carry coordinates, preserving order.
func (s Snapshot) Located() []model.Call {
	out := make([]model.Call, 0, len(s.Calls))
	for _, c := range s.Calls {
		if c.HasCoordinates() {
			out = append(out, c)
		}
	}
	return out
}
