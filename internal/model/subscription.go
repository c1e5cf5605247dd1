package model

// Subscription is the filter requested from the stream: an optional
// viewport and an optional set of priorities (empty = all).
type Subscription struct {
	Viewport   *Viewport
	Priorities []Priority
}

// HasPriorityFilter reports whether a priority filter is active.
func (s Subscription) HasPriorityFilter() bool {
	return len(s.Priorities) > 0
}

// AllowsPriority reports whether p passes the priority filter. A missing
// priority never passes an active filter.
func (s Subscription) AllowsPriority(p Priority) bool {
	if !s.HasPriorityFilter() {
		return true
	}
	if p == PriorityNone {
		return false
	}
	for _, allowed := range s.Priorities {
		if allowed == p {
			return true
		}
	}
	return false
}

// Matches reports whether a call satisfies the subscription: its priority
// passes the filter and, when it carries coordinates and a viewport is set,
// it lies inside the viewport.
func (s Subscription) Matches(c Call) bool {
	if !s.AllowsPriority(c.Priority) {
		return false
	}
	if s.Viewport != nil && c.Coordinates != nil {
		return s.Viewport.Contains(c.Coordinates.Latitude, c.Coordinates.Longitude)
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (s Subscription) Clone() Subscription {
	out := Subscription{}
	if s.Viewport != nil {
		vp := *s.Viewport
		out.Viewport = &vp
	}
	if s.Priorities != nil {
		out.Priorities = append([]Priority(nil), s.Priorities...)
	}
	return out
}
