package daterange

// Window selects days. After and Before are exclusive bounds and each is
// optional. When, if non-empty, restricts the selection to those days.
type Window struct {
	After  Day
	Before Day
	When   []Day
}

// IsZero reports whether no bound and no day list is configured.
func (w Window) IsZero() bool {
	return w.After.IsZero() && w.Before.IsZero() && len(w.When) == 0
}

// Empty reports whether the window is logically inconsistent and can never
// contain a day, for example an After bound that is not before Before.
func (w Window) Empty() bool {
	if !w.After.IsZero() && !w.Before.IsZero() && !w.After.AddDays(1).Before(w.Before) {
		return true
	}
	if len(w.When) > 0 {
		for _, d := range w.When {
			if w.inBounds(d) {
				return false
			}
		}
		return true
	}
	return false
}

func (w Window) inBounds(d Day) bool {
	if !w.After.IsZero() && !d.After(w.After) {
		return false
	}
	if !w.Before.IsZero() && !d.Before(w.Before) {
		return false
	}
	return true
}

// Contains reports whether d satisfies the bounds and the day list.
func (w Window) Contains(d Day) bool {
	if !w.inBounds(d) {
		return false
	}
	if len(w.When) == 0 {
		return true
	}
	for _, when := range w.When {
		if when.Equal(d) {
			return true
		}
	}
	return false
}

// ReachesThrough reports whether the window does not end before day.
func (w Window) ReachesThrough(day Day) bool {
	if !w.Before.IsZero() && !day.Before(w.Before) {
		return false
	}
	if len(w.When) > 0 {
		return w.Contains(day)
	}
	return true
}

// Enumerate lists the window's days up to and including today without
// consulting the server. It returns ok=false when the window has no lower
// bound and no day list, in which case the caller must enumerate the
// server's day index and filter it with Contains.
func (w Window) Enumerate(today Day) (days []Day, ok bool) {
	if w.Empty() {
		return nil, true
	}
	if len(w.When) > 0 {
		for _, d := range w.When {
			if w.inBounds(d) && !d.After(today) {
				days = append(days, d)
			}
		}
		SortDays(days)
		return days, true
	}
	if w.After.IsZero() {
		return nil, false
	}
	for d := w.After.AddDays(1); !d.After(today); d = d.AddDays(1) {
		if !w.Before.IsZero() && !d.Before(w.Before) {
			break
		}
		days = append(days, d)
	}
	return days, true
}
