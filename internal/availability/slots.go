package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Footprint is the calendar-occupying shape of a service: the customer-visible
// duration plus the buffers around it.
type Footprint struct {
	DurationMin     int
	BufferBeforeMin int
	BufferAfterMin  int
}

// Around expands a service start instant into the full buffered interval.
func (f Footprint) Around(start time.Time) Interval {
	return Interval{
		Start: start.Add(-time.Duration(f.BufferBeforeMin) * time.Minute),
		End:   start.Add(time.Duration(f.DurationMin+f.BufferAfterMin) * time.Minute),
	}
}

// SlotStarts returns the bookable start instants (UTC) for one calendar date.
// A candidate must sit on its window's grid, fit the customer-visible duration
// inside the window, keep its buffered footprint clear of every busy interval,
// and start strictly after now.
func SlotStarts(date time.Time, loc *time.Location, windows []Window, fp Footprint, busy []Interval, now time.Time) []time.Time {
	if fp.DurationMin <= 0 {
		return nil
	}

	var slots []time.Time
	for _, w := range windows {
		for _, startMin := range candidateStarts(w, fp.DurationMin) {
			start := atMinute(date, startMin, loc)
			if !start.After(now) {
				continue
			}
			occupied := fp.Around(start)
			if !overlapsAny(occupied.Start, occupied.End, busy) {
				slots = append(slots, start.UTC())
			}
		}
	}
	return slots
}

// candidateStarts walks the window's step grid from the anchor, keeping starts
// inside the window where start+duration still fits.
func candidateStarts(w Window, durationMin int) []int {
	if w.StepMin <= 0 || w.EndMin <= w.StartMin {
		return nil
	}
	first := w.AnchorMin
	if first < w.StartMin {
		k := (w.StartMin - w.AnchorMin + w.StepMin - 1) / w.StepMin
		first = w.AnchorMin + k*w.StepMin
	}
	var starts []int
	for m := first; m+durationMin <= w.EndMin; m += w.StepMin {
		starts = append(starts, m)
	}
	return starts
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// atMinute resolves minutes-since-midnight on a date to an instant in loc.
// time.Date normalizes overflow, which handles DST transition days.
func atMinute(date time.Time, minute int, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, minute, 0, 0, loc)
}
