// Package availability is the pure slot engine: it turns weekly rules,
// date-specific exceptions, and booked intervals into bookable start times.
// Everything here is calendar math; storage and transport live elsewhere.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// DefaultStepMin is used for open_special windows on days with no rule to
// inherit a step from.
const DefaultStepMin = 15

// Window is an open interval on a single calendar date, in minutes since
// local midnight, half-open [StartMin, EndMin). Candidate starts fall on the
// grid AnchorMin + k*StepMin, so subtracting an exception from the middle of
// a window never shifts the grid of the remainder.
type Window struct {
	StartMin  int
	EndMin    int
	StepMin   int
	AnchorMin int
}

type span struct {
	startMin int
	endMin   int
}

// ParseClock parses an HH:MM wall-clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return hh*60 + mm, nil
}

// DayWindows computes the open windows for one tenant-local calendar date.
// Rules contribute windows whose weekday matches and whose validity range
// covers the date. Exceptions are applied in ascending priority order so the
// highest priority lands last; a closed_full_day clears the date outright,
// regardless of priority, and nothing re-opens it.
func DayWindows(date time.Time, rules []model.AvailabilityRule, exceptions []model.AvailabilityException) []Window {
	weekday := int(date.Weekday())

	var windows []Window
	minStep := 0
	for _, r := range rules {
		if !r.IsActive || r.DayOfWeek != weekday {
			continue
		}
		if !coversDate(r, date) {
			continue
		}
		start, err := ParseClock(r.StartLocal)
		if err != nil {
			continue
		}
		end, err := ParseClock(r.EndLocal)
		if err != nil || end <= start {
			continue
		}
		step := r.SlotStepMin
		if step <= 0 {
			step = DefaultStepMin
		}
		if minStep == 0 || step < minStep {
			minStep = step
		}
		windows = append(windows, Window{StartMin: start, EndMin: end, StepMin: step, AnchorMin: start})
	}
	if minStep == 0 {
		minStep = DefaultStepMin
	}

	applicable := make([]model.AvailabilityException, 0, len(exceptions))
	for _, e := range exceptions {
		if sameDate(e.ExceptionDate, date) {
			applicable = append(applicable, e)
		}
	}
	for _, e := range applicable {
		if e.Kind == model.ExceptionClosedFullDay {
			return nil
		}
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority < applicable[j].Priority
		}
		return applicable[i].CreatedAt.Before(applicable[j].CreatedAt)
	})

	for _, e := range applicable {
		start, err := ParseClock(e.StartLocal)
		if err != nil {
			continue
		}
		end, err := ParseClock(e.EndLocal)
		if err != nil || end <= start {
			continue
		}
		switch e.Kind {
		case model.ExceptionClosedPartial, model.ExceptionManualBlock:
			windows = subtract(windows, span{startMin: start, endMin: end})
		case model.ExceptionOpenSpecial:
			windows = append(windows, Window{StartMin: start, EndMin: end, StepMin: minStep, AnchorMin: start})
		}
	}
	return windows
}

// subtract removes a span from every window, splitting windows it lands
// inside. Step and anchor survive the split.
func subtract(windows []Window, s span) []Window {
	out := windows[:0]
	for _, w := range windows {
		if s.endMin <= w.StartMin || s.startMin >= w.EndMin {
			out = append(out, w)
			continue
		}
		if s.startMin > w.StartMin {
			out = append(out, Window{StartMin: w.StartMin, EndMin: s.startMin, StepMin: w.StepMin, AnchorMin: w.AnchorMin})
		}
		if s.endMin < w.EndMin {
			out = append(out, Window{StartMin: s.endMin, EndMin: w.EndMin, StepMin: w.StepMin, AnchorMin: w.AnchorMin})
		}
	}
	return out
}

func coversDate(r model.AvailabilityRule, date time.Time) bool {
	d := dateOnly(date)
	if !r.ValidFrom.IsZero() && d.Before(dateOnly(r.ValidFrom)) {
		return false
	}
	if r.ValidTo != nil && d.After(dateOnly(*r.ValidTo)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
