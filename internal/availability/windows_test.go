package availability

import (
	"testing"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rule(day int, start, end string, step int) model.AvailabilityRule {
	return model.AvailabilityRule{
		ID:          "r1",
		TenantID:    "t1",
		DayOfWeek:   day,
		StartLocal:  start,
		EndLocal:    end,
		SlotStepMin: step,
		ValidFrom:   date(2026, 1, 1),
		IsActive:    true,
	}
}

func exception(kind model.ExceptionKind, d time.Time, start, end string, priority int) model.AvailabilityException {
	return model.AvailabilityException{
		TenantID:      "t1",
		ExceptionDate: d,
		Kind:          kind,
		StartLocal:    start,
		EndLocal:      end,
		Priority:      priority,
	}
}

func TestDayWindows_RuleUnion(t *testing.T) {
	monday := date(2026, 2, 2) // a Monday
	rules := []model.AvailabilityRule{
		rule(1, "09:00", "13:00", 15),
		rule(1, "15:00", "19:00", 30),
		rule(2, "09:00", "18:00", 15), // Tuesday, must not apply
	}
	windows := DayWindows(monday, rules, nil)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d: %+v", len(windows), windows)
	}
	if windows[0].StartMin != 9*60 || windows[0].EndMin != 13*60 || windows[0].StepMin != 15 {
		t.Fatalf("unexpected first window: %+v", windows[0])
	}
	if windows[1].StartMin != 15*60 || windows[1].EndMin != 19*60 || windows[1].StepMin != 30 {
		t.Fatalf("unexpected second window: %+v", windows[1])
	}
}

func TestDayWindows_ValidityRange(t *testing.T) {
	monday := date(2026, 2, 2)
	validTo := date(2026, 1, 31)
	expired := rule(1, "09:00", "18:00", 15)
	expired.ValidTo = &validTo
	if got := DayWindows(monday, []model.AvailabilityRule{expired}, nil); len(got) != 0 {
		t.Fatalf("expected no windows from expired rule, got %+v", got)
	}

	future := rule(1, "09:00", "18:00", 15)
	future.ValidFrom = date(2026, 3, 1)
	if got := DayWindows(monday, []model.AvailabilityRule{future}, nil); len(got) != 0 {
		t.Fatalf("expected no windows from not-yet-valid rule, got %+v", got)
	}
}

func TestDayWindows_FullDayClosureBeatsEverything(t *testing.T) {
	monday := date(2026, 2, 2)
	rules := []model.AvailabilityRule{rule(1, "09:00", "18:00", 15)}
	excs := []model.AvailabilityException{
		exception(model.ExceptionOpenSpecial, monday, "08:00", "20:00", 1000),
		exception(model.ExceptionClosedFullDay, monday, "", "", 1),
	}
	if got := DayWindows(monday, rules, excs); got != nil {
		t.Fatalf("expected no windows on a fully closed day, got %+v", got)
	}
}

func TestDayWindows_PriorityOrdering(t *testing.T) {
	monday := date(2026, 2, 2)
	rules := []model.AvailabilityRule{rule(1, "09:00", "18:00", 15)}

	// Block at higher priority than the special opening: 13:00-14:00 stays closed.
	excs := []model.AvailabilityException{
		exception(model.ExceptionManualBlock, monday, "13:00", "14:00", 200),
		exception(model.ExceptionOpenSpecial, monday, "12:00", "15:00", 100),
	}
	windows := DayWindows(monday, rules, excs)
	if containsMinute(windows, 13*60+30) {
		t.Fatalf("13:30 should be blocked: %+v", windows)
	}
	if !containsMinute(windows, 12*60+30) {
		t.Fatalf("12:30 should be open: %+v", windows)
	}

	// Reversed priorities: the special opening is applied last and wins.
	excs = []model.AvailabilityException{
		exception(model.ExceptionManualBlock, monday, "13:00", "14:00", 100),
		exception(model.ExceptionOpenSpecial, monday, "12:00", "15:00", 200),
	}
	windows = DayWindows(monday, rules, excs)
	if !containsMinute(windows, 13*60+30) {
		t.Fatalf("13:30 should be re-opened by the higher-priority special: %+v", windows)
	}
}

func TestDayWindows_OpenSpecialOutsideRules(t *testing.T) {
	sunday := date(2026, 2, 1)
	// No Sunday rule at all; a special opening still creates a window.
	rules := []model.AvailabilityRule{rule(1, "09:00", "18:00", 15)}
	excs := []model.AvailabilityException{
		exception(model.ExceptionOpenSpecial, sunday, "10:00", "12:00", 100),
	}
	windows := DayWindows(sunday, rules, excs)
	if len(windows) != 1 {
		t.Fatalf("expected one special window, got %+v", windows)
	}
	if windows[0].StartMin != 10*60 || windows[0].EndMin != 12*60 {
		t.Fatalf("unexpected special window: %+v", windows[0])
	}
	if windows[0].StepMin != DefaultStepMin {
		t.Fatalf("special window on ruleless day should use the default step, got %d", windows[0].StepMin)
	}
}

func TestSubtract_PreservesGridAnchor(t *testing.T) {
	monday := date(2026, 2, 2)
	rules := []model.AvailabilityRule{rule(1, "09:00", "18:00", 30)}
	excs := []model.AvailabilityException{
		exception(model.ExceptionClosedPartial, monday, "13:07", "13:53", 100),
	}
	windows := DayWindows(monday, rules, excs)
	if len(windows) != 2 {
		t.Fatalf("expected window split into 2, got %+v", windows)
	}
	// The tail window starts at 13:53 but its grid is still anchored at 09:00,
	// so the first candidate is 14:00, not 13:53.
	starts := candidateStarts(windows[1], 30)
	if len(starts) == 0 || starts[0] != 14*60 {
		t.Fatalf("expected first candidate 14:00, got %v", starts)
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("09:30"); err != nil || m != 570 {
		t.Fatalf("ParseClock(09:30) = %d, %v", m, err)
	}
	for _, bad := range []string{"24:00", "09:60", "930", ""} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func containsMinute(windows []Window, minute int) bool {
	for _, w := range windows {
		if minute >= w.StartMin && minute < w.EndMin {
			return true
		}
	}
	return false
}
