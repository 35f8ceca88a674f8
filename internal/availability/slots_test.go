package availability

import (
	"testing"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/model"
)

func TestSlotStarts_RoundTrip(t *testing.T) {
	// Mon 09:00-18:00, step 15, duration 30: slots 09:00 .. 17:30.
	monday := date(2026, 2, 2)
	windows := DayWindows(monday, []model.AvailabilityRule{rule(1, "09:00", "18:00", 15)}, nil)
	fp := Footprint{DurationMin: 30}
	now := date(2026, 1, 1)

	slots := SlotStarts(monday, time.UTC, windows, fp, nil, now)
	if len(slots) != 35 {
		t.Fatalf("expected 35 slots, got %d", len(slots))
	}
	if !slots[0].Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	last := slots[len(slots)-1]
	if !last.Equal(monday.Add(17*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected last slot 17:30, got %s", last.Format(time.RFC3339))
	}
}

func TestSlotStarts_SkipsPast(t *testing.T) {
	monday := date(2026, 2, 2)
	windows := DayWindows(monday, []model.AvailabilityRule{rule(1, "09:00", "10:00", 15)}, nil)
	now := monday.Add(9*time.Hour + 31*time.Minute)

	slots := SlotStarts(monday, time.UTC, windows, Footprint{DurationMin: 15}, nil, now)
	// 09:00, 09:15, 09:30 are not strictly in the future. 09:45 is.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(monday.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestSlotStarts_BufferedFootprintBlocks(t *testing.T) {
	// A 30min service with 10min before / 5min after booked at 10:00 occupies
	// [09:50, 10:35). Candidates whose footprint touches it must go.
	monday := date(2026, 2, 2)
	windows := DayWindows(monday, []model.AvailabilityRule{rule(1, "09:00", "12:00", 5)}, nil)
	fp := Footprint{DurationMin: 30, BufferBeforeMin: 10, BufferAfterMin: 5}
	busy := []Interval{fp.Around(monday.Add(10 * time.Hour))}
	now := date(2026, 1, 1)

	slots := SlotStarts(monday, time.UTC, windows, fp, busy, now)

	has := func(hh, mm int) bool {
		want := monday.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
		for _, s := range slots {
			if s.Equal(want) {
				return true
			}
		}
		return false
	}
	if has(10, 20) {
		t.Fatal("10:20 overlaps the booked footprint and must be excluded")
	}
	if has(10, 30) {
		t.Fatal("10:30 footprint starts at 10:20, inside the booked interval")
	}
	if !has(10, 45) {
		t.Fatal("10:45 footprint starts at 10:35 and must be offered")
	}
	if has(9, 30) {
		t.Fatal("09:30 footprint ends at 10:05, inside the booked interval")
	}
	if !has(9, 15) {
		t.Fatal("09:15 footprint ends at 09:50 and must be offered")
	}
}

func TestSlotStarts_TimezoneConversion(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		t.Fatal(err)
	}
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	windows := DayWindows(monday, []model.AvailabilityRule{rule(1, "09:00", "10:00", 30)}, nil)
	slots := SlotStarts(monday, loc, windows, Footprint{DurationMin: 30}, nil, date(2026, 1, 1))
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	// 09:00 ART is 12:00 UTC.
	want := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	if !slots[0].Equal(want) {
		t.Fatalf("expected %s, got %s", want, slots[0])
	}
	if slots[0].Location() != time.UTC {
		t.Fatal("slot starts must be returned in UTC")
	}
}

func TestFootprintAround(t *testing.T) {
	fp := Footprint{DurationMin: 30, BufferBeforeMin: 10, BufferAfterMin: 5}
	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	got := fp.Around(start)
	if !got.Start.Equal(start.Add(-10 * time.Minute)) || !got.End.Equal(start.Add(35 * time.Minute)) {
		t.Fatalf("unexpected footprint: %+v", got)
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	a := Interval{Start: base, End: base.Add(30 * time.Minute)}
	touching := Interval{Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}
	if Overlaps(a, touching) {
		t.Fatal("intervals sharing only a boundary must not overlap")
	}
	inside := Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}
	if !Overlaps(a, inside) {
		t.Fatal("contained interval must overlap")
	}
}
