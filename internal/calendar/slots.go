package calendar

import (
	"fmt"
	"slices"
	"time"
)

// WorkingHours bounds free slot searches to a daily window. The zero value
// places no bound.
type WorkingHours struct {
	// Start and End are offsets from local midnight.
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// DefaultWorkingHours is 09:00 to 17:00 in loc.
func DefaultWorkingHours(loc *time.Location) WorkingHours {
	return WorkingHours{Start: 9 * time.Hour, End: 17 * time.Hour, Location: loc}
}

// ParseWorkingHours parses "HH:MM" bounds.
func ParseWorkingHours(start, end string, loc *time.Location) (WorkingHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("working hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("working hours end: %w", err)
	}
	if e <= s {
		return WorkingHours{}, fmt.Errorf("working hours end %s must be after start %s", end, start)
	}
	return WorkingHours{Start: s, End: e, Location: loc}, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsZero reports whether no bound is set.
func (w WorkingHours) IsZero() bool {
	return w.Start == 0 && w.End == 0
}

// String formats the window as "HH:MM-HH:MM".
func (w WorkingHours) String() string {
	if w.IsZero() {
		return "any"
	}
	f := func(d time.Duration) string {
		return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
	}
	return f(w.Start) + "-" + f(w.End)
}

// windows splits r into the working-hours windows it intersects.
func (w WorkingHours) windows(r TimeRange) []TimeRange {
	if w.IsZero() {
		return []TimeRange{r}
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}

	var out []TimeRange
	start := r.Start.In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for ; day.Before(r.End); day = day.AddDate(0, 0, 1) {
		// Wall clock bounds, so DST transition days keep 09:00 at 09:00.
		win := TimeRange{Start: w.clock(day, w.Start), End: w.clock(day, w.End)}
		if win.Start.Before(r.Start) {
			win.Start = r.Start
		}
		if win.End.After(r.End) {
			win.End = r.End
		}
		if win.Valid() {
			out = append(out, win)
		}
	}
	return out
}

func (w WorkingHours) clock(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// MergeBusy sorts intervals by start and merges overlapping or adjacent
// ones. The input is not modified.
func MergeBusy(busy []TimeRange) []TimeRange {
	if len(busy) == 0 {
		return nil
	}
	sorted := slices.Clone(busy)
	slices.SortFunc(sorted, func(a, b TimeRange) int { return a.Start.Compare(b.Start) })

	merged := []TimeRange{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// FreeSlots returns the gaps of at least q.Duration between busy intervals,
// inside q.Range and q.WorkingHours, earliest first. No slot starts before
// q.NotBefore rounded up to the minute.
func FreeSlots(busy []TimeRange, q SlotQuery) []TimeRange {
	r := q.Range
	if !q.NotBefore.IsZero() {
		floor := q.NotBefore.Truncate(time.Minute)
		if floor.Before(q.NotBefore) {
			floor = floor.Add(time.Minute)
		}
		if floor.After(r.Start) {
			r.Start = floor
		}
	}
	if !r.Valid() || q.Duration <= 0 {
		return nil
	}
	merged := MergeBusy(busy)

	var slots []TimeRange
	for _, win := range q.WorkingHours.windows(r) {
		cursor := win.Start
		for _, b := range merged {
			if !b.End.After(cursor) {
				continue
			}
			if !b.Start.Before(win.End) {
				break
			}
			if b.Start.After(cursor) {
				gap := TimeRange{Start: cursor, End: b.Start}
				if gap.Duration() >= q.Duration {
					slots = append(slots, gap)
				}
			}
			cursor = b.End
		}
		if win.End.After(cursor) {
			gap := TimeRange{Start: cursor, End: win.End}
			if gap.Duration() >= q.Duration {
				slots = append(slots, gap)
			}
		}
	}
	return slots
}
