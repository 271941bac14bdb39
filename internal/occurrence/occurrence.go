// Package occurrence computes the next trigger instant for a reminder.
// Everything here is pure: no clocks, no storage, no side effects. The
// scheduler loop supplies "now" and persists whatever comes back.
package occurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lalithlochan/chime/internal/db"
)

// searchHorizonDays bounds the day scan. A weekly day set always matches
// within 7 days; 14 leaves slack for the strictly-after-last-fire filter.
const searchHorizonDays = 14

// Validate reports a configuration error for a self-contradictory reminder
// definition. Such reminders can never produce an occurrence; the caller
// deactivates them instead of retrying forever.
func Validate(r *db.Reminder) error {
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week out of range: %d", d)
		}
	}

	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
		}
	}

	switch r.Kind {
	case db.KindBeforeDue:
		if r.LeadMinutes == nil || *r.LeadMinutes < 0 {
			return fmt.Errorf("before_due reminder requires non-negative lead_minutes")
		}
	case db.KindScheduled, db.KindRecurring:
		if r.IntervalEnabled {
			if r.IntervalMinutes == nil || *r.IntervalMinutes <= 0 {
				return fmt.Errorf("interval reminder requires positive interval_minutes")
			}
			start, err := parseClock(r.WindowStart)
			if err != nil {
				return fmt.Errorf("invalid window_start: %w", err)
			}
			end, err := parseClock(r.WindowEnd)
			if err != nil {
				return fmt.Errorf("invalid window_end: %w", err)
			}
			if start > end {
				return fmt.Errorf("window_start %s after window_end %s",
					*r.WindowStart, *r.WindowEnd)
			}
		} else {
			if _, err := parseClock(r.TimeOfDay); err != nil {
				return fmt.Errorf("invalid time_of_day: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown reminder kind %q", r.Kind)
	}

	return nil
}

// Next returns the next instant at or after now at which r should fire, or
// false if no future occurrence exists. subjectDue is required for
// before_due reminders and ignored otherwise. Candidates strictly after
// LastFiredAt only; an instant exactly equal to now counts as due.
//
// Next never fails on bad configuration — it returns false. Callers that
// need to distinguish exhaustion from misconfiguration run Validate first.
func Next(r *db.Reminder, now time.Time, subjectDue *time.Time) (time.Time, bool) {
	loc := location(r.Timezone)
	now = now.In(loc)

	switch r.Kind {
	case db.KindBeforeDue:
		return nextBeforeDue(r, now, subjectDue)
	case db.KindScheduled, db.KindRecurring:
		if r.IntervalEnabled {
			return nextIntervalSlot(r, now, loc)
		}
		return nextClockOccurrence(r, now, loc)
	default:
		return time.Time{}, false
	}
}

// nextBeforeDue fires lead_minutes before the subject's due instant, once.
// A fire instant already in the past yields no occurrence; whether a
// slightly stale one still fires is the caller's grace-window policy.
func nextBeforeDue(r *db.Reminder, now time.Time, subjectDue *time.Time) (time.Time, bool) {
	if subjectDue == nil || r.LeadMinutes == nil {
		return time.Time{}, false
	}
	if r.LastFiredAt != nil {
		// Single-shot: already fired.
		return time.Time{}, false
	}

	fireAt := subjectDue.Add(-time.Duration(*r.LeadMinutes) * time.Minute)
	if fireAt.Before(now) {
		return time.Time{}, false
	}
	return fireAt, true
}

// nextClockOccurrence finds the next time_of_day instant on a matching day.
func nextClockOccurrence(r *db.Reminder, now time.Time, loc *time.Location) (time.Time, bool) {
	tod, err := parseClock(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}

	for i := 0; i < searchHorizonDays; i++ {
		day := now.AddDate(0, 0, i)
		if !dayMatches(day.Weekday(), r.DaysOfWeek) {
			continue
		}

		cand := clockOn(day, tod, loc)
		if cand.Before(now) {
			continue
		}
		if r.LastFiredAt != nil && !cand.After(*r.LastFiredAt) {
			continue
		}
		return cand, true
	}

	return time.Time{}, false
}

// nextIntervalSlot finds the next window_start + k*interval_minutes slot,
// inclusive of window_end, on a matching day. Slots never cross midnight.
func nextIntervalSlot(r *db.Reminder, now time.Time, loc *time.Location) (time.Time, bool) {
	if r.IntervalMinutes == nil || *r.IntervalMinutes <= 0 {
		return time.Time{}, false
	}
	start, err := parseClock(r.WindowStart)
	if err != nil {
		return time.Time{}, false
	}
	end, err := parseClock(r.WindowEnd)
	if err != nil || start > end {
		return time.Time{}, false
	}
	step := int(*r.IntervalMinutes)

	for i := 0; i < searchHorizonDays; i++ {
		day := now.AddDate(0, 0, i)
		if !dayMatches(day.Weekday(), r.DaysOfWeek) {
			continue
		}

		for m := start; m <= end; m += step {
			slot := clockOn(day, m, loc)
			if slot.Before(now) {
				continue
			}
			if r.LastFiredAt != nil && !slot.After(*r.LastFiredAt) {
				continue
			}
			return slot, true
		}
	}

	return time.Time{}, false
}

// dayMatches treats an empty day set as "every day".
func dayMatches(wd time.Weekday, days []int32) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if int32(wd) == d {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s *string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("missing clock value")
	}
	parts := strings.Split(*s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", *s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed clock value %q", *s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed clock value %q", *s)
	}
	return h*60 + m, nil
}

// clockOn places minutes-since-midnight on day's calendar date in loc.
// Built with time.Date so DST transitions resolve through the location
// rather than by adding wall-clock durations.
func clockOn(day time.Time, minutes int, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, loc)
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
