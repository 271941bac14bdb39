package occurrence

import (
	"testing"
	"time"

	"github.com/lalithlochan/chime/internal/db"
)

func strPtr(s string) *string { return &s }

func i32Ptr(v int32) *int32 { return &v }

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return ts
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rem     db.Reminder
		wantErr bool
	}{
		{
			name: "valid recurring",
			rem: db.Reminder{
				Kind:       db.KindRecurring,
				TimeOfDay:  strPtr("08:00"),
				DaysOfWeek: []int32{1, 2, 3, 4, 5},
			},
		},
		{
			name: "valid before_due",
			rem:  db.Reminder{Kind: db.KindBeforeDue, LeadMinutes: i32Ptr(30)},
		},
		{
			name: "valid interval",
			rem: db.Reminder{
				Kind:            db.KindRecurring,
				IntervalEnabled: true,
				IntervalMinutes: i32Ptr(60),
				WindowStart:     strPtr("09:00"),
				WindowEnd:       strPtr("18:00"),
			},
		},
		{
			name:    "unknown kind",
			rem:     db.Reminder{Kind: "hourly"},
			wantErr: true,
		},
		{
			name:    "missing time_of_day",
			rem:     db.Reminder{Kind: db.KindScheduled},
			wantErr: true,
		},
		{
			name:    "malformed time_of_day",
			rem:     db.Reminder{Kind: db.KindScheduled, TimeOfDay: strPtr("25:99")},
			wantErr: true,
		},
		{
			name: "day of week out of range",
			rem: db.Reminder{
				Kind:       db.KindRecurring,
				TimeOfDay:  strPtr("08:00"),
				DaysOfWeek: []int32{7},
			},
			wantErr: true,
		},
		{
			name: "invalid timezone",
			rem: db.Reminder{
				Kind:      db.KindScheduled,
				TimeOfDay: strPtr("08:00"),
				Timezone:  "Mars/Olympus",
			},
			wantErr: true,
		},
		{
			name:    "negative lead minutes",
			rem:     db.Reminder{Kind: db.KindBeforeDue, LeadMinutes: i32Ptr(-5)},
			wantErr: true,
		},
		{
			name: "window start after end",
			rem: db.Reminder{
				Kind:            db.KindRecurring,
				IntervalEnabled: true,
				IntervalMinutes: i32Ptr(30),
				WindowStart:     strPtr("18:00"),
				WindowEnd:       strPtr("09:00"),
			},
			wantErr: true,
		},
		{
			name: "zero interval minutes",
			rem: db.Reminder{
				Kind:            db.KindRecurring,
				IntervalEnabled: true,
				IntervalMinutes: i32Ptr(0),
				WindowStart:     strPtr("09:00"),
				WindowEnd:       strPtr("18:00"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rem)
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNextBeforeDue(t *testing.T) {
	due := at(t, "2024-03-15T12:00:00Z")

	rem := db.Reminder{Kind: db.KindBeforeDue, LeadMinutes: i32Ptr(30)}

	next, ok := Next(&rem, at(t, "2024-03-15T10:00:00Z"), &due)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-15T11:30:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Fire instant already passed: no occurrence.
	if _, ok := Next(&rem, at(t, "2024-03-15T11:45:00Z"), &due); ok {
		t.Error("expected no occurrence after fire instant passed")
	}

	// Single-shot: never fires twice.
	fired := at(t, "2024-03-15T11:30:00Z")
	rem.LastFiredAt = &fired
	if _, ok := Next(&rem, at(t, "2024-03-15T10:00:00Z"), &due); ok {
		t.Error("expected no occurrence after reminder already fired")
	}

	// No due date on the subject: nothing to anchor on.
	rem.LastFiredAt = nil
	if _, ok := Next(&rem, at(t, "2024-03-15T10:00:00Z"), nil); ok {
		t.Error("expected no occurrence without subject due date")
	}
}

func TestNextRecurringSkipsToMatchingDay(t *testing.T) {
	// 2024-03-16 is a Saturday. Mon-Fri 08:00 must land on Monday the 18th.
	rem := db.Reminder{
		Kind:       db.KindRecurring,
		TimeOfDay:  strPtr("08:00"),
		DaysOfWeek: []int32{1, 2, 3, 4, 5},
	}

	next, ok := Next(&rem, at(t, "2024-03-16T10:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T08:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRecurringExactNowIsDue(t *testing.T) {
	rem := db.Reminder{
		Kind:       db.KindRecurring,
		TimeOfDay:  strPtr("08:00"),
		DaysOfWeek: []int32{1},
	}

	// 2024-03-18 is a Monday; now is exactly 08:00.
	now := at(t, "2024-03-18T08:00:00Z")
	next, ok := Next(&rem, now, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if !next.Equal(now) {
		t.Errorf("next = %v, want the now instant %v", next, now)
	}
}

func TestNextRecurringAfterFire(t *testing.T) {
	fired := at(t, "2024-03-18T08:00:00Z") // Monday 08:00
	rem := db.Reminder{
		Kind:        db.KindRecurring,
		TimeOfDay:   strPtr("08:00"),
		DaysOfWeek:  []int32{1, 2, 3, 4, 5},
		LastFiredAt: &fired,
	}

	// Recomputing at the fire instant must move to Tuesday, not re-yield
	// the instant just fired.
	next, ok := Next(&rem, fired, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-19T08:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextScheduledOneShot(t *testing.T) {
	rem := db.Reminder{
		Kind:      db.KindScheduled,
		TimeOfDay: strPtr("14:30"),
	}

	// Earlier the same day: fires today.
	next, ok := Next(&rem, at(t, "2024-03-18T09:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T14:30:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Already past today's slot: rolls to tomorrow.
	next, ok = Next(&rem, at(t, "2024-03-18T15:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-19T14:30:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextIntervalSlots(t *testing.T) {
	rem := db.Reminder{
		Kind:            db.KindRecurring,
		IntervalEnabled: true,
		IntervalMinutes: i32Ptr(60),
		WindowStart:     strPtr("09:00"),
		WindowEnd:       strPtr("18:00"),
	}

	// Mid-window: rounds up to the next slot.
	next, ok := Next(&rem, at(t, "2024-03-18T17:30:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T18:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v (window end is a valid slot)", next, want)
	}

	// Past the final slot: rolls to the next day's window start, never
	// past midnight.
	next, ok = Next(&rem, at(t, "2024-03-18T18:01:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-19T09:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextIntervalRespectsDaySet(t *testing.T) {
	rem := db.Reminder{
		Kind:            db.KindRecurring,
		IntervalEnabled: true,
		IntervalMinutes: i32Ptr(120),
		WindowStart:     strPtr("09:00"),
		WindowEnd:       strPtr("17:00"),
		DaysOfWeek:      []int32{1}, // Mondays only
	}

	// Saturday: everything waits for Monday 09:00.
	next, ok := Next(&rem, at(t, "2024-03-16T10:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T09:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextIntervalAfterFinalSlotFired(t *testing.T) {
	fired := at(t, "2024-03-18T18:00:00Z")
	rem := db.Reminder{
		Kind:            db.KindRecurring,
		IntervalEnabled: true,
		IntervalMinutes: i32Ptr(60),
		WindowStart:     strPtr("09:00"),
		WindowEnd:       strPtr("18:00"),
		LastFiredAt:     &fired,
	}

	next, ok := Next(&rem, fired, nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-19T09:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextIntervalSingleSlotWindow(t *testing.T) {
	rem := db.Reminder{
		Kind:            db.KindScheduled,
		IntervalEnabled: true,
		IntervalMinutes: i32Ptr(30),
		WindowStart:     strPtr("12:00"),
		WindowEnd:       strPtr("12:00"),
	}

	next, ok := Next(&rem, at(t, "2024-03-18T08:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T12:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextUsesReminderTimezone(t *testing.T) {
	rem := db.Reminder{
		Kind:      db.KindScheduled,
		TimeOfDay: strPtr("08:00"),
		Timezone:  "America/New_York",
	}

	// 2024-03-18 06:00 UTC is 02:00 in New York: the 08:00 slot is still
	// ahead, landing at 12:00 UTC (EDT, UTC-4).
	next, ok := Next(&rem, at(t, "2024-03-18T06:00:00Z"), nil)
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if want := at(t, "2024-03-18T12:00:00Z"); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next.UTC(), want)
	}
}

func TestNextInvalidConfigYieldsNothing(t *testing.T) {
	rem := db.Reminder{Kind: db.KindScheduled, TimeOfDay: strPtr("nope")}
	if _, ok := Next(&rem, at(t, "2024-03-18T06:00:00Z"), nil); ok {
		t.Error("expected no occurrence for malformed time_of_day")
	}

	rem = db.Reminder{Kind: "unknown"}
	if _, ok := Next(&rem, at(t, "2024-03-18T06:00:00Z"), nil); ok {
		t.Error("expected no occurrence for unknown kind")
	}
}
