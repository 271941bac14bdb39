package occurrence

import (
	"testing"
	"time"
)

func TestAppointmentTimes(t *testing.T) {
	appt := at(t, "2024-03-18T14:00:00Z")

	times := AppointmentTimes(appt, 20)

	if want := at(t, "2024-03-18T13:20:00Z"); !times.Urgent.Equal(want) {
		t.Errorf("urgent = %v, want %v", times.Urgent, want)
	}
	if want := at(t, "2024-03-18T13:10:00Z"); !times.Prepare.Equal(want) {
		t.Errorf("prepare = %v, want %v", times.Prepare, want)
	}
}

func TestAppointmentTimesZeroPrep(t *testing.T) {
	appt := at(t, "2024-03-18T14:00:00Z")

	times := AppointmentTimes(appt, 0)

	if !times.Urgent.Equal(appt) {
		t.Errorf("urgent = %v, want the appointment instant", times.Urgent)
	}
	if want := appt.Add(-10 * time.Minute); !times.Prepare.Equal(want) {
		t.Errorf("prepare = %v, want %v", times.Prepare, want)
	}
}
