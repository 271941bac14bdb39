package occurrence

import "time"

// SatelliteTimes are the two auto-derived one-shot instants around an
// appointment: a preparation nudge and a leave-now alert.
type SatelliteTimes struct {
	Prepare time.Time
	Urgent  time.Time
}

// AppointmentTimes derives the satellite instants from the appointment
// start and the owner's preparation estimate. The prepare nudge lands a
// buffer of twice the prep time plus ten minutes before the appointment;
// the urgent alert at twice the prep time, leaving room to actually get
// ready and travel.
func AppointmentTimes(appointmentAt time.Time, prepMinutes int) SatelliteTimes {
	urgentLead := time.Duration(2*prepMinutes) * time.Minute
	prepareLead := urgentLead + 10*time.Minute

	return SatelliteTimes{
		Prepare: appointmentAt.Add(-prepareLead),
		Urgent:  appointmentAt.Add(-urgentLead),
	}
}
