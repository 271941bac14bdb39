package db

import (
	"time"

	"github.com/google/uuid"
)

// Reminder kind determines which occurrence rule applies.
const (
	KindBeforeDue = "before_due" // fire N minutes before the subject's due instant; single-shot
	KindScheduled = "scheduled"  // fire at time_of_day; one-shot when days_of_week is empty
	KindRecurring = "recurring"  // fire at time_of_day on matching days, forever
)

// Sub-kind distinguishes a primary reminder from auto-derived satellites.
const (
	SubKindMain     = "main"
	SubKindInterval = "interval"
	SubKindPrepare  = "prepare"
	SubKindUrgent   = "urgent"
)

// Notification channels. Opaque to the scheduler; interpreted by senders.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Claim status. A reminder is only selectable while idle; in_flight marks
// the window between claim and persisted outcome, so a crash leaves a
// recoverable trace instead of a silently lost occurrence.
const (
	StatusIdle     = "idle"
	StatusInFlight = "in_flight"
)

// Subject kinds a reminder may reference.
const (
	SubjectTask        = "task"
	SubjectHabit       = "habit"
	SubjectAppointment = "appointment"
	SubjectStandalone  = "standalone"
)

// Reminder is the central scheduling record.
type Reminder struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	SubjectID   *uuid.UUID `json:"subject_id,omitempty"`
	SubjectKind string     `json:"subject_kind"`
	Kind        string     `json:"kind"`
	SubKind     string     `json:"sub_kind"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`

	// Occurrence inputs
	TimeOfDay   *string `json:"time_of_day,omitempty"`  // "HH:MM" wall clock
	LeadMinutes *int32  `json:"lead_minutes,omitempty"` // before_due offset
	DaysOfWeek  []int32 `json:"days_of_week"`           // 0=Sunday..6=Saturday; empty = every day
	Timezone    string  `json:"timezone"`               // IANA name; the reminder's calendar

	// Interval extension: sub-occurrences every IntervalMinutes inside
	// [WindowStart, WindowEnd] of each matching day.
	IntervalEnabled bool    `json:"interval_enabled"`
	IntervalMinutes *int32  `json:"interval_minutes,omitempty"`
	WindowStart     *string `json:"window_start,omitempty"` // "HH:MM"
	WindowEnd       *string `json:"window_end,omitempty"`   // "HH:MM"

	Channels []string `json:"channels"`
	Message  *string  `json:"message,omitempty"`

	// Scheduling state
	Active      bool       `json:"active"`
	Status      string     `json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"` // nil = no future occurrence

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSubject reports whether the reminder references an external entity.
func (r *Reminder) HasSubject() bool {
	return r.SubjectID != nil && r.SubjectKind != SubjectStandalone
}

// Target is one concrete delivery endpoint for a single channel.
type Target struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Channel        string     `json:"channel"`
	Endpoint       string     `json:"endpoint"` // address / phone / push endpoint URL
	Active         bool       `json:"active"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Snapshot is the minimal projection of a subject entity used to compose
// messages. Maintained by the external CRUD layer; read-only here.
type Snapshot struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}
