package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/interval"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 480
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCheckedIn   AppointmentStatus = "checked_in"
	StatusInProgress  AppointmentStatus = "in_progress"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Terminal reports whether no further transition may leave this status.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in this status still occupies its time.
// Cancelled and rescheduled-away appointments release their slot.
func (s AppointmentStatus) HoldsSlot() bool {
	return s != StatusCancelled && s != StatusRescheduled
}

type Category string

const (
	CategoryConsultation Category = "consultation"
	CategoryFollowUp     Category = "follow_up"
	CategoryProcedure    Category = "procedure"
	CategorySurgery      Category = "surgery"
	CategoryDiagnostic   Category = "diagnostic"
	CategoryTherapy      Category = "therapy"
	CategoryVaccine      Category = "vaccine"
	CategoryLabWork      Category = "lab_work"
)

var validCategories = map[Category]bool{
	CategoryConsultation: true, CategoryFollowUp: true, CategoryProcedure: true, CategorySurgery: true,
	CategoryDiagnostic: true, CategoryTherapy: true, CategoryVaccine: true, CategoryLabWork: true,
}

type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
	PriorityStat    Priority = "stat"
)

var validPriorities = map[Priority]bool{
	PriorityRoutine: true, PriorityUrgent: true, PriorityStat: true,
}

type Appointment struct {
	ID              uuid.UUID
	Number          string
	SubjectID       uuid.UUID
	ResourceID      uuid.UUID
	Category        Category
	Specialty       string
	Department      string
	Date            time.Time
	StartTime       string
	DurationMinutes int
	Location        string
	RoomID          *uuid.UUID
	Priority        Priority
	Telehealth      bool
	TelehealthLink  string
	Reason          string
	Notes           string
	Status          AppointmentStatus

	CheckedInAt           *time.Time
	ActualStart           *time.Time
	ActualEnd             *time.Time
	CheckedOutAt          *time.Time
	ActualDurationMinutes *int

	CancelledAt        *time.Time
	CancellationReason string

	RescheduledFrom  *uuid.UUID
	RescheduledTo    *uuid.UUID
	RescheduleReason string

	ParentID       *uuid.UUID
	SeriesChildIDs []uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the booked range in minutes since midnight on Date.
func (a *Appointment) Interval() (interval.Interval, error) {
	return interval.FromClock(a.StartTime, a.DurationMinutes)
}

// StartsAt returns the absolute UTC start instant.
func (a *Appointment) StartsAt() time.Time {
	m, err := interval.ParseClock(a.StartTime)
	if err != nil {
		return a.Date
	}
	return DateOf(a.Date).Add(time.Duration(m) * time.Minute)
}

// Clone returns a deep copy so stores never share pointers with callers.
func (a *Appointment) Clone() *Appointment {
	c := *a
	c.RoomID = cloneID(a.RoomID)
	c.RescheduledFrom = cloneID(a.RescheduledFrom)
	c.RescheduledTo = cloneID(a.RescheduledTo)
	c.ParentID = cloneID(a.ParentID)
	c.CheckedInAt = cloneTime(a.CheckedInAt)
	c.ActualStart = cloneTime(a.ActualStart)
	c.ActualEnd = cloneTime(a.ActualEnd)
	c.CheckedOutAt = cloneTime(a.CheckedOutAt)
	c.CancelledAt = cloneTime(a.CancelledAt)
	if a.ActualDurationMinutes != nil {
		d := *a.ActualDurationMinutes
		c.ActualDurationMinutes = &d
	}
	if a.SeriesChildIDs != nil {
		c.SeriesChildIDs = append([]uuid.UUID(nil), a.SeriesChildIDs...)
	}
	return &c
}

// Draft is a validated request to book an appointment.
type Draft struct {
	SubjectID       uuid.UUID
	ResourceID      uuid.UUID
	Category        Category
	Specialty       string
	Department      string
	Date            time.Time
	StartTime       string
	DurationMinutes int
	Location        string
	RoomID          *uuid.UUID
	Priority        Priority
	Telehealth      bool
	TelehealthLink  string
	Reason          string
	Notes           string

	Recurrence *RecurrenceRule

	// Override books through conflicts; OverrideReason is mandatory with it.
	Override       bool
	OverrideReason string

	parentID *uuid.UUID
}

// Validate normalizes defaults and rejects malformed drafts.
func (d *Draft) Validate() error {
	if d.SubjectID == uuid.Nil {
		return newValidationError("subject_id", "is required")
	}
	if d.ResourceID == uuid.Nil {
		return newValidationError("resource_id", "is required")
	}
	if d.Date.IsZero() {
		return newValidationError("date", "is required")
	}
	d.Date = DateOf(d.Date)
	start, err := interval.ParseClock(d.StartTime)
	if err != nil {
		return newValidationError("start_time", "must be a valid HH:MM time of day")
	}
	if d.DurationMinutes < MinDurationMinutes || d.DurationMinutes > MaxDurationMinutes {
		return newValidationError("duration_minutes", fmt.Sprintf("must be between %d and %d", MinDurationMinutes, MaxDurationMinutes))
	}
	if err := checkSameDay(start, d.DurationMinutes); err != nil {
		return err
	}
	if d.Category == "" {
		d.Category = CategoryConsultation
	}
	if !validCategories[d.Category] {
		return newValidationError("category", fmt.Sprintf("unknown category %q", d.Category))
	}
	if d.Priority == "" {
		d.Priority = PriorityRoutine
	}
	if !validPriorities[d.Priority] {
		return newValidationError("priority", fmt.Sprintf("unknown priority %q", d.Priority))
	}
	if d.RoomID != nil && *d.RoomID == uuid.Nil {
		d.RoomID = nil
	}
	if d.Override && d.OverrideReason == "" {
		return newValidationError("override_reason", "is required when override is set")
	}
	if d.Recurrence != nil {
		if err := d.Recurrence.Validate(d.Date); err != nil {
			return err
		}
	}
	return nil
}

// checkSameDay rejects an appointment that would end after midnight.
func checkSameDay(start, minutes int) error {
	if start+minutes > interval.MinutesPerDay {
		return newValidationError("duration_minutes", "appointment must end by 24:00 on its date")
	}
	return nil
}

// Interval returns the candidate range in minutes since midnight.
func (d *Draft) Interval() (interval.Interval, error) {
	return interval.FromClock(d.StartTime, d.DurationMinutes)
}

// draftFrom rebuilds the booking request behind an existing appointment.
func draftFrom(a *Appointment) Draft {
	return Draft{
		SubjectID:       a.SubjectID,
		ResourceID:      a.ResourceID,
		Category:        a.Category,
		Specialty:       a.Specialty,
		Department:      a.Department,
		Date:            a.Date,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Location:        a.Location,
		RoomID:          cloneID(a.RoomID),
		Priority:        a.Priority,
		Telehealth:      a.Telehealth,
		TelehealthLink:  a.TelehealthLink,
		Reason:          a.Reason,
		Notes:           a.Notes,
		parentID:        cloneID(a.ParentID),
	}
}

// ResourceSchedule is the availability template of one resource on one date.
type ResourceSchedule struct {
	ResourceID        uuid.UUID
	Date              time.Time
	WorkStart         string
	WorkEnd           string
	BreakStart        string
	BreakEnd          string
	SlotMinutes       int
	MaxConcurrent     int
	Available         bool
	UnavailableReason string
	Specialty         string
	Location          string
	RoomID            *uuid.UUID
	UpdatedAt         time.Time
}

const defaultSlotMinutes = 15

func (s *ResourceSchedule) WorkingHours() (interval.Interval, error) {
	return interval.Between(s.WorkStart, s.WorkEnd)
}

// BreakWindow returns the break interval, if one is configured.
func (s *ResourceSchedule) BreakWindow() (interval.Interval, bool, error) {
	if s.BreakStart == "" && s.BreakEnd == "" {
		return interval.Interval{}, false, nil
	}
	b, err := interval.Between(s.BreakStart, s.BreakEnd)
	if err != nil {
		return interval.Interval{}, false, err
	}
	return b, true, nil
}

func (s *ResourceSchedule) granularity() int {
	if s.SlotMinutes <= 0 {
		return defaultSlotMinutes
	}
	return s.SlotMinutes
}

func (s *ResourceSchedule) capacity() int {
	if s.MaxConcurrent <= 0 {
		return 1
	}
	return s.MaxConcurrent
}

func (s *ResourceSchedule) Validate() error {
	if s.ResourceID == uuid.Nil {
		return newValidationError("resource_id", "is required")
	}
	if s.Date.IsZero() {
		return newValidationError("date", "is required")
	}
	s.Date = DateOf(s.Date)
	work, err := s.WorkingHours()
	if err != nil {
		return newValidationError("work_start", "working hours must be HH:MM with start before end")
	}
	brk, ok, err := s.BreakWindow()
	if err != nil {
		return newValidationError("break_start", "break window must be HH:MM with start before end")
	}
	if ok && !interval.Contains(work, brk) {
		return newValidationError("break_start", "break window must lie within working hours")
	}
	if s.SlotMinutes < 0 {
		return newValidationError("slot_minutes", "must not be negative")
	}
	if s.MaxConcurrent < 0 {
		return newValidationError("max_concurrent", "must not be negative")
	}
	return nil
}

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// RecurrenceRule describes a bounded series. It is consumed when the parent is booked.
type RecurrenceRule struct {
	Frequency   Frequency
	EndDate     *time.Time
	Occurrences int
}

func (r *RecurrenceRule) Validate(start time.Time) error {
	switch r.Frequency {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly:
	default:
		return newValidationError("recurrence.frequency", fmt.Sprintf("unknown frequency %q", r.Frequency))
	}
	if r.Occurrences < 0 {
		return newValidationError("recurrence.occurrences", "must not be negative")
	}
	if r.EndDate != nil {
		end := DateOf(*r.EndDate)
		if end.Before(DateOf(start)) {
			return newValidationError("recurrence.end_date", "must not be before the first appointment")
		}
		r.EndDate = &end
	}
	return nil
}

type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "active"
	WaitlistContacted WaitlistStatus = "contacted"
	WaitlistScheduled WaitlistStatus = "scheduled"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

type WaitlistEntry struct {
	ID              uuid.UUID
	SubjectID       uuid.UUID
	ResourceID      *uuid.UUID
	Category        Category
	Specialty       string
	PreferredDates  []time.Time
	PreferredTimes  []string
	PriorityScore   int
	Status          WaitlistStatus
	ContactAttempts int
	LastContactedAt *time.Time
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *WaitlistEntry) Clone() *WaitlistEntry {
	c := *e
	c.ResourceID = cloneID(e.ResourceID)
	c.LastContactedAt = cloneTime(e.LastContactedAt)
	c.PreferredDates = append([]time.Time(nil), e.PreferredDates...)
	c.PreferredTimes = append([]string(nil), e.PreferredTimes...)
	return &c
}

// Validate normalizes dates and rejects malformed intake.
func (e *WaitlistEntry) Validate() error {
	if e.SubjectID == uuid.Nil {
		return newValidationError("subject_id", "is required")
	}
	if e.ResourceID != nil && *e.ResourceID == uuid.Nil {
		e.ResourceID = nil
	}
	if e.PriorityScore < 1 || e.PriorityScore > 10 {
		return newValidationError("priority_score", "must be between 1 and 10")
	}
	if len(e.PreferredDates) == 0 {
		return newValidationError("preferred_dates", "at least one date is required")
	}
	for i, d := range e.PreferredDates {
		e.PreferredDates[i] = DateOf(d)
	}
	for _, t := range e.PreferredTimes {
		if _, err := interval.ParseClock(t); err != nil {
			return newValidationError("preferred_times", fmt.Sprintf("invalid time %q", t))
		}
	}
	if e.Category != "" && !validCategories[e.Category] {
		return newValidationError("category", fmt.Sprintf("unknown category %q", e.Category))
	}
	return nil
}

func (e *WaitlistEntry) wantsDate(date time.Time) bool {
	for _, d := range e.PreferredDates {
		if d.Equal(date) {
			return true
		}
	}
	return false
}

// Slot is an open bookable interval. It is not a reservation.
type Slot struct {
	ResourceID      uuid.UUID
	Date            time.Time
	StartTime       string
	DurationMinutes int
	Location        string
	RoomID          *uuid.UUID
	Specialty       string

	start int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
