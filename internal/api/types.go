package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
)

type RecurrenceRequest struct {
	Frequency   string `json:"frequency"`
	EndDate     string `json:"end_date,omitempty"`
	Occurrences int    `json:"occurrences,omitempty"`
}

type CreateAppointmentRequest struct {
	SubjectID       string             `json:"subject_id"`
	ResourceID      string             `json:"resource_id"`
	Category        string             `json:"category,omitempty"`
	Specialty       string             `json:"specialty,omitempty"`
	Department      string             `json:"department,omitempty"`
	Date            string             `json:"date"`
	StartTime       string             `json:"start_time"`
	DurationMinutes int                `json:"duration_minutes"`
	Location        string             `json:"location,omitempty"`
	RoomID          string             `json:"room_id,omitempty"`
	Priority        string             `json:"priority,omitempty"`
	Telehealth      bool               `json:"telehealth,omitempty"`
	TelehealthLink  string             `json:"telehealth_link,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Recurrence      *RecurrenceRequest `json:"recurrence,omitempty"`
	Override        bool               `json:"override,omitempty"`
	OverrideReason  string             `json:"override_reason,omitempty"`
}

type RescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Reason    string `json:"reason,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID   `json:"id"`
	Number                string      `json:"appointment_number"`
	SubjectID             uuid.UUID   `json:"subject_id"`
	ResourceID            uuid.UUID   `json:"resource_id"`
	Category              string      `json:"category"`
	Specialty             string      `json:"specialty,omitempty"`
	Department            string      `json:"department,omitempty"`
	Date                  string      `json:"date"`
	StartTime             string      `json:"start_time"`
	DurationMinutes       int         `json:"duration_minutes"`
	Location              string      `json:"location,omitempty"`
	RoomID                *uuid.UUID  `json:"room_id,omitempty"`
	Priority              string      `json:"priority"`
	Telehealth            bool        `json:"telehealth"`
	TelehealthLink        string      `json:"telehealth_link,omitempty"`
	Reason                string      `json:"reason,omitempty"`
	Notes                 string      `json:"notes,omitempty"`
	Status                string      `json:"status"`
	CheckedInAt           *time.Time  `json:"checked_in_at,omitempty"`
	ActualStart           *time.Time  `json:"actual_start,omitempty"`
	ActualEnd             *time.Time  `json:"actual_end,omitempty"`
	CheckedOutAt          *time.Time  `json:"checked_out_at,omitempty"`
	ActualDurationMinutes *int        `json:"actual_duration_minutes,omitempty"`
	CancelledAt           *time.Time  `json:"cancelled_at,omitempty"`
	CancellationReason    string      `json:"cancellation_reason,omitempty"`
	RescheduledFrom       *uuid.UUID  `json:"rescheduled_from,omitempty"`
	RescheduledTo         *uuid.UUID  `json:"rescheduled_to,omitempty"`
	RescheduleReason      string      `json:"reschedule_reason,omitempty"`
	ParentID              *uuid.UUID  `json:"parent_appointment_id,omitempty"`
	SeriesChildIDs        []uuid.UUID `json:"series_child_ids,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                    a.ID,
		Number:                a.Number,
		SubjectID:             a.SubjectID,
		ResourceID:            a.ResourceID,
		Category:              string(a.Category),
		Specialty:             a.Specialty,
		Department:            a.Department,
		Date:                  a.Date.Format(appointment.DateLayout),
		StartTime:             a.StartTime,
		DurationMinutes:       a.DurationMinutes,
		Location:              a.Location,
		RoomID:                a.RoomID,
		Priority:              string(a.Priority),
		Telehealth:            a.Telehealth,
		TelehealthLink:        a.TelehealthLink,
		Reason:                a.Reason,
		Notes:                 a.Notes,
		Status:                string(a.Status),
		CheckedInAt:           a.CheckedInAt,
		ActualStart:           a.ActualStart,
		ActualEnd:             a.ActualEnd,
		CheckedOutAt:          a.CheckedOutAt,
		ActualDurationMinutes: a.ActualDurationMinutes,
		CancelledAt:           a.CancelledAt,
		CancellationReason:    a.CancellationReason,
		RescheduledFrom:       a.RescheduledFrom,
		RescheduledTo:         a.RescheduledTo,
		RescheduleReason:      a.RescheduleReason,
		ParentID:              a.ParentID,
		SeriesChildIDs:        a.SeriesChildIDs,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

type ChildFailureResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Error         string    `json:"error"`
}

type CancelResponse struct {
	Appointment       AppointmentResponse    `json:"appointment"`
	CancelledChildren []uuid.UUID            `json:"cancelled_children,omitempty"`
	Failures          []ChildFailureResponse `json:"failures,omitempty"`
}

type SlotResponse struct {
	ResourceID      uuid.UUID  `json:"resource_id"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Location        string     `json:"location,omitempty"`
	RoomID          *uuid.UUID `json:"room_id,omitempty"`
	Specialty       string     `json:"specialty,omitempty"`
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ResourceID:      s.ResourceID,
		Date:            s.Date.Format(appointment.DateLayout),
		StartTime:       s.StartTime,
		DurationMinutes: s.DurationMinutes,
		Location:        s.Location,
		RoomID:          s.RoomID,
		Specialty:       s.Specialty,
	}
}

type ScheduleRequest struct {
	WorkStart         string `json:"work_start"`
	WorkEnd           string `json:"work_end"`
	BreakStart        string `json:"break_start,omitempty"`
	BreakEnd          string `json:"break_end,omitempty"`
	SlotMinutes       int    `json:"slot_duration_minutes,omitempty"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty"`
	Available         *bool  `json:"available,omitempty"`
	UnavailableReason string `json:"unavailable_reason,omitempty"`
	Specialty         string `json:"specialty,omitempty"`
	Location          string `json:"location,omitempty"`
	RoomID            string `json:"room_id,omitempty"`
}

type ScheduleResponse struct {
	ResourceID        uuid.UUID  `json:"resource_id"`
	Date              string     `json:"date"`
	WorkStart         string     `json:"work_start"`
	WorkEnd           string     `json:"work_end"`
	BreakStart        string     `json:"break_start,omitempty"`
	BreakEnd          string     `json:"break_end,omitempty"`
	SlotMinutes       int        `json:"slot_duration_minutes"`
	MaxConcurrent     int        `json:"max_concurrent"`
	Available         bool       `json:"available"`
	UnavailableReason string     `json:"unavailable_reason,omitempty"`
	Specialty         string     `json:"specialty,omitempty"`
	Location          string     `json:"location,omitempty"`
	RoomID            *uuid.UUID `json:"room_id,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toScheduleResponse(s *appointment.ResourceSchedule) ScheduleResponse {
	return ScheduleResponse{
		ResourceID:        s.ResourceID,
		Date:              s.Date.Format(appointment.DateLayout),
		WorkStart:         s.WorkStart,
		WorkEnd:           s.WorkEnd,
		BreakStart:        s.BreakStart,
		BreakEnd:          s.BreakEnd,
		SlotMinutes:       s.SlotMinutes,
		MaxConcurrent:     s.MaxConcurrent,
		Available:         s.Available,
		UnavailableReason: s.UnavailableReason,
		Specialty:         s.Specialty,
		Location:          s.Location,
		RoomID:            s.RoomID,
		UpdatedAt:         s.UpdatedAt,
	}
}

type WaitlistRequest struct {
	SubjectID      string   `json:"subject_id"`
	ResourceID     string   `json:"resource_id,omitempty"`
	Category       string   `json:"category,omitempty"`
	Specialty      string   `json:"specialty,omitempty"`
	PreferredDates []string `json:"preferred_dates"`
	PreferredTimes []string `json:"preferred_times,omitempty"`
	PriorityScore  int      `json:"priority_score"`
	Notes          string   `json:"notes,omitempty"`
}

type WaitlistEntryResponse struct {
	ID              uuid.UUID  `json:"id"`
	SubjectID       uuid.UUID  `json:"subject_id"`
	ResourceID      *uuid.UUID `json:"resource_id,omitempty"`
	Category        string     `json:"category,omitempty"`
	Specialty       string     `json:"specialty,omitempty"`
	PreferredDates  []string   `json:"preferred_dates"`
	PreferredTimes  []string   `json:"preferred_times,omitempty"`
	PriorityScore   int        `json:"priority_score"`
	Status          string     `json:"status"`
	ContactAttempts int        `json:"contact_attempts"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toWaitlistEntryResponse(e *appointment.WaitlistEntry) WaitlistEntryResponse {
	dates := make([]string, 0, len(e.PreferredDates))
	for _, d := range e.PreferredDates {
		dates = append(dates, d.Format(appointment.DateLayout))
	}
	return WaitlistEntryResponse{
		ID:              e.ID,
		SubjectID:       e.SubjectID,
		ResourceID:      e.ResourceID,
		Category:        string(e.Category),
		Specialty:       e.Specialty,
		PreferredDates:  dates,
		PreferredTimes:  e.PreferredTimes,
		PriorityScore:   e.PriorityScore,
		Status:          string(e.Status),
		ContactAttempts: e.ContactAttempts,
		LastContactedAt: e.LastContactedAt,
		Notes:           e.Notes,
		CreatedAt:       e.CreatedAt,
	}
}

type ProcessWaitlistRequest struct {
	ResourceID string `json:"resource_id"`
	Date       string `json:"date"`
}

type WaitlistMatchResponse struct {
	Entry WaitlistEntryResponse `json:"entry"`
	Slot  SlotResponse          `json:"slot"`
}

type ConflictResponse struct {
	Kind          string     `json:"kind"`
	Message       string     `json:"message"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type ErrorResponse struct {
	Error     string             `json:"error"`
	Details   string             `json:"details,omitempty"`
	Field     string             `json:"field,omitempty"`
	Conflicts []ConflictResponse `json:"conflicts,omitempty"`
}
