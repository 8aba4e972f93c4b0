package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrScheduleNotFound      = errors.New("resource schedule not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")

	// ErrStaleRecord means a compare-and-set update lost to a concurrent writer.
	ErrStaleRecord = errors.New("record was modified concurrently")
)

// AppointmentFilter narrows ListAppointments. Nil fields do not filter.
type AppointmentFilter struct {
	ResourceID *uuid.UUID
	SubjectID  *uuid.UUID
	RoomID     *uuid.UUID
	Date       *time.Time
	ParentID   *uuid.UUID

	// HoldingSlot keeps only appointments whose status still occupies time.
	HoldingSlot bool
}

type WaitlistFilter struct {
	Status     WaitlistStatus
	SubjectID  *uuid.UUID
	ResourceID *uuid.UUID
}

// Repository is the record store the engine reads and writes through.
type Repository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error

	// UpdateAppointment writes a only if the stored status still equals from.
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error

	// ReplaceAppointment atomically updates old (guarded by from) and inserts replacement.
	ReplaceAppointment(ctx context.Context, old *Appointment, from AppointmentStatus, replacement *Appointment) error

	// AddSeriesChild atomically appends childID to the parent's series membership.
	AddSeriesChild(ctx context.Context, parentID, childID uuid.UUID) error

	// Resource schedules
	GetSchedule(ctx context.Context, resourceID uuid.UUID, date time.Time) (*ResourceSchedule, error)
	ListSchedules(ctx context.Context, date time.Time) ([]ResourceSchedule, error)
	PutSchedule(ctx context.Context, s *ResourceSchedule) error

	// Waitlist
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	ListWaitlist(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error)
	InsertWaitlistEntry(ctx context.Context, e *WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, e *WaitlistEntry, from WaitlistStatus) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
