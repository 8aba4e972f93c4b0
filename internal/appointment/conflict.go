package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/interval"
)

type ConflictKind string

const (
	ConflictResourceUnavailable  ConflictKind = "resource_unavailable"
	ConflictOutsideWorkingHours  ConflictKind = "outside_working_hours"
	ConflictBreakWindowOverlap   ConflictKind = "break_window_overlap"
	ConflictResourceDoubleBooked ConflictKind = "resource_double_booked"
	ConflictSubjectDoubleBooked  ConflictKind = "subject_double_booked"
	ConflictRoom                 ConflictKind = "room_conflict"
)

type Conflict struct {
	Kind          ConflictKind
	Message       string
	AppointmentID *uuid.UUID
}

type ConflictResult struct {
	HasConflict bool
	Conflicts   []Conflict
}

func (r *ConflictResult) add(kind ConflictKind, msg string, with *uuid.UUID) {
	r.Conflicts = append(r.Conflicts, Conflict{Kind: kind, Message: msg, AppointmentID: with})
	r.HasConflict = true
}

// ConflictDetector evaluates a draft against availability and existing bookings.
// It never mutates state.
type ConflictDetector struct {
	availability *Availability
	repo         Repository
}

func NewConflictDetector(availability *Availability, repo Repository) *ConflictDetector {
	return &ConflictDetector{availability: availability, repo: repo}
}

// Check runs every rule and reports all conflicts, not just the first.
func (d *ConflictDetector) Check(ctx context.Context, draft Draft) (ConflictResult, error) {
	return d.check(ctx, draft, uuid.Nil)
}

// check ignores the appointment identified by exclude, so a reschedule does not collide with itself.
func (d *ConflictDetector) check(ctx context.Context, draft Draft, exclude uuid.UUID) (ConflictResult, error) {
	var result ConflictResult

	candidate, err := draft.Interval()
	if err != nil {
		return result, newValidationError("start_time", err.Error())
	}
	date := DateOf(draft.Date)
	day := date.Format(DateLayout)

	// Read once so every rule below sees the same schedule.
	sched, ok, err := d.availability.Get(ctx, draft.ResourceID, date)
	if err != nil {
		return result, err
	}

	capacity := 1
	switch {
	case !ok:
		result.add(ConflictResourceUnavailable, fmt.Sprintf("resource has no schedule on %s", day), nil)
	case !sched.Available:
		msg := fmt.Sprintf("resource is unavailable on %s", day)
		if sched.UnavailableReason != "" {
			msg += ": " + sched.UnavailableReason
		}
		result.add(ConflictResourceUnavailable, msg, nil)
	}

	if ok {
		capacity = sched.capacity()
		work, err := sched.WorkingHours()
		if err != nil {
			return result, fmt.Errorf("resource schedule working hours: %w", err)
		}
		if !interval.Contains(work, candidate) {
			result.add(ConflictOutsideWorkingHours,
				fmt.Sprintf("%s is outside working hours %s", candidate, work), nil)
		}
		brk, hasBreak, err := sched.BreakWindow()
		if err != nil {
			return result, fmt.Errorf("resource schedule break window: %w", err)
		}
		if hasBreak && interval.Overlaps(brk, candidate) {
			result.add(ConflictBreakWindowOverlap,
				fmt.Sprintf("%s overlaps break %s", candidate, brk), nil)
		}
	}

	resourceID := draft.ResourceID
	byResource, err := d.overlapping(ctx, AppointmentFilter{ResourceID: &resourceID, Date: &date}, candidate, exclude)
	if err != nil {
		return result, fmt.Errorf("load resource appointments: %w", err)
	}
	if peakDepth(candidate, byResource) >= capacity {
		for _, a := range byResource {
			id := a.ID
			result.add(ConflictResourceDoubleBooked,
				fmt.Sprintf("resource already booked %s-%s by appointment %s", a.StartTime, endClock(a), a.Number), &id)
		}
	}

	subjectID := draft.SubjectID
	bySubject, err := d.overlapping(ctx, AppointmentFilter{SubjectID: &subjectID, Date: &date}, candidate, exclude)
	if err != nil {
		return result, fmt.Errorf("load subject appointments: %w", err)
	}
	for _, a := range bySubject {
		id := a.ID
		result.add(ConflictSubjectDoubleBooked,
			fmt.Sprintf("subject already has appointment %s at %s-%s", a.Number, a.StartTime, endClock(a)), &id)
	}

	if draft.RoomID != nil {
		roomID := *draft.RoomID
		byRoom, err := d.overlapping(ctx, AppointmentFilter{RoomID: &roomID, Date: &date}, candidate, exclude)
		if err != nil {
			return result, fmt.Errorf("load room appointments: %w", err)
		}
		for _, a := range byRoom {
			id := a.ID
			result.add(ConflictRoom,
				fmt.Sprintf("room already in use %s-%s by appointment %s", a.StartTime, endClock(a), a.Number), &id)
		}
	}

	return result, nil
}

func (d *ConflictDetector) overlapping(ctx context.Context, f AppointmentFilter, candidate interval.Interval, exclude uuid.UUID) ([]Appointment, error) {
	f.HoldingSlot = true
	existing, err := d.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, err
	}
	var out []Appointment
	for _, a := range existing {
		if a.ID == exclude {
			continue
		}
		iv, err := a.Interval()
		if err != nil {
			continue
		}
		if interval.Overlaps(iv, candidate) {
			out = append(out, a)
		}
	}
	return out, nil
}

// peakDepth counts the most appointments running at once inside candidate.
func peakDepth(candidate interval.Interval, appts []Appointment) int {
	ivs := make([]interval.Interval, 0, len(appts))
	for _, a := range appts {
		if iv, err := a.Interval(); err == nil {
			ivs = append(ivs, iv)
		}
	}
	return interval.PeakDepth(candidate, ivs)
}

func endClock(a Appointment) string {
	iv, err := a.Interval()
	if err != nil {
		return "?"
	}
	return interval.FormatClock(iv.End)
}
