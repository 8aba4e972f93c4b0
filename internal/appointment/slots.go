package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/interval"
)

// SlotQuery selects candidate resources. With no ResourceID every resource scheduled on
// Date is a candidate, optionally narrowed by Specialty. DurationMinutes of zero uses
// each schedule's slot granularity.
type SlotQuery struct {
	ResourceID      *uuid.UUID
	Specialty       string
	Date            time.Time
	DurationMinutes int
}

// SlotFinder lists open intervals. It is a pure query; listing a slot reserves nothing.
type SlotFinder struct {
	availability *Availability
	repo         Repository
}

func NewSlotFinder(availability *Availability, repo Repository) *SlotFinder {
	return &SlotFinder{availability: availability, repo: repo}
}

func (f *SlotFinder) Find(ctx context.Context, q SlotQuery) ([]Slot, error) {
	if q.Date.IsZero() {
		return nil, newValidationError("date", "is required")
	}
	if q.DurationMinutes != 0 && (q.DurationMinutes < MinDurationMinutes || q.DurationMinutes > MaxDurationMinutes) {
		return nil, newValidationError("duration", fmt.Sprintf("must be between %d and %d", MinDurationMinutes, MaxDurationMinutes))
	}
	date := DateOf(q.Date)

	var candidates []ResourceSchedule
	if q.ResourceID != nil {
		s, ok, err := f.availability.Get(ctx, *q.ResourceID, date)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, *s)
		}
	} else {
		all, err := f.repo.ListSchedules(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("list resource schedules: %w", err)
		}
		for _, s := range all {
			if q.Specialty != "" && !strings.EqualFold(s.Specialty, q.Specialty) {
				continue
			}
			candidates = append(candidates, s)
		}
	}

	var slots []Slot
	for i := range candidates {
		found, err := f.slotsFor(ctx, &candidates[i], date, q.DurationMinutes)
		if err != nil {
			return nil, err
		}
		slots = append(slots, found...)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].start != slots[j].start {
			return slots[i].start < slots[j].start
		}
		return slots[i].ResourceID.String() < slots[j].ResourceID.String()
	})
	return slots, nil
}

func (f *SlotFinder) slotsFor(ctx context.Context, s *ResourceSchedule, date time.Time, duration int) ([]Slot, error) {
	if !s.Available {
		return nil, nil
	}
	work, err := s.WorkingHours()
	if err != nil {
		return nil, fmt.Errorf("resource %s working hours: %w", s.ResourceID, err)
	}
	brk, hasBreak, err := s.BreakWindow()
	if err != nil {
		return nil, fmt.Errorf("resource %s break window: %w", s.ResourceID, err)
	}
	step := s.granularity()
	if duration == 0 {
		duration = step
	}

	resourceID := s.ResourceID
	busy, err := f.busy(ctx, AppointmentFilter{ResourceID: &resourceID, Date: &date})
	if err != nil {
		return nil, err
	}
	var roomBusy []interval.Interval
	if s.RoomID != nil {
		roomID := *s.RoomID
		if roomBusy, err = f.busy(ctx, AppointmentFilter{RoomID: &roomID, Date: &date}); err != nil {
			return nil, err
		}
	}
	capacity := s.capacity()

	var out []Slot
	for t := work.Start; t+duration <= work.End; t += step {
		trial := interval.Interval{Start: t, End: t + duration}
		if hasBreak && interval.Overlaps(trial, brk) {
			continue
		}
		if interval.PeakDepth(trial, busy) >= capacity {
			continue
		}
		if interval.PeakDepth(trial, roomBusy) > 0 {
			continue
		}
		out = append(out, Slot{
			ResourceID:      s.ResourceID,
			Date:            date,
			StartTime:       interval.FormatClock(t),
			DurationMinutes: duration,
			Location:        s.Location,
			RoomID:          cloneID(s.RoomID),
			Specialty:       s.Specialty,
			start:           t,
		})
	}
	return out, nil
}

func (f *SlotFinder) busy(ctx context.Context, filter AppointmentFilter) ([]interval.Interval, error) {
	filter.HoldingSlot = true
	existing, err := f.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load booked appointments: %w", err)
	}
	out := make([]interval.Interval, 0, len(existing))
	for _, a := range existing {
		iv, err := a.Interval()
		if err != nil {
			continue
		}
		out = append(out, iv)
	}
	return out, nil
}
