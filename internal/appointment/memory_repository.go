package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type scheduleKey struct {
	resourceID uuid.UUID
	date       time.Time
}

// MemoryRepository is an in-process Repository for single-instance deployments and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	schedules    map[scheduleKey]*ResourceSchedule
	waitlist     map[uuid.UUID]*WaitlistEntry
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		schedules:    make(map[scheduleKey]*ResourceSchedule),
		waitlist:     make(map[uuid.UUID]*WaitlistEntry),
	}
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.ResourceID != nil && a.ResourceID != *f.ResourceID {
			continue
		}
		if f.SubjectID != nil && a.SubjectID != *f.SubjectID {
			continue
		}
		if f.RoomID != nil && (a.RoomID == nil || *a.RoomID != *f.RoomID) {
			continue
		}
		if f.Date != nil && !a.Date.Equal(DateOf(*f.Date)) {
			continue
		}
		if f.ParentID != nil && (a.ParentID == nil || *a.ParentID != *f.ParentID) {
			continue
		}
		if f.HoldingSlot && !a.Status.HoldsSlot() {
			continue
		}
		out = append(out, *a.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.appointments[a.ID]; exists {
		return fmt.Errorf("insert appointment %s: duplicate id", a.ID)
	}
	r.appointments[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment, from AppointmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(a, from)
}

func (r *MemoryRepository) updateLocked(a *Appointment, from AppointmentStatus) error {
	cur, ok := r.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != from {
		return ErrStaleRecord
	}
	next := a.Clone()
	// series membership is only ever changed through AddSeriesChild
	next.SeriesChildIDs = cur.SeriesChildIDs
	r.appointments[a.ID] = next
	return nil
}

func (r *MemoryRepository) ReplaceAppointment(_ context.Context, old *Appointment, from AppointmentStatus, replacement *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.appointments[replacement.ID]; exists {
		return fmt.Errorf("insert appointment %s: duplicate id", replacement.ID)
	}
	if err := r.updateLocked(old, from); err != nil {
		return err
	}
	r.appointments[replacement.ID] = replacement.Clone()
	return nil
}

func (r *MemoryRepository) AddSeriesChild(_ context.Context, parentID, childID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.appointments[parentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	p.SeriesChildIDs = append(p.SeriesChildIDs, childID)
	return nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, resourceID uuid.UUID, date time.Time) (*ResourceSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[scheduleKey{resourceID, DateOf(date)}]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	c := *s
	c.RoomID = cloneID(s.RoomID)
	return &c, nil
}

func (r *MemoryRepository) ListSchedules(_ context.Context, date time.Time) ([]ResourceSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := DateOf(date)
	var out []ResourceSchedule
	for k, s := range r.schedules {
		if !k.date.Equal(day) {
			continue
		}
		c := *s
		c.RoomID = cloneID(s.RoomID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceID.String() < out[j].ResourceID.String()
	})
	return out, nil
}

func (r *MemoryRepository) PutSchedule(_ context.Context, s *ResourceSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	c.Date = DateOf(s.Date)
	c.RoomID = cloneID(s.RoomID)
	r.schedules[scheduleKey{s.ResourceID, c.Date}] = &c
	return nil
}

func (r *MemoryRepository) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return e.Clone(), nil
}

func (r *MemoryRepository) ListWaitlist(_ context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WaitlistEntry
	for _, e := range r.waitlist {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
			continue
		}
		if f.ResourceID != nil && (e.ResourceID == nil || *e.ResourceID != *f.ResourceID) {
			continue
		}
		out = append(out, *e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) InsertWaitlistEntry(_ context.Context, e *WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waitlist[e.ID]; exists {
		return fmt.Errorf("insert waitlist entry %s: duplicate id", e.ID)
	}
	r.waitlist[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) UpdateWaitlistEntry(_ context.Context, e *WaitlistEntry, from WaitlistStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.waitlist[e.ID]
	if !ok {
		return ErrWaitlistEntryNotFound
	}
	if cur.Status != from {
		return ErrStaleRecord
	}
	r.waitlist[e.ID] = e.Clone()
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}
