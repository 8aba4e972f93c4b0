package appointment

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/config"
	redisclient "github.com/hackgods/resource-scheduling-engine/internal/redis"
)

var testNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

// bookingDay is a Monday one week after testNow.
var bookingDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// seqIDs issues ids whose last eight bytes count up from 1.
type seqIDs struct {
	mu     sync.Mutex
	n      int
	issued []uuid.UUID
}

func (g *seqIDs) NewID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], uint64(len(g.issued)+1))
	g.issued = append(g.issued, id)
	return id
}

func (g *seqIDs) wasIssued(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, got := range g.issued {
		if got == id {
			return true
		}
	}
	return false
}

func (g *seqIDs) Number(time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("APT-TEST-%04d", g.n)
}

type recordingSink struct {
	mu      sync.Mutex
	intents []Intent
	err     error
}

func (s *recordingSink) Emit(_ context.Context, intent Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return s.err
}

func (s *recordingSink) byKind(kind IntentKind) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Intent
	for _, i := range s.intents {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

type fixture struct {
	repo  *MemoryRepository
	sink  *recordingSink
	clock *fakeClock
	ids   *seqIDs
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  NewMemoryRepository(),
		sink:  &recordingSink{},
		clock: &fakeClock{now: testNow},
		ids:   &seqIDs{},
	}
	cfg := config.Config{
		MaxRecurrence:     52,
		WaitlistWindow:    time.Hour,
		TelehealthBaseURL: "https://meet.example.test",
	}
	f.svc = NewService(f.repo, redisclient.NewLocalLocker(time.Second), f.sink, cfg,
		WithClock(f.clock), WithIDGenerator(f.ids))
	return f
}

// putSchedule stores a 09:00-17:00 day with a 12:00-13:00 break and 30 minute slots.
func (f *fixture) putSchedule(t *testing.T, resourceID uuid.UUID, date time.Time, edit ...func(*ResourceSchedule)) *ResourceSchedule {
	t.Helper()
	s := &ResourceSchedule{
		ResourceID:  resourceID,
		Date:        date,
		WorkStart:   "09:00",
		WorkEnd:     "17:00",
		BreakStart:  "12:00",
		BreakEnd:    "13:00",
		SlotMinutes: 30,
		Available:   true,
		Specialty:   "cardiology",
		Location:    "Clinic A",
	}
	for _, fn := range edit {
		fn(s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := f.repo.PutSchedule(context.Background(), s); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}
	return s
}

func (f *fixture) book(t *testing.T, d Draft) *Appointment {
	t.Helper()
	appt, err := f.svc.Schedule(context.Background(), d)
	if err != nil {
		t.Fatalf("Schedule %s %s: %v", d.Date.Format(DateLayout), d.StartTime, err)
	}
	return appt
}

func (f *fixture) mustGet(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := f.repo.GetAppointment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAppointment %s: %v", id, err)
	}
	return a
}

func (f *fixture) eventCount(eventType string) int {
	n := 0
	for _, ev := range f.repo.Events() {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func draft(resourceID, subjectID uuid.UUID, date time.Time, start string, minutes int) Draft {
	return Draft{
		SubjectID:       subjectID,
		ResourceID:      resourceID,
		Date:            date,
		StartTime:       start,
		DurationMinutes: minutes,
	}
}

func hasKind(cs []Conflict, kind ConflictKind) bool {
	for _, c := range cs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
