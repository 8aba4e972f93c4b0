package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func (f *fixture) enqueue(t *testing.T, e WaitlistEntry) *WaitlistEntry {
	t.Helper()
	if err := f.svc.Waitlist().Enqueue(context.Background(), &e); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return &e
}

func (f *fixture) entryStatus(t *testing.T, id uuid.UUID) WaitlistStatus {
	t.Helper()
	e, err := f.repo.GetWaitlistEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWaitlistEntry: %v", err)
	}
	return e.Status
}

// shortDay is 09:00-10:00 without a break: two 30 minute slots.
func shortDay(s *ResourceSchedule) {
	s.WorkEnd = "10:00"
	s.BreakStart = ""
	s.BreakEnd = ""
}

func TestWaitlistEnqueueValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		entry WaitlistEntry
	}{
		{"missing subject", WaitlistEntry{PriorityScore: 5, PreferredDates: []time.Time{bookingDay}}},
		{"priority too high", WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 11, PreferredDates: []time.Time{bookingDay}}},
		{"no dates", WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5}},
		{"bad time", WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{bookingDay}, PreferredTimes: []string{"9am"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			if err := f.svc.Waitlist().Enqueue(context.Background(), &e); !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestCancellationOffersSlotByPriority(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay, shortDay)
	first := f.book(t, draft(res, uuid.New(), bookingDay, "09:00", 30))
	f.book(t, draft(res, uuid.New(), bookingDay, "09:30", 30))

	low := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), ResourceID: &res, PriorityScore: 3, PreferredDates: []time.Time{bookingDay}})
	f.clock.Advance(time.Minute)
	high := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 8, PreferredDates: []time.Time{bookingDay}})

	if _, err := f.svc.Cancel(context.Background(), first.ID, "conflict at work"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := f.entryStatus(t, high.ID); got != WaitlistContacted {
		t.Fatalf("high priority entry status = %s, want contacted", got)
	}
	if got := f.entryStatus(t, low.ID); got != WaitlistActive {
		t.Fatalf("low priority entry status = %s, want active", got)
	}
	offers := f.sink.byKind(IntentWaitlistOffer)
	if len(offers) != 1 || offers[0].TargetID != high.SubjectID {
		t.Fatalf("offers = %+v", offers)
	}
}

func TestWaitlistProcessRespectsPreferredTimes(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay, shortDay)
	f.book(t, draft(res, uuid.New(), bookingDay, "09:30", 30))

	afternoon := f.enqueue(t, WaitlistEntry{
		SubjectID: uuid.New(), PriorityScore: 9,
		PreferredDates: []time.Time{bookingDay}, PreferredTimes: []string{"15:00"},
	})
	morning := f.enqueue(t, WaitlistEntry{
		SubjectID: uuid.New(), PriorityScore: 2,
		PreferredDates: []time.Time{bookingDay}, PreferredTimes: []string{"08:30"},
	})
	otherDay := f.enqueue(t, WaitlistEntry{
		SubjectID: uuid.New(), PriorityScore: 10,
		PreferredDates: []time.Time{bookingDay.AddDate(0, 0, 1)},
	})

	matches, err := f.svc.Waitlist().Process(context.Background(), res, bookingDay)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(matches) != 1 || matches[0].Entry.ID != morning.ID {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Slot.StartTime != "09:00" {
		t.Fatalf("offered %s, want 09:00", matches[0].Slot.StartTime)
	}
	if m := matches[0].Entry; m.ContactAttempts != 1 || m.LastContactedAt == nil {
		t.Fatalf("contact not recorded: %+v", m)
	}
	if f.entryStatus(t, afternoon.ID) != WaitlistActive || f.entryStatus(t, otherDay.ID) != WaitlistActive {
		t.Fatal("unmatched entries must stay active")
	}
}

func TestWaitlistProcessEachSlotOnce(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay, shortDay)

	for i := 0; i < 3; i++ {
		f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{bookingDay}})
		f.clock.Advance(time.Second)
	}

	matches, err := f.svc.Waitlist().Process(context.Background(), res, bookingDay)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches for 2 slots", len(matches))
	}
	if matches[0].Slot.StartTime == matches[1].Slot.StartTime {
		t.Fatal("one slot offered twice")
	}
	if !matches[0].Entry.CreatedAt.Before(matches[1].Entry.CreatedAt) {
		t.Fatal("equal priority must favour the earlier entry")
	}
}

func TestWaitlistExpire(t *testing.T) {
	f := newFixture(t)
	stale := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{DateOf(testNow).AddDate(0, 0, -1)}})
	mixed := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{DateOf(testNow).AddDate(0, 0, -2), bookingDay}})
	today := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{DateOf(testNow)}})

	n, err := f.svc.Waitlist().Expire(context.Background())
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d entries, want 1", n)
	}
	if f.entryStatus(t, stale.ID) != WaitlistExpired {
		t.Fatal("stale entry not expired")
	}
	if f.entryStatus(t, mixed.ID) != WaitlistActive || f.entryStatus(t, today.ID) != WaitlistActive {
		t.Fatal("entries with a current date must stay active")
	}
}

func TestWaitlistRematchAcrossResources(t *testing.T) {
	f := newFixture(t)
	busy := uuid.New()
	free := uuid.New()
	f.putSchedule(t, busy, bookingDay, shortDay)
	f.putSchedule(t, free, bookingDay, shortDay)
	f.book(t, draft(busy, uuid.New(), bookingDay, "09:00", 30))
	f.book(t, draft(busy, uuid.New(), bookingDay, "09:30", 30))

	pinned := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), ResourceID: &busy, PriorityScore: 9, PreferredDates: []time.Time{bookingDay}})
	anyone := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 4, PreferredDates: []time.Time{bookingDay}})

	matches, err := f.svc.Waitlist().Rematch(context.Background())
	if err != nil {
		t.Fatalf("Rematch: %v", err)
	}
	if len(matches) != 1 || matches[0].Entry.ID != anyone.ID || matches[0].Slot.ResourceID != free {
		t.Fatalf("matches = %+v", matches)
	}
	if f.entryStatus(t, pinned.ID) != WaitlistActive {
		t.Fatal("entry pinned to a full resource must stay active")
	}
}

func TestWaitlistIDsComeFromGenerator(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay, shortDay)
	first := f.book(t, draft(res, uuid.New(), bookingDay, "09:00", 30))
	f.book(t, draft(res, uuid.New(), bookingDay, "09:30", 30))

	entry := f.enqueue(t, WaitlistEntry{SubjectID: uuid.New(), PriorityScore: 5, PreferredDates: []time.Time{bookingDay}})
	if !f.ids.wasIssued(entry.ID) {
		t.Fatalf("entry id %s was not issued by the id generator", entry.ID)
	}

	if _, err := f.svc.Cancel(context.Background(), first.ID, "travel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	offers := f.sink.byKind(IntentWaitlistOffer)
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	if !f.ids.wasIssued(offers[0].ID) {
		t.Fatalf("offer intent id %s was not issued by the id generator", offers[0].ID)
	}
}
