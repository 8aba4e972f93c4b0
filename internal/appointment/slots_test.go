package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func slotStarts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime)
	}
	return out
}

func TestSlotFinderSkipsBreakAndBookings(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay)
	ctx := context.Background()

	slots, err := f.svc.Slots().Find(ctx, SlotQuery{ResourceID: &res, Date: bookingDay, DurationMinutes: 30})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	// 09:00-12:00 and 13:00-17:00 in 30 minute steps
	if len(slots) != 14 {
		t.Fatalf("got %d slots %v, want 14", len(slots), slotStarts(slots))
	}
	for _, s := range slots {
		if s.StartTime == "12:00" || s.StartTime == "12:30" {
			t.Fatalf("slot inside break: %s", s.StartTime)
		}
	}
	if slots[0].StartTime != "09:00" || slots[len(slots)-1].StartTime != "16:30" {
		t.Fatalf("unexpected bounds %v", slotStarts(slots))
	}

	f.book(t, draft(res, uuid.New(), bookingDay, "10:00", 30))

	slots, err = f.svc.Slots().Find(ctx, SlotQuery{ResourceID: &res, Date: bookingDay, DurationMinutes: 30})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(slots) != 13 {
		t.Fatalf("got %d slots after booking, want 13", len(slots))
	}
	for _, s := range slots {
		if s.StartTime == "10:00" {
			t.Fatal("booked slot still offered")
		}
	}
}

func TestSlotFinderLongerDurationStepsByGranularity(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay)

	slots, err := f.svc.Slots().Find(context.Background(), SlotQuery{ResourceID: &res, Date: bookingDay, DurationMinutes: 60})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00"}
	got := slotStarts(slots)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSlotFinderUnavailableOrMissingSchedule(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay, func(s *ResourceSchedule) { s.Available = false })

	slots, err := f.svc.Slots().Find(context.Background(), SlotQuery{ResourceID: &res, Date: bookingDay})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("unavailable resource offered %d slots", len(slots))
	}

	missing := uuid.New()
	slots, err = f.svc.Slots().Find(context.Background(), SlotQuery{ResourceID: &missing, Date: bookingDay})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("unscheduled resource offered %d slots", len(slots))
	}
}

func TestSlotFinderBySpecialty(t *testing.T) {
	f := newFixture(t)
	cardio := uuid.New()
	derm := uuid.New()
	f.putSchedule(t, cardio, bookingDay, func(s *ResourceSchedule) {
		s.WorkEnd = "10:00"
		s.BreakStart = ""
		s.BreakEnd = ""
	})
	f.putSchedule(t, derm, bookingDay, func(s *ResourceSchedule) {
		s.Specialty = "dermatology"
		s.BreakStart = ""
		s.BreakEnd = ""
	})

	slots, err := f.svc.Slots().Find(context.Background(), SlotQuery{Specialty: "Cardiology", Date: bookingDay})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	for _, s := range slots {
		if s.ResourceID != cardio {
			t.Fatalf("slot for wrong resource %s", s.ResourceID)
		}
	}
}

func TestSlotFinderRejectsBadQuery(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Slots().Find(context.Background(), SlotQuery{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing date: err = %v", err)
	}
	if _, err := f.svc.Slots().Find(context.Background(), SlotQuery{Date: bookingDay, DurationMinutes: 5}); !errors.Is(err, ErrValidation) {
		t.Fatalf("short duration: err = %v", err)
	}
}

// Every listed slot must be bookable, and booking them all leaves none.
func TestSlotsAreBookable(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	f.putSchedule(t, res, bookingDay)
	f.book(t, draft(res, uuid.New(), bookingDay, "09:45", 30))
	ctx := context.Background()

	slots, err := f.svc.Slots().Find(ctx, SlotQuery{ResourceID: &res, Date: bookingDay, DurationMinutes: 30})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("no slots")
	}

	for _, s := range slots {
		d := draft(res, uuid.New(), s.Date, s.StartTime, s.DurationMinutes)
		result, err := f.svc.Detector().Check(ctx, d)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.HasConflict {
			t.Fatalf("slot %s conflicts: %+v", s.StartTime, result.Conflicts)
		}
	}

	for _, s := range slots {
		d := draft(res, uuid.New(), s.Date, s.StartTime, s.DurationMinutes)
		if _, err := f.svc.Schedule(ctx, d); err != nil {
			t.Fatalf("Schedule %s: %v", s.StartTime, err)
		}
	}

	left, err := f.svc.Slots().Find(ctx, SlotQuery{ResourceID: &res, Date: bookingDay, DurationMinutes: 30})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("slots left after booking all: %v", slotStarts(left))
	}
}
