package appointment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/config"
	redisclient "github.com/hackgods/resource-scheduling-engine/internal/redis"
)

var errStoreDown = errors.New("store unavailable")

// failingRepository wraps the in-memory store and fails the selected writes.
type failingRepository struct {
	*MemoryRepository
	failEvents      bool
	failSeriesChild bool
}

func (r *failingRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if r.failEvents {
		return errStoreDown
	}
	return r.MemoryRepository.InsertEvent(ctx, ev)
}

func (r *failingRepository) AddSeriesChild(ctx context.Context, parentID, childID uuid.UUID) error {
	if r.failSeriesChild {
		return errStoreDown
	}
	return r.MemoryRepository.AddSeriesChild(ctx, parentID, childID)
}

func newFailingService(repo *failingRepository) *Service {
	cfg := config.Config{MaxRecurrence: 52, WaitlistWindow: time.Hour}
	return NewService(repo, redisclient.NewLocalLocker(time.Second), &recordingSink{}, cfg,
		WithClock(&fakeClock{now: testNow}), WithIDGenerator(&seqIDs{}))
}

func TestEventLogFailureDoesNotFailTransition(t *testing.T) {
	repo := &failingRepository{MemoryRepository: NewMemoryRepository()}
	svc := newFailingService(repo)
	ctx := context.Background()
	res := uuid.New()

	if err := svc.PutSchedule(ctx, &ResourceSchedule{
		ResourceID: res, Date: bookingDay, WorkStart: "09:00", WorkEnd: "17:00", Available: true,
	}); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}
	appt, err := svc.Schedule(ctx, draft(res, uuid.New(), bookingDay, "10:00", 30))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	repo.failEvents = true
	confirmed, err := svc.Confirm(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Confirm with failing event log: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("status = %s, want %s", confirmed.Status, StatusConfirmed)
	}
	if len(repo.Events()) != 1 {
		t.Fatalf("events = %d, want only the booking event", len(repo.Events()))
	}
}

func TestSeriesLinkFailureStopsExpansion(t *testing.T) {
	repo := &failingRepository{MemoryRepository: NewMemoryRepository(), failSeriesChild: true}
	svc := newFailingService(repo)
	ctx := context.Background()
	res := uuid.New()

	for _, d := range []time.Time{bookingDay, bookingDay.AddDate(0, 0, 7), bookingDay.AddDate(0, 0, 14)} {
		if err := svc.PutSchedule(ctx, &ResourceSchedule{
			ResourceID: res, Date: d, WorkStart: "09:00", WorkEnd: "17:00", Available: true,
		}); err != nil {
			t.Fatalf("PutSchedule: %v", err)
		}
	}

	d := draft(res, uuid.New(), bookingDay, "10:00", 30)
	d.Recurrence = &RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 2}

	parent, err := svc.Schedule(ctx, d)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Schedule error = %v, want %v", err, errStoreDown)
	}
	if parent == nil {
		t.Fatal("parent should be returned when expansion fails")
	}
	if len(parent.SeriesChildIDs) != 0 {
		t.Fatalf("linked children = %v, want none", parent.SeriesChildIDs)
	}

	all, err := repo.ListAppointments(ctx, AppointmentFilter{ResourceID: &res})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("stored appointments = %d, want parent and the first child", len(all))
	}
}

// countingRepository counts waitlist reads, one per matching pass.
type countingRepository struct {
	*MemoryRepository
	waitlistReads atomic.Int32
}

func (r *countingRepository) ListWaitlist(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	r.waitlistReads.Add(1)
	return r.MemoryRepository.ListWaitlist(ctx, f)
}

func TestCancelSeriesMatchesWaitlistOncePerDate(t *testing.T) {
	repo := &countingRepository{MemoryRepository: NewMemoryRepository()}
	cfg := config.Config{MaxRecurrence: 52, WaitlistWindow: time.Hour}
	svc := NewService(repo, redisclient.NewLocalLocker(time.Second), &recordingSink{}, cfg,
		WithClock(&fakeClock{now: testNow}), WithIDGenerator(&seqIDs{}))
	ctx := context.Background()
	res := uuid.New()

	for _, d := range []time.Time{bookingDay, bookingDay.AddDate(0, 0, 7), bookingDay.AddDate(0, 0, 14)} {
		if err := svc.PutSchedule(ctx, &ResourceSchedule{
			ResourceID: res, Date: d, WorkStart: "09:00", WorkEnd: "17:00", Available: true,
		}); err != nil {
			t.Fatalf("PutSchedule: %v", err)
		}
	}

	d := draft(res, uuid.New(), bookingDay, "10:00", 30)
	d.Recurrence = &RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 2}
	parent, err := svc.Schedule(ctx, d)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(parent.SeriesChildIDs) != 2 {
		t.Fatalf("children = %d, want 2", len(parent.SeriesChildIDs))
	}
	// Move the first child onto the parent's date so two cancellations free the same day.
	if _, err := svc.Reschedule(ctx, parent.SeriesChildIDs[0], bookingDay, "11:00", "clinic moved"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	repo.waitlistReads.Store(0)
	result, err := svc.Cancel(ctx, parent.ID, "treatment stopped")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(result.CancelledChildren) != 2 || len(result.Failures) != 0 {
		t.Fatalf("cancelled = %v failures = %v", result.CancelledChildren, result.Failures)
	}
	if got := repo.waitlistReads.Load(); got != 2 {
		t.Fatalf("matching passes = %d, want one per freed date (2)", got)
	}
}
