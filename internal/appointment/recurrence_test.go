package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOccurrenceDates(t *testing.T) {
	end := day(2025, 3, 24)
	tests := []struct {
		name  string
		start time.Time
		rule  RecurrenceRule
		limit int
		want  []time.Time
	}{
		{
			name:  "weekly by count",
			start: bookingDay,
			rule:  RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 3},
			limit: 52,
			want:  []time.Time{day(2025, 3, 17), day(2025, 3, 24), day(2025, 3, 31)},
		},
		{
			name:  "weekly stops at end date",
			start: bookingDay,
			rule:  RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 10, EndDate: &end},
			limit: 52,
			want:  []time.Time{day(2025, 3, 17), day(2025, 3, 24)},
		},
		{
			name:  "biweekly capped by limit",
			start: bookingDay,
			rule:  RecurrenceRule{Frequency: FrequencyBiweekly, Occurrences: 10},
			limit: 2,
			want:  []time.Time{day(2025, 3, 24), day(2025, 4, 7)},
		},
		{
			name:  "monthly clamps to month end",
			start: day(2025, 1, 31),
			rule:  RecurrenceRule{Frequency: FrequencyMonthly, Occurrences: 3},
			limit: 52,
			want:  []time.Time{day(2025, 2, 28), day(2025, 3, 31), day(2025, 4, 30)},
		},
		{
			name:  "quarterly across a leap year",
			start: day(2023, 11, 29),
			rule:  RecurrenceRule{Frequency: FrequencyQuarterly, Occurrences: 2},
			limit: 52,
			want:  []time.Time{day(2024, 2, 29), day(2024, 5, 29)},
		},
		{
			name:  "end date before first occurrence",
			start: bookingDay,
			rule:  RecurrenceRule{Frequency: FrequencyWeekly, EndDate: &bookingDay},
			limit: 52,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OccurrenceDates(tt.start, tt.rule, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if !got[i].Equal(tt.want[i]) {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestOccurrenceDatesDefaultsToLimit(t *testing.T) {
	got := OccurrenceDates(bookingDay, RecurrenceRule{Frequency: FrequencyWeekly}, 52)
	if len(got) != 52 {
		t.Fatalf("got %d dates, want 52", len(got))
	}
}

// putSeriesSchedules stores schedules for the first parent date and n weekly follow-ups.
func putSeriesSchedules(t *testing.T, f *fixture, res uuid.UUID, n int, edit map[int]func(*ResourceSchedule)) {
	t.Helper()
	for k := 0; k <= n; k++ {
		var fns []func(*ResourceSchedule)
		if fn, ok := edit[k]; ok {
			fns = append(fns, fn)
		}
		f.putSchedule(t, res, bookingDay.AddDate(0, 0, 7*k), fns...)
	}
}

func TestRecurringSeriesSkipsConflictingOccurrence(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	putSeriesSchedules(t, f, res, 4, nil)
	other := f.book(t, draft(res, uuid.New(), day(2025, 3, 31), "10:00", 30))

	d := draft(res, uuid.New(), bookingDay, "10:00", 30)
	d.Recurrence = &RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 4}
	parent := f.book(t, d)

	if len(parent.SeriesChildIDs) != 3 {
		t.Fatalf("got %d children, want 3", len(parent.SeriesChildIDs))
	}
	stored := f.mustGet(t, parent.ID)
	if len(stored.SeriesChildIDs) != 3 {
		t.Fatalf("stored parent has %d children, want 3", len(stored.SeriesChildIDs))
	}

	wantDates := []time.Time{day(2025, 3, 17), day(2025, 3, 24), day(2025, 4, 7)}
	for i, id := range parent.SeriesChildIDs {
		child := f.mustGet(t, id)
		if child.ParentID == nil || *child.ParentID != parent.ID {
			t.Fatalf("child %d not linked to parent", i)
		}
		if !child.Date.Equal(wantDates[i]) {
			t.Fatalf("child %d date = %s, want %s", i, child.Date.Format(DateLayout), wantDates[i].Format(DateLayout))
		}
		if child.StartTime != "10:00" || child.DurationMinutes != 30 {
			t.Fatalf("child %d = %s/%d", i, child.StartTime, child.DurationMinutes)
		}
	}
	var skipped []EventLog
	for _, ev := range f.repo.Events() {
		if ev.EventType == EventOccurrenceSkipped {
			skipped = append(skipped, ev)
		}
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped occurrences logged = %d, want 1", len(skipped))
	}
	if !strings.Contains(string(skipped[0].Payload), string(ConflictResourceDoubleBooked)) {
		t.Fatalf("skip payload = %s, want the double-booking kind", skipped[0].Payload)
	}
	if got := f.mustGet(t, other.ID); got.Status != StatusScheduled {
		t.Fatalf("unrelated booking status = %s, want scheduled", got.Status)
	}
}

func TestCancelSeriesCascades(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	ctx := context.Background()
	putSeriesSchedules(t, f, res, 3, nil)

	d := draft(res, uuid.New(), bookingDay, "10:00", 30)
	d.Recurrence = &RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 3}
	parent := f.book(t, d)
	if len(parent.SeriesChildIDs) != 3 {
		t.Fatalf("got %d children, want 3", len(parent.SeriesChildIDs))
	}

	done := parent.SeriesChildIDs[1]
	for _, step := range []func(context.Context, uuid.UUID) (*Appointment, error){f.svc.CheckIn, f.svc.Start, f.svc.Complete} {
		if _, err := step(ctx, done); err != nil {
			t.Fatalf("progress child: %v", err)
		}
	}

	result, err := f.svc.Cancel(ctx, parent.ID, "course ended")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Appointment.Status != StatusCancelled || result.Appointment.CancellationReason != "course ended" {
		t.Fatalf("parent = %+v", result.Appointment)
	}
	if len(result.CancelledChildren) != 2 {
		t.Fatalf("cancelled %d children, want 2", len(result.CancelledChildren))
	}
	if len(result.Failures) != 1 || result.Failures[0].AppointmentID != done {
		t.Fatalf("failures = %+v", result.Failures)
	}
	if !errors.Is(result.Failures[0].Err, ErrInvalidTransition) {
		t.Fatalf("failure err = %v", result.Failures[0].Err)
	}

	for _, id := range parent.SeriesChildIDs {
		got := f.mustGet(t, id)
		want := StatusCancelled
		if id == done {
			want = StatusCompleted
		}
		if got.Status != want {
			t.Fatalf("child %s status = %s, want %s", id, got.Status, want)
		}
	}
}

func TestCancelSeriesSkipsRescheduledChild(t *testing.T) {
	f := newFixture(t)
	res := uuid.New()
	ctx := context.Background()
	putSeriesSchedules(t, f, res, 2, nil)

	d := draft(res, uuid.New(), bookingDay, "10:00", 30)
	d.Recurrence = &RecurrenceRule{Frequency: FrequencyWeekly, Occurrences: 2}
	parent := f.book(t, d)

	moved := parent.SeriesChildIDs[0]
	replacement, err := f.svc.Reschedule(ctx, moved, bookingDay.AddDate(0, 0, 7), "15:00", "")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if replacement.ParentID == nil || *replacement.ParentID != parent.ID {
		t.Fatal("replacement left the series")
	}

	result, err := f.svc.Cancel(ctx, parent.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures = %+v", result.Failures)
	}
	if len(result.CancelledChildren) != 2 {
		t.Fatalf("cancelled %d children, want 2", len(result.CancelledChildren))
	}
	if got := f.mustGet(t, replacement.ID); got.Status != StatusCancelled {
		t.Fatalf("replacement status = %s", got.Status)
	}
}
