package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RecurrenceExpander books the occurrences of a series one at a time through the
// same conflict-checked path as any other booking.
type RecurrenceExpander struct {
	svc    *Service
	limit  int
	logger zerolog.Logger
}

func newRecurrenceExpander(svc *Service, limit int, logger zerolog.Logger) *RecurrenceExpander {
	return &RecurrenceExpander{svc: svc, limit: limit, logger: logger}
}

// Expand books each occurrence after the parent's date. A conflicting occurrence is
// skipped and logged; the rest of the series still gets booked. It returns the ids of
// the children that were created, in date order.
func (e *RecurrenceExpander) Expand(ctx context.Context, parent *Appointment, rule RecurrenceRule) ([]uuid.UUID, error) {
	dates := OccurrenceDates(parent.Date, rule, e.limit)

	var ids []uuid.UUID
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		d := draftFrom(parent)
		d.Date = date
		d.parentID = &parent.ID

		child, err := e.svc.book(ctx, d)
		if err != nil {
			e.skip(ctx, parent, i+1, date, err)
			continue
		}

		if err := e.svc.repo.AddSeriesChild(ctx, parent.ID, child.ID); err != nil {
			return ids, fmt.Errorf("add series child %s: %w", child.ID, err)
		}
		ids = append(ids, child.ID)
	}
	return ids, nil
}

func (e *RecurrenceExpander) skip(ctx context.Context, parent *Appointment, occurrence int, date time.Time, err error) {
	evt := e.logger.Warn().Err(err).
		Str("parent_id", parent.ID.String()).
		Int("occurrence", occurrence).
		Str("date", date.Format(DateLayout))
	payload := map[string]any{
		"occurrence": occurrence,
		"date":       date.Format(DateLayout),
		"error":      err.Error(),
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		kinds := conflictKinds(conflict.Conflicts)
		evt = evt.Strs("kinds", kinds)
		payload["conflicts"] = kinds
	}
	evt.Msg("recurrence occurrence skipped")
	e.svc.logEvent(ctx, parent.ID, EventOccurrenceSkipped, payload)
}

// OccurrenceDates lists the dates following start that a rule generates. The count is
// bounded by the rule's occurrences and by limit, whichever is smaller; dates after the
// rule's end date are never produced.
func OccurrenceDates(start time.Time, rule RecurrenceRule, limit int) []time.Time {
	n := limit
	if rule.Occurrences > 0 && rule.Occurrences < n {
		n = rule.Occurrences
	}
	start = DateOf(start)

	var out []time.Time
	for k := 1; k <= n; k++ {
		var d time.Time
		switch rule.Frequency {
		case FrequencyWeekly:
			d = start.AddDate(0, 0, 7*k)
		case FrequencyBiweekly:
			d = start.AddDate(0, 0, 14*k)
		case FrequencyMonthly:
			d = addMonths(start, k)
		case FrequencyQuarterly:
			d = addMonths(start, 3*k)
		default:
			return out
		}
		if rule.EndDate != nil && d.After(DateOf(*rule.EndDate)) {
			break
		}
		out = append(out, d)
	}
	return out
}

// addMonths moves by calendar months, clamping to the last day of a shorter month
// (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
