package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/resource-scheduling-engine/internal/interval"
)

// WaitlistMatch pairs a contacted entry with the slot it was offered.
type WaitlistMatch struct {
	Entry WaitlistEntry
	Slot  Slot
}

// WaitlistMatcher offers freed capacity to waiting subjects, most urgent first.
type WaitlistMatcher struct {
	slots  *SlotFinder
	repo   Repository
	sink   NotificationSink
	clock  Clock
	ids    IDGenerator
	logger zerolog.Logger
	window int
}

func NewWaitlistMatcher(slots *SlotFinder, repo Repository, sink NotificationSink, clock Clock, ids IDGenerator, logger zerolog.Logger, window time.Duration) *WaitlistMatcher {
	return &WaitlistMatcher{
		slots:  slots,
		repo:   repo,
		sink:   sink,
		clock:  clock,
		ids:    ids,
		logger: logger,
		window: int(window / time.Minute),
	}
}

// Enqueue validates and stores a new active entry.
func (m *WaitlistMatcher) Enqueue(ctx context.Context, e *WaitlistEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := m.clock.Now()
	if e.ID == uuid.Nil {
		e.ID = m.ids.NewID()
	}
	e.Status = WaitlistActive
	e.ContactAttempts = 0
	e.LastContactedAt = nil
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := m.repo.InsertWaitlistEntry(ctx, e); err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// Process matches open slots for a resource and date against active entries. Each slot
// is offered at most once per pass; unmatched entries stay active.
func (m *WaitlistMatcher) Process(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]WaitlistMatch, error) {
	date = DateOf(date)
	pool, err := m.slots.Find(ctx, SlotQuery{ResourceID: &resourceID, Date: date})
	if err != nil {
		return nil, fmt.Errorf("find open slots: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	active, err := m.repo.ListWaitlist(ctx, WaitlistFilter{Status: WaitlistActive})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	var candidates []WaitlistEntry
	for _, e := range active {
		if e.ResourceID != nil && *e.ResourceID != resourceID {
			continue
		}
		if !e.wantsDate(date) {
			continue
		}
		candidates = append(candidates, e)
	}
	rankEntries(candidates)

	var matches []WaitlistMatch
	for _, e := range candidates {
		if len(pool) == 0 {
			break
		}
		idx := m.pick(e, pool)
		if idx < 0 {
			continue
		}
		slot := pool[idx]

		now := m.clock.Now()
		updated := e.Clone()
		updated.Status = WaitlistContacted
		updated.ContactAttempts++
		updated.LastContactedAt = &now
		updated.UpdatedAt = now
		if err := m.repo.UpdateWaitlistEntry(ctx, updated, WaitlistActive); err != nil {
			if errors.Is(err, ErrStaleRecord) {
				continue
			}
			return matches, fmt.Errorf("update waitlist entry %s: %w", e.ID, err)
		}

		pool = append(pool[:idx], pool[idx+1:]...)
		matches = append(matches, WaitlistMatch{Entry: *updated, Slot: slot})
		m.offer(ctx, updated, slot)
	}

	if len(matches) > 0 {
		m.logger.Info().
			Str("resource_id", resourceID.String()).
			Str("date", date.Format(DateLayout)).
			Int("matched", len(matches)).
			Msg("waitlist entries contacted")
	}
	return matches, nil
}

// Expire marks active entries whose preferred dates have all passed as expired.
func (m *WaitlistMatcher) Expire(ctx context.Context) (int, error) {
	today := DateOf(m.clock.Now())
	active, err := m.repo.ListWaitlist(ctx, WaitlistFilter{Status: WaitlistActive})
	if err != nil {
		return 0, fmt.Errorf("list waitlist: %w", err)
	}

	expired := 0
	for _, e := range active {
		if !allBefore(e.PreferredDates, today) {
			continue
		}
		updated := e.Clone()
		updated.Status = WaitlistExpired
		updated.UpdatedAt = m.clock.Now()
		if err := m.repo.UpdateWaitlistEntry(ctx, updated, WaitlistActive); err != nil {
			if errors.Is(err, ErrStaleRecord) {
				continue
			}
			m.logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("failed to expire waitlist entry")
			continue
		}
		expired++
	}
	return expired, nil
}

// Rematch runs Process for every scheduled resource on each upcoming date that an
// active entry prefers. Used by the periodic worker to catch capacity freed outside
// a cancellation, such as widened working hours.
func (m *WaitlistMatcher) Rematch(ctx context.Context) ([]WaitlistMatch, error) {
	today := DateOf(m.clock.Now())
	active, err := m.repo.ListWaitlist(ctx, WaitlistFilter{Status: WaitlistActive})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}

	seen := make(map[string]bool)
	var dates []time.Time
	for _, e := range active {
		for _, d := range e.PreferredDates {
			key := d.Format(DateLayout)
			if d.Before(today) || seen[key] {
				continue
			}
			seen[key] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var matches []WaitlistMatch
	for _, d := range dates {
		schedules, err := m.repo.ListSchedules(ctx, d)
		if err != nil {
			return matches, fmt.Errorf("list schedules for %s: %w", d.Format(DateLayout), err)
		}
		for _, s := range schedules {
			if !s.Available {
				continue
			}
			found, err := m.Process(ctx, s.ResourceID, d)
			if err != nil {
				return matches, err
			}
			matches = append(matches, found...)
		}
	}
	return matches, nil
}

// pick returns the index of the earliest slot within the match window of any preferred
// time, or -1. An entry without preferred times takes the earliest slot.
func (m *WaitlistMatcher) pick(e WaitlistEntry, pool []Slot) int {
	if len(e.PreferredTimes) == 0 {
		return 0
	}
	for i, s := range pool {
		for _, pt := range e.PreferredTimes {
			want, err := interval.ParseClock(pt)
			if err != nil {
				continue
			}
			if abs(s.start-want) <= m.window {
				return i
			}
		}
	}
	return -1
}

func (m *WaitlistMatcher) offer(ctx context.Context, e *WaitlistEntry, slot Slot) {
	if m.sink == nil {
		return
	}
	err := m.sink.Emit(ctx, Intent{
		ID:           m.ids.NewID(),
		Kind:         IntentWaitlistOffer,
		TargetID:     e.SubjectID,
		Channel:      "sms",
		ScheduledFor: m.clock.Now(),
		Message: fmt.Sprintf("A %d minute slot opened on %s at %s",
			slot.DurationMinutes, slot.Date.Format(DateLayout), slot.StartTime),
	})
	if err != nil {
		m.logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("failed to emit waitlist offer")
	}
}

// rankEntries orders by priority score descending, then earliest entry first.
func rankEntries(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].PriorityScore != entries[j].PriorityScore {
			return entries[i].PriorityScore > entries[j].PriorityScore
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}

func allBefore(dates []time.Time, day time.Time) bool {
	if len(dates) == 0 {
		return false
	}
	for _, d := range dates {
		if !d.Before(day) {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
