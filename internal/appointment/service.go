package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/resource-scheduling-engine/internal/config"
	"github.com/hackgods/resource-scheduling-engine/internal/interval"
	redisclient "github.com/hackgods/resource-scheduling-engine/internal/redis"
)

const (
	EventAppointmentScheduled   = "APPOINTMENT_SCHEDULED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCheckedIn   = "APPOINTMENT_CHECKED_IN"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventConflictOverridden     = "APPOINTMENT_CONFLICT_OVERRIDDEN"
	EventOccurrenceSkipped      = "RECURRENCE_OCCURRENCE_SKIPPED"
)

// cascadeConcurrency bounds parallel child cancellations.
const cascadeConcurrency = 4

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	sink     NotificationSink
	cfg      config.Config
	clock    Clock
	ids      IDGenerator
	logger   zerolog.Logger
	detector *ConflictDetector
	slots    *SlotFinder
	expander *RecurrenceExpander
	waitlist *WaitlistMatcher
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.ids = g } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(repo Repository, locker redisclient.Locker, sink NotificationSink, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		sink:   sink,
		cfg:    cfg,
		clock:  SystemClock(),
		ids:    RandomIDs(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxRecurrence <= 0 {
		s.cfg.MaxRecurrence = 52
	}
	if s.cfg.WaitlistWindow <= 0 {
		s.cfg.WaitlistWindow = time.Hour
	}

	availability := NewAvailability(repo)
	s.detector = NewConflictDetector(availability, repo)
	s.slots = NewSlotFinder(availability, repo)
	s.expander = newRecurrenceExpander(s, s.cfg.MaxRecurrence, s.logger)
	s.waitlist = NewWaitlistMatcher(s.slots, repo, sink, s.clock, s.ids, s.logger, s.cfg.WaitlistWindow)
	return s
}

func (s *Service) Detector() *ConflictDetector { return s.detector }

func (s *Service) Slots() *SlotFinder { return s.slots }

func (s *Service) Waitlist() *WaitlistMatcher { return s.waitlist }

// Schedule books a draft. A conflict fails with *ConflictError unless the draft is an
// administrative override. A recurrence rule is expanded after the parent is stored.
func (s *Service) Schedule(ctx context.Context, d Draft) (*Appointment, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	rule := d.Recurrence
	d.Recurrence = nil

	appt, err := s.book(ctx, d)
	if err != nil {
		return nil, err
	}

	if rule != nil {
		ids, err := s.expander.Expand(ctx, appt, *rule)
		appt.SeriesChildIDs = ids
		if err != nil {
			return appt, fmt.Errorf("expand recurrence: %w", err)
		}
	}
	return appt, nil
}

// book runs the conflict check and the insert as one locked unit.
func (s *Service) book(ctx context.Context, d Draft) (*Appointment, error) {
	var (
		created    *Appointment
		overridden []Conflict
	)

	err := s.locker.WithLock(ctx, lockKeys(d), func(lockCtx context.Context) error {
		result, err := s.detector.check(lockCtx, d, uuid.Nil)
		if err != nil {
			return fmt.Errorf("check conflicts: %w", err)
		}
		if result.HasConflict {
			if !d.Override {
				return &ConflictError{Conflicts: result.Conflicts}
			}
			overridden = result.Conflicts
		}

		appt := s.newAppointment(d)
		if err := s.repo.InsertAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	if len(overridden) > 0 {
		s.logger.Warn().
			Str("appointment_id", created.ID.String()).
			Str("reason", d.OverrideReason).
			Strs("kinds", conflictKinds(overridden)).
			Msg("booking conflicts overridden")
		s.logEvent(ctx, created.ID, EventConflictOverridden, map[string]any{
			"reason":    d.OverrideReason,
			"conflicts": conflictKinds(overridden),
		})
	}

	s.logEvent(ctx, created.ID, EventAppointmentScheduled, map[string]any{
		"resource_id": created.ResourceID.String(),
		"subject_id":  created.SubjectID.String(),
		"date":        created.Date.Format(DateLayout),
		"start_time":  created.StartTime,
	})
	s.emitReminders(ctx, created)

	return created, nil
}

func (s *Service) newAppointment(d Draft) *Appointment {
	now := s.clock.Now()
	a := &Appointment{
		ID:              s.ids.NewID(),
		Number:          s.ids.Number(now),
		SubjectID:       d.SubjectID,
		ResourceID:      d.ResourceID,
		Category:        d.Category,
		Specialty:       d.Specialty,
		Department:      d.Department,
		Date:            DateOf(d.Date),
		StartTime:       normalizeClock(d.StartTime),
		DurationMinutes: d.DurationMinutes,
		Location:        d.Location,
		RoomID:          cloneID(d.RoomID),
		Priority:        d.Priority,
		Telehealth:      d.Telehealth,
		TelehealthLink:  d.TelehealthLink,
		Reason:          d.Reason,
		Notes:           d.Notes,
		Status:          StatusScheduled,
		ParentID:        cloneID(d.parentID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if a.Telehealth && a.TelehealthLink == "" && s.cfg.TelehealthBaseURL != "" {
		a.TelehealthLink = s.cfg.TelehealthBaseURL + "/" + a.ID.String()
	}
	return a
}

// Reschedule moves an appointment by marking it rescheduled and booking a linked replacement.
// The returned appointment is the replacement.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newTime, reason string) (*Appointment, error) {
	if newDate.IsZero() {
		return nil, newValidationError("date", "is required")
	}
	start, err := interval.ParseClock(newTime)
	if err != nil {
		return nil, newValidationError("start_time", "must be a valid HH:MM time of day")
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := checkSameDay(start, current.DurationMinutes); err != nil {
		return nil, err
	}
	if current.Status.Terminal() || current.Status == StatusRescheduled {
		return nil, &TransitionError{Op: "reschedule", From: current.Status}
	}

	d := draftFrom(current)
	d.Date = DateOf(newDate)
	d.StartTime = newTime

	var replacement *Appointment
	err = s.locker.WithLock(ctx, lockKeys(d), func(lockCtx context.Context) error {
		result, err := s.detector.check(lockCtx, d, current.ID)
		if err != nil {
			return fmt.Errorf("check conflicts: %w", err)
		}
		if result.HasConflict {
			return &ConflictError{Conflicts: result.Conflicts}
		}

		next := s.newAppointment(d)
		next.RescheduledFrom = &current.ID
		next.RescheduleReason = reason

		old := current.Clone()
		old.Status = StatusRescheduled
		old.RescheduledTo = &next.ID
		old.RescheduleReason = reason
		old.UpdatedAt = next.CreatedAt

		if err := s.repo.ReplaceAppointment(lockCtx, old, current.Status, next); err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		replacement = next
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	if replacement.ParentID != nil {
		if err := s.repo.AddSeriesChild(ctx, *replacement.ParentID, replacement.ID); err != nil {
			s.logger.Error().Err(err).
				Str("appointment_id", replacement.ID.String()).
				Msg("failed to add replacement to series")
		}
	}

	s.logEvent(ctx, current.ID, EventAppointmentRescheduled, map[string]any{
		"replacement_id": replacement.ID.String(),
		"date":           replacement.Date.Format(DateLayout),
		"start_time":     replacement.StartTime,
		"reason":         reason,
	})
	s.voidReminders(ctx, current, "rescheduled")
	s.emitReminders(ctx, replacement)
	s.triggerWaitlist(ctx, current.ResourceID, current.Date)

	return replacement, nil
}

// ChildFailure records a series member that could not be cancelled.
type ChildFailure struct {
	AppointmentID uuid.UUID
	Err           error
}

type CancelResult struct {
	Appointment       *Appointment
	CancelledChildren []uuid.UUID
	Failures          []ChildFailure
}

// Cancel cancels an appointment and, for a series parent, each child that still holds
// its slot.
// Child failures are collected in the result and never undo the parent's cancellation.
// Waitlist matching runs once per freed resource and date after the cascade finishes.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*CancelResult, error) {
	appt, err := s.cancelOne(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	result := &CancelResult{Appointment: appt}
	if len(appt.SeriesChildIDs) == 0 {
		s.triggerWaitlist(ctx, appt.ResourceID, appt.Date)
		return result, nil
	}

	freed := []freedSlot{{appt.ResourceID, appt.Date}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cascadeConcurrency)
	for _, childID := range appt.SeriesChildIDs {
		g.Go(func() error {
			child, err := s.repo.GetAppointment(gctx, childID)
			if err == nil && !child.Status.HoldsSlot() {
				return nil
			}
			if err == nil {
				child, err = s.cancelOne(gctx, childID, reason)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, ChildFailure{AppointmentID: childID, Err: err})
				return nil
			}
			result.CancelledChildren = append(result.CancelledChildren, childID)
			freed = append(freed, freedSlot{child.ResourceID, child.Date})
			return nil
		})
	}
	_ = g.Wait()

	// One matching pass per resource and date, so a slot is never offered by two passes.
	seen := make(map[string]bool, len(freed))
	for _, fs := range freed {
		key := fs.resourceID.String() + "/" + fs.date.Format(DateLayout)
		if seen[key] {
			continue
		}
		seen[key] = true
		s.triggerWaitlist(ctx, fs.resourceID, fs.date)
	}

	for _, f := range result.Failures {
		s.logger.Warn().Err(f.Err).
			Str("appointment_id", f.AppointmentID.String()).
			Str("parent_id", appt.ID.String()).
			Msg("series child not cancelled")
	}
	return result, nil
}

func (s *Service) cancelOne(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.transition(ctx, id, "cancel", func(from AppointmentStatus) bool {
		return !from.Terminal() && from != StatusRescheduled
	}, func(a *Appointment, now time.Time) {
		a.Status = StatusCancelled
		a.CancelledAt = &now
		a.CancellationReason = reason
	}, EventAppointmentCancelled)
	if err != nil {
		return nil, err
	}

	s.voidReminders(ctx, appt, "cancelled")
	return appt, nil
}

type freedSlot struct {
	resourceID uuid.UUID
	date       time.Time
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "confirm", statusIn(StatusScheduled), func(a *Appointment, _ time.Time) {
		a.Status = StatusConfirmed
	}, EventAppointmentConfirmed)
}

func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "check in", statusIn(StatusScheduled, StatusConfirmed), func(a *Appointment, now time.Time) {
		a.Status = StatusCheckedIn
		a.CheckedInAt = &now
	}, EventAppointmentCheckedIn)
}

func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "start", statusIn(StatusCheckedIn), func(a *Appointment, now time.Time) {
		a.Status = StatusInProgress
		a.ActualStart = &now
	}, EventAppointmentStarted)
}

// Complete closes an in-progress appointment and derives its actual duration in whole minutes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "complete", statusIn(StatusInProgress), func(a *Appointment, now time.Time) {
		a.Status = StatusCompleted
		a.ActualEnd = &now
		a.CheckedOutAt = &now
		if a.ActualStart != nil {
			mins := int(math.Round(now.Sub(*a.ActualStart).Minutes()))
			a.ActualDurationMinutes = &mins
		}
	}, EventAppointmentCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, "mark no-show", statusIn(StatusScheduled, StatusConfirmed), func(a *Appointment, _ time.Time) {
		a.Status = StatusNoShow
	}, EventAppointmentNoShow)
	if err != nil {
		return nil, err
	}
	s.voidReminders(ctx, appt, "no_show")
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

// PutSchedule replaces a resource's schedule for one date. Changed hours may free
// capacity, so the waitlist is rematched afterwards.
func (s *Service) PutSchedule(ctx context.Context, sched *ResourceSchedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	sched.UpdatedAt = s.clock.Now()
	if err := s.repo.PutSchedule(ctx, sched); err != nil {
		return fmt.Errorf("put resource schedule: %w", err)
	}
	s.logger.Info().
		Str("resource_id", sched.ResourceID.String()).
		Str("date", sched.Date.Format(DateLayout)).
		Bool("available", sched.Available).
		Msg("resource schedule updated")
	if sched.Available {
		s.triggerWaitlist(ctx, sched.ResourceID, sched.Date)
	}
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, resourceID uuid.UUID, date time.Time) (*ResourceSchedule, error) {
	sched, err := s.repo.GetSchedule(ctx, resourceID, DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("get resource schedule: %w", err)
	}
	return sched, nil
}

// transition applies a single-record status change guarded by compare-and-set on the status.
func (s *Service) transition(ctx context.Context, id uuid.UUID, op string, allowed func(AppointmentStatus) bool, apply func(*Appointment, time.Time), event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	from := appt.Status
	if !allowed(from) {
		return nil, &TransitionError{Op: op, From: from}
	}

	now := s.clock.Now()
	apply(appt, now)
	appt.UpdatedAt = now

	if err := s.repo.UpdateAppointment(ctx, appt, from); err != nil {
		return nil, fmt.Errorf("%s appointment: %w", op, err)
	}

	s.logEvent(ctx, appt.ID, event, map[string]any{"from": string(from), "to": string(appt.Status)})
	return appt, nil
}

func statusIn(allowed ...AppointmentStatus) func(AppointmentStatus) bool {
	return func(s AppointmentStatus) bool {
		for _, a := range allowed {
			if s == a {
				return true
			}
		}
		return false
	}
}

func (s *Service) emitReminders(ctx context.Context, a *Appointment) {
	now := s.clock.Now()
	start := a.StartsAt()
	for _, off := range reminderOffsets {
		at := start.Add(-off.before)
		if !at.After(now) {
			continue
		}
		id := a.ID
		intent := Intent{
			ID:            s.ids.NewID(),
			Kind:          off.kind,
			AppointmentID: &id,
			TargetID:      a.SubjectID,
			Channel:       off.channel,
			ScheduledFor:  at,
			Message:       fmt.Sprintf("Reminder: appointment %s on %s at %s", a.Number, a.Date.Format(DateLayout), a.StartTime),
		}
		s.emit(ctx, intent)
	}
}

func (s *Service) voidReminders(ctx context.Context, a *Appointment, why string) {
	id := a.ID
	s.emit(ctx, Intent{
		ID:            s.ids.NewID(),
		Kind:          IntentVoid,
		AppointmentID: &id,
		TargetID:      a.SubjectID,
		ScheduledFor:  s.clock.Now(),
		Message:       fmt.Sprintf("reminders for appointment %s void: %s", a.Number, why),
	})
}

// emit never fails the caller; a sink failure is only logged.
func (s *Service) emit(ctx context.Context, intent Intent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, intent); err != nil {
		s.logger.Error().Err(err).
			Str("kind", string(intent.Kind)).
			Str("target_id", intent.TargetID.String()).
			Msg("failed to emit notification intent")
	}
}

func (s *Service) triggerWaitlist(ctx context.Context, resourceID uuid.UUID, date time.Time) {
	if _, err := s.waitlist.Process(ctx, resourceID, date); err != nil {
		s.logger.Error().Err(err).
			Str("resource_id", resourceID.String()).
			Str("date", date.Format(DateLayout)).
			Msg("waitlist matching failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

// lockKeys names every per-date resource a booking touches.
func lockKeys(d Draft) []string {
	day := DateOf(d.Date).Format(DateLayout)
	keys := []string{
		"resource:" + d.ResourceID.String() + ":" + day,
		"subject:" + d.SubjectID.String() + ":" + day,
	}
	if d.RoomID != nil {
		keys = append(keys, "room:"+d.RoomID.String()+":"+day)
	}
	return keys
}

func conflictKinds(cs []Conflict) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c.Kind))
	}
	return out
}

func normalizeClock(s string) string {
	m, err := interval.ParseClock(s)
	if err != nil {
		return s
	}
	return interval.FormatClock(m)
}
