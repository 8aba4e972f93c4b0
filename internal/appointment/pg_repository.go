package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, number, subject_id, resource_id, category, specialty, department, date, start_time,
	duration_minutes, location, room_id, priority, telehealth, telehealth_link, reason, notes, status,
	checked_in_at, actual_start, actual_end, checked_out_at, actual_duration_minutes,
	cancelled_at, cancellation_reason, rescheduled_from, rescheduled_to, reschedule_reason,
	parent_id, series_child_ids, created_at, updated_at`

const scheduleColumns = `
	resource_id, date, work_start, work_end, break_start, break_end, slot_minutes, max_concurrent,
	available, unavailable_reason, specialty, location, room_id, updated_at`

const waitlistColumns = `
	id, subject_id, resource_id, category, specialty, preferred_dates, preferred_times, priority_score,
	status, contact_attempts, last_contacted_at, notes, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var childIDs []uuid.UUID

	err := row.Scan(
		&a.ID, &a.Number, &a.SubjectID, &a.ResourceID, &a.Category, &a.Specialty, &a.Department,
		&a.Date, &a.StartTime, &a.DurationMinutes, &a.Location, &a.RoomID, &a.Priority,
		&a.Telehealth, &a.TelehealthLink, &a.Reason, &a.Notes, &a.Status,
		&a.CheckedInAt, &a.ActualStart, &a.ActualEnd, &a.CheckedOutAt, &a.ActualDurationMinutes,
		&a.CancelledAt, &a.CancellationReason, &a.RescheduledFrom, &a.RescheduledTo, &a.RescheduleReason,
		&a.ParentID, &childIDs, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(a.Date)
	a.SeriesChildIDs = childIDs
	return &a, nil
}

func scanSchedule(row pgx.Row) (*ResourceSchedule, error) {
	var s ResourceSchedule

	err := row.Scan(
		&s.ResourceID, &s.Date, &s.WorkStart, &s.WorkEnd, &s.BreakStart, &s.BreakEnd,
		&s.SlotMinutes, &s.MaxConcurrent, &s.Available, &s.UnavailableReason,
		&s.Specialty, &s.Location, &s.RoomID, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	s.Date = DateOf(s.Date)
	return &s, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry

	err := row.Scan(
		&e.ID, &e.SubjectID, &e.ResourceID, &e.Category, &e.Specialty, &e.PreferredDates, &e.PreferredTimes,
		&e.PriorityScore, &e.Status, &e.ContactAttempts, &e.LastContactedAt, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}

	for i, d := range e.PreferredDates {
		e.PreferredDates[i] = DateOf(d)
	}
	return &e, nil
}

func appointmentArgs(a *Appointment) []any {
	return []any{
		a.ID, a.Number, a.SubjectID, a.ResourceID, a.Category, a.Specialty, a.Department,
		a.Date, a.StartTime, a.DurationMinutes, a.Location, a.RoomID, a.Priority,
		a.Telehealth, a.TelehealthLink, a.Reason, a.Notes, a.Status,
		a.CheckedInAt, a.ActualStart, a.ActualEnd, a.CheckedOutAt, a.ActualDurationMinutes,
		a.CancelledAt, a.CancellationReason, a.RescheduledFrom, a.RescheduledTo, a.RescheduleReason,
		a.ParentID, nonNilIDs(a.SeriesChildIDs), a.CreatedAt, a.UpdatedAt,
	}
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ResourceID != nil {
		add("resource_id = $%d", *f.ResourceID)
	}
	if f.SubjectID != nil {
		add("subject_id = $%d", *f.SubjectID)
	}
	if f.RoomID != nil {
		add("room_id = $%d", *f.RoomID)
	}
	if f.Date != nil {
		add("date = $%d", DateOf(*f.Date))
	}
	if f.ParentID != nil {
		add("parent_id = $%d", *f.ParentID)
	}
	if f.HoldingSlot {
		where = append(where, "status NOT IN ('cancelled', 'rescheduled')")
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY date, start_time, id`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const insertAppointmentSQL = `
	INSERT INTO appointments (` + appointmentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
	        $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

// series_child_ids is only written by AddSeriesChild.
const updateAppointmentSQL = `
	UPDATE appointments SET
		status = $2, room_id = $3, date = $4, start_time = $5,
		checked_in_at = $6, actual_start = $7, actual_end = $8, checked_out_at = $9,
		actual_duration_minutes = $10, cancelled_at = $11, cancellation_reason = $12,
		rescheduled_from = $13, rescheduled_to = $14, reschedule_reason = $15,
		notes = $16, updated_at = $17
	WHERE id = $1 AND status = $18`

func updateArgs(a *Appointment, from AppointmentStatus) []any {
	return []any{
		a.ID, a.Status, a.RoomID, a.Date, a.StartTime,
		a.CheckedInAt, a.ActualStart, a.ActualEnd, a.CheckedOutAt,
		a.ActualDurationMinutes, a.CancelledAt, a.CancellationReason,
		a.RescheduledFrom, a.RescheduledTo, a.RescheduleReason,
		a.Notes, a.UpdatedAt, from,
	}
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if _, err := r.pool.Exec(ctx, insertAppointmentSQL, appointmentArgs(a)...); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	tag, err := r.pool.Exec(ctx, updateAppointmentSQL, updateArgs(a, from)...)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, a.ID)
	}
	return nil
}

func (r *PgRepository) ReplaceAppointment(ctx context.Context, old *Appointment, from AppointmentStatus, replacement *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reschedule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateAppointmentSQL, updateArgs(old, from)...)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, old.ID)
	}
	if _, err := tx.Exec(ctx, insertAppointmentSQL, appointmentArgs(replacement)...); err != nil {
		return fmt.Errorf("insert replacement: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) AddSeriesChild(ctx context.Context, parentID, childID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET series_child_ids = array_append(series_child_ids, $2),
		    updated_at = now()
		WHERE id = $1
	`, parentID, childID)
	if err != nil {
		return fmt.Errorf("append series child: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) missOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStaleRecord
}

// Resource schedules

func (r *PgRepository) GetSchedule(ctx context.Context, resourceID uuid.UUID, date time.Time) (*ResourceSchedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM resource_schedules
		WHERE resource_id = $1 AND date = $2
	`, resourceID, DateOf(date))
	return scanSchedule(row)
}

func (r *PgRepository) ListSchedules(ctx context.Context, date time.Time) ([]ResourceSchedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM resource_schedules
		WHERE date = $1
		ORDER BY resource_id
	`, DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ResourceSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// PutSchedule replaces the whole record for (resource, date).
func (r *PgRepository) PutSchedule(ctx context.Context, s *ResourceSchedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO resource_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (resource_id, date) DO UPDATE SET
			work_start = EXCLUDED.work_start,
			work_end = EXCLUDED.work_end,
			break_start = EXCLUDED.break_start,
			break_end = EXCLUDED.break_end,
			slot_minutes = EXCLUDED.slot_minutes,
			max_concurrent = EXCLUDED.max_concurrent,
			available = EXCLUDED.available,
			unavailable_reason = EXCLUDED.unavailable_reason,
			specialty = EXCLUDED.specialty,
			location = EXCLUDED.location,
			room_id = EXCLUDED.room_id,
			updated_at = now()
	`, s.ResourceID, DateOf(s.Date), s.WorkStart, s.WorkEnd, s.BreakStart, s.BreakEnd,
		s.SlotMinutes, s.MaxConcurrent, s.Available, s.UnavailableReason, s.Specialty, s.Location, s.RoomID)
	if err != nil {
		return fmt.Errorf("put resource schedule: %w", err)
	}
	return nil
}

// Waitlist

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ListWaitlist(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE ($1 = '' OR status = $1)
		  AND ($2::uuid IS NULL OR subject_id = $2)
		  AND ($3::uuid IS NULL OR resource_id = $3)
		ORDER BY created_at, id
	`, string(f.Status), f.SubjectID, f.ResourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertWaitlistEntry(ctx context.Context, e *WaitlistEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries (`+waitlistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.SubjectID, e.ResourceID, e.Category, e.Specialty, e.PreferredDates, nonNilStrings(e.PreferredTimes),
		e.PriorityScore, e.Status, e.ContactAttempts, e.LastContactedAt, e.Notes, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateWaitlistEntry(ctx context.Context, e *WaitlistEntry, from WaitlistStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    contact_attempts = $3,
		    last_contacted_at = $4,
		    notes = $5,
		    updated_at = $6
		WHERE id = $1
		  AND status = $7
	`, e.ID, e.Status, e.ContactAttempts, e.LastContactedAt, e.Notes, e.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetWaitlistEntry(ctx, e.ID); err != nil {
			return err
		}
		return ErrStaleRecord
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
