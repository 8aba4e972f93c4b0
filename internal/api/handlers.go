package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		d, ok := draftFromRequest(w, req)
		if !ok {
			return
		}

		appt, err := svc.Schedule(r.Context(), d)
		if err != nil {
			if appt != nil {
				// the parent was booked; only the series expansion failed
				logFromRequest(r).Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("recurrence expansion incomplete")
				writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
				return
			}
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func draftFromRequest(w http.ResponseWriter, req CreateAppointmentRequest) (appointment.Draft, bool) {
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_subject_id", "subject_id must be a valid UUID")
		return appointment.Draft{}, false
	}
	resourceID, err := uuid.Parse(req.ResourceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
		return appointment.Draft{}, false
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return appointment.Draft{}, false
	}
	roomID, ok := optionalUUID(w, req.RoomID, "invalid_room_id", "room_id must be a valid UUID")
	if !ok {
		return appointment.Draft{}, false
	}

	d := appointment.Draft{
		SubjectID:       subjectID,
		ResourceID:      resourceID,
		Category:        appointment.Category(req.Category),
		Specialty:       req.Specialty,
		Department:      req.Department,
		Date:            date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Location:        req.Location,
		RoomID:          roomID,
		Priority:        appointment.Priority(req.Priority),
		Telehealth:      req.Telehealth,
		TelehealthLink:  req.TelehealthLink,
		Reason:          req.Reason,
		Notes:           req.Notes,
		Override:        req.Override,
		OverrideReason:  req.OverrideReason,
	}

	if req.Recurrence != nil {
		rule := &appointment.RecurrenceRule{
			Frequency:   appointment.Frequency(req.Recurrence.Frequency),
			Occurrences: req.Recurrence.Occurrences,
		}
		if req.Recurrence.EndDate != "" {
			end, err := appointment.ParseDate(req.Recurrence.EndDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_date", "recurrence.end_date must be YYYY-MM-DD")
				return appointment.Draft{}, false
			}
			rule.EndDate = &end
		}
		d.Recurrence = rule
	}
	return d, true
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.AppointmentFilter

		subjectID, ok := optionalUUID(w, q.Get("subject_id"), "invalid_subject_id", "subject_id must be a valid UUID")
		if !ok {
			return
		}
		resourceID, ok := optionalUUID(w, q.Get("resource_id"), "invalid_resource_id", "resource_id must be a valid UUID")
		if !ok {
			return
		}
		f.SubjectID = subjectID
		f.ResourceID = resourceID

		if raw := q.Get("date"); raw != "" {
			date, err := appointment.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			f.Date = &date
		}
		if f.SubjectID == nil && f.ResourceID == nil {
			writeError(w, http.StatusBadRequest, "missing_filter", "subject_id or resource_id is required")
			return
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, date, req.StartTime, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req CancelRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		result, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := CancelResponse{
			Appointment:       toAppointmentResponse(result.Appointment),
			CancelledChildren: result.CancelledChildren,
		}
		for _, f := range result.Failures {
			resp.Failures = append(resp.Failures, ChildFailureResponse{AppointmentID: f.AppointmentID, Error: f.Err.Error()})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type transitionFunc func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves the body-less lifecycle endpoints.
func transitionHandler(op transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := op(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func findSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date, err := appointment.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		resourceID, ok := optionalUUID(w, q.Get("resource"), "invalid_resource_id", "resource must be a valid UUID")
		if !ok {
			return
		}
		query := appointment.SlotQuery{
			ResourceID: resourceID,
			Specialty:  q.Get("specialty"),
			Date:       date,
		}
		if raw := q.Get("duration"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a whole number of minutes")
				return
			}
			query.DurationMinutes = n
		}

		slots, err := svc.Slots().Find(r.Context(), query)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func putScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, date, ok := scheduleKey(w, r)
		if !ok {
			return
		}
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		roomID, ok := optionalUUID(w, req.RoomID, "invalid_room_id", "room_id must be a valid UUID")
		if !ok {
			return
		}

		sched := &appointment.ResourceSchedule{
			ResourceID:        resourceID,
			Date:              date,
			WorkStart:         req.WorkStart,
			WorkEnd:           req.WorkEnd,
			BreakStart:        req.BreakStart,
			BreakEnd:          req.BreakEnd,
			SlotMinutes:       req.SlotMinutes,
			MaxConcurrent:     req.MaxConcurrent,
			Available:         req.Available == nil || *req.Available,
			UnavailableReason: req.UnavailableReason,
			Specialty:         req.Specialty,
			Location:          req.Location,
			RoomID:            roomID,
		}
		if err := svc.PutSchedule(r.Context(), sched); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func getScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, date, ok := scheduleKey(w, r)
		if !ok {
			return
		}
		sched, err := svc.GetSchedule(r.Context(), resourceID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(sched))
	}
}

func enqueueWaitlistHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WaitlistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		subjectID, err := uuid.Parse(req.SubjectID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_subject_id", "subject_id must be a valid UUID")
			return
		}
		resourceID, ok := optionalUUID(w, req.ResourceID, "invalid_resource_id", "resource_id must be a valid UUID")
		if !ok {
			return
		}
		dates := make([]time.Time, 0, len(req.PreferredDates))
		for _, raw := range req.PreferredDates {
			d, err := appointment.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "preferred_dates must be YYYY-MM-DD")
				return
			}
			dates = append(dates, d)
		}

		entry := &appointment.WaitlistEntry{
			SubjectID:      subjectID,
			ResourceID:     resourceID,
			Category:       appointment.Category(req.Category),
			Specialty:      req.Specialty,
			PreferredDates: dates,
			PreferredTimes: req.PreferredTimes,
			PriorityScore:  req.PriorityScore,
			Notes:          req.Notes,
		}
		if err := svc.Waitlist().Enqueue(r.Context(), entry); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWaitlistEntryResponse(entry))
	}
}

func processWaitlistHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProcessWaitlistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		resourceID, err := uuid.Parse(req.ResourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
			return
		}
		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		matches, err := svc.Waitlist().Process(r.Context(), resourceID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]WaitlistMatchResponse, 0, len(matches))
		for i := range matches {
			out = append(out, WaitlistMatchResponse{
				Entry: toWaitlistEntryResponse(&matches[i].Entry),
				Slot:  toSlotResponse(matches[i].Slot),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func scheduleKey(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	resourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_resource_id", "id must be a valid UUID")
		return uuid.Nil, time.Time{}, false
	}
	date, err := appointment.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return uuid.Nil, time.Time{}, false
	}
	return resourceID, date, true
}

func optionalUUID(w http.ResponseWriter, raw, code, msg string) (*uuid.UUID, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, msg)
		return nil, false
	}
	return &id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *appointment.ValidationError
		cerr *appointment.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: verr.Error(), Field: verr.Field})
	case errors.As(err, &cerr):
		resp := ErrorResponse{Error: "scheduling_conflict", Details: err.Error()}
		for _, c := range cerr.Conflicts {
			resp.Conflicts = append(resp.Conflicts, ConflictResponse{
				Kind:          string(c.Kind),
				Message:       c.Message,
				AppointmentID: c.AppointmentID,
			})
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrWaitlistEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrStaleRecord):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", "an overlapping booking is in progress, please retry shortly")
	default:
		logFromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
