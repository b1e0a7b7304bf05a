package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/log"
)

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		customerID := actor.ID
		if req.CustomerID != "" {
			id, err := uuid.Parse(req.CustomerID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
				return
			}
			customerID = id
		}
		if d := appointment.CanBook(customerID, actor); !d.Allowed {
			writeError(w, http.StatusForbidden, "forbidden", d.Reason)
			return
		}

		booking := appointment.BookingRequest{
			CustomerID:          customerID,
			Specialties:         req.Specialties,
			GeneralConsultation: req.GeneralConsultation,
			AppointmentDate:     req.AppointmentDate,
			Location:            appointment.Location(req.Location),
			Kind:                appointment.Kind(req.Kind),
			Notes:               req.Notes,
		}
		if req.ConsultantID != "" {
			id, err := uuid.Parse(req.ConsultantID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_consultant_id", "consultant_id must be a valid UUID")
				return
			}
			booking.ConsultantID = &id
		}
		serviceIDs, err := parseIDs(req.ServiceIDs)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_ids must be valid UUIDs")
			return
		}
		booking.ServiceIDs = serviceIDs

		appt, err := svc.Book(r.Context(), booking)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if d := appointment.CanView(appt.CustomerID, actor); !d.Allowed {
			// Same answer as a missing row so ids cannot be enumerated.
			handleError(w, r, appointment.ErrAppointmentNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		customerID := actor.ID
		if raw := q.Get("customer_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
				return
			}
			customerID = id
		}
		if d := appointment.CanView(customerID, actor); !d.Allowed {
			writeError(w, http.StatusForbidden, "forbidden", d.Reason)
			return
		}

		limit, err := queryInt(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		offset, err := queryInt(q.Get("offset"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}

		items, err := svc.ListByCustomer(r.Context(), customerID, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := ListResponse{Items: make([]AppointmentResponse, 0, len(items))}
		for i := range items {
			resp.Items = append(resp.Items, toResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.SoftDelete(r.Context(), id, actor); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func confirmAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id, actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func checkInHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req CheckInRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		serviceIDs, err := parseIDs(req.ServiceIDs)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_ids must be valid UUIDs")
			return
		}

		res, err := svc.CheckIn(r.Context(), id, appointment.CheckInRequest{
			Actor:      actor,
			At:         req.At,
			ServiceIDs: serviceIDs,
			Note:       req.Note,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCheckInResponse(res))
	}
}

func lateCheckInHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req LateCheckInRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		serviceIDs, err := parseIDs(req.ServiceIDs)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_ids must be valid UUIDs")
			return
		}

		res, err := svc.LateCheckIn(r.Context(), id, appointment.LateCheckInRequest{
			Actor:       actor,
			ArrivalTime: req.ArrivalTime,
			ServiceIDs:  serviceIDs,
			Note:        req.Note,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		warnings := res.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, LateCheckInResponse{
			CheckInResponse: toCheckInResponse(&res.CheckInResult),
			LateMinutes:     res.LateMinutes,
			Warnings:        warnings,
		})
	}
}

func startHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Start(r.Context(), id, actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func completeHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id, actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func noShowHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req NoShowRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		attempts := make([]appointment.ContactAttempt, 0, len(req.ContactAttempts))
		for _, c := range req.ContactAttempts {
			attempts = append(attempts, appointment.ContactAttempt{Method: c.Method, At: c.At, Outcome: c.Outcome})
		}

		appt, err := svc.MarkNoShow(r.Context(), id, appointment.NoShowRequest{
			Actor:           actor,
			Reason:          req.Reason,
			ContactAttempts: attempts,
			Note:            req.Note,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func cancelHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req CancelRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, appointment.CancelRequest{Actor: actor, Reason: req.Reason})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

// handleError maps domain errors to status codes. The specific sentinels are
// checked before their kinds so the error code stays precise.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrConsultantNotFound):
		writeError(w, http.StatusNotFound, "consultant_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrNoCandidate):
		writeError(w, http.StatusNotFound, "no_consultant_available", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, appointment.ErrNoOpenSlot):
		writeError(w, http.StatusBadRequest, "no_open_slot", err.Error())
	case errors.Is(err, appointment.ErrFullyBooked):
		writeError(w, http.StatusBadRequest, "fully_booked", err.Error())
	case errors.Is(err, appointment.ErrMissingTarget):
		writeError(w, http.StatusBadRequest, "missing_target", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrTooLate):
		writeError(w, http.StatusBadRequest, "too_late", err.Error())
	case errors.Is(err, appointment.ErrUnknownService):
		writeError(w, http.StatusBadRequest, "unknown_service", err.Error())
	case errors.Is(err, appointment.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())

	case errors.Is(err, appointment.ErrSlotFilled):
		writeError(w, http.StatusConflict, "slot_filled", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrStaleAppointment):
		writeError(w, http.StatusConflict, "appointment_changed", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	default:
		log.Logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// requireActor reads the caller identity set by the authenticating proxy.
func requireActor(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	rawID := r.Header.Get(HeaderActorID)
	rawRole := r.Header.Get(HeaderActorRole)
	if rawID == "" || rawRole == "" {
		writeError(w, http.StatusUnauthorized, "missing_actor", HeaderActorID+" and "+HeaderActorRole+" are required")
		return appointment.Actor{}, false
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor_id", HeaderActorID+" must be a valid UUID")
		return appointment.Actor{}, false
	}
	role, err := appointment.ParseRole(rawRole)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor_role", err.Error())
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: id, Role: role}, true
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody parses a JSON body. Action endpoints accept an empty body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
	return false
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
